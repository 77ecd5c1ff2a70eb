package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/skobkin/resqrelay/internal/bus"
	"github.com/skobkin/resqrelay/internal/connectors"
	"github.com/skobkin/resqrelay/internal/domain"
)

const DefaultPollInterval = 10 * time.Second

// Monitor periodically recomputes the connectivity class. It is the only
// writer of the class; any goroutine may read it.
type Monitor struct {
	logger   *slog.Logger
	bus      bus.MessageBus
	prober   Prober
	radio    func() bool
	interval time.Duration

	mu         sync.RWMutex
	class      domain.ConnectivityClass
	internet   bool
	onInternet func(ctx context.Context)
}

// NewMonitor starts OFFLINE until the first check. radioEnabled reports the
// local broadcast radio flag.
func NewMonitor(logger *slog.Logger, b bus.MessageBus, prober Prober, radioEnabled func() bool, interval time.Duration) *Monitor {
	if logger == nil {
		logger = slog.Default().With("component", "connectivity")
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if radioEnabled == nil {
		radioEnabled = func() bool { return false }
	}

	return &Monitor{
		logger:   logger,
		bus:      b,
		prober:   prober,
		radio:    radioEnabled,
		interval: interval,
		class:    domain.ConnectivityOffline,
	}
}

// OnInternet registers a hook run after every check that finds the internet
// reachable, including repeated confirmations.
func (m *Monitor) OnInternet(fn func(ctx context.Context)) {
	m.mu.Lock()
	m.onInternet = fn
	m.mu.Unlock()
}

func (m *Monitor) Class() domain.ConnectivityClass {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.class
}

func (m *Monitor) InternetReachable() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.internet
}

// Run checks immediately and then on every tick until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		m.Check(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Check probes once, updates the class and publishes the result.
func (m *Monitor) Check(ctx context.Context) connectors.ConnectivityChange {
	internet := m.prober.Probe(ctx)
	radio := m.radio()
	class := domain.ClassifyConnectivity(internet, radio)

	m.mu.Lock()
	previous := m.class
	m.class = class
	m.internet = internet
	hook := m.onInternet
	m.mu.Unlock()

	change := connectors.ConnectivityChange{
		Class:             class,
		Previous:          previous,
		InternetReachable: internet,
		RadioEnabled:      radio,
		Timestamp:         time.Now(),
	}
	if previous != class {
		m.logger.Info("connectivity changed", "from", previous, "to", class)
	}
	if m.bus != nil {
		m.bus.Publish(connectors.TopicConnectivity, change)
	}
	if internet && hook != nil && ctx.Err() == nil {
		hook(ctx)
	}

	return change
}
