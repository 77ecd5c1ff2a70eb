package location

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/adrianmo/go-nmea"
	"github.com/skobkin/resqrelay/internal/domain"
	"go.bug.st/serial"
)

const (
	defaultNMEABaud       = 9600
	nmeaReadTimeout       = time.Second
	nmeaReconnectInterval = 5 * time.Second
)

// NMEAProvider reads RMC and GGA sentences from a serial GPS receiver.
type NMEAProvider struct {
	logger   *slog.Logger
	portName string
	baudRate int
	open     func(name string, mode *serial.Mode) (serial.Port, error)

	mu        sync.Mutex
	connected bool
	last      domain.Coordinates
	haveFix   bool
	nextFix   chan struct{}
	onChange  func(available bool)
}

func NewNMEAProvider(logger *slog.Logger, portName string, baudRate int) *NMEAProvider {
	if logger == nil {
		logger = slog.Default().With("component", "location")
	}
	if baudRate <= 0 {
		baudRate = defaultNMEABaud
	}

	return &NMEAProvider{
		logger:   logger,
		portName: strings.TrimSpace(portName),
		baudRate: baudRate,
		open:     serial.Open,
		nextFix:  make(chan struct{}),
	}
}

// OnAvailabilityChange registers fn to run whenever the receiver connects
// or disconnects.
func (p *NMEAProvider) OnAvailabilityChange(fn func(available bool)) {
	p.mu.Lock()
	p.onChange = fn
	p.mu.Unlock()
}

func (p *NMEAProvider) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.connected
}

func (p *NMEAProvider) Current(ctx context.Context) (domain.Coordinates, error) {
	p.mu.Lock()
	if !p.connected {
		p.mu.Unlock()
		return domain.Coordinates{}, ErrDisabled
	}
	wait := p.nextFix
	p.mu.Unlock()

	select {
	case <-ctx.Done():
		return domain.Coordinates{}, fmt.Errorf("%w: %w", ErrNoFix, ctx.Err())
	case <-wait:
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	return p.last, nil
}

func (p *NMEAProvider) Last() (domain.Coordinates, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.last, p.haveFix
}

// Run keeps the receiver open, reconnecting until ctx is done.
func (p *NMEAProvider) Run(ctx context.Context) {
	for {
		if err := p.readPort(ctx); err != nil && ctx.Err() == nil {
			p.logger.Warn("gps receiver unavailable", "port", p.portName, "error", err)
		}
		p.setConnected(false)

		select {
		case <-ctx.Done():
			return
		case <-time.After(nmeaReconnectInterval):
		}
	}
}

func (p *NMEAProvider) readPort(ctx context.Context) error {
	if p.portName == "" {
		return fmt.Errorf("gps serial port is empty")
	}
	port, err := p.open(p.portName, &serial.Mode{BaudRate: p.baudRate})
	if err != nil {
		return fmt.Errorf("open gps port: %w", err)
	}
	defer func() { _ = port.Close() }()
	if err := port.SetReadTimeout(nmeaReadTimeout); err != nil {
		return fmt.Errorf("set gps read timeout: %w", err)
	}
	stop := context.AfterFunc(ctx, func() { _ = port.Close() })
	defer stop()

	p.setConnected(true)
	p.logger.Info("gps receiver connected", "port", p.portName, "baud", p.baudRate)

	scanner := bufio.NewScanner(&timeoutReader{ctx: ctx, port: port})
	for scanner.Scan() {
		if c, ok := ParseSentence(scanner.Text()); ok {
			p.recordFix(c)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read gps port: %w", err)
	}

	return ctx.Err()
}

func (p *NMEAProvider) setConnected(v bool) {
	p.mu.Lock()
	changed := p.connected != v
	p.connected = v
	fn := p.onChange
	p.mu.Unlock()

	if changed && fn != nil {
		fn(v)
	}
}

func (p *NMEAProvider) recordFix(c domain.Coordinates) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = c
	p.haveFix = true
	close(p.nextFix)
	p.nextFix = make(chan struct{})
}

// ParseSentence extracts a position from a valid RMC or GGA sentence.
func ParseSentence(line string) (domain.Coordinates, bool) {
	s, err := nmea.Parse(strings.TrimSpace(line))
	if err != nil {
		return domain.Coordinates{}, false
	}

	switch v := s.(type) {
	case nmea.RMC:
		if v.Validity != nmea.ValidRMC {
			return domain.Coordinates{}, false
		}
		return domain.Coordinates{Latitude: v.Latitude, Longitude: v.Longitude}, true
	case nmea.GGA:
		if v.FixQuality == nmea.Invalid {
			return domain.Coordinates{}, false
		}
		return domain.Coordinates{Latitude: v.Latitude, Longitude: v.Longitude}, true
	default:
		return domain.Coordinates{}, false
	}
}

// timeoutReader turns the port's empty timed-out reads into retries so the
// line scanner does not stop on them.
type timeoutReader struct {
	ctx  context.Context
	port serial.Port
}

func (r *timeoutReader) Read(buf []byte) (int, error) {
	for {
		if err := r.ctx.Err(); err != nil {
			return 0, err
		}
		n, err := r.port.Read(buf)
		if n > 0 || err != nil {
			return n, err
		}
	}
}
