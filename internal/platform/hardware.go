package platform

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skobkin/resqrelay/internal/bus"
	"github.com/skobkin/resqrelay/internal/connectors"
)

// ErrHardwareWatchUnsupported means the platform has no radio power signal source.
var ErrHardwareWatchUnsupported = errors.New("radio power watch unsupported")

// HardwarePublisher receives system signals that require a hardware resync.
type HardwarePublisher func(connectors.HardwareEvent)

// PublishHardware posts events on the bus hardware topic.
func PublishHardware(b bus.MessageBus) HardwarePublisher {
	return func(ev connectors.HardwareEvent) {
		if ev.Timestamp.IsZero() {
			ev.Timestamp = time.Now()
		}
		b.Publish(connectors.TopicHardware, ev)
	}
}

// WatchResume turns SIGHUP into resume events until ctx is done.
func WatchResume(ctx context.Context, logger *slog.Logger, publish HardwarePublisher) {
	if logger == nil {
		logger = slog.Default().With("component", "platform")
	}
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)

	go func() {
		defer signal.Stop(sigCh)
		for {
			select {
			case <-ctx.Done():
				return
			case <-sigCh:
				logger.Info("resume requested", "signal", "SIGHUP")
				publish(connectors.HardwareEvent{Kind: connectors.HardwareResume, Source: "signal"})
			}
		}
	}()
}

// AlwaysOnRadio is used for transports without a power switch, like UDP.
type AlwaysOnRadio struct{}

func (AlwaysOnRadio) RadioPowered(context.Context) (bool, error) {
	return true, nil
}
