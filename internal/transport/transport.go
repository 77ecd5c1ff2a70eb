package transport

import (
	"context"
	"log/slog"
)

// Broadcaster is a connectionless one-to-many radio path.
type Broadcaster interface {
	Name() string
	// Advertise replaces whatever payload is currently being broadcast.
	Advertise(ctx context.Context, payload []byte) error
	StopAdvertising() error
	// Scan delivers every received payload to handler and blocks until ctx is
	// done or the radio fails.
	Scan(ctx context.Context, handler func(payload []byte)) error
}

// StatusTarget describes where a transport points, for status surfaces.
type StatusTarget interface {
	StatusTarget() string
}

func linkLogger(kind string, attrs ...any) *slog.Logger {
	return slog.With(append([]any{"component", "transport", "transport", kind}, attrs...)...)
}
