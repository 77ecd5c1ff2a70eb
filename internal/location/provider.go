package location

import (
	"context"
	"errors"
	"time"

	"github.com/skobkin/resqrelay/internal/domain"
)

const DefaultFixTimeout = 5 * time.Second

var (
	ErrDisabled = errors.New("location provider disabled")
	ErrNoFix    = errors.New("no location fix")
)

// Provider is a best-effort coordinate source.
type Provider interface {
	// Enabled reports whether the location subsystem is usable right now.
	Enabled() bool
	// Current waits for a fresh fix until ctx is done.
	Current(ctx context.Context) (domain.Coordinates, error)
	Last() (domain.Coordinates, bool)
}

// Source tells where resolved coordinates came from.
type Source string

const (
	SourceFresh    Source = "fresh"
	SourceLast     Source = "last"
	SourceFallback Source = "fallback"
)

// Resolve never fails: it tries a fresh fix for at most timeout, then the
// provider's last fix, then fallback. The fix request is cancelled when the
// timeout fires.
func Resolve(ctx context.Context, p Provider, timeout time.Duration, fallback domain.Coordinates) (domain.Coordinates, Source) {
	if p == nil {
		return fallback, SourceFallback
	}
	if timeout <= 0 {
		timeout = DefaultFixTimeout
	}

	fixCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if c, err := p.Current(fixCtx); err == nil {
		return c, SourceFresh
	}
	if c, ok := p.Last(); ok {
		return c, SourceLast
	}

	return fallback, SourceFallback
}

// Static always reports the same configured position.
type Static struct {
	Coordinates domain.Coordinates
}

func (s Static) Enabled() bool { return true }

func (s Static) Current(context.Context) (domain.Coordinates, error) {
	return s.Coordinates, nil
}

func (s Static) Last() (domain.Coordinates, bool) {
	return s.Coordinates, true
}

// Disabled stands in when location is switched off.
type Disabled struct{}

func (Disabled) Enabled() bool { return false }

func (Disabled) Current(context.Context) (domain.Coordinates, error) {
	return domain.Coordinates{}, ErrDisabled
}

func (Disabled) Last() (domain.Coordinates, bool) {
	return domain.Coordinates{}, false
}
