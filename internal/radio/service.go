package radio

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/skobkin/resqrelay/internal/bus"
	"github.com/skobkin/resqrelay/internal/connectors"
	"github.com/skobkin/resqrelay/internal/dedup"
	"github.com/skobkin/resqrelay/internal/domain"
	"github.com/skobkin/resqrelay/internal/transport"
)

const (
	initialScanBackoff = time.Second
	maxScanBackoff     = 15 * time.Second
)

// ReceiveFunc handles a novel, well-formed broadcast.
type ReceiveFunc func(ctx context.Context, b domain.ReceivedBroadcast)

// Service owns the mesh broadcaster: outgoing advertisements, the scan loop
// and duplicate suppression.
type Service struct {
	logger    *slog.Logger
	bus       bus.MessageBus
	transport transport.Broadcaster
	seen      *dedup.Cache
	now       func() time.Time

	mu         sync.Mutex
	scanCancel context.CancelFunc
	scanDone   chan struct{}
}

func NewService(logger *slog.Logger, b bus.MessageBus, tr transport.Broadcaster, seen *dedup.Cache) *Service {
	if logger == nil {
		logger = slog.Default().With("component", "radio")
	}
	if seen == nil {
		seen = dedup.New(0, 0)
	}

	return &Service{
		logger:    logger,
		bus:       b,
		transport: tr,
		seen:      seen,
		now:       time.Now,
	}
}

func (s *Service) TransportName() string {
	return s.transport.Name()
}

// Broadcast advertises payload. Its fingerprint is recorded first so the
// device never processes its own echo.
func (s *Service) Broadcast(ctx context.Context, payload []byte) error {
	s.seen.Record(dedup.Fingerprint(payload))
	if err := s.transport.Advertise(ctx, payload); err != nil {
		return fmt.Errorf("advertise payload: %w", err)
	}
	s.publishRaw(connectors.TopicRawFrameOut, payload)

	return nil
}

func (s *Service) StopBroadcast() error {
	return s.transport.StopAdvertising()
}

// StartScanning is idempotent. The scan loop restarts with backoff when the
// radio fails until StopScanning or ctx cancellation.
func (s *Service) StartScanning(ctx context.Context, onReceive ReceiveFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scanCancel != nil {
		return
	}

	scanCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.scanCancel = cancel
	s.scanDone = done
	go func() {
		defer close(done)
		s.runScanner(scanCtx, onReceive)
	}()
	s.logger.Info("mesh scanning enabled", "transport", s.transport.Name())
}

func (s *Service) StopScanning() {
	s.mu.Lock()
	cancel, done := s.scanCancel, s.scanDone
	s.scanCancel, s.scanDone = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("mesh scanning disabled", "transport", s.transport.Name())
}

func (s *Service) Scanning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.scanCancel != nil
}

func (s *Service) runScanner(ctx context.Context, onReceive ReceiveFunc) {
	backoff := initialScanBackoff
	for {
		started := s.now()
		err := s.transport.Scan(ctx, func(raw []byte) {
			s.handleRaw(ctx, raw, onReceive)
		})
		if ctx.Err() != nil {
			return
		}
		if s.now().Sub(started) > maxScanBackoff {
			backoff = initialScanBackoff
		}
		s.logger.Warn("mesh scan failed", "error", err, "retry_in", backoff)
		if !sleepWithContext(ctx, backoff) {
			return
		}
		if backoff < maxScanBackoff {
			backoff *= 2
		}
	}
}

func (s *Service) handleRaw(ctx context.Context, raw []byte, onReceive ReceiveFunc) {
	fp := dedup.Fingerprint(raw)
	if s.seen.CheckAndRecord(fp) {
		return
	}
	s.publishRaw(connectors.TopicRawFrameIn, raw)

	p, err := DecodePayload(raw)
	if err != nil {
		if errors.Is(err, ErrMalformedPayload) {
			s.logger.Warn("discarding malformed broadcast", "len", len(raw), "error", err)
		}
		return
	}

	b := domain.ReceivedBroadcast{
		Raw:         raw,
		Fingerprint: fp,
		SenderID:    p.SenderHex(),
		Category:    p.Category,
		Text:        p.Text,
		Location: domain.Coordinates{
			Latitude:  float64(p.Latitude),
			Longitude: float64(p.Longitude),
		},
		ReceivedAt: s.now(),
	}
	s.logger.Debug("broadcast received", "sender", b.SenderID, "category", b.Category)
	if onReceive != nil {
		onReceive(ctx, b)
	}
}

func (s *Service) publishRaw(topic string, payload []byte) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(topic, connectors.RawFrame{
		Transport: s.transport.Name(),
		Hex:       strings.ToUpper(hex.EncodeToString(payload)),
		Len:       len(payload),
	})
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
