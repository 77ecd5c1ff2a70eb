package radio

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/skobkin/resqrelay/internal/dedup"
	"github.com/skobkin/resqrelay/internal/domain"
)

// loopbackRadio echoes advertised payloads back to the scanner, like a radio
// that hears its own transmission.
type loopbackRadio struct {
	mu       sync.Mutex
	handler  func([]byte)
	adverts  [][]byte
	scanning chan struct{}
	scanErrs []error
}

func newLoopbackRadio() *loopbackRadio {
	return &loopbackRadio{scanning: make(chan struct{}, 4)}
}

func (r *loopbackRadio) Name() string { return "loopback" }

func (r *loopbackRadio) Advertise(_ context.Context, payload []byte) error {
	r.mu.Lock()
	r.adverts = append(r.adverts, payload)
	h := r.handler
	r.mu.Unlock()
	if h != nil {
		h(payload)
	}
	return nil
}

func (r *loopbackRadio) StopAdvertising() error { return nil }

func (r *loopbackRadio) Scan(ctx context.Context, handler func([]byte)) error {
	r.mu.Lock()
	if len(r.scanErrs) > 0 {
		err := r.scanErrs[0]
		r.scanErrs = r.scanErrs[1:]
		r.mu.Unlock()
		return err
	}
	r.handler = handler
	r.mu.Unlock()
	r.scanning <- struct{}{}
	<-ctx.Done()
	r.mu.Lock()
	r.handler = nil
	r.mu.Unlock()
	return ctx.Err()
}

func (r *loopbackRadio) deliver(payload []byte) {
	r.mu.Lock()
	h := r.handler
	r.mu.Unlock()
	if h != nil {
		h(payload)
	}
}

type receiveLog struct {
	mu  sync.Mutex
	got []domain.ReceivedBroadcast
}

func (l *receiveLog) add(_ context.Context, b domain.ReceivedBroadcast) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.got = append(l.got, b)
}

func (l *receiveLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.got)
}

func newTestService(r *loopbackRadio) *Service {
	return NewService(slog.New(slog.NewTextHandler(io.Discard, nil)), nil, r, dedup.New(16, time.Hour))
}

func waitScanning(t *testing.T, r *loopbackRadio) {
	t.Helper()
	select {
	case <-r.scanning:
	case <-time.After(2 * time.Second):
		t.Fatalf("scanner did not start")
	}
}

func TestServiceSuppressesOwnEcho(t *testing.T) {
	r := newLoopbackRadio()
	svc := newTestService(r)
	log := &receiveLog{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc.StartScanning(ctx, log.add)
	defer svc.StopScanning()
	waitScanning(t, r)

	payload, err := EncodePayload(0x123456, 1, 2, domain.CategoryRescue, "need boat")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := svc.Broadcast(ctx, payload); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if n := log.len(); n != 0 {
		t.Fatalf("own echo was processed %d times", n)
	}
}

func TestServiceDeliversNovelBroadcastOnce(t *testing.T) {
	r := newLoopbackRadio()
	svc := newTestService(r)
	log := &receiveLog{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc.StartScanning(ctx, log.add)
	defer svc.StopScanning()
	waitScanning(t, r)

	payload, _ := EncodePayload(0xABCDEF, 10.5, 20.25, domain.CategoryMedical, "help")
	for i := 0; i < 5; i++ {
		r.deliver(payload)
	}
	r.deliver([]byte{1, 2, 3})

	if n := log.len(); n != 1 {
		t.Fatalf("expected one delivery, got %d", n)
	}
	got := log.got[0]
	if got.SenderID != "ABCDEF" || got.Category != domain.CategoryMedical || got.Text != "help" {
		t.Fatalf("unexpected broadcast %+v", got)
	}
	if got.Location.Latitude != 10.5 || got.Location.Longitude != 20.25 {
		t.Fatalf("unexpected location %+v", got.Location)
	}
	if got.Fingerprint != dedup.Fingerprint(payload) {
		t.Fatalf("fingerprint mismatch")
	}
}

func TestServiceRestartsFailedScan(t *testing.T) {
	r := newLoopbackRadio()
	r.scanErrs = []error{errors.New("adapter reset")}
	svc := newTestService(r)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.StartScanning(ctx, nil)
	svc.StartScanning(ctx, nil)
	waitScanning(t, r)
	if !svc.Scanning() {
		t.Fatalf("expected scanning state")
	}
	svc.StopScanning()
	if svc.Scanning() {
		t.Fatalf("expected scanning to stop")
	}
}
