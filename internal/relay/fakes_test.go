package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/skobkin/resqrelay/internal/domain"
	"github.com/skobkin/resqrelay/internal/gateway"
	"github.com/skobkin/resqrelay/internal/radio"
)

type memStore struct {
	mu       sync.Mutex
	messages map[string]domain.DistressMessage
	history  map[string][]domain.MessageStatus
	saveErr  error
}

func newMemStore() *memStore {
	return &memStore{
		messages: make(map[string]domain.DistressMessage),
		history:  make(map[string][]domain.MessageStatus),
	}
}

func (s *memStore) Save(_ context.Context, m domain.DistressMessage) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return false, s.saveErr
	}
	existing, ok := s.messages[m.ID]
	if ok {
		if domain.ShouldTransitionMessageStatus(existing.Status, m.Status) {
			existing.Status = m.Status
			s.messages[m.ID] = existing
			s.history[m.ID] = append(s.history[m.ID], m.Status)
		}
		return false, nil
	}
	s.messages[m.ID] = m
	s.history[m.ID] = append(s.history[m.ID], m.Status)

	return true, nil
}

func (s *memStore) UpdateStatus(_ context.Context, id string, status domain.MessageStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return errors.New("not found")
	}
	if domain.ShouldTransitionMessageStatus(m.Status, status) {
		m.Status = status
		s.messages[id] = m
		s.history[id] = append(s.history[id], status)
	}

	return nil
}

func (s *memStore) ListByStatus(_ context.Context, status domain.MessageStatus) ([]domain.DistressMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.DistressMessage
	for _, m := range s.messages {
		if m.Status == status {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })

	return out, nil
}

func (s *memStore) ListAll(ctx context.Context) ([]domain.DistressMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.DistressMessage, 0, len(s.messages))
	for _, m := range s.messages {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	return out, nil
}

func (s *memStore) Watch(ctx context.Context) <-chan []domain.DistressMessage {
	ch := make(chan []domain.DistressMessage)
	close(ch)
	return ch
}

func (s *memStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, m := range s.messages {
		if m.CreatedAt.Before(cutoff) {
			delete(s.messages, id)
			n++
		}
	}

	return n, nil
}

func (s *memStore) get(id string) (domain.DistressMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	return m, ok
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

type memSettings struct {
	mu    sync.Mutex
	bools map[string]bool
	id    domain.DeviceID
}

func newMemSettings(id domain.DeviceID) *memSettings {
	return &memSettings{bools: make(map[string]bool), id: id}
}

func (s *memSettings) Bool(_ context.Context, key string, fallback bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.bools[key]
	if !ok {
		return fallback, nil
	}
	return v, nil
}

func (s *memSettings) SetBool(_ context.Context, key string, value bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bools[key] = value
	return nil
}

func (s *memSettings) DeviceID(context.Context) (domain.DeviceID, error) {
	return s.id, nil
}

type fakeMesh struct {
	mu         sync.Mutex
	broadcasts [][]byte
	scanning   bool
	starts     int
	err        error
}

func (m *fakeMesh) Broadcast(_ context.Context, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.broadcasts = append(m.broadcasts, append([]byte(nil), payload...))
	return m.err
}

func (m *fakeMesh) StartScanning(context.Context, radio.ReceiveFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.scanning {
		m.starts++
	}
	m.scanning = true
}

func (m *fakeMesh) StopScanning() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scanning = false
}

func (m *fakeMesh) sent() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.broadcasts...)
}

func (m *fakeMesh) isScanning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scanning
}

type fakeGateway struct {
	mu     sync.Mutex
	queued []gateway.QueuedMessage
	kicks  int
}

func (g *fakeGateway) Enqueue(m gateway.QueuedMessage) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queued = append(g.queued, m)
}

func (g *fakeGateway) Remove(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, q := range g.queued {
		if q.MessageID == id {
			g.queued = append(g.queued[:i], g.queued[i+1:]...)
			return true
		}
	}

	return false
}

func (g *fakeGateway) Kick() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.kicks++
}

func (g *fakeGateway) items() []gateway.QueuedMessage {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]gateway.QueuedMessage(nil), g.queued...)
}

type fakeCloud struct {
	mu   sync.Mutex
	sent []domain.DistressMessage
	err  error
}

func (c *fakeCloud) Send(_ context.Context, m domain.DistressMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, m)
	return c.err
}

func (c *fakeCloud) calls() []domain.DistressMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.DistressMessage(nil), c.sent...)
}

func (c *fakeCloud) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

type fakeConn struct {
	mu    sync.Mutex
	class domain.ConnectivityClass
}

func (c *fakeConn) Class() domain.ConnectivityClass {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.class
}

func (c *fakeConn) set(class domain.ConnectivityClass) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.class = class
}

type fakeHardware struct {
	mu      sync.Mutex
	powered bool
	err     error
}

func (h *fakeHardware) RadioPowered(context.Context) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.powered, h.err
}

func (h *fakeHardware) set(powered bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.powered = powered
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
