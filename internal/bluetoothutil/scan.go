package bluetoothutil

import (
	"errors"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"
)

// scanHandoverPoll paces stop requests to a scan that is still winding down
// when a new subscriber arrives.
const scanHandoverPoll = 250 * time.Millisecond

// ErrScanEnded is reported to subscribers when the adapter stops scanning
// while they still wait for results.
var ErrScanEnded = errors.New("bluetooth scan ended")

// Scanner is the part of *bluetooth.Adapter that discovery needs.
type Scanner interface {
	Scan(callback func(*bluetooth.Adapter, bluetooth.ScanResult)) error
	StopScan() error
}

func StopScan(adapter Scanner) error {
	err := adapter.StopScan()
	if err != nil && !IsBenignStopScanError(err) {
		return err
	}

	return nil
}

func NormalizeScanError(err error) error {
	if err == nil || IsBenignStopScanError(err) {
		return nil
	}

	return err
}

// Scan blocks until the scan is stopped. A discovery session left running by
// another client is reset once before giving up.
func Scan(adapter Scanner, callback func(*bluetooth.Adapter, bluetooth.ScanResult)) error {
	err := adapter.Scan(callback)
	if IsScanAlreadyInProgressError(err) {
		if stopErr := StopScan(adapter); stopErr != nil {
			return errors.Join(err, stopErr)
		}
		err = adapter.Scan(callback)
	}

	return NormalizeScanError(err)
}

// ScanHub runs one scan per adapter and hands every result to all current
// subscribers. The scan starts with the first subscriber and stops after the
// last one leaves.
type ScanHub struct {
	scanner Scanner

	mu      sync.Mutex
	subs    map[uint64]*ScanSubscription
	nextID  uint64
	gen     uint64
	running bool
	exited  chan struct{}
}

func NewScanHub(scanner Scanner) *ScanHub {
	return &ScanHub{
		scanner: scanner,
		subs:    make(map[uint64]*ScanSubscription),
	}
}

// ScanSubscription receives results until Close is called or the scan ends.
type ScanSubscription struct {
	hub     *ScanHub
	id      uint64
	handler func(bluetooth.ScanResult)

	done    chan struct{}
	endOnce sync.Once
	err     error
}

// Done is closed once the subscription stops receiving results.
func (s *ScanSubscription) Done() <-chan struct{} {
	return s.done
}

// Err is nil after Close and the scan failure otherwise. Valid after Done.
func (s *ScanSubscription) Err() error {
	<-s.done
	return s.err
}

func (s *ScanSubscription) Close() {
	s.hub.unsubscribe(s.id)
	s.end(nil)
}

func (s *ScanSubscription) end(err error) {
	s.endOnce.Do(func() {
		s.err = err
		close(s.done)
	})
}

// Subscribe registers handler and starts the scan if nobody else holds it.
// Handlers run on the scan goroutine and must not block.
func (h *ScanHub) Subscribe(handler func(bluetooth.ScanResult)) *ScanSubscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &ScanSubscription{hub: h, id: h.nextID, handler: handler, done: make(chan struct{})}
	h.subs[sub.id] = sub
	if !h.running {
		h.running = true
		h.gen++
		prev := h.exited
		h.exited = make(chan struct{})
		go h.run(h.gen, prev, h.exited)
	}

	return sub
}

// Subscribers reports how many subscriptions are active.
func (h *ScanHub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.subs)
}

func (h *ScanHub) run(gen uint64, prev <-chan struct{}, exited chan struct{}) {
	defer close(exited)
	if prev != nil {
		h.awaitPrevious(prev)
	}
	if !h.current(gen) {
		return
	}

	err := Scan(h.scanner, func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		h.dispatch(gen, result)
	})
	if err == nil {
		err = ErrScanEnded
	}

	h.mu.Lock()
	var ended []*ScanSubscription
	if h.gen == gen && h.running {
		for id, sub := range h.subs {
			ended = append(ended, sub)
			delete(h.subs, id)
		}
		h.running = false
	}
	h.mu.Unlock()

	for _, sub := range ended {
		sub.end(err)
	}
}

// awaitPrevious waits for the previous scan to return. A stop issued before
// that scan actually started is lost, so it is repeated until the scan exits.
func (h *ScanHub) awaitPrevious(prev <-chan struct{}) {
	ticker := time.NewTicker(scanHandoverPoll)
	defer ticker.Stop()
	for {
		select {
		case <-prev:
			return
		case <-ticker.C:
			_ = StopScan(h.scanner)
		}
	}
}

func (h *ScanHub) dispatch(gen uint64, result bluetooth.ScanResult) {
	h.mu.Lock()
	if h.gen != gen || !h.running {
		h.mu.Unlock()
		// nobody is listening to this generation any more
		_ = StopScan(h.scanner)
		return
	}
	handlers := make([]func(bluetooth.ScanResult), 0, len(h.subs))
	for _, sub := range h.subs {
		handlers = append(handlers, sub.handler)
	}
	h.mu.Unlock()

	for _, fn := range handlers {
		fn(result)
	}
}

func (h *ScanHub) current(gen uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.gen == gen && h.running
}

func (h *ScanHub) unsubscribe(id uint64) {
	h.mu.Lock()
	if _, ok := h.subs[id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.subs, id)
	stop := h.running && len(h.subs) == 0
	if stop {
		h.running = false
		h.gen++
	}
	h.mu.Unlock()

	if stop {
		_ = StopScan(h.scanner)
	}
}
