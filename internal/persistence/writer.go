package persistence

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

const (
	writerMaxAttempts  = 3
	writerRetryStep    = 300 * time.Millisecond
	writerDrainPolling = 20 * time.Millisecond
)

type writeCmd struct {
	name string
	fn   func(context.Context) error
}

// WriterQueue serializes background writes such as status projections so
// bus subscribers never block on sqlite.
type WriterQueue struct {
	logger  *slog.Logger
	queue   chan writeCmd
	pending atomic.Int64
}

func NewWriterQueue(logger *slog.Logger, capacity int) *WriterQueue {
	if logger == nil {
		logger = slog.Default().With("component", "persistence")
	}
	if capacity <= 0 {
		capacity = 256
	}

	return &WriterQueue{
		logger: logger,
		queue:  make(chan writeCmd, capacity),
	}
}

// Enqueue blocks only when the queue is full; writes are never dropped.
func (w *WriterQueue) Enqueue(name string, fn func(context.Context) error) {
	w.pending.Add(1)
	cmd := writeCmd{name: name, fn: fn}
	select {
	case w.queue <- cmd:
	default:
		w.logger.Warn("writer queue full, waiting", "cmd", name, "capacity", cap(w.queue))
		w.queue <- cmd
	}
}

// Pending counts writes enqueued but not finished, including the one running.
func (w *WriterQueue) Pending() int {
	return int(w.pending.Load())
}

func (w *WriterQueue) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case cmd := <-w.queue:
				w.runWithRetry(ctx, cmd)
				w.pending.Add(-1)
			}
		}
	}()
}

// Drain waits until every enqueued write has finished or ctx ends.
func (w *WriterQueue) Drain(ctx context.Context) error {
	tick := time.NewTicker(writerDrainPolling)
	defer tick.Stop()

	for w.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}

	return nil
}

func (w *WriterQueue) runWithRetry(ctx context.Context, cmd writeCmd) {
	for attempt := 1; attempt <= writerMaxAttempts; attempt++ {
		err := cmd.fn(ctx)
		if err == nil {
			return
		}
		w.logger.Error("db write failed", "cmd", cmd.name, "attempt", attempt, "error", err)
		if attempt == writerMaxAttempts {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(attempt) * writerRetryStep):
		}
	}
}
