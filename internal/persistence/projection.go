package persistence

import (
	"context"
	"errors"
	"log/slog"

	"github.com/skobkin/resqrelay/internal/bus"
	"github.com/skobkin/resqrelay/internal/connectors"
	"github.com/skobkin/resqrelay/internal/domain"
)

// WriteQueue is the subset of WriterQueue used by projections.
type WriteQueue interface {
	Enqueue(name string, fn func(context.Context) error)
}

// StartPersistenceProjection persists status updates published on the bus,
// such as gateway acknowledgements.
func StartPersistenceProjection(ctx context.Context, logger *slog.Logger, b bus.MessageBus, queue WriteQueue, store domain.MessageStore) {
	sub := b.Subscribe(connectors.TopicMessageStatus)
	go func() {
		defer b.Unsubscribe(sub, connectors.TopicMessageStatus)
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-sub:
				if !ok {
					return
				}
				update, ok := raw.(domain.MessageStatusUpdate)
				if !ok {
					continue
				}
				queue.Enqueue("status:"+update.MessageID, func(ctx context.Context) error {
					err := store.UpdateStatus(ctx, update.MessageID, update.Status)
					if errors.Is(err, ErrMessageNotFound) {
						logger.Debug("status update for unknown message", "id", update.MessageID, "status", update.Status)
						return nil
					}
					return err
				})
			}
		}
	}()
}
