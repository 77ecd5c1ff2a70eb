package persistence

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/skobkin/resqrelay/internal/bus"
	"github.com/skobkin/resqrelay/internal/connectors"
	"github.com/skobkin/resqrelay/internal/domain"
)

func TestPersistenceProjectionAppliesStatusUpdates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := NewMessageRepo(openTestDB(t))
	if _, err := repo.Save(ctx, testMessage("X", domain.MessageStatusPending, time.Now())); err != nil {
		t.Fatalf("save: %v", err)
	}

	b := bus.New(logger)
	defer b.Close()
	q := NewWriterQueue(logger, 8)
	q.Start(ctx)
	StartPersistenceProjection(ctx, logger, b, q, repo)

	b.Publish(connectors.TopicMessageStatus, domain.MessageStatusUpdate{
		MessageID: "X",
		Status:    domain.MessageStatusAcknowledged,
		At:        time.Now(),
	})
	b.Publish(connectors.TopicMessageStatus, domain.MessageStatusUpdate{MessageID: "unknown", Status: domain.MessageStatusAcknowledged})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, err := repo.Get(ctx, "X")
		if err == nil && got.Status == domain.MessageStatusAcknowledged {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("status update was not persisted")
}
