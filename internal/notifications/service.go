package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/skobkin/resqrelay/internal/bus"
	"github.com/skobkin/resqrelay/internal/config"
	"github.com/skobkin/resqrelay/internal/connectors"
	"github.com/skobkin/resqrelay/internal/domain"
)

const titleAcknowledged = "SOS acknowledged by gateway"

// Payload is one user-facing notification.
type Payload struct {
	Title   string
	Content string
}

// Sender delivers payloads; implementations must not block for long.
type Sender interface {
	Send(payload Payload)
}

// Service listens to bus events and emits user-facing notifications.
type Service struct {
	bus    bus.MessageBus
	prefs  func() config.NotificationConfig
	sender Sender
	logger *slog.Logger
}

func NewService(messageBus bus.MessageBus, prefs func() config.NotificationConfig, sender Sender, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default().With("component", "notifications")
	}
	if prefs == nil {
		prefs = func() config.NotificationConfig { return config.Default().Notifications }
	}

	return &Service{bus: messageBus, prefs: prefs, sender: sender, logger: logger}
}

func (s *Service) Start(ctx context.Context) {
	if s == nil || s.bus == nil || s.sender == nil {
		return
	}

	recvSub := s.bus.Subscribe(connectors.TopicMessageReceived)
	statusSub := s.bus.Subscribe(connectors.TopicMessageStatus)

	go func() {
		defer s.bus.Unsubscribe(recvSub, connectors.TopicMessageReceived)
		defer s.bus.Unsubscribe(statusSub, connectors.TopicMessageStatus)

		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-recvSub:
				if !ok {
					return
				}
				if msg, ok := raw.(domain.DistressMessage); ok {
					s.handleReceived(msg)
				}
			case raw, ok := <-statusSub:
				if !ok {
					return
				}
				if update, ok := raw.(domain.MessageStatusUpdate); ok {
					s.handleStatus(update)
				}
			}
		}
	}()
}

func (s *Service) handleReceived(msg domain.DistressMessage) {
	if !s.prefs().IncomingMessage {
		return
	}
	body := strings.TrimSpace(msg.Text)
	if body == "" {
		body = "(empty)"
	}
	content := body
	if msg.Location != nil {
		content = fmt.Sprintf("%s (%.5f, %.5f)", body, msg.Location.Latitude, msg.Location.Longitude)
	}

	s.send(Payload{
		Title:   fmt.Sprintf("SOS: %s", msg.Category),
		Content: content,
	})
}

func (s *Service) handleStatus(update domain.MessageStatusUpdate) {
	if update.Status != domain.MessageStatusAcknowledged || !s.prefs().Acknowledged {
		return
	}
	s.send(Payload{Title: titleAcknowledged, Content: update.MessageID})
}

func (s *Service) send(p Payload) {
	title := strings.TrimSpace(p.Title)
	content := strings.TrimSpace(p.Content)
	if title == "" && content == "" {
		return
	}
	s.logger.Debug("sending notification", "title", title)
	s.sender.Send(Payload{Title: title, Content: content})
}
