package notifications

import (
	"log/slog"

	"github.com/gen2brain/beeep"
)

// DesktopSender shows notifications through the platform notification daemon.
type DesktopSender struct {
	logger *slog.Logger
	notify func(title, message string, icon any) error
}

func NewDesktopSender(appName string, logger *slog.Logger) *DesktopSender {
	if logger == nil {
		logger = slog.Default().With("component", "notifications")
	}
	if appName != "" {
		beeep.AppName = appName
	}

	return &DesktopSender{logger: logger, notify: beeep.Notify}
}

// Send never fails the caller; a headless host without a notification
// daemon only gets a debug log line.
func (s *DesktopSender) Send(payload Payload) {
	if err := s.notify(payload.Title, payload.Content, ""); err != nil {
		s.logger.Debug("desktop notification failed", "title", payload.Title, "error", err)
	}
}
