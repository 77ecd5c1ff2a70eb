package cloud

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/skobkin/resqrelay/internal/domain"
)

const DefaultTimeout = 10 * time.Second

var (
	ErrUnexpectedStatus = errors.New("unexpected webhook status")
	ErrNoEndpoint       = errors.New("webhook endpoint is not configured")
)

// Sink uploads messages to the central endpoint.
type Sink interface {
	Send(ctx context.Context, m domain.DistressMessage) error
}

// WebhookSink POSTs the JSON body of a message. The response body is ignored.
type WebhookSink struct {
	logger   *slog.Logger
	endpoint string
	client   *http.Client
}

func NewWebhookSink(logger *slog.Logger, endpoint string, timeout time.Duration) *WebhookSink {
	if logger == nil {
		logger = slog.Default().With("component", "cloud")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &WebhookSink{
		logger:   logger,
		endpoint: strings.TrimSpace(endpoint),
		client:   &http.Client{Timeout: timeout},
	}
}

func (s *WebhookSink) Send(ctx context.Context, m domain.DistressMessage) error {
	if s.endpoint == "" {
		return ErrNoEndpoint
	}
	body, err := domain.CloudBody(m)
	if err != nil {
		return fmt.Errorf("encode cloud body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("webhook request failed", "id", m.ID, "error", err)
		return fmt.Errorf("post webhook: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	s.logger.Debug("webhook response", "id", m.ID, "status", resp.StatusCode)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		s.logger.Warn("webhook rejected message", "id", m.ID, "status", resp.StatusCode)
		return fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	return nil
}
