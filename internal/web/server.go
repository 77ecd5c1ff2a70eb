package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/skobkin/resqrelay/internal/connectors"
	"github.com/skobkin/resqrelay/internal/domain"
	"github.com/skobkin/resqrelay/internal/persistence"
	"github.com/skobkin/resqrelay/internal/relay"
)

const (
	maxRequestBody  = 4 << 10
	shutdownTimeout = 5 * time.Second
)

// Engine is the part of the relay engine the API drives.
type Engine interface {
	Submit(ctx context.Context, category domain.Category, text string) (string, error)
	Snapshot() relay.Snapshot
	SetSecondaryEnabled(ctx context.Context, enabled bool) error
}

// Messages reads stored messages.
type Messages interface {
	Get(ctx context.Context, id string) (domain.DistressMessage, error)
	ListAll(ctx context.Context) ([]domain.DistressMessage, error)
	ListByStatus(ctx context.Context, status domain.MessageStatus) ([]domain.DistressMessage, error)
	Watch(ctx context.Context) <-chan []domain.DistressMessage
}

// GatewayStatus reports the point-to-point link state.
type GatewayStatus interface {
	Status() connectors.GatewayStatus
}

// Server is the local HTTP API.
type Server struct {
	logger   *slog.Logger
	engine   Engine
	messages Messages
	gateway  GatewayStatus
	router   *mux.Router
}

func NewServer(logger *slog.Logger, engine Engine, messages Messages, gateway GatewayStatus) *Server {
	if logger == nil {
		logger = slog.Default().With("component", "web")
	}
	s := &Server{
		logger:   logger,
		engine:   engine,
		messages: messages,
		gateway:  gateway,
		router:   mux.NewRouter(),
	}

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/messages", s.submitMessage).Methods(http.MethodPost)
	api.HandleFunc("/messages", s.listMessages).Methods(http.MethodGet)
	api.HandleFunc("/messages/stream", s.streamMessages).Methods(http.MethodGet)
	api.HandleFunc("/messages/{id}", s.getMessage).Methods(http.MethodGet)
	api.HandleFunc("/status", s.status).Methods(http.MethodGet)
	api.HandleFunc("/settings/secondary", s.setSecondary).Methods(http.MethodPut)
	s.router.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen api: %w", err)
	}

	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve api: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown api: %w", err)
	}

	return nil
}

type submitRequest struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (s *Server) submitMessage(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	category := domain.CategoryGeneral
	if strings.TrimSpace(req.Type) != "" {
		c, err := domain.ParseCategory(req.Type)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		category = c
	}

	id, err := s.engine.Submit(r.Context(), category, req.Message)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "accepted"})
	case errors.Is(err, relay.ErrEmptyMessage), errors.Is(err, domain.ErrUnknownCategory):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, relay.ErrHardwareNotReady):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, relay.ErrNotStarted):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Warn("submit failed", "error", err)
		writeError(w, http.StatusInternalServerError, "submit failed")
	}
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	var (
		list []domain.DistressMessage
		err  error
	)
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status := domain.MessageStatus(strings.ToUpper(raw))
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, "unknown status")
			return
		}
		list, err = s.messages.ListByStatus(r.Context(), status)
	} else {
		list, err = s.messages.ListAll(r.Context())
	}
	if err != nil {
		s.logger.Warn("list messages failed", "error", err)
		writeError(w, http.StatusInternalServerError, "list messages failed")
		return
	}

	views := make([]messageView, 0, len(list))
	for _, m := range list {
		views = append(views, newMessageView(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": views, "count": len(views)})
}

func (s *Server) getMessage(w http.ResponseWriter, r *http.Request) {
	m, err := s.messages.Get(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, persistence.ErrMessageNotFound) {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	if err != nil {
		s.logger.Warn("get message failed", "error", err)
		writeError(w, http.StatusInternalServerError, "get message failed")
		return
	}
	writeJSON(w, http.StatusOK, newMessageView(m))
}

// streamMessages pushes the full message list as a server-sent event after
// every store write until the client goes away.
func (s *Server) streamMessages(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for snapshot := range s.messages.Watch(r.Context()) {
		views := make([]messageView, 0, len(snapshot))
		for _, m := range snapshot {
			views = append(views, newMessageView(m))
		}
		data, err := json.Marshal(views)
		if err != nil {
			s.logger.Warn("encode message snapshot", "error", err)
			return
		}
		if _, err := fmt.Fprintf(w, "event: messages\ndata: %s\n\n", data); err != nil {
			return
		}
		flusher.Flush()
	}
}

type gatewayView struct {
	State     string `json:"state"`
	Transport string `json:"transport"`
	QueueLen  int    `json:"queue_len"`
	InFlight  string `json:"in_flight,omitempty"`
	Error     string `json:"error,omitempty"`
}

type statusView struct {
	DeviceID         string       `json:"device_id"`
	Connectivity     string       `json:"connectivity"`
	RadioEnabled     bool         `json:"radio_enabled"`
	LocationEnabled  bool         `json:"location_enabled"`
	SecondaryEnabled bool         `json:"secondary_enabled"`
	Gateway          *gatewayView `json:"gateway,omitempty"`
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	snap := s.engine.Snapshot()
	view := statusView{
		DeviceID:         snap.DeviceID,
		Connectivity:     string(snap.Connectivity),
		RadioEnabled:     snap.RadioEnabled,
		LocationEnabled:  snap.LocationEnabled,
		SecondaryEnabled: snap.SecondaryEnabled,
	}
	if s.gateway != nil {
		gs := s.gateway.Status()
		view.Gateway = &gatewayView{
			State:     string(gs.State),
			Transport: gs.Transport,
			QueueLen:  gs.QueueLen,
			InFlight:  gs.InFlightID,
			Error:     gs.Err,
		}
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) setSecondary(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil || req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "expected {\"enabled\": bool}")
		return
	}
	if err := s.engine.SetSecondaryEnabled(r.Context(), *req.Enabled); err != nil {
		s.logger.Warn("update secondary transport flag", "error", err)
		writeError(w, http.StatusInternalServerError, "update failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": *req.Enabled})
}

type messageView struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
	Status    string    `json:"status"`
	Latitude  *float64  `json:"latitude"`
	Longitude *float64  `json:"longitude"`
}

func newMessageView(m domain.DistressMessage) messageView {
	v := messageView{
		ID:        m.ID,
		Type:      string(m.Category),
		Message:   m.Text,
		CreatedAt: m.CreatedAt.UTC(),
		Status:    string(m.Status),
	}
	if m.Location != nil {
		lat, lon := m.Location.Latitude, m.Location.Longitude
		v.Latitude, v.Longitude = &lat, &lon
	}

	return v
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
