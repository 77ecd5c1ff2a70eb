package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skobkin/resqrelay/internal/bus"
	"github.com/skobkin/resqrelay/internal/cloud"
	"github.com/skobkin/resqrelay/internal/connectors"
	"github.com/skobkin/resqrelay/internal/domain"
	"github.com/skobkin/resqrelay/internal/gateway"
	"github.com/skobkin/resqrelay/internal/location"
	"github.com/skobkin/resqrelay/internal/radio"
)

const (
	DefaultReconcilePacing   = 200 * time.Millisecond
	DefaultRetentionHorizon  = 48 * time.Hour
	DefaultRetentionInterval = time.Hour
)

var (
	ErrEmptyMessage     = errors.New("message text is empty")
	ErrHardwareNotReady = errors.New("radio and location must both be enabled")
	ErrNotStarted       = errors.New("relay engine is not started")
)

// Mesh is the broadcast side of the radio.
type Mesh interface {
	Broadcast(ctx context.Context, payload []byte) error
	StartScanning(ctx context.Context, onReceive radio.ReceiveFunc)
	StopScanning()
}

// Gateway accepts bodies for the point-to-point link.
type Gateway interface {
	Enqueue(m gateway.QueuedMessage)
	Remove(id string) bool
	Kick()
}

type Connectivity interface {
	Class() domain.ConnectivityClass
}

// HardwareProbe reads the actual radio power state.
type HardwareProbe interface {
	RadioPowered(ctx context.Context) (bool, error)
}

type Config struct {
	FloodRelay        bool
	ReconcilePacing   time.Duration
	LocationTimeout   time.Duration
	RetentionHorizon  time.Duration
	RetentionInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.ReconcilePacing < 0 {
		c.ReconcilePacing = 0
	}
	if c.LocationTimeout <= 0 {
		c.LocationTimeout = location.DefaultFixTimeout
	}
	if c.RetentionHorizon <= 0 {
		c.RetentionHorizon = DefaultRetentionHorizon
	}
	if c.RetentionInterval <= 0 {
		c.RetentionInterval = DefaultRetentionInterval
	}

	return c
}

// Dependencies are the collaborators of an Engine. Gateway and Cloud may be
// nil when that path is not configured.
type Dependencies struct {
	Logger       *slog.Logger
	Bus          bus.MessageBus
	Store        domain.MessageStore
	Settings     domain.SettingsStore
	Mesh         Mesh
	Gateway      Gateway
	Cloud        cloud.Sink
	Connectivity Connectivity
	Location     location.Provider
	Hardware     HardwareProbe
}

// Snapshot is the engine state shown on status surfaces.
type Snapshot struct {
	DeviceID         string
	Connectivity     domain.ConnectivityClass
	RadioEnabled     bool
	LocationEnabled  bool
	SecondaryEnabled bool
}

// Engine routes authored and received messages between the mesh, the
// gateway link and the cloud sink.
type Engine struct {
	logger   *slog.Logger
	bus      bus.MessageBus
	store    domain.MessageStore
	settings domain.SettingsStore
	mesh     Mesh
	gateway  Gateway
	cloud    cloud.Sink
	conn     Connectivity
	location location.Provider
	hardware HardwareProbe
	cfg      Config
	now      func() time.Time

	radioEnabled     atomic.Bool
	secondaryEnabled atomic.Bool
	reconciling      atomic.Bool

	mu       sync.Mutex
	runCtx   context.Context
	deviceID domain.DeviceID
	lastFix  domain.Coordinates

	jobs  sync.WaitGroup
	loops sync.WaitGroup
}

func New(deps Dependencies, cfg Config) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "relay")
	}
	loc := deps.Location
	if loc == nil {
		loc = location.Disabled{}
	}

	return &Engine{
		logger:   logger,
		bus:      deps.Bus,
		store:    deps.Store,
		settings: deps.Settings,
		mesh:     deps.Mesh,
		gateway:  deps.Gateway,
		cloud:    deps.Cloud,
		conn:     deps.Connectivity,
		location: loc,
		hardware: deps.Hardware,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
	}
}

// Start loads the device identity, syncs hardware state and launches the
// hardware listener and retention sweeper. Background work stops with ctx.
func (e *Engine) Start(ctx context.Context) error {
	id, err := e.settings.DeviceID(ctx)
	if err != nil {
		return fmt.Errorf("load device id: %w", err)
	}
	secondary, err := e.settings.Bool(ctx, domain.SettingSecondaryEnabled, true)
	if err != nil {
		return fmt.Errorf("load secondary transport flag: %w", err)
	}
	e.secondaryEnabled.Store(secondary)

	e.mu.Lock()
	e.deviceID = id
	e.runCtx = ctx
	e.mu.Unlock()
	e.logger.Info("relay engine starting", "device_id", id.Hex(), "flood_relay", e.cfg.FloodRelay)

	e.SyncHardware(ctx, "startup")
	e.sweepRetention(ctx)

	if e.bus != nil {
		sub := e.bus.Subscribe(connectors.TopicHardware)
		e.loops.Add(1)
		go func() {
			defer e.loops.Done()
			defer e.bus.Unsubscribe(sub, connectors.TopicHardware)
			e.hardwareLoop(ctx, sub)
		}()
	}

	e.loops.Add(1)
	go func() {
		defer e.loops.Done()
		e.retentionLoop(ctx)
	}()

	return nil
}

// WaitIdle blocks until every accepted submission and reception is processed.
func (e *Engine) WaitIdle() {
	e.jobs.Wait()
}

// Wait blocks until background loops exit and in-flight work is done.
func (e *Engine) Wait() {
	e.loops.Wait()
	e.jobs.Wait()
}

func (e *Engine) DeviceID() domain.DeviceID {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.deviceID
}

func (e *Engine) RadioEnabled() bool {
	return e.radioEnabled.Load()
}

func (e *Engine) Snapshot() Snapshot {
	return Snapshot{
		DeviceID:         e.DeviceID().Hex(),
		Connectivity:     e.class(),
		RadioEnabled:     e.radioEnabled.Load(),
		LocationEnabled:  e.location.Enabled(),
		SecondaryEnabled: e.secondaryEnabled.Load(),
	}
}

// SetSecondaryEnabled persists the gateway path preference.
func (e *Engine) SetSecondaryEnabled(ctx context.Context, enabled bool) error {
	if err := e.settings.SetBool(ctx, domain.SettingSecondaryEnabled, enabled); err != nil {
		return fmt.Errorf("store secondary transport flag: %w", err)
	}
	e.secondaryEnabled.Store(enabled)
	if enabled && e.gateway != nil {
		e.gateway.Kick()
	}

	return nil
}

// Submit validates synchronously and returns the message id. Location,
// persistence and delivery continue in the background.
func (e *Engine) Submit(ctx context.Context, category domain.Category, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyMessage
	}
	if _, err := category.Code(); err != nil {
		return "", err
	}
	if !e.radioEnabled.Load() || !e.location.Enabled() {
		return "", ErrHardwareNotReady
	}

	e.mu.Lock()
	runCtx, deviceID := e.runCtx, e.deviceID
	e.mu.Unlock()
	if runCtx == nil {
		return "", ErrNotStarted
	}

	m := domain.DistressMessage{
		ID:        domain.MessageID(deviceID.Hex(), category, text),
		Category:  category,
		Text:      text,
		CreatedAt: e.now(),
	}
	e.jobs.Add(1)
	go func() {
		defer e.jobs.Done()
		e.deliverSubmitted(runCtx, deviceID, m)
	}()

	return m.ID, nil
}

func (e *Engine) deliverSubmitted(ctx context.Context, deviceID domain.DeviceID, m domain.DistressMessage) {
	coords := e.resolveLocation(ctx)
	m.Location = &coords

	online := e.class() == domain.ConnectivityInternet
	if online {
		m.Status = domain.MessageStatusDelivered
		err := e.sendCloud(ctx, m)
		if err == nil {
			e.save(ctx, m)
			e.publish(connectors.TopicMessageSubmitted, m)
			return
		}
		e.logger.Warn("cloud upload failed, falling back to mesh", "id", m.ID, "error", err)
	}

	m.Status = domain.MessageStatusPending
	e.save(ctx, m)
	e.publish(connectors.TopicMessageSubmitted, m)

	e.enqueueGateway(m)
	payload, err := radio.EncodePayload(deviceID, float32(coords.Latitude), float32(coords.Longitude), m.Category, m.Text)
	if err != nil {
		e.logger.Warn("encode broadcast payload", "id", m.ID, "error", err)
		return
	}
	if err := e.mesh.Broadcast(ctx, payload); err != nil {
		e.logger.Warn("mesh broadcast failed", "id", m.ID, "error", err)
	}
}

// HandleBroadcast stores a received broadcast and forwards it once.
func (e *Engine) HandleBroadcast(ctx context.Context, b domain.ReceivedBroadcast) {
	e.jobs.Add(1)
	defer e.jobs.Done()

	if strings.EqualFold(b.SenderID, e.DeviceID().Hex()) {
		e.logger.Debug("ignoring own broadcast relayed back", "sender", b.SenderID)
		return
	}

	loc := b.Location
	m := domain.DistressMessage{
		ID:        domain.MessageID(b.SenderID, b.Category, b.Text),
		Category:  b.Category,
		Text:      b.Text,
		CreatedAt: b.ReceivedAt,
		Status:    domain.MessageStatusRelayed,
		Location:  &loc,
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = e.now()
	}

	created, ok := e.save(ctx, m)
	if !ok {
		return
	}
	if !created {
		e.logger.Debug("broadcast already stored", "id", m.ID)
		return
	}
	e.logger.Info("distress message received", "id", m.ID, "category", m.Category, "sender", b.SenderID)
	e.publish(connectors.TopicMessageReceived, m)

	if e.class() == domain.ConnectivityInternet {
		if err := e.sendCloud(ctx, m); err != nil {
			e.logger.Warn("forward received message to cloud", "id", m.ID, "error", err)
		}
	} else {
		e.enqueueGateway(m)
	}

	if e.cfg.FloodRelay && len(b.Raw) > 0 {
		if err := e.mesh.Broadcast(ctx, b.Raw); err != nil {
			e.logger.Warn("flood relay failed", "id", m.ID, "error", err)
		}
	}
}

// Reconcile uploads every PENDING message, marks the accepted ones DELIVERED
// and withdraws them from the gateway queue. Concurrent calls collapse into
// the running pass.
func (e *Engine) Reconcile(ctx context.Context) {
	if e.cloud == nil || !e.reconciling.CompareAndSwap(false, true) {
		return
	}
	defer e.reconciling.Store(false)

	pending, err := e.store.ListByStatus(ctx, domain.MessageStatusPending)
	if err != nil {
		e.logger.Warn("list pending messages", "error", err)
		return
	}
	if len(pending) == 0 {
		return
	}
	e.logger.Info("reconciling pending messages", "count", len(pending))

	for i, m := range pending {
		if i > 0 && !sleepWithContext(ctx, e.cfg.ReconcilePacing) {
			return
		}
		if err := e.sendCloud(ctx, m); err != nil {
			e.logger.Warn("cloud upload failed, keeping pending", "id", m.ID, "error", err)
			continue
		}
		if err := e.store.UpdateStatus(ctx, m.ID, domain.MessageStatusDelivered); err != nil {
			e.logger.Warn("mark message delivered", "id", m.ID, "error", err)
		}
		if e.gateway != nil && e.gateway.Remove(m.ID) {
			e.logger.Debug("dropped gateway copy of delivered message", "id", m.ID)
		}
	}
}

// SyncHardware makes the stored radio flag follow the actual hardware state
// and starts or stops scanning to match.
func (e *Engine) SyncHardware(ctx context.Context, reason string) {
	powered := true
	if e.hardware != nil {
		v, err := e.hardware.RadioPowered(ctx)
		if err != nil {
			e.logger.Warn("read radio power state", "reason", reason, "error", err)
		}
		powered = v && err == nil
	}

	stored, err := e.settings.Bool(ctx, domain.SettingRadioEnabled, powered)
	if err != nil {
		e.logger.Warn("read stored radio flag", "error", err)
	}
	if err != nil || stored != powered {
		if err := e.settings.SetBool(ctx, domain.SettingRadioEnabled, powered); err != nil {
			e.logger.Warn("store radio flag", "error", err)
		}
	}

	was := e.radioEnabled.Swap(powered)
	if was != powered || reason == "startup" {
		e.logger.Info("radio state synced", "reason", reason, "enabled", powered, "location_enabled", e.location.Enabled())
	}

	e.mu.Lock()
	runCtx := e.runCtx
	e.mu.Unlock()
	if runCtx == nil {
		runCtx = ctx
	}
	if powered {
		e.mesh.StartScanning(runCtx, e.HandleBroadcast)
		if e.gateway != nil {
			e.gateway.Kick()
		}
	} else {
		e.mesh.StopScanning()
	}
}

func (e *Engine) hardwareLoop(ctx context.Context, sub bus.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-sub:
			if !ok {
				return
			}
			ev, ok := raw.(connectors.HardwareEvent)
			if !ok {
				continue
			}
			e.SyncHardware(ctx, string(ev.Kind))
		}
	}
}

func (e *Engine) retentionLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.RetentionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.sweepRetention(ctx)
		}
	}
}

func (e *Engine) sweepRetention(ctx context.Context) {
	cutoff := e.now().Add(-e.cfg.RetentionHorizon)
	n, err := e.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		e.logger.Warn("retention sweep failed", "error", err)
		return
	}
	if n > 0 {
		e.logger.Info("expired messages removed", "count", n, "cutoff", cutoff)
	}
}

func (e *Engine) resolveLocation(ctx context.Context) domain.Coordinates {
	e.mu.Lock()
	fallback := e.lastFix
	e.mu.Unlock()

	coords, src := location.Resolve(ctx, e.location, e.cfg.LocationTimeout, fallback)
	if src != location.SourceFresh {
		e.logger.Debug("using stale location", "source", src)
	}

	e.mu.Lock()
	e.lastFix = coords
	e.mu.Unlock()

	return coords
}

func (e *Engine) save(ctx context.Context, m domain.DistressMessage) (bool, bool) {
	created, err := e.store.Save(ctx, m)
	if err != nil {
		e.logger.Warn("save message", "id", m.ID, "error", err)
		return false, false
	}

	return created, true
}

func (e *Engine) sendCloud(ctx context.Context, m domain.DistressMessage) error {
	if e.cloud == nil {
		return cloud.ErrNoEndpoint
	}

	return e.cloud.Send(ctx, m)
}

func (e *Engine) enqueueGateway(m domain.DistressMessage) {
	if e.gateway == nil || !e.secondaryEnabled.Load() {
		return
	}
	body, err := domain.GatewayBody(m)
	if err != nil {
		e.logger.Warn("encode gateway body", "id", m.ID, "error", err)
		return
	}
	e.gateway.Enqueue(gateway.QueuedMessage{MessageID: m.ID, Body: body})
}

func (e *Engine) class() domain.ConnectivityClass {
	if e.conn == nil {
		return domain.ConnectivityOffline
	}

	return e.conn.Class()
}

func (e *Engine) publish(topic string, msg any) {
	if e.bus != nil {
		e.bus.Publish(topic, msg)
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
