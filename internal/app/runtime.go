package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/skobkin/resqrelay/internal/bus"
	"github.com/skobkin/resqrelay/internal/cloud"
	"github.com/skobkin/resqrelay/internal/config"
	"github.com/skobkin/resqrelay/internal/connectivity"
	"github.com/skobkin/resqrelay/internal/connectors"
	"github.com/skobkin/resqrelay/internal/dedup"
	"github.com/skobkin/resqrelay/internal/domain"
	"github.com/skobkin/resqrelay/internal/gateway"
	"github.com/skobkin/resqrelay/internal/location"
	"github.com/skobkin/resqrelay/internal/logging"
	"github.com/skobkin/resqrelay/internal/notifications"
	"github.com/skobkin/resqrelay/internal/persistence"
	"github.com/skobkin/resqrelay/internal/platform"
	"github.com/skobkin/resqrelay/internal/radio"
	"github.com/skobkin/resqrelay/internal/relay"
	"github.com/skobkin/resqrelay/internal/web"
)

// Options adjust Initialize from the command line.
type Options struct {
	// DataDir replaces the user config dir as the home of all runtime files.
	DataDir string
	// ConfigFile overrides the config path inside the data dir.
	ConfigFile string
	LogLevel   string
}

// RelayOptions choose which outer surfaces StartRelay brings up.
type RelayOptions struct {
	API           bool
	Notifications bool
	InstanceLock  bool
}

// Runtime owns every long-lived component of the relay process.
type Runtime struct {
	mu sync.RWMutex

	Ctx    context.Context
	cancel context.CancelFunc

	Paths  Paths
	Config config.AppConfig

	LogManager   *logging.Manager
	Bus          *bus.PubSubBus
	DB           *sql.DB
	MessageRepo  *persistence.MessageRepo
	SettingsRepo *persistence.SettingsRepo
	WriterQueue  *persistence.WriterQueue

	Radio    *radio.Service
	Gateway  *gateway.Client
	Monitor  *connectivity.Monitor
	Location location.Provider
	Engine   *relay.Engine
	API      *web.Server

	lock platform.InstanceLock
	wg   sync.WaitGroup
}

// Initialize loads config, logging and storage. Radios are untouched until
// StartRelay.
func Initialize(parent context.Context, opts Options) (*Runtime, error) {
	var (
		paths Paths
		err   error
	)
	if dir := strings.TrimSpace(opts.DataDir); dir != "" {
		paths, err = PathsIn(dir)
	} else {
		paths, err = ResolvePaths()
	}
	if err != nil {
		return nil, err
	}
	if file := strings.TrimSpace(opts.ConfigFile); file != "" {
		paths.ConfigFile = file
	}

	cfg, err := config.Load(paths.ConfigFile)
	if err != nil {
		return nil, err
	}
	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		cfg.Logging.Level = level
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", paths.ConfigFile, err)
	}

	ctx, cancel := context.WithCancel(parent)
	rt := &Runtime{
		Ctx:    ctx,
		cancel: cancel,
		Paths:  paths,
		Config: cfg,
	}

	logMgr := logging.NewManager()
	if err := logMgr.Configure(cfg.Logging, paths.LogFile); err != nil {
		_ = logMgr.Close()
		cancel()
		return nil, fmt.Errorf("configure logging: %w", err)
	}
	rt.LogManager = logMgr
	slog.Info("starting resqrelay runtime", "version", BuildVersion(), "build_date", BuildDateYMD(), "revision", BuildRevision())

	db, err := persistence.Open(ctx, paths.DBFile)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.DB = db
	rt.MessageRepo = persistence.NewMessageRepo(db)
	rt.SettingsRepo = persistence.NewSettingsRepo(db)
	rt.Bus = bus.New(logMgr.Logger("bus"))

	return rt, nil
}

// StartRelay builds the radio, gateway, connectivity and engine stack and
// starts their background loops on the runtime context.
func (r *Runtime) StartRelay(opts RelayOptions) error {
	ctx := r.Ctx
	cfg := r.CurrentConfig()
	logs := r.LogManager

	if opts.InstanceLock {
		lock, err := platform.AcquireInstanceLock(Name, r.Paths.RootDir)
		if err != nil && !errors.Is(err, platform.ErrInstanceLockUnsupported) {
			return fmt.Errorf("acquire instance lock: %w", err)
		}
		r.lock = lock
	}

	writerQueue := persistence.NewWriterQueue(logs.Logger("persistence"), WriterQueueCapacity)
	writerQueue.Start(ctx)
	r.WriterQueue = writerQueue
	persistence.StartPersistenceProjection(ctx, logs.Logger("persistence"), r.Bus, writerQueue, r.MessageRepo)

	broadcaster, radioProbe, err := NewMeshBroadcaster(cfg.Mesh)
	if err != nil {
		return err
	}
	seen := dedup.New(cfg.Mesh.DedupCapacity, cfg.Mesh.DedupTTL.Std())
	r.Radio = radio.NewService(logs.Logger("radio"), r.Bus, broadcaster, seen)

	link, err := NewGatewayLink(cfg.Gateway)
	if err != nil {
		return err
	}
	var gw relay.Gateway
	if link != nil {
		r.Gateway = gateway.NewClient(logs.Logger("gateway"), r.Bus, link, GatewayClientConfig(cfg.Gateway))
		gw = r.Gateway
		r.goRun(func() { r.Gateway.Run(ctx) })
	}

	r.Location = r.newLocationProvider(cfg.Location)

	var sink cloud.Sink
	if strings.TrimSpace(cfg.Cloud.Endpoint) != "" {
		sink = cloud.NewWebhookSink(logs.Logger("cloud"), cfg.Cloud.Endpoint, cfg.Cloud.Timeout.Std())
	}

	var engine *relay.Engine
	r.Monitor = connectivity.NewMonitor(
		logs.Logger("connectivity"),
		r.Bus,
		connectivity.NewTCPProber(cfg.Connectivity.ProbeAddress, cfg.Connectivity.ProbeTimeout.Std()),
		func() bool { return engine.RadioEnabled() },
		cfg.Connectivity.PollInterval.Std(),
	)
	engine = relay.New(relay.Dependencies{
		Logger:       logs.Logger("relay"),
		Bus:          r.Bus,
		Store:        r.MessageRepo,
		Settings:     r.SettingsRepo,
		Mesh:         r.Radio,
		Gateway:      gw,
		Cloud:        sink,
		Connectivity: r.Monitor,
		Location:     r.Location,
		Hardware:     radioProbe,
	}, relay.Config{
		FloodRelay:        cfg.Mesh.FloodRelay,
		ReconcilePacing:   cfg.Cloud.Pacing.Std(),
		LocationTimeout:   cfg.Location.FixTimeout.Std(),
		RetentionHorizon:  cfg.Retention.Horizon.Std(),
		RetentionInterval: cfg.Retention.SweepInterval.Std(),
	})
	r.Engine = engine
	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("start relay engine: %w", err)
	}
	r.Monitor.OnInternet(engine.Reconcile)
	r.goRun(func() { r.Monitor.Run(ctx) })

	publish := platform.PublishHardware(r.Bus)
	platform.WatchResume(ctx, logs.Logger("platform"), publish)
	if cfg.Mesh.Transport == config.MeshBluetooth {
		if err := platform.WatchRadioPower(ctx, logs.Logger("platform"), cfg.Mesh.BluetoothAdapter, publish); err != nil {
			slog.Warn("radio power watch unavailable, relying on resume signals", "error", err)
		}
	}

	if opts.Notifications {
		sender := notifications.NewDesktopSender(Name, logs.Logger("notifications"))
		notifications.NewService(r.Bus, func() config.NotificationConfig {
			return r.CurrentConfig().Notifications
		}, sender, logs.Logger("notifications")).Start(ctx)
	}

	if opts.API && cfg.API.Enabled {
		var status web.GatewayStatus
		if r.Gateway != nil {
			status = r.Gateway
		}
		r.API = web.NewServer(logs.Logger("web"), engine, r.MessageRepo, status)
		r.goRun(func() {
			if err := r.API.ListenAndServe(ctx, cfg.API.Listen); err != nil {
				slog.Error("api server stopped", "error", err)
			}
		})
	}

	slog.Info("relay started",
		"device_id", engine.DeviceID().Hex(),
		"mesh", TransportTarget(broadcaster),
		"gateway", gatewayTarget(link),
		"cloud", sink != nil,
	)

	return nil
}

func (r *Runtime) newLocationProvider(cfg config.LocationConfig) location.Provider {
	switch cfg.Source {
	case config.LocationStatic:
		return location.Static{Coordinates: domain.Coordinates{Latitude: cfg.Latitude, Longitude: cfg.Longitude}}
	case config.LocationNMEA:
		p := location.NewNMEAProvider(r.LogManager.Logger("location"), cfg.SerialPort, cfg.SerialBaud)
		publish := platform.PublishHardware(r.Bus)
		p.OnAvailabilityChange(func(bool) {
			publish(connectors.HardwareEvent{Kind: connectors.HardwareLocationProvider, Source: cfg.SerialPort})
		})
		r.goRun(func() { p.Run(r.Ctx) })
		return p
	default:
		return location.Disabled{}
	}
}

// WaitConnectivity blocks until the first connectivity check after
// StartRelay has been published, or timeout.
func (r *Runtime) WaitConnectivity(timeout time.Duration) (connectors.ConnectivityChange, bool) {
	sub := r.Bus.Subscribe(connectors.TopicConnectivity)
	defer r.Bus.Unsubscribe(sub, connectors.TopicConnectivity)

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-r.Ctx.Done():
			return connectors.ConnectivityChange{}, false
		case <-timer.C:
			return connectors.ConnectivityChange{}, false
		case raw, ok := <-sub:
			if !ok {
				return connectors.ConnectivityChange{}, false
			}
			if change, ok := raw.(connectors.ConnectivityChange); ok {
				return change, true
			}
		}
	}
}

func (r *Runtime) CurrentConfig() config.AppConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.Config
}

// SaveAndApplyConfig persists cfg and applies the parts that can change live.
func (r *Runtime) SaveAndApplyConfig(cfg config.AppConfig) error {
	cfg.FillMissingDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	if err := config.Save(r.Paths.ConfigFile, cfg); err != nil {
		r.mu.Unlock()
		return err
	}
	r.Config = cfg
	r.mu.Unlock()

	return r.LogManager.Configure(cfg.Logging, r.Paths.LogFile)
}

func (r *Runtime) ClearDatabase() error {
	if r.DB == nil {
		return fmt.Errorf("database is not initialized")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := persistence.ClearDatabase(ctx, r.DB); err != nil {
		return err
	}
	slog.Info("database cleared")

	return nil
}

func (r *Runtime) goRun(fn func()) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		fn()
	}()
}

func (r *Runtime) Close() error {
	if r.WriterQueue != nil {
		ctx, cancel := context.WithTimeout(context.Background(), writerDrainTimeout)
		if err := r.WriterQueue.Drain(ctx); err != nil {
			slog.Warn("pending db writes dropped on shutdown", "count", r.WriterQueue.Pending())
		}
		cancel()
	}
	if r.cancel != nil {
		r.cancel()
	}
	if r.Radio != nil {
		r.Radio.StopScanning()
		if err := r.Radio.StopBroadcast(); err != nil {
			slog.Debug("stop broadcast", "error", err)
		}
	}
	r.wg.Wait()
	if r.Engine != nil {
		r.Engine.Wait()
	}
	if r.Bus != nil {
		r.Bus.Close()
	}
	if r.DB != nil {
		_ = r.DB.Close()
	}
	if r.lock != nil {
		if err := r.lock.Release(); err != nil {
			slog.Warn("release instance lock", "error", err)
		}
	}
	if r.LogManager != nil {
		_ = r.LogManager.Close()
	}
	return nil
}

func gatewayTarget(link gateway.Link) string {
	if link == nil {
		return "disabled"
	}

	return TransportTarget(link)
}
