package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/skobkin/resqrelay/internal/app"
	"github.com/skobkin/resqrelay/internal/bus"
	"github.com/skobkin/resqrelay/internal/config"
	"github.com/skobkin/resqrelay/internal/connectors"
	"github.com/skobkin/resqrelay/internal/dedup"
	"github.com/skobkin/resqrelay/internal/domain"
	"github.com/skobkin/resqrelay/internal/logging"
	"github.com/skobkin/resqrelay/internal/radio"
)

const maxHexPreviewLen = 64

func main() {
	if err := run(); err != nil {
		slog.Error("run debug tool", "error", err)
		os.Exit(1)
	}
}

func run() error {
	dataDir := flag.String("data-dir", "", "directory holding config.json (default: user config dir)")
	meshTransport := flag.String("transport", "", "override mesh transport: bluetooth|udp")
	udpPort := flag.Int("udp-port", 0, "override udp port")
	noDedup := flag.Bool("no-dedup", false, "print every frame, including repeats")
	listenFor := flag.Duration("listen-for", 0, "listen duration, e.g. 30s")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	paths, err := resolvePaths(*dataDir)
	if err != nil {
		return fmt.Errorf("resolve paths: %w", err)
	}
	cfg, err := config.Load(paths.ConfigFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyOverrides(&cfg, *meshTransport, *udpPort)

	logMgr := logging.NewManager()
	cfg.Logging.LogToFile = false
	if err := logMgr.Configure(cfg.Logging, paths.LogFile); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer func() {
		if closeErr := logMgr.Close(); closeErr != nil {
			slog.Warn("close log manager", "error", closeErr)
		}
	}()
	logger := logMgr.Logger("cli")
	logger.Info("starting resqrelay debug", "version", app.BuildVersion(), "build_date", app.BuildDateYMD())

	b := bus.New(logMgr.Logger("bus"))
	defer b.Close()

	broadcaster, _, err := app.NewMeshBroadcaster(cfg.Mesh)
	if err != nil {
		return err
	}
	capacity := cfg.Mesh.DedupCapacity
	if *noDedup {
		// A one-slot cache with a tiny ttl lets repeats through.
		capacity = 1
		cfg.Mesh.DedupTTL = config.Duration(time.Millisecond)
	}
	radioSvc := radio.NewService(logMgr.Logger("radio"), b, broadcaster, dedup.New(capacity, cfg.Mesh.DedupTTL.Std()))

	watch(ctx, b, logger)
	radioSvc.StartScanning(ctx, func(_ context.Context, rb domain.ReceivedBroadcast) {
		logger.Info("broadcast", describeBroadcast(rb)...)
	})
	defer radioSvc.StopScanning()
	logger.Info("scanning", "transport", app.TransportTarget(broadcaster))

	if *listenFor > 0 {
		logger.Info("listen mode", "duration", *listenFor)
		select {
		case <-ctx.Done():
		case <-time.After(*listenFor):
		}
		return nil
	}

	logger.Info("listening until interrupt")
	<-ctx.Done()

	return nil
}

func resolvePaths(dataDir string) (app.Paths, error) {
	if strings.TrimSpace(dataDir) != "" {
		return app.PathsIn(dataDir)
	}

	return app.ResolvePaths()
}

func applyOverrides(cfg *config.AppConfig, meshTransport string, udpPort int) {
	if t := strings.TrimSpace(meshTransport); t != "" {
		cfg.Mesh.Transport = config.MeshTransport(strings.ToLower(t))
	}
	if udpPort > 0 {
		cfg.Mesh.UDPPort = udpPort
	}
}

func watch(ctx context.Context, b bus.MessageBus, logger *slog.Logger) {
	rawInSub := b.Subscribe(connectors.TopicRawFrameIn)
	rawOutSub := b.Subscribe(connectors.TopicRawFrameOut)

	go func() {
		for {
			select {
			case <-ctx.Done():
				b.Unsubscribe(rawInSub, connectors.TopicRawFrameIn)
				b.Unsubscribe(rawOutSub, connectors.TopicRawFrameOut)
				return
			case raw := <-rawOutSub:
				if frame, ok := raw.(connectors.RawFrame); ok {
					logger.Info("raw-out", "transport", frame.Transport, "len", frame.Len, "hex", previewHex(frame.Hex))
				}
			case raw := <-rawInSub:
				if frame, ok := raw.(connectors.RawFrame); ok {
					logger.Info("raw-in", "transport", frame.Transport, "len", frame.Len, "hex", previewHex(frame.Hex))
				}
			}
		}
	}()
}

func describeBroadcast(rb domain.ReceivedBroadcast) []any {
	return []any{
		"sender", rb.SenderID,
		"category", rb.Category,
		"text", rb.Text,
		"lat", rb.Location.Latitude,
		"lon", rb.Location.Longitude,
		"fingerprint", fmt.Sprintf("%016x", rb.Fingerprint),
		"hex", previewHex(hex.EncodeToString(rb.Raw)),
	}
}

func previewHex(hex string) string {
	hex = strings.TrimSpace(hex)
	if len(hex) <= maxHexPreviewLen {
		return hex
	}
	return hex[:maxHexPreviewLen] + "..."
}
