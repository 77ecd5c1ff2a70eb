package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAppConfigFillMissingDefaults(t *testing.T) {
	cfg := AppConfig{}
	cfg.FillMissingDefaults()

	if cfg.Mesh.Transport != MeshBluetooth {
		t.Fatalf("expected default mesh transport %q, got %q", MeshBluetooth, cfg.Mesh.Transport)
	}
	if cfg.Gateway.SerialBaud != DefaultSerialBaud {
		t.Fatalf("expected default serial baud %d, got %d", DefaultSerialBaud, cfg.Gateway.SerialBaud)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Fatalf("unexpected logging defaults %+v", cfg.Logging)
	}
	if cfg.Gateway.AckTimeout.Std() != 20*time.Second {
		t.Fatalf("expected 20s ack timeout, got %s", cfg.Gateway.AckTimeout.Std())
	}
	if cfg.Connectivity.ProbeAddress != DefaultProbeAddress {
		t.Fatalf("expected probe address %q, got %q", DefaultProbeAddress, cfg.Connectivity.ProbeAddress)
	}
	if cfg.Retention.Horizon.Std() != 48*time.Hour {
		t.Fatalf("expected 48h retention, got %s", cfg.Retention.Horizon.Std())
	}
	if cfg.Mesh.FloodRelay {
		t.Fatalf("flood relay must be opt-in")
	}
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.API.Listen != DefaultAPIListen || !cfg.Notifications.IncomingMessage {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadPartialConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	raw := `{
  "mesh": {
    "transport": "udp",
    "udp_port": 50000,
    "flood_relay": true
  },
  "gateway": {
    "transport": "serial",
    "serial_port": "/dev/ttyUSB0",
    "ack_timeout": "45s",
    "retry_backoff": 2500
  },
  "notifications": {
    "incoming_message": false
  }
}`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config fixture: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Mesh.Transport != MeshUDP || cfg.Mesh.UDPPort != 50000 || !cfg.Mesh.FloodRelay {
		t.Fatalf("mesh section not applied: %+v", cfg.Mesh)
	}
	if cfg.Mesh.UDPBroadcast != DefaultUDPBroadcast {
		t.Fatalf("missing udp broadcast should default, got %q", cfg.Mesh.UDPBroadcast)
	}
	if cfg.Gateway.AckTimeout.Std() != 45*time.Second {
		t.Fatalf("expected 45s ack timeout, got %s", cfg.Gateway.AckTimeout.Std())
	}
	if cfg.Gateway.RetryBackoff.Std() != 2500*time.Millisecond {
		t.Fatalf("numeric durations are milliseconds, got %s", cfg.Gateway.RetryBackoff.Std())
	}
	if cfg.Gateway.SerialBaud != DefaultSerialBaud {
		t.Fatalf("expected default baud, got %d", cfg.Gateway.SerialBaud)
	}
	if cfg.Notifications.IncomingMessage {
		t.Fatalf("expected incoming_message=false to be preserved")
	}
	if cfg.Location.Source != LocationStatic {
		t.Fatalf("expected static location default, got %q", cfg.Location.Source)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"gateway":{"ack_timeout":"soon"}}`), 0o600); err != nil {
		t.Fatalf("write config fixture: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected duration parse error")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	cfg := Default()
	cfg.Cloud.Endpoint = "https://relay.example.org/sos"
	cfg.Gateway.Transport = GatewayTCP
	cfg.Gateway.Host = "10.0.0.5"

	if err := Save(path, cfg); err != nil {
		t.Fatalf("save config: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if got != cfg {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, cfg)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind")
	}
}

func TestAppConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*AppConfig)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*AppConfig) {}},
		{name: "udp mesh", mutate: func(c *AppConfig) { c.Mesh.Transport = MeshUDP }},
		{name: "udp port out of range", mutate: func(c *AppConfig) { c.Mesh.Transport = MeshUDP; c.Mesh.UDPPort = 70000 }, wantErr: true},
		{name: "unknown mesh", mutate: func(c *AppConfig) { c.Mesh.Transport = "lora" }, wantErr: true},
		{name: "serial gateway", mutate: func(c *AppConfig) { c.Gateway.Transport = GatewaySerial; c.Gateway.SerialPort = "/dev/ttyACM0" }},
		{name: "serial gateway without port", mutate: func(c *AppConfig) { c.Gateway.Transport = GatewaySerial }, wantErr: true},
		{name: "serial gateway with zero baud", mutate: func(c *AppConfig) {
			c.Gateway.Transport = GatewaySerial
			c.Gateway.SerialPort = "COM3"
			c.Gateway.SerialBaud = 0
		}, wantErr: true},
		{name: "tcp gateway without host", mutate: func(c *AppConfig) { c.Gateway.Transport = GatewayTCP }, wantErr: true},
		{name: "no gateway", mutate: func(c *AppConfig) { c.Gateway.Transport = GatewayNone }},
		{name: "unknown gateway", mutate: func(c *AppConfig) { c.Gateway.Transport = "usb" }, wantErr: true},
		{name: "latitude out of range", mutate: func(c *AppConfig) { c.Location.Latitude = 91 }, wantErr: true},
		{name: "nmea without port", mutate: func(c *AppConfig) { c.Location.Source = LocationNMEA }, wantErr: true},
		{name: "unknown location", mutate: func(c *AppConfig) { c.Location.Source = "wifi" }, wantErr: true},
		{name: "bad cloud endpoint", mutate: func(c *AppConfig) { c.Cloud.Endpoint = "ftp://x" }, wantErr: true},
	}

	for _, tc := range tests {
		cfg := Default()
		tc.mutate(&cfg)
		err := cfg.Validate()
		if tc.wantErr && err == nil {
			t.Fatalf("%s: expected error, got nil", tc.name)
		}
		if !tc.wantErr && err != nil {
			t.Fatalf("%s: expected no error, got %v", tc.name, err)
		}
	}
}
