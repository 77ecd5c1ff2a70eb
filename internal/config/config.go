package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// MeshTransport identifies the broadcast backend.
type MeshTransport string

// GatewayTransport identifies the point-to-point link backend.
type GatewayTransport string

// LocationSource selects where coordinates come from.
type LocationSource string

const (
	MeshBluetooth MeshTransport = "bluetooth"
	MeshUDP       MeshTransport = "udp"

	GatewayBluetooth GatewayTransport = "bluetooth"
	GatewaySerial    GatewayTransport = "serial"
	GatewayTCP       GatewayTransport = "tcp"
	GatewayNone      GatewayTransport = "none"

	LocationStatic LocationSource = "static"
	LocationNMEA   LocationSource = "nmea"
	LocationNone   LocationSource = "none"

	DefaultSerialBaud     = 115200
	DefaultNMEABaud       = 9600
	DefaultUDPPort        = 47474
	DefaultTCPPort        = 4403
	DefaultDedupCapacity  = 4096
	DefaultGatewayMTU     = 512
	DefaultProbeAddress   = "8.8.8.8:53"
	DefaultAPIListen      = "127.0.0.1:8787"
	DefaultUDPBroadcast   = "255.255.255.255"
	DefaultUDPRepeatEvery = Duration(2 * time.Second)
)

// Duration is a time.Duration written as "1m30s" in JSON.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(raw []byte) error {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		var n int64
		if err := json.Unmarshal(raw, &n); err != nil {
			return fmt.Errorf("duration must be a string like \"5s\": %w", err)
		}
		*d = Duration(time.Duration(n) * time.Millisecond)
		return nil
	}
	v, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(v)

	return nil
}

// LoggingConfig defines runtime logging behavior.
type LoggingConfig struct {
	Level     string `json:"level"`
	Format    string `json:"format"`
	LogToFile bool   `json:"log_to_file"`
}

// MeshConfig configures the broadcast radio.
type MeshConfig struct {
	Transport        MeshTransport `json:"transport"`
	BluetoothAdapter string        `json:"bluetooth_adapter"`
	UDPBroadcast     string        `json:"udp_broadcast"`
	UDPPort          int           `json:"udp_port"`
	UDPRepeat        Duration      `json:"udp_repeat"`
	FloodRelay       bool          `json:"flood_relay"`
	DedupCapacity    int           `json:"dedup_capacity"`
	DedupTTL         Duration      `json:"dedup_ttl"`
}

// GatewayConfig configures the point-to-point link to the gateway node.
type GatewayConfig struct {
	Transport        GatewayTransport `json:"transport"`
	BluetoothAdapter string           `json:"bluetooth_adapter"`
	SerialPort       string           `json:"serial_port"`
	SerialBaud       int              `json:"serial_baud"`
	Host             string           `json:"host"`
	Port             int              `json:"port"`
	RetryBackoff     Duration         `json:"retry_backoff"`
	AckTimeout       Duration         `json:"ack_timeout"`
	DiscoveryTimeout Duration         `json:"discovery_timeout"`
	MTU              int              `json:"mtu"`
}

type CloudConfig struct {
	Endpoint string   `json:"endpoint"`
	Timeout  Duration `json:"timeout"`
	Pacing   Duration `json:"pacing"`
}

type ConnectivityConfig struct {
	ProbeAddress string   `json:"probe_address"`
	ProbeTimeout Duration `json:"probe_timeout"`
	PollInterval Duration `json:"poll_interval"`
}

type LocationConfig struct {
	Source     LocationSource `json:"source"`
	Latitude   float64        `json:"latitude"`
	Longitude  float64        `json:"longitude"`
	SerialPort string         `json:"serial_port"`
	SerialBaud int            `json:"serial_baud"`
	FixTimeout Duration       `json:"fix_timeout"`
}

type RetentionConfig struct {
	Horizon       Duration `json:"horizon"`
	SweepInterval Duration `json:"sweep_interval"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled"`
	Listen  string `json:"listen"`
}

// NotificationConfig stores desktop notification preferences.
type NotificationConfig struct {
	IncomingMessage bool `json:"incoming_message"`
	Acknowledged    bool `json:"acknowledged"`
}

// AppConfig is the root persisted application configuration.
type AppConfig struct {
	Logging       LoggingConfig      `json:"logging"`
	Mesh          MeshConfig         `json:"mesh"`
	Gateway       GatewayConfig      `json:"gateway"`
	Cloud         CloudConfig        `json:"cloud"`
	Connectivity  ConnectivityConfig `json:"connectivity"`
	Location      LocationConfig     `json:"location"`
	Retention     RetentionConfig    `json:"retention"`
	API           APIConfig          `json:"api"`
	Notifications NotificationConfig `json:"notifications"`
}

func Default() AppConfig {
	return AppConfig{
		Logging: LoggingConfig{
			Level:     "info",
			Format:    "text",
			LogToFile: false,
		},
		Mesh: MeshConfig{
			Transport:     MeshBluetooth,
			UDPBroadcast:  DefaultUDPBroadcast,
			UDPPort:       DefaultUDPPort,
			UDPRepeat:     DefaultUDPRepeatEvery,
			FloodRelay:    false,
			DedupCapacity: DefaultDedupCapacity,
			DedupTTL:      Duration(6 * time.Hour),
		},
		Gateway: GatewayConfig{
			Transport:        GatewayBluetooth,
			SerialBaud:       DefaultSerialBaud,
			Port:             DefaultTCPPort,
			RetryBackoff:     Duration(time.Second),
			AckTimeout:       Duration(20 * time.Second),
			DiscoveryTimeout: Duration(15 * time.Second),
			MTU:              DefaultGatewayMTU,
		},
		Cloud: CloudConfig{
			Timeout: Duration(10 * time.Second),
			Pacing:  Duration(200 * time.Millisecond),
		},
		Connectivity: ConnectivityConfig{
			ProbeAddress: DefaultProbeAddress,
			ProbeTimeout: Duration(1500 * time.Millisecond),
			PollInterval: Duration(10 * time.Second),
		},
		Location: LocationConfig{
			Source:     LocationStatic,
			SerialBaud: DefaultNMEABaud,
			FixTimeout: Duration(5 * time.Second),
		},
		Retention: RetentionConfig{
			Horizon:       Duration(48 * time.Hour),
			SweepInterval: Duration(time.Hour),
		},
		API: APIConfig{
			Enabled: true,
			Listen:  DefaultAPIListen,
		},
		Notifications: NotificationConfig{
			IncomingMessage: true,
			Acknowledged:    true,
		},
	}
}

func Load(path string) (AppConfig, error) {
	cfg := Default()
	cleanPath := filepath.Clean(path)
	// #nosec G304 -- path is resolved by app runtime and points to user config dir.
	raw, err := os.ReadFile(cleanPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}

		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	if err := json.Unmarshal(raw, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("decode config json: %w", err)
	}

	cfg.FillMissingDefaults()

	return cfg, nil
}

// FillMissingDefaults replaces zero values left by partial config files.
func (c *AppConfig) FillMissingDefaults() {
	d := Default()

	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
	c.Logging.Format = normalizeLogFormat(c.Logging.Format)

	if c.Mesh.Transport == "" {
		c.Mesh.Transport = d.Mesh.Transport
	}
	if strings.TrimSpace(c.Mesh.UDPBroadcast) == "" {
		c.Mesh.UDPBroadcast = d.Mesh.UDPBroadcast
	}
	if c.Mesh.UDPPort <= 0 {
		c.Mesh.UDPPort = d.Mesh.UDPPort
	}
	if c.Mesh.UDPRepeat <= 0 {
		c.Mesh.UDPRepeat = d.Mesh.UDPRepeat
	}
	if c.Mesh.DedupCapacity <= 0 {
		c.Mesh.DedupCapacity = d.Mesh.DedupCapacity
	}
	if c.Mesh.DedupTTL <= 0 {
		c.Mesh.DedupTTL = d.Mesh.DedupTTL
	}

	if c.Gateway.Transport == "" {
		c.Gateway.Transport = d.Gateway.Transport
	}
	if c.Gateway.SerialBaud <= 0 {
		c.Gateway.SerialBaud = d.Gateway.SerialBaud
	}
	if c.Gateway.Port <= 0 {
		c.Gateway.Port = d.Gateway.Port
	}
	if c.Gateway.RetryBackoff <= 0 {
		c.Gateway.RetryBackoff = d.Gateway.RetryBackoff
	}
	if c.Gateway.AckTimeout <= 0 {
		c.Gateway.AckTimeout = d.Gateway.AckTimeout
	}
	if c.Gateway.DiscoveryTimeout <= 0 {
		c.Gateway.DiscoveryTimeout = d.Gateway.DiscoveryTimeout
	}
	if c.Gateway.MTU <= 0 {
		c.Gateway.MTU = d.Gateway.MTU
	}

	if c.Cloud.Timeout <= 0 {
		c.Cloud.Timeout = d.Cloud.Timeout
	}
	if c.Cloud.Pacing < 0 {
		c.Cloud.Pacing = d.Cloud.Pacing
	}

	if strings.TrimSpace(c.Connectivity.ProbeAddress) == "" {
		c.Connectivity.ProbeAddress = d.Connectivity.ProbeAddress
	}
	if c.Connectivity.ProbeTimeout <= 0 {
		c.Connectivity.ProbeTimeout = d.Connectivity.ProbeTimeout
	}
	if c.Connectivity.PollInterval <= 0 {
		c.Connectivity.PollInterval = d.Connectivity.PollInterval
	}

	if c.Location.Source == "" {
		c.Location.Source = d.Location.Source
	}
	if c.Location.SerialBaud <= 0 {
		c.Location.SerialBaud = d.Location.SerialBaud
	}
	if c.Location.FixTimeout <= 0 {
		c.Location.FixTimeout = d.Location.FixTimeout
	}

	if c.Retention.Horizon <= 0 {
		c.Retention.Horizon = d.Retention.Horizon
	}
	if c.Retention.SweepInterval <= 0 {
		c.Retention.SweepInterval = d.Retention.SweepInterval
	}

	if strings.TrimSpace(c.API.Listen) == "" {
		c.API.Listen = d.API.Listen
	}
}

func normalizeLogFormat(format string) string {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		return "json"
	default:
		return "text"
	}
}

func (c AppConfig) Validate() error {
	switch c.Mesh.Transport {
	case MeshBluetooth:
	case MeshUDP:
		if c.Mesh.UDPPort <= 0 || c.Mesh.UDPPort > 65535 {
			return fmt.Errorf("udp port out of range: %d", c.Mesh.UDPPort)
		}
	default:
		return fmt.Errorf("unknown mesh transport: %s", c.Mesh.Transport)
	}

	switch c.Gateway.Transport {
	case GatewayBluetooth, GatewayNone:
	case GatewaySerial:
		if strings.TrimSpace(c.Gateway.SerialPort) == "" {
			return errors.New("gateway serial port is required")
		}
		if c.Gateway.SerialBaud <= 0 {
			return errors.New("gateway serial baud must be positive")
		}
	case GatewayTCP:
		if strings.TrimSpace(c.Gateway.Host) == "" {
			return errors.New("gateway host is required")
		}
	default:
		return fmt.Errorf("unknown gateway transport: %s", c.Gateway.Transport)
	}

	switch c.Location.Source {
	case LocationStatic:
		if c.Location.Latitude < -90 || c.Location.Latitude > 90 {
			return fmt.Errorf("latitude out of range: %v", c.Location.Latitude)
		}
		if c.Location.Longitude < -180 || c.Location.Longitude > 180 {
			return fmt.Errorf("longitude out of range: %v", c.Location.Longitude)
		}
	case LocationNMEA:
		if strings.TrimSpace(c.Location.SerialPort) == "" {
			return errors.New("nmea serial port is required")
		}
	case LocationNone:
	default:
		return fmt.Errorf("unknown location source: %s", c.Location.Source)
	}

	if endpoint := strings.TrimSpace(c.Cloud.Endpoint); endpoint != "" &&
		!strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		return fmt.Errorf("cloud endpoint must be an http(s) url: %s", endpoint)
	}

	return nil
}

func Save(path string, cfg AppConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, raw, 0o600); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp config: %w", err)
	}

	return nil
}
