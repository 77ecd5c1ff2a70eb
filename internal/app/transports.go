package app

import (
	"fmt"
	"strings"

	"github.com/skobkin/resqrelay/internal/config"
	"github.com/skobkin/resqrelay/internal/gateway"
	"github.com/skobkin/resqrelay/internal/platform"
	"github.com/skobkin/resqrelay/internal/relay"
	"github.com/skobkin/resqrelay/internal/transport"
)

// NewMeshBroadcaster builds the broadcast transport and the probe that
// reports whether its radio is powered.
func NewMeshBroadcaster(cfg config.MeshConfig) (transport.Broadcaster, relay.HardwareProbe, error) {
	switch cfg.Transport {
	case config.MeshBluetooth:
		return transport.NewBLEBroadcaster(cfg.BluetoothAdapter), platform.NewBluetoothRadioProbe(cfg.BluetoothAdapter), nil
	case config.MeshUDP:
		return transport.NewUDPBroadcaster(cfg.UDPBroadcast, cfg.UDPPort, cfg.UDPRepeat.Std()), platform.AlwaysOnRadio{}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported mesh transport: %s", cfg.Transport)
	}
}

// NewGatewayLink returns nil when the gateway path is switched off.
func NewGatewayLink(cfg config.GatewayConfig) (gateway.Link, error) {
	switch cfg.Transport {
	case config.GatewayNone:
		return nil, nil
	case config.GatewayBluetooth:
		return transport.NewBLEGatewayLink(cfg.BluetoothAdapter), nil
	case config.GatewaySerial:
		return transport.NewSerialGatewayLink(cfg.SerialPort, cfg.SerialBaud), nil
	case config.GatewayTCP:
		return transport.NewTCPGatewayLink(cfg.Host, cfg.Port), nil
	default:
		return nil, fmt.Errorf("unsupported gateway transport: %s", cfg.Transport)
	}
}

func GatewayClientConfig(cfg config.GatewayConfig) gateway.Config {
	return gateway.Config{
		RetryBackoff:     cfg.RetryBackoff.Std(),
		AckTimeout:       cfg.AckTimeout.Std(),
		DiscoveryTimeout: cfg.DiscoveryTimeout.Std(),
		MTU:              cfg.MTU,
	}
}

// TransportTarget describes where a transport points, falling back to its name.
func TransportTarget(v interface{ Name() string }) string {
	if provider, ok := v.(transport.StatusTarget); ok {
		if target := strings.TrimSpace(provider.StatusTarget()); target != "" {
			return target
		}
	}

	return v.Name()
}
