//go:build linux

package platform

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/godbus/dbus/v5"
	"github.com/skobkin/resqrelay/internal/bluetoothutil"
	"github.com/skobkin/resqrelay/internal/connectors"
)

const (
	bluezService        = "org.bluez"
	bluezAdapterIface   = "org.bluez.Adapter1"
	dbusPropertiesIface = "org.freedesktop.DBus.Properties"
)

// BluetoothRadioProbe reads the adapter Powered property from BlueZ.
type BluetoothRadioProbe struct {
	path dbus.ObjectPath
}

func NewBluetoothRadioProbe(adapterID string) *BluetoothRadioProbe {
	return &BluetoothRadioProbe{path: dbus.ObjectPath(bluetoothutil.AdapterObjectPath(adapterID))}
}

func (p *BluetoothRadioProbe) RadioPowered(ctx context.Context) (bool, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return false, fmt.Errorf("connect system bus: %w", err)
	}
	defer func() { _ = conn.Close() }()

	var v dbus.Variant
	err = conn.Object(bluezService, p.path).
		CallWithContext(ctx, dbusPropertiesIface+".Get", 0, bluezAdapterIface, "Powered").
		Store(&v)
	if err != nil {
		if bluetoothutil.IsAdapterUnavailableError(err) {
			return false, nil
		}
		return false, fmt.Errorf("read adapter power: %w", err)
	}
	powered, ok := v.Value().(bool)
	if !ok {
		return false, fmt.Errorf("unexpected Powered value %v", v)
	}

	return powered, nil
}

// WatchRadioPower publishes a radio power event whenever BlueZ reports a
// Powered change on the adapter. It returns once the subscription is set up.
func WatchRadioPower(ctx context.Context, logger *slog.Logger, adapterID string, publish HardwarePublisher) error {
	if logger == nil {
		logger = slog.Default().With("component", "platform")
	}
	path := dbus.ObjectPath(bluetoothutil.AdapterObjectPath(adapterID))

	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return fmt.Errorf("connect system bus: %w", err)
	}
	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(path),
		dbus.WithMatchInterface(dbusPropertiesIface),
		dbus.WithMatchMember("PropertiesChanged"),
	); err != nil {
		_ = conn.Close()
		return fmt.Errorf("subscribe adapter properties: %w", err)
	}

	signals := make(chan *dbus.Signal, 8)
	conn.Signal(signals)
	logger.Info("watching radio power", "adapter", path)

	go func() {
		defer func() {
			conn.RemoveSignal(signals)
			_ = conn.Close()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case sig, ok := <-signals:
				if !ok {
					return
				}
				if !isPoweredChange(sig, path) {
					continue
				}
				logger.Debug("adapter power changed", "adapter", path)
				publish(connectors.HardwareEvent{Kind: connectors.HardwareRadioPower, Source: string(path)})
			}
		}
	}()

	return nil
}

func isPoweredChange(sig *dbus.Signal, path dbus.ObjectPath) bool {
	if sig == nil || sig.Path != path || sig.Name != dbusPropertiesIface+".PropertiesChanged" {
		return false
	}
	if len(sig.Body) < 2 {
		return false
	}
	iface, ok := sig.Body[0].(string)
	if !ok || iface != bluezAdapterIface {
		return false
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return false
	}
	_, ok = changed["Powered"]

	return ok
}
