//go:build !linux

package platform

import (
	"context"
	"log/slog"
)

// BluetoothRadioProbe assumes the adapter is on where BlueZ is unavailable;
// adapter errors surface later from the transport itself.
type BluetoothRadioProbe struct{}

func NewBluetoothRadioProbe(string) *BluetoothRadioProbe {
	return &BluetoothRadioProbe{}
}

func (p *BluetoothRadioProbe) RadioPowered(context.Context) (bool, error) {
	return true, nil
}

func WatchRadioPower(context.Context, *slog.Logger, string, HardwarePublisher) error {
	return ErrHardwareWatchUnsupported
}
