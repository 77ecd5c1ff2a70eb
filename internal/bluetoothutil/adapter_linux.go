//go:build linux

package bluetoothutil

import (
	"strings"

	"tinygo.org/x/bluetooth"
)

const defaultAdapterID = "hci0"

func ResolveAdapter(adapterID string) *bluetooth.Adapter {
	trimmed := strings.TrimSpace(adapterID)
	if trimmed == "" {
		return bluetooth.DefaultAdapter
	}
	return bluetooth.NewAdapter(trimmed)
}

// AdapterObjectPath is the BlueZ D-Bus object for the adapter.
func AdapterObjectPath(adapterID string) string {
	trimmed := strings.TrimSpace(adapterID)
	if trimmed == "" {
		trimmed = defaultAdapterID
	}
	return "/org/bluez/" + trimmed
}
