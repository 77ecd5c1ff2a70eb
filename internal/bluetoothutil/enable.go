package bluetoothutil

import (
	"runtime"
	"strings"
	"sync"

	"tinygo.org/x/bluetooth"
)

// The mesh broadcaster and the gateway link usually sit on the same
// controller; it is enabled once and shared.
var (
	enabledMu       sync.Mutex
	enabledAdapters = map[string]*bluetooth.Adapter{}
	scanHubs        = map[*bluetooth.Adapter]*ScanHub{}
	enableFn        = func(a *bluetooth.Adapter) error { return a.Enable() }
)

// EnabledAdapter resolves adapterID and enables it on first use.
func EnabledAdapter(adapterID string) (*bluetooth.Adapter, error) {
	key := strings.TrimSpace(adapterID)

	enabledMu.Lock()
	defer enabledMu.Unlock()
	if adapter, ok := enabledAdapters[key]; ok {
		return adapter, nil
	}

	adapter := ResolveAdapter(key)
	if err := enableFn(adapter); err != nil && !isBenignEnableAdapterError(err) {
		return nil, err
	}
	enabledAdapters[key] = adapter

	return adapter, nil
}

// SharedScanHub returns the single scan hub of the enabled adapter. The
// adapter allows one scan at a time, so every scanning user goes through it.
func SharedScanHub(adapterID string) (*ScanHub, error) {
	adapter, err := EnabledAdapter(adapterID)
	if err != nil {
		return nil, err
	}

	enabledMu.Lock()
	defer enabledMu.Unlock()
	hub, ok := scanHubs[adapter]
	if !ok {
		hub = NewScanHub(adapter)
		scanHubs[adapter] = hub
	}

	return hub, nil
}

func isBenignEnableAdapterError(err error) bool {
	if err == nil || runtime.GOOS != "windows" {
		return false
	}

	// On Windows RoInitialize returning S_FALSE (COM already up) surfaces as
	// "Incorrect function.".
	msg := strings.TrimSpace(strings.ToLower(err.Error()))

	return msg == "incorrect function" || msg == "incorrect function."
}
