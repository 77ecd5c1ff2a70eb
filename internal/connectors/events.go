package connectors

import (
	"time"

	"github.com/skobkin/resqrelay/internal/domain"
)

// ConnectivityChange is published whenever the connectivity class is recomputed.
type ConnectivityChange struct {
	Class             domain.ConnectivityClass
	Previous          domain.ConnectivityClass
	InternetReachable bool
	RadioEnabled      bool
	Timestamp         time.Time
}

// HardwareEventKind names the system signal that asks for a hardware resync.
type HardwareEventKind string

const (
	HardwareRadioPower       HardwareEventKind = "radio_power"
	HardwareLocationProvider HardwareEventKind = "location_provider"
	HardwareResume           HardwareEventKind = "resume"
)

// HardwareEvent is an inbound system notification. It carries no state; the
// receiver re-reads actual hardware state.
type HardwareEvent struct {
	Kind      HardwareEventKind
	Source    string
	Timestamp time.Time
}

// GatewayState describes the gateway link protocol lifecycle.
type GatewayState string

const (
	GatewayStateDisconnected GatewayState = "disconnected"
	GatewayStateDiscovering  GatewayState = "discovering"
	GatewayStateConnected    GatewayState = "connected"
	GatewayStateSubscribed   GatewayState = "subscribed"
	GatewayStateSending      GatewayState = "sending"
)

// GatewayStatus is a bus snapshot of the gateway link.
type GatewayStatus struct {
	State      GatewayState
	QueueLen   int
	InFlightID string
	Err        string
	Transport  string
	Timestamp  time.Time
}

// RawFrame carries frame diagnostics for debug views.
type RawFrame struct {
	Transport string
	Hex       string
	Len       int
}
