package bluetoothutil

import (
	"fmt"
	"strings"

	"tinygo.org/x/bluetooth"
)

// MeshCompanyID tags mesh payloads inside manufacturer-specific advertising
// data. 0xFFFF is the value reserved for testing and internal use.
const MeshCompanyID uint16 = 0xFFFF

var (
	meshServiceUUID    = mustParseUUID("87bd42f3-189f-4408-9bd3-07cb1bf6119f")
	gatewayServiceUUID = mustParseUUID("4fafc201-1fb5-459e-8fcc-c5c9c331914b")
	gatewayWriteUUID   = mustParseUUID("beb5483e-36e1-4688-b7f5-ea07361b26a8")
	gatewayNotifyUUID  = mustParseUUID("cc821ea3-9b9f-4eb8-8884-25b57d00f77b")
)

func mustParseUUID(raw string) bluetooth.UUID {
	uuid, err := bluetooth.ParseUUID(strings.TrimSpace(raw))
	if err != nil {
		panic(fmt.Sprintf("invalid bluetooth UUID %q: %v", raw, err))
	}

	return uuid
}

// MeshServiceUUID is advertised alongside every distress broadcast.
func MeshServiceUUID() bluetooth.UUID {
	return meshServiceUUID
}

func GatewayServiceUUID() bluetooth.UUID {
	return gatewayServiceUUID
}

func GatewayWriteUUID() bluetooth.UUID {
	return gatewayWriteUUID
}

func GatewayNotifyUUID() bluetooth.UUID {
	return gatewayNotifyUUID
}
