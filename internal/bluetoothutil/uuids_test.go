package bluetoothutil

import "testing"

func TestUUIDsAreDefinedAndDistinct(t *testing.T) {
	uuids := map[string]string{
		"mesh":            MeshServiceUUID().String(),
		"gateway service": GatewayServiceUUID().String(),
		"gateway write":   GatewayWriteUUID().String(),
		"gateway notify":  GatewayNotifyUUID().String(),
	}
	seen := make(map[string]string, len(uuids))
	for name, v := range uuids {
		if other, ok := seen[v]; ok {
			t.Fatalf("%s and %s share UUID %s", name, other, v)
		}
		seen[v] = name
	}
	if got := GatewayServiceUUID().String(); got != "4fafc201-1fb5-459e-8fcc-c5c9c331914b" {
		t.Fatalf("unexpected gateway service UUID %s", got)
	}
}

func TestMustParseUUIDPanicsOnInvalidValue(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for invalid UUID")
		}
	}()
	_ = mustParseUUID("not-a-uuid")
}
