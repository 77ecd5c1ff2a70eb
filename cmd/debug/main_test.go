package main

import (
	"strings"
	"testing"

	"github.com/skobkin/resqrelay/internal/config"
	"github.com/skobkin/resqrelay/internal/domain"
)

func TestPreviewHex(t *testing.T) {
	short := "deadbeef"
	if got := previewHex("  " + short + "\n"); got != short {
		t.Fatalf("expected %q, got %q", short, got)
	}

	long := strings.Repeat("ab", maxHexPreviewLen)
	got := previewHex(long)
	if len(got) != maxHexPreviewLen+3 || !strings.HasSuffix(got, "...") {
		t.Fatalf("unexpected preview %q", got)
	}
}

func TestApplyOverrides(t *testing.T) {
	tests := []struct {
		name          string
		transport     string
		port          int
		wantTransport config.MeshTransport
		wantPort      int
	}{
		{name: "none", wantTransport: config.MeshBluetooth, wantPort: config.DefaultUDPPort},
		{name: "udp", transport: " UDP ", port: 5000, wantTransport: config.MeshUDP, wantPort: 5000},
		{name: "port only", port: 6000, wantTransport: config.MeshBluetooth, wantPort: 6000},
	}

	for _, tc := range tests {
		cfg := config.Default()
		cfg.Mesh.Transport = config.MeshBluetooth
		applyOverrides(&cfg, tc.transport, tc.port)
		if cfg.Mesh.Transport != tc.wantTransport || cfg.Mesh.UDPPort != tc.wantPort {
			t.Fatalf("%s: got %s/%d", tc.name, cfg.Mesh.Transport, cfg.Mesh.UDPPort)
		}
	}
}

func TestDescribeBroadcast(t *testing.T) {
	attrs := describeBroadcast(domain.ReceivedBroadcast{
		Raw:         []byte{0x01, 0x02},
		Fingerprint: 0xff,
		SenderID:    "ABCDEF",
		Category:    domain.CategoryMedical,
		Text:        "help",
	})
	if len(attrs)%2 != 0 {
		t.Fatalf("attrs must be key/value pairs: %v", attrs)
	}
	values := map[any]any{}
	for i := 0; i < len(attrs); i += 2 {
		values[attrs[i]] = attrs[i+1]
	}
	if values["sender"] != "ABCDEF" || values["hex"] != "0102" || values["fingerprint"] != "00000000000000ff" {
		t.Fatalf("unexpected attrs %v", values)
	}
}
