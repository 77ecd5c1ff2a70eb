package domain

import "testing"

func TestDeviceIDHex(t *testing.T) {
	tests := []struct {
		id   DeviceID
		want string
	}{
		{id: 0, want: "000000"},
		{id: 0xA3F9B2, want: "A3F9B2"},
		{id: MaxDeviceID, want: "FFFFFF"},
	}
	for _, tc := range tests {
		if got := tc.id.Hex(); got != tc.want {
			t.Fatalf("hex for %d: got %q want %q", tc.id, got, tc.want)
		}
	}
}

func TestParseDeviceID(t *testing.T) {
	id, err := ParseDeviceID(" a3f9b2 ")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if id != 0xA3F9B2 {
		t.Fatalf("unexpected id: %x", uint32(id))
	}
	if _, err := ParseDeviceID("1000000"); err == nil {
		t.Fatalf("expected error for id wider than 24 bits")
	}
	if _, err := ParseDeviceID("zz"); err == nil {
		t.Fatalf("expected error for non-hex id")
	}
}

func TestMessageIDCollapsesIdenticalContent(t *testing.T) {
	a := MessageID("a3f9b2", CategoryTrapped, "stuck")
	b := MessageID("A3F9B2", CategoryTrapped, "stuck")
	if a != b {
		t.Fatalf("expected identical ids, got %q and %q", a, b)
	}
	if got := MessageID("A3F9B2", CategoryTrapped, "stuck under rubble"); got == a {
		t.Fatalf("expected different text to produce a different id")
	}
	if got := MessageID("A3F9B2", CategoryMedical, "stuck"); got == a {
		t.Fatalf("expected different category to produce a different id")
	}
	if got := MessageID("000001", CategoryTrapped, "stuck"); got == a {
		t.Fatalf("expected different sender to produce a different id")
	}
}

func TestNewDeviceIDFitsThreeBytes(t *testing.T) {
	for i := 0; i < 100; i++ {
		if id := NewDeviceID(); !id.Valid() {
			t.Fatalf("generated id out of range: %x", uint32(id))
		}
	}
}
