package platform

import "testing"

func TestNormalizeLockComponent(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		fallback string
		want     string
	}{
		{name: "preserves alnum and separators", raw: "resqrelay-v1.2_3", fallback: "app", want: "resqrelay-v1.2_3"},
		{name: "replaces unsupported runes", raw: "resqrelay:/v1", fallback: "app", want: "resqrelay__v1"},
		{name: "trims separator edges", raw: ".._resqrelay-._", fallback: "app", want: "resqrelay"},
		{name: "empty uses fallback", raw: "   ", fallback: "fallback", want: "fallback"},
		{name: "all unsupported uses fallback", raw: "[]{}", fallback: "fallback", want: "fallback"},
	}

	for _, tc := range tests {
		got := normalizeInstanceLockComponent(tc.raw, tc.fallback)
		if got != tc.want {
			t.Fatalf("%s: expected %q, got %q", tc.name, tc.want, got)
		}
	}
}

func TestInstanceScopeKey(t *testing.T) {
	dir := t.TempDir()
	if instanceScopeKey(dir) != instanceScopeKey(dir+"/") {
		t.Fatalf("equivalent paths must share a key")
	}
	if instanceScopeKey(dir) == instanceScopeKey(dir+"-other") {
		t.Fatalf("different dirs must not share a key")
	}
	if got := instanceScopeKey("  "); got != "default" {
		t.Fatalf("expected default key, got %q", got)
	}
}
