package app

import (
	"runtime/debug"
	"testing"
)

func stubBuild(t *testing.T, version, date string, settings ...debug.BuildSetting) {
	t.Helper()
	origVersion, origDate, origRead := Version, BuildDate, readBuildInfo
	t.Cleanup(func() {
		Version, BuildDate, readBuildInfo = origVersion, origDate, origRead
	})
	Version, BuildDate = version, date
	readBuildInfo = func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{Settings: settings}, true
	}
}

func TestBuildVersion(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "defaults to dev", in: "", want: "dev"},
		{name: "trims value", in: " 1.2.3 ", want: "1.2.3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stubBuild(t, tt.in, "")
			if got := BuildVersion(); got != tt.want {
				t.Fatalf("BuildVersion() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildDateYMD(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty stays empty", in: "", want: ""},
		{name: "rfc3339 formatted", in: "2026-01-30T14:55:03Z", want: "2026-01-30"},
		{name: "offset normalized to utc", in: "2026-01-31T01:00:00+03:00", want: "2026-01-30"},
		{name: "date prefix", in: "2026-01-30 build 7", want: "2026-01-30"},
		{name: "unknown format returns as is", in: "not-a-date", want: "not-a-date"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stubBuild(t, "", tt.in)
			if got := BuildDateYMD(); got != tt.want {
				t.Fatalf("BuildDateYMD() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildVersionWithDate(t *testing.T) {
	tests := []struct {
		name     string
		date     string
		settings []debug.BuildSetting
		want     string
	}{
		{name: "version only", want: "0.1.2"},
		{name: "date", date: "2026-01-30T14:55:03Z", want: "0.1.2 (2026-01-30)"},
		{
			name:     "date and dirty revision",
			date:     "2026-01-30",
			settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "0123456789abcdef"}, {Key: "vcs.modified", Value: "true"}},
			want:     "0.1.2 (2026-01-30, 0123456789ab+dirty)",
		},
		{
			name:     "clean revision",
			settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "abc123"}, {Key: "vcs.modified", Value: "false"}},
			want:     "0.1.2 (abc123)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stubBuild(t, "0.1.2", tt.date, tt.settings...)
			if got := BuildVersionWithDate(); got != tt.want {
				t.Fatalf("BuildVersionWithDate() = %q, want %q", got, tt.want)
			}
		})
	}
}
