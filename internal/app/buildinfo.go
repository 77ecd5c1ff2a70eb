package app

import (
	"runtime/debug"
	"strings"
	"time"
)

var (
	// Version is filled by ldflags in release builds.
	Version = "dev"
	// BuildDate is filled by ldflags in release builds.
	BuildDate = ""
)

// readBuildInfo is swapped in tests.
var readBuildInfo = debug.ReadBuildInfo

func BuildVersion() string {
	version := strings.TrimSpace(Version)
	if version == "" {
		return "dev"
	}

	return version
}

// BuildDateYMD normalizes BuildDate to a calendar date when it parses.
func BuildDateYMD() string {
	raw := strings.TrimSpace(BuildDate)
	if raw == "" {
		return ""
	}
	if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
		return parsed.UTC().Format(time.DateOnly)
	}
	if len(raw) >= len(time.DateOnly) {
		if _, err := time.Parse(time.DateOnly, raw[:len(time.DateOnly)]); err == nil {
			return raw[:len(time.DateOnly)]
		}
	}

	return raw
}

// BuildRevision is the short VCS commit stamped by the go tool, with a
// "+dirty" suffix for modified trees.
func BuildRevision() string {
	info, ok := readBuildInfo()
	if !ok {
		return ""
	}

	var revision string
	var dirty bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if len(revision) > 12 {
		revision = revision[:12]
	}
	if revision != "" && dirty {
		revision += "+dirty"
	}

	return revision
}

// BuildVersionWithDate renders "version (date, revision)" leaving out
// whatever is unknown.
func BuildVersionWithDate() string {
	var extra []string
	if date := BuildDateYMD(); date != "" {
		extra = append(extra, date)
	}
	if rev := BuildRevision(); rev != "" {
		extra = append(extra, rev)
	}
	if len(extra) == 0 {
		return BuildVersion()
	}

	return BuildVersion() + " (" + strings.Join(extra, ", ") + ")"
}
