package platform

import (
	"errors"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// ErrInstanceAlreadyRunning indicates another relay already owns the data directory.
var ErrInstanceAlreadyRunning = errors.New("instance already running")

// ErrInstanceLockUnsupported indicates the current platform has no lock backend implementation.
var ErrInstanceLockUnsupported = errors.New("instance lock unsupported")

// InstanceLock represents an acquired single-instance lock.
type InstanceLock interface {
	Release() error
}

// AcquireInstanceLock takes the lock for appID within scope, usually the data
// directory. Relays over different data directories do not contend.
func AcquireInstanceLock(appID, scope string) (InstanceLock, error) {
	return acquireInstanceLock(normalizeInstanceLockComponent(appID, "app"), instanceScopeKey(scope))
}

// InstanceOwner reports the pid recorded by the current lock holder.
func InstanceOwner(appID, scope string) (int, bool) {
	return instanceOwner(normalizeInstanceLockComponent(appID, "app"), instanceScopeKey(scope))
}

func instanceScopeKey(scope string) string {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return "default"
	}
	if abs, err := filepath.Abs(scope); err == nil {
		scope = abs
	}

	return strconv.FormatUint(xxhash.Sum64String(filepath.Clean(scope)), 16)
}

func normalizeInstanceLockComponent(raw, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}

	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	normalized := strings.Trim(b.String(), "_-.")
	if normalized == "" {
		return fallback
	}

	return normalized
}
