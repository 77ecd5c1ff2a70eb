package dedup

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	DefaultCapacity = 4096
	DefaultTTL      = 6 * time.Hour
)

// Fingerprint hashes the exact encoded payload bytes.
func Fingerprint(payload []byte) uint64 {
	return xxhash.Sum64(payload)
}

// Cache remembers recently seen payload fingerprints. It is bounded by both
// capacity and age, so a long-running relay does not grow without limit.
type Cache struct {
	mu   sync.Mutex
	seen *expirable.LRU[uint64, struct{}]
}

func New(capacity int, ttl time.Duration) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &Cache{seen: expirable.NewLRU[uint64, struct{}](capacity, nil, ttl)}
}

func (c *Cache) Seen(fp uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.seen.Peek(fp)
	return ok
}

func (c *Cache) Record(fp uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seen.Add(fp, struct{}{})
}

// CheckAndRecord reports whether fp was already known and records it in the
// same critical section. Concurrent deliveries of one payload see exactly one
// false.
func (c *Cache) CheckAndRecord(fp uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.seen.Peek(fp); ok {
		return true
	}
	c.seen.Add(fp, struct{}{})

	return false
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.seen.Len()
}
