package dedup

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestCacheRecordAndSeen(t *testing.T) {
	c := New(8, time.Hour)
	fp := Fingerprint([]byte{1, 2, 3})

	if c.Seen(fp) {
		t.Fatalf("fresh cache reports fingerprint as seen")
	}
	c.Record(fp)
	if !c.Seen(fp) {
		t.Fatalf("recorded fingerprint not seen")
	}
	if c.Seen(Fingerprint([]byte{1, 2, 4})) {
		t.Fatalf("different payload reported as seen")
	}
}

func TestCacheCheckAndRecordConcurrent(t *testing.T) {
	c := New(64, time.Hour)
	fp := Fingerprint([]byte("same payload"))

	var novel atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !c.CheckAndRecord(fp) {
				novel.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := novel.Load(); got != 1 {
		t.Fatalf("expected exactly one novel delivery, got %d", got)
	}
}

func TestCacheIsBounded(t *testing.T) {
	c := New(4, time.Hour)
	for i := 0; i < 10; i++ {
		c.Record(uint64(i))
	}
	if c.Len() != 4 {
		t.Fatalf("expected capacity bound of 4, got %d", c.Len())
	}
	if c.Seen(0) {
		t.Fatalf("oldest fingerprint should have been evicted")
	}
	if !c.Seen(9) {
		t.Fatalf("newest fingerprint should be retained")
	}
}

func TestCacheExpires(t *testing.T) {
	c := New(4, 20*time.Millisecond)
	c.Record(42)
	time.Sleep(60 * time.Millisecond)
	if c.Seen(42) {
		t.Fatalf("fingerprint should expire after ttl")
	}
}
