package sessions

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGetRefreshesExpiry(t *testing.T) {
	var evicted atomic.Int32
	c := NewCache[string](80*time.Millisecond, func(key, value string) {
		evicted.Add(1)
	})
	c.Set("k", "v")

	// Keep touching the entry at intervals shorter than the TTL; the
	// sliding window must keep it alive well past the original deadline.
	for i := 0; i < 4; i++ {
		time.Sleep(40 * time.Millisecond)
		if _, ok := c.Get("k"); !ok {
			t.Fatalf("entry evicted despite access at iteration %d", i)
		}
	}
	if n := evicted.Load(); n != 0 {
		t.Errorf("eviction callback fired %d times while entry was active", n)
	}

	// Now let it idle out.
	time.Sleep(160 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Fatal("entry survived past TTL without access")
	}
	if n := evicted.Load(); n != 1 {
		t.Errorf("eviction callback fired %d times, want 1", n)
	}
}

func TestSetReplacesWithoutDoubleEviction(t *testing.T) {
	var mu sync.Mutex
	var order []string
	c := NewCache[int](50*time.Millisecond, func(key string, value int) {
		mu.Lock()
		order = append(order, key)
		mu.Unlock()
	})

	c.Set("k", 1)
	c.Set("k", 2) // replaces; old timer must be cancelled

	time.Sleep(120 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 1 {
		t.Fatalf("eviction fired %d times, want 1 (old timer must not double-evict)", len(order))
	}
}

func TestDeleteReturnsValueAndSkipsCallback(t *testing.T) {
	var evicted atomic.Int32
	c := NewCache[string](50*time.Millisecond, func(string, string) { evicted.Add(1) })

	c.Set("k", "v")
	v, ok := c.Delete("k")
	if !ok || v != "v" {
		t.Fatalf("Delete = (%q, %v), want (v, true)", v, ok)
	}
	if _, ok := c.Delete("k"); ok {
		t.Error("second delete reported a value")
	}

	time.Sleep(100 * time.Millisecond)
	if n := evicted.Load(); n != 0 {
		t.Errorf("Delete must not trigger the eviction callback, got %d", n)
	}
}

func TestClearEvictsEachEntryExactlyOnce(t *testing.T) {
	var mu sync.Mutex
	counts := make(map[string]int)
	c := NewCache[int](30*time.Millisecond, func(key string, value int) {
		mu.Lock()
		counts[key]++
		mu.Unlock()
	})

	for _, k := range []string{"a", "b", "c"} {
		c.Set(k, 1)
	}

	// Let the timers get close to firing, then race Clear against them.
	time.Sleep(25 * time.Millisecond)
	c.Clear()
	time.Sleep(60 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for _, k := range []string{"a", "b", "c"} {
		if counts[k] != 1 {
			t.Errorf("key %s evicted %d times, want exactly 1", k, counts[k])
		}
	}
	if c.Len() != 0 {
		t.Errorf("cache not empty after Clear: %d", c.Len())
	}
}

func TestEvictionCallbackMayReenterCache(t *testing.T) {
	var c *Cache[string]
	done := make(chan struct{})
	c = NewCache[string](30*time.Millisecond, func(key, value string) {
		// Re-entrant lookup during eviction must see a clean miss.
		if _, ok := c.Get(key); ok {
			t.Error("evicted entry still visible from its own eviction callback")
		}
		c.Set("replacement-"+key, value)
		close(done)
	})

	c.Set("k", "v")
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("eviction callback never fired")
	}
	if _, ok := c.Get("replacement-k"); !ok {
		t.Error("entry inserted from eviction callback is missing")
	}
}

func TestMissHasNoSideEffects(t *testing.T) {
	c := NewCache[string](time.Minute, nil)
	if _, ok := c.Get("absent"); ok {
		t.Fatal("unexpected hit")
	}
	if c.Len() != 0 {
		t.Fatal("miss mutated the cache")
	}
}

func TestValuesSnapshot(t *testing.T) {
	c := NewCache[int](time.Minute, nil)
	c.Set("a", 1)
	c.Set("b", 2)
	if got := len(c.Values()); got != 2 {
		t.Errorf("Values() len = %d, want 2", got)
	}
}
