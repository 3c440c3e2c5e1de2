// Package sessions provides the sliding-TTL session cache at the heart of
// the routing engine. Every conversation the router tracks lives in a Cache
// until it goes idle for the TTL window, at which point the eviction
// callback runs and the entry disappears.
package sessions

import (
	"sync"
	"time"
)

// DefaultTTL is the idle window applied when none is configured.
const DefaultTTL = 5 * time.Minute

// EvictFunc is invoked exactly once when an entry leaves the cache through
// TTL expiry or Clear. It runs outside the cache lock, so it may safely
// call back into the cache. It must not panic.
type EvictFunc[V any] func(key string, value V)

type entry[V any] struct {
	value        V
	timer        *time.Timer
	lastActivity time.Time

	// gen guards against a stale timer firing after the entry was
	// refreshed or replaced: each (re)arm bumps the generation and the
	// expiry closure only evicts when its generation is still current.
	gen uint64
}

// Cache is a keyed store with sliding-TTL eviction. All operations are safe
// for concurrent use; eviction callbacks never observe half-removed entries
// because removal happens before the callback fires.
type Cache[V any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]*entry[V]
	onEvict EvictFunc[V]
}

// NewCache creates a cache with the given idle window. A non-positive ttl
// falls back to DefaultTTL. onEvict may be nil.
func NewCache[V any](ttl time.Duration, onEvict EvictFunc[V]) *Cache[V] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache[V]{
		ttl:     ttl,
		entries: make(map[string]*entry[V]),
		onEvict: onEvict,
	}
}

// Get returns the value for key and slides its expiry window forward.
// A miss has no side effects.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.rearm(key, e)
	return e.value, true
}

// Set inserts or replaces the value for key and starts a fresh TTL window.
// A replaced entry's timer is cancelled first so it cannot double-evict.
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[key]; ok {
		old.timer.Stop()
		old.gen++ // invalidate any in-flight expiry
	}
	e := &entry[V]{value: value}
	c.entries[key] = e
	c.rearm(key, e)
}

// Delete removes the entry and cancels its timer without invoking the
// eviction callback. It returns the removed value, if any.
func (c *Cache[V]) Delete(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	e.timer.Stop()
	e.gen++
	delete(c.entries, key)
	return e.value, true
}

// Clear evicts every live entry exactly once, invoking the eviction callback
// synchronously for each so callers can tear sessions down gracefully. It is
// safe to call while timers are concurrently firing: an entry detached here
// cannot be evicted again by its timer, and vice versa.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	detached := make(map[string]V, len(c.entries))
	for key, e := range c.entries {
		e.timer.Stop()
		e.gen++
		detached[key] = e.value
	}
	c.entries = make(map[string]*entry[V])
	c.mu.Unlock()

	if c.onEvict == nil {
		return
	}
	for key, value := range detached {
		c.onEvict(key, value)
	}
}

// Len returns the number of live entries.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Values returns a snapshot of all live values.
func (c *Cache[V]) Values() []V {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]V, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.value)
	}
	return out
}

// rearm restarts the expiry timer for an entry. Caller holds c.mu.
func (c *Cache[V]) rearm(key string, e *entry[V]) {
	if e.timer != nil {
		e.timer.Stop()
	}
	e.gen++
	e.lastActivity = time.Now()
	gen := e.gen
	e.timer = time.AfterFunc(c.ttl, func() {
		c.expire(key, gen)
	})
}

// expire runs on timer fire. The entry is detached from the map before the
// callback is invoked, so a re-entrant lookup during the callback sees a
// clean miss rather than a zombie entry.
func (c *Cache[V]) expire(key string, gen uint64) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok || e.gen != gen {
		// Refreshed, replaced, deleted, or cleared since this timer armed.
		c.mu.Unlock()
		return
	}
	delete(c.entries, key)
	c.mu.Unlock()

	if c.onEvict != nil {
		c.onEvict(key, e.value)
	}
}
