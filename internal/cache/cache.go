// Package cache provides a TTL key/value cache that shields the
// device from redundant remote queries.
package cache

import (
	"sync"
	"time"
)

// fallbackTTL applies to keys without an entry in the default table.
const fallbackTTL = 30 * time.Second

// entry is immutable once created; invalidation deletes rather than
// mutates.
type entry struct {
	value   interface{}
	created time.Time
	ttl     time.Duration
}

func (e entry) valid(now time.Time) bool {
	return now.Sub(e.created) < e.ttl
}

// Cache is a thread-safe TTL cache over string keys. It guards its
// table with its own mutex, independent of any caller lock, so
// unrelated operations are never serialized through it. Expired
// entries are not proactively purged; they are superseded on the next
// Set or removed by Invalidate.
type Cache struct {
	mu       sync.Mutex
	entries  map[string]entry
	defaults map[string]time.Duration

	now func() time.Time
}

// New creates a cache. defaults supplies per-key TTLs used when Set is
// called without an explicit TTL; it may be nil.
func New(defaults map[string]time.Duration) *Cache {
	return &Cache{
		entries:  make(map[string]entry),
		defaults: defaults,
		now:      time.Now,
	}
}

// Get returns the cached value when an entry exists and has not
// expired.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || !e.valid(c.now()) {
		return nil, false
	}
	return e.value, true
}

// Set stores a value. When ttl is omitted the per-key default table
// decides, falling back to fallbackTTL.
func (c *Cache) Set(key string, value interface{}, ttl ...time.Duration) {
	d := c.defaultTTL(key)
	if len(ttl) > 0 {
		d = ttl[0]
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{value: value, created: c.now(), ttl: d}
}

// GetOrCompute returns the cached value or computes, stores and
// returns a fresh one. Concurrent misses on the same key may each
// invoke fn independently; the cached queries are read-only device
// probes, so duplicate computation is harmless.
func (c *Cache) GetOrCompute(key string, fn func() interface{}, ttl ...time.Duration) interface{} {
	if v, ok := c.Get(key); ok {
		return v
	}
	v := fn()
	c.Set(key, v, ttl...)
	return v
}

// Invalidate removes one entry.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// InvalidateAll removes every entry.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
}

func (c *Cache) defaultTTL(key string) time.Duration {
	if d, ok := c.defaults[key]; ok {
		return d
	}
	return fallbackTTL
}
