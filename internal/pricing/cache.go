package pricing

import (
	"sync"
	"time"
)

type cacheEntry struct {
	rec    Record
	expiry time.Time
}

// Cache is a read-concurrent TTL cache over pricing rows. The clock is
// injectable so tests can drive expiry deterministically.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration
	now     func() time.Time
}

func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// WithClock replaces the time source. Test hook.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

func (c *Cache) Get(model string) (Record, bool) {
	c.mu.RLock()
	e, ok := c.entries[model]
	c.mu.RUnlock()
	if !ok || c.now().After(e.expiry) {
		return Record{}, false
	}
	return e.rec, true
}

func (c *Cache) Put(rec Record) {
	c.mu.Lock()
	c.entries[rec.Model] = cacheEntry{rec: rec, expiry: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

// Invalidate drops one model, or every entry when model is empty. This is
// the explicit hook the admin pricing surface calls after editing rates.
func (c *Cache) Invalidate(model string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if model == "" {
		c.entries = make(map[string]cacheEntry)
		return
	}
	delete(c.entries, model)
}
