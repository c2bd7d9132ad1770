package cache

import (
	"strings"
	"sync"
	"time"

	"github.com/mwalsh/polyflow/internal/telemetry"
)

type entry struct {
	value     any
	expiresAt time.Time
}

// TTL is a per-key expiring cache. Entries are evicted lazily on read;
// call Sweep periodically to reclaim memory for keys that are never
// read again.
type TTL struct {
	mu         sync.Mutex
	entries    map[string]entry
	defaultTTL time.Duration

	hits    int64
	misses  int64
	evicted int64

	now func() time.Time
}

func NewTTL(defaultTTL time.Duration) *TTL {
	return &TTL{
		entries:    make(map[string]entry),
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

// Get returns the cached value, or ok=false when the key is absent or
// its TTL has elapsed. An expired entry is removed on the spot.
func (c *TTL) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, found := c.entries[key]
	if !found {
		c.misses++
		telemetry.Metrics.CacheMisses.Inc()
		return nil, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, key)
		c.evicted++
		c.misses++
		telemetry.Metrics.CacheMisses.Inc()
		return nil, false
	}
	c.hits++
	telemetry.Metrics.CacheHits.Inc()
	return e.value, true
}

// Set stores value under key with the cache's default TTL.
func (c *TTL) Set(key string, value any) {
	c.SetTTL(key, value, c.defaultTTL)
}

// SetTTL stores value with an explicit lifetime, overriding the default.
func (c *TTL) SetTTL(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{value: value, expiresAt: c.now().Add(ttl)}
}

// Invalidate drops a single key. Returns true if the key was present.
func (c *TTL) Invalidate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, found := c.entries[key]
	delete(c.entries, key)
	return found
}

// InvalidatePrefix drops every key starting with prefix and returns the
// number of entries removed. Used after order placement to drop stale
// book and balance reads for the affected market.
func (c *TTL) InvalidatePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Clear drops all entries.
func (c *TTL) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
}

// Sweep removes every expired entry and returns how many were dropped.
func (c *TTL) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
			n++
		}
	}
	c.evicted += int64(n)
	return n
}

type Stats struct {
	Entries int
	Hits    int64
	Misses  int64
	Evicted int64
	HitRate float64
}

func (c *TTL) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{
		Entries: len(c.entries),
		Hits:    c.hits,
		Misses:  c.misses,
		Evicted: c.evicted,
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}
