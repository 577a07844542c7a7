package cache

import (
	"strings"
	"sync"
	"time"

	"github.com/tidwall/btree"

	"github.com/swiftfs/swiftfs/pkg/types"
)

// DefaultTTL bounds how long a cached entry is served without a refresh.
const DefaultTTL = 60 * time.Second

// TTLConfig configures a TTLCache.
type TTLConfig struct {
	TTL   time.Duration `yaml:"ttl"`
	Clock types.Clock   `yaml:"-"`
}

type ttlEntry[V any] struct {
	value    V
	inserted time.Time
}

// TTLCache maps string keys to values that expire a fixed duration after
// insertion. Eviction is purely time based. Keys are kept ordered so
// a whole subtree of paths can be dropped with one range scan.
type TTLCache[V any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	clock   types.Clock
	entries *btree.Map[string, ttlEntry[V]]

	hits        uint64
	misses      uint64
	expirations uint64
}

// NewTTLCache creates a cache. A zero TTL means DefaultTTL, a nil clock the wall clock.
func NewTTLCache[V any](config TTLConfig) *TTLCache[V] {
	if config.TTL <= 0 {
		config.TTL = DefaultTTL
	}
	if config.Clock == nil {
		config.Clock = types.SystemClock{}
	}

	return &TTLCache[V]{
		ttl:     config.TTL,
		clock:   config.Clock,
		entries: btree.NewMap[string, ttlEntry[V]](0),
	}
}

// TTL returns the configured lifetime.
func (c *TTLCache[V]) TTL() time.Duration {
	return c.ttl
}

// Get returns the value for key when it was inserted less than TTL ago.
func (c *TTLCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	entry, ok := c.entries.Get(key)
	if !ok {
		c.misses++
		return zero, false
	}

	if c.isExpired(entry) {
		c.entries.Delete(key)
		c.expirations++
		c.misses++
		return zero, false
	}

	c.hits++
	return entry.value, true
}

// Set stores value under key, replacing any previous entry and its age.
func (c *TTLCache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries.Set(key, ttlEntry[V]{value: value, inserted: c.clock.Now()})
}

// Delete removes key.
func (c *TTLCache[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.entries.Delete(key)
	return ok
}

// DeletePrefix removes every key starting with prefix and returns how many were removed.
func (c *TTLCache[V]) DeletePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var keys []string
	c.entries.Ascend(prefix, func(key string, _ ttlEntry[V]) bool {
		if !strings.HasPrefix(key, prefix) {
			return false
		}
		keys = append(keys, key)
		return true
	})

	for _, key := range keys {
		c.entries.Delete(key)
	}
	return len(keys)
}

// Purge drops every expired entry.
func (c *TTLCache[V]) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expired []string
	c.entries.Scan(func(key string, entry ttlEntry[V]) bool {
		if c.isExpired(entry) {
			expired = append(expired, key)
		}
		return true
	})

	for _, key := range expired {
		c.entries.Delete(key)
	}
	c.expirations += uint64(len(expired))
	return len(expired)
}

// Clear drops every entry.
func (c *TTLCache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = btree.NewMap[string, ttlEntry[V]](0)
}

// Len returns the number of stored entries, expired ones included until they are touched.
func (c *TTLCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.entries.Len()
}

// Stats returns hit and miss counters.
func (c *TTLCache[V]) Stats() types.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := types.CacheStats{
		Hits:        c.hits,
		Misses:      c.misses,
		Expirations: c.expirations,
		Size:        c.entries.Len(),
	}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total)
	}
	return stats
}

func (c *TTLCache[V]) isExpired(entry ttlEntry[V]) bool {
	return c.clock.Now().Sub(entry.inserted) >= c.ttl
}
