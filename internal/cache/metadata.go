package cache

import (
	"strings"

	"github.com/swiftfs/swiftfs/pkg/types"
)

// MetadataCache holds the last StatEntry seen for each "container/object"
// path. It is safe for concurrent use by many file handles.
type MetadataCache struct {
	entries *TTLCache[types.StatEntry]
	metrics types.MetricsRecorder
}

// NewMetadataCache creates a stat cache. A nil recorder discards metrics.
func NewMetadataCache(config TTLConfig, metrics types.MetricsRecorder) *MetadataCache {
	if metrics == nil {
		metrics = types.NopMetrics{}
	}
	return &MetadataCache{
		entries: NewTTLCache[types.StatEntry](config),
		metrics: metrics,
	}
}

// Lookup returns the cached entry for path if it is younger than the TTL.
func (m *MetadataCache) Lookup(path string) (types.StatEntry, bool) {
	entry, ok := m.entries.Get(path)
	if ok {
		m.metrics.RecordCacheHit(path)
	} else {
		m.metrics.RecordCacheMiss(path)
	}
	return entry, ok
}

// Store records a fresh HEAD result for path.
func (m *MetadataCache) Store(path string, entry types.StatEntry) {
	m.entries.Set(path, entry)
}

// Invalidate drops path. For a pseudo-directory the entries below it are
// dropped as well.
func (m *MetadataCache) Invalidate(path string) {
	m.entries.Delete(path)
	m.entries.DeletePrefix(strings.TrimSuffix(path, "/") + "/")
}

// Stats returns cache counters.
func (m *MetadataCache) Stats() types.CacheStats {
	return m.entries.Stats()
}
