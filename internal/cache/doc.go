/*
Package cache provides the time-bounded metadata cache used by the virtual
file layer.

# Cache Architecture

	┌──────────────────────────┐
	│      vfs.FileSystem      │  stat, open, unlink, mkdir, rmdir
	└────────────┬─────────────┘
	             │ "container/object" keys
	┌────────────▼─────────────┐
	│      MetadataCache       │  hit/miss reporting to a MetricsRecorder
	└────────────┬─────────────┘
	             │
	┌────────────▼─────────────┐
	│   TTLCache[StatEntry]    │  ordered keys (tidwall/btree), injected clock
	└──────────────────────────┘

An entry is served while now - inserted < TTL and treated as absent from
then on. There is no size bound and no other eviction. Writes through the
file layer invalidate the affected path instead of updating it, so the next
stat goes back to the store.

# Usage

	stats := cache.NewMetadataCache(cache.TTLConfig{TTL: time.Minute}, recorder)
	stats.Store("media/a.txt", entry)
	if e, ok := stats.Lookup("media/a.txt"); ok {
		...
	}
	stats.Invalidate("media/photos")  // also drops media/photos/...

Tests drive expiry with a fake types.Clock instead of sleeping.
*/
package cache
