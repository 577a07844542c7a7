package types

import (
	"context"
	"time"
)

// ObjectStore is the container-scoped capability set of a backend.
type ObjectStore interface {
	Kind() BackendKind
	Container() string

	Exists(ctx context.Context, name string) (bool, error)
	Upload(ctx context.Context, name string, content []byte, overwrite bool) error
	Download(ctx context.Context, name string) ([]byte, error)
	Delete(ctx context.Context, name string) (bool, error)
	ListObjectNames(ctx context.Context, prefix string, limit int) ([]string, error)
	Count(ctx context.Context) (int64, error)

	// Head returns metadata for name; the empty name addresses the container root.
	Head(ctx context.Context, name string) (*ObjectInfo, error)
	// GetRange returns bytes [start, end] of name. It returns an empty slice
	// when start is at or past the end of the object.
	GetRange(ctx context.Context, name string, start, end int64) ([]byte, error)
	PutDirectoryMarker(ctx context.Context, name string) error
}

// Clock is the time source used for expiry decisions.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// MetricsRecorder receives operation and cache metrics.
type MetricsRecorder interface {
	RecordOperation(operation string, duration time.Duration, size int64, success bool)
	RecordCacheHit(key string)
	RecordCacheMiss(key string)
	RecordError(operation string, err error)
}

// NopMetrics discards all metrics.
type NopMetrics struct{}

func (NopMetrics) RecordOperation(string, time.Duration, int64, bool) {}
func (NopMetrics) RecordCacheHit(string)                              {}
func (NopMetrics) RecordCacheMiss(string)                             {}
func (NopMetrics) RecordError(string, error)                          {}
