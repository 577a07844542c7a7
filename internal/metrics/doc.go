/*
Package metrics provides Prometheus metrics collection for SwiftFS.

# Overview

Collector implements types.MetricsRecorder, so it can be handed to the Swift
client (one RecordOperation per REST request) and to the file system (cache
hits and misses on the stat cache).

	┌─────────────┐
	│  Collector  │
	└──────┬──────┘
	       │
	   ┌───┴────────────────────────────┐
	   │                                │
	┌──▼───────────┐         ┌──────────▼────────┐
	│  Prometheus  │         │  HTTP Endpoints   │
	│   Registry   │         │  /metrics         │
	│              │         │  /health          │
	│ - Counters   │         │  /debug/operations│
	│ - Histograms │         └───────────────────┘
	│ - Gauges     │
	└──────────────┘

# Exported Series

	<ns>_operations_total{operation,status}
	<ns>_operation_duration_seconds{operation}
	<ns>_operation_size_bytes{operation}
	<ns>_stat_cache_requests_total{type,container}
	<ns>_stat_cache_entries
	<ns>_errors_total{operation,type}

Error types are the lower-cased error code of a *errors.SwiftFSError, or
"server" for 5xx answers.

# Usage

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   true,
		Address:   ":9090",
		Namespace: "swiftfs",
	})
	if err != nil {
		return err
	}
	if err := collector.Start(ctx); err != nil {
		return err
	}
	defer collector.Stop(context.Background())

	client, err := swift.NewClient(session, swift.Config{
		Container: "media",
		Metrics:   collector,
	})

A disabled collector accepts every call and records nothing.
*/
package metrics
