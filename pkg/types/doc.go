/*
Package types provides the interfaces and data structures shared by the SwiftFS packages.

# Architecture Overview

SwiftFS layers a POSIX-like file abstraction over a Swift object store:

	┌─────────────────────────────────────────────┐
	│          Virtual file layer (pkg/vfs)       │
	│    open modes, seek, read, write, stat      │
	└─────────────────────────────────────────────┘
	          │                        │
	┌─────────┴──────────┐   ┌─────────┴──────────┐
	│ Object store client│   │  Metadata cache    │
	│    (pkg/swift)     │   │ (internal/cache)   │
	└────────────────────┘   └────────────────────┘
	          │
	┌─────────┴──────────┐
	│    Auth session    │
	│     (pkg/auth)     │
	└────────────────────┘

# Core Interfaces

ObjectStore:
The capability set of a container-scoped backend, tagged by BackendKind. Swift is
the only implementation.

Clock:
Time source injected into the auth session and the metadata cache so expiry can be
tested deterministically.

MetricsRecorder:
Sink for per-operation counters and cache statistics. NopMetrics discards
everything; internal/metrics provides a Prometheus implementation.

# Data Structures

Credentials carries the identity-service settings of one session. ObjectInfo is
the HEAD view of an object or container. StatEntry is the POSIX-like snapshot
served by the file layer and cached per path.
*/
package types
