/*
Package config provides configuration management for SwiftFS with multi-source support.

Sources are applied in order of increasing precedence:

	defaults (NewDefault) -> YAML file (LoadFromFile) -> environment (SWIFTFS_*) -> command-line flags

# Configuration Structure

Auth:
- Identity service URL and protocol version (only v2.0 is implemented)
- Tenant, username and password
- Region and optional service name used to pick the object-store endpoint

Storage:
- Default container
- Path scheme stripped from "scheme://container/object" paths

Network:
- Connect timeout applied by the dialer, optional whole-request timeout
- Retry policy; one attempt (no retry) unless raised
- Per-container circuit breaker, off by default

Cache, Logging, Metrics, Features:
- Metadata cache TTL
- Log level, format, file and rotation
- Prometheus exposition address and namespace
- Read materialization threshold

# Usage Examples

	cfg := config.NewDefault()
	if err := cfg.LoadFromFile("/etc/swiftfs/config.yaml"); err != nil {
		log.Fatal(err)
	}
	if err := cfg.LoadFromEnv(); err != nil {
		log.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

Configuration file format:

	auth:
	  url: https://identity.example.com/
	  version: v2.0
	  tenant: acme
	  username: uploader
	  password: secret
	  region: RegionOne
	storage:
	  container: media
	network:
	  timeouts:
	    connect: 30s
	  retry:
	    max_attempts: 1
	  circuit_breaker:
	    enabled: true
	    failure_threshold: 5
	    timeout: 30s
	cache:
	  stat_ttl: 60s
	logging:
	  level: INFO
	  format: json
	  file: /var/log/swiftfs.log
	metrics:
	  enabled: true
	  address: ":9090"

Passwords are never written back by SaveToFile; supply them through
SWIFTFS_PASSWORD or the file itself.
*/
package config
