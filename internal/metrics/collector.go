package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/swiftfs/swiftfs/pkg/errors"
	"github.com/swiftfs/swiftfs/pkg/types"
)

// Collector records client, file layer and cache metrics into a private
// Prometheus registry.
type Collector struct {
	mu       sync.RWMutex
	config   *Config
	registry *prometheus.Registry
	logger   *slog.Logger

	// Prometheus metrics
	operationCounter  *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	operationSize     *prometheus.HistogramVec
	cacheCounter      *prometheus.CounterVec
	cacheEntries      prometheus.Gauge
	errorCounter      *prometheus.CounterVec

	// Internal tracking
	operations map[string]*OperationMetrics
	lastReset  time.Time

	// HTTP server for metrics endpoint
	server   *http.Server
	listener net.Listener
}

var _ types.MetricsRecorder = (*Collector)(nil)

// Config represents metrics configuration
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Address   string `yaml:"address"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
	Subsystem string `yaml:"subsystem"`

	Logger *slog.Logger `yaml:"-"`
}

// OperationMetrics tracks metrics for a specific operation type
type OperationMetrics struct {
	Count         int64         `json:"count"`
	TotalDuration time.Duration `json:"total_duration"`
	TotalSize     int64         `json:"total_size"`
	Errors        int64         `json:"errors"`
	LastOperation time.Time     `json:"last_operation"`
	AvgDuration   time.Duration `json:"avg_duration"`
	AvgSize       float64       `json:"avg_size"`
}

// NewCollector creates a new metrics collector. A nil config enables
// collection under the "swiftfs" namespace.
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = &Config{
			Enabled:   true,
			Address:   ":9090",
			Path:      "/metrics",
			Namespace: "swiftfs",
		}
	}
	if config.Path == "" {
		config.Path = "/metrics"
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if !config.Enabled {
		return &Collector{config: config, logger: logger}, nil
	}

	collector := &Collector{
		config:     config,
		registry:   prometheus.NewRegistry(),
		logger:     logger.With("component", "metrics"),
		operations: make(map[string]*OperationMetrics),
		lastReset:  time.Now(),
	}

	collector.initMetrics()
	if err := collector.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	return collector, nil
}

// Handler serves the registry in the Prometheus exposition format plus
// /health and /debug/operations.
func (c *Collector) Handler() http.Handler {
	mux := http.NewServeMux()
	if c.registry != nil {
		mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		}))
	}
	mux.HandleFunc("/health", c.healthHandler)
	mux.HandleFunc("/debug/operations", c.debugOperationsHandler)
	return mux
}

// Start serves Handler on the configured address until Stop.
func (c *Collector) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	listener, err := net.Listen("tcp", c.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", c.config.Address, err)
	}

	c.listener = listener
	c.server = &http.Server{
		Handler:           c.Handler(),
		ReadHeaderTimeout: 30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		if err := c.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			c.logger.Error("metrics server stopped", "error", err)
		}
	}()

	c.logger.Info("serving metrics", "address", listener.Addr().String(), "path", c.config.Path)
	return nil
}

// Addr returns the bound address once Start succeeded.
func (c *Collector) Addr() string {
	if c.listener == nil {
		return ""
	}
	return c.listener.Addr().String()
}

// Stop stops the metrics server
func (c *Collector) Stop(ctx context.Context) error {
	if c.server != nil {
		return c.server.Shutdown(ctx)
	}
	return nil
}

// RecordOperation records an operation with its metrics
func (c *Collector) RecordOperation(operation string, duration time.Duration, size int64, success bool) {
	if !c.config.Enabled {
		return
	}

	c.mu.Lock()
	metrics, exists := c.operations[operation]
	if !exists {
		metrics = &OperationMetrics{}
		c.operations[operation] = metrics
	}
	metrics.Count++
	metrics.TotalDuration += duration
	metrics.TotalSize += size
	if !success {
		metrics.Errors++
	}
	metrics.LastOperation = time.Now()
	metrics.AvgDuration = time.Duration(int64(metrics.TotalDuration) / metrics.Count)
	metrics.AvgSize = float64(metrics.TotalSize) / float64(metrics.Count)
	c.mu.Unlock()

	status := "success"
	if !success {
		status = "error"
	}
	c.operationCounter.With(prometheus.Labels{
		"operation": operation,
		"status":    status,
	}).Inc()
	c.operationDuration.With(prometheus.Labels{
		"operation": operation,
	}).Observe(duration.Seconds())

	if size > 0 {
		c.operationSize.With(prometheus.Labels{
			"operation": operation,
		}).Observe(float64(size))
	}
}

// RecordCacheHit records a metadata cache hit for key.
func (c *Collector) RecordCacheHit(key string) {
	if !c.config.Enabled {
		return
	}

	c.cacheCounter.With(prometheus.Labels{
		"type":      "hit",
		"container": containerOf(key),
	}).Inc()
}

// RecordCacheMiss records a metadata cache miss for key.
func (c *Collector) RecordCacheMiss(key string) {
	if !c.config.Enabled {
		return
	}

	c.cacheCounter.With(prometheus.Labels{
		"type":      "miss",
		"container": containerOf(key),
	}).Inc()
}

// UpdateCacheEntries sets the metadata cache size gauge.
func (c *Collector) UpdateCacheEntries(n int) {
	if !c.config.Enabled {
		return
	}
	c.cacheEntries.Set(float64(n))
}

// RecordError records an error
func (c *Collector) RecordError(operation string, err error) {
	if !c.config.Enabled || err == nil {
		return
	}

	c.errorCounter.With(prometheus.Labels{
		"operation": operation,
		"type":      classifyError(err),
	}).Inc()
}

// GetMetrics returns a copy of the per-operation tracking.
func (c *Collector) GetMetrics() map[string]OperationMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	operations := make(map[string]OperationMetrics, len(c.operations))
	for k, v := range c.operations {
		operations[k] = *v
	}
	return operations
}

// ResetMetrics resets the per-operation tracking. Prometheus counters keep
// their values.
func (c *Collector) ResetMetrics() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.operations = make(map[string]*OperationMetrics)
	c.lastReset = time.Now()
}

// Registry exposes the underlying registry, nil when disabled.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) initMetrics() {
	c.operationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "operations_total",
			Help:      "Total number of storage operations",
		},
		[]string{"operation", "status"},
	)

	c.operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "operation_duration_seconds",
			Help:      "Duration of storage operations in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~32s
		},
		[]string{"operation"},
	)

	c.operationSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "operation_size_bytes",
			Help:      "Response body size of storage operations in bytes",
			Buckets:   prometheus.ExponentialBuckets(1024, 2, 20), // 1KB to ~1GB
		},
		[]string{"operation"},
	)

	c.cacheCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "stat_cache_requests_total",
			Help:      "Total number of metadata cache lookups",
		},
		[]string{"type", "container"},
	)

	c.cacheEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "stat_cache_entries",
			Help:      "Current number of metadata cache entries",
		},
	)

	c.errorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "errors_total",
			Help:      "Total number of errors",
		},
		[]string{"operation", "type"},
	)
}

func (c *Collector) registerMetrics() error {
	metrics := []prometheus.Collector{
		c.operationCounter,
		c.operationDuration,
		c.operationSize,
		c.cacheCounter,
		c.cacheEntries,
		c.errorCounter,
	}

	for _, metric := range metrics {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}

	return nil
}

func containerOf(key string) string {
	container, _, _ := strings.Cut(key, "/")
	if container == "" {
		return "unknown"
	}
	return container
}

// classifyError labels err by its error code, falling back to "other".
func classifyError(err error) string {
	sfErr, ok := errors.As(err)
	if !ok {
		return "other"
	}
	if sfErr.HTTPStatus >= 500 {
		return "server"
	}
	return strings.ToLower(string(sfErr.Code))
}

// HTTP handlers

func (c *Collector) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy","service":"swiftfs-metrics"}`))
}

func (c *Collector) debugOperationsHandler(w http.ResponseWriter, r *http.Request) {
	c.mu.RLock()
	lastReset := c.lastReset
	c.mu.RUnlock()

	body := struct {
		Uptime     string                      `json:"uptime"`
		LastReset  time.Time                   `json:"last_reset"`
		Operations map[string]OperationMetrics `json:"operations"`
	}{
		Uptime:     time.Since(lastReset).String(),
		LastReset:  lastReset,
		Operations: c.GetMetrics(),
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}
