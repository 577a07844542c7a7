package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/swiftfs/swiftfs/internal/circuit"
	"github.com/swiftfs/swiftfs/pkg/retry"
	"github.com/swiftfs/swiftfs/pkg/types"
	"github.com/swiftfs/swiftfs/pkg/utils"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SWIFTFS_"

// Configuration represents the complete application configuration
type Configuration struct {
	Auth     AuthConfig    `yaml:"auth"`
	Storage  StorageConfig `yaml:"storage"`
	Network  NetworkConfig `yaml:"network"`
	Cache    CacheConfig   `yaml:"cache"`
	Logging  LoggingConfig `yaml:"logging"`
	Metrics  MetricsConfig `yaml:"metrics"`
	Features FeatureConfig `yaml:"features"`
}

// AuthConfig represents identity service settings
type AuthConfig struct {
	URL         string `yaml:"url"`
	Version     string `yaml:"version"`
	Tenant      string `yaml:"tenant"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	Region      string `yaml:"region"`
	ServiceName string `yaml:"service_name"`
}

// StorageConfig represents object store settings
type StorageConfig struct {
	Container string `yaml:"container"`
	Scheme    string `yaml:"scheme"`
}

// NetworkConfig represents network settings
type NetworkConfig struct {
	Timeouts       TimeoutConfig        `yaml:"timeouts"`
	Retry          RetryConfig          `yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// TimeoutConfig represents timeout settings
type TimeoutConfig struct {
	Connect time.Duration `yaml:"connect"`
	// Request caps a whole request; zero disables the cap.
	Request time.Duration `yaml:"request"`
}

// RetryConfig represents retry settings
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// CircuitBreakerConfig represents per-container circuit breaker settings
type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// CacheConfig represents metadata cache settings
type CacheConfig struct {
	StatTTL time.Duration `yaml:"stat_ttl"`
}

// LoggingConfig represents logging settings
type LoggingConfig struct {
	Level    string               `yaml:"level"`
	Format   string               `yaml:"format"`
	File     string               `yaml:"file"`
	Rotation utils.RotationConfig `yaml:"rotation"`
}

// MetricsConfig represents metrics settings
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	Address   string `yaml:"address"`
}

// FeatureConfig represents feature flags
type FeatureConfig struct {
	// MaterializeAfterReads downloads the whole object after this many
	// ranged reads on one handle. Zero disables it.
	MaterializeAfterReads int `yaml:"materialize_after_reads"`
}

// NewDefault creates a new configuration with default values
func NewDefault() *Configuration {
	return &Configuration{
		Auth: AuthConfig{
			Version: "v2.0",
		},
		Storage: StorageConfig{
			Scheme: utils.DefaultScheme,
		},
		Network: NetworkConfig{
			Timeouts: TimeoutConfig{
				Connect: 30 * time.Second,
				Request: 0,
			},
			Retry: RetryConfig{
				MaxAttempts: 1,
				BaseDelay:   200 * time.Millisecond,
				MaxDelay:    10 * time.Second,
			},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          false,
				FailureThreshold: 5,
				Timeout:          30 * time.Second,
			},
		},
		Cache: CacheConfig{
			StatTTL: 60 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: utils.FormatText,
			Rotation: utils.RotationConfig{
				MaxSize:    100,
				MaxAge:     30,
				MaxBackups: 5,
				Compress:   true,
			},
		},
		Metrics: MetricsConfig{
			Enabled:   false,
			Namespace: "swiftfs",
			Address:   ":9090",
		},
		Features: FeatureConfig{
			MaterializeAfterReads: 0,
		},
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadFromEnv loads configuration from environment variables
func (c *Configuration) LoadFromEnv() error {
	// Auth settings
	setString(&c.Auth.URL, "AUTH_URL")
	setString(&c.Auth.Version, "AUTH_VERSION")
	setString(&c.Auth.Tenant, "TENANT")
	setString(&c.Auth.Username, "USERNAME")
	setString(&c.Auth.Password, "PASSWORD")
	setString(&c.Auth.Region, "REGION")
	setString(&c.Auth.ServiceName, "SERVICE_NAME")

	// Storage settings
	setString(&c.Storage.Container, "CONTAINER")

	// Network settings
	if err := setDuration(&c.Network.Timeouts.Connect, "CONNECT_TIMEOUT"); err != nil {
		return err
	}
	if err := setDuration(&c.Network.Timeouts.Request, "REQUEST_TIMEOUT"); err != nil {
		return err
	}
	if err := setInt(&c.Network.Retry.MaxAttempts, "RETRY_MAX_ATTEMPTS"); err != nil {
		return err
	}
	if val := os.Getenv(EnvPrefix + "CIRCUIT_BREAKER_ENABLED"); val != "" {
		c.Network.CircuitBreaker.Enabled = strings.ToLower(val) == "true"
	}

	// Cache settings
	if err := setDuration(&c.Cache.StatTTL, "STAT_TTL"); err != nil {
		return err
	}

	// Logging and metrics
	setString(&c.Logging.Level, "LOG_LEVEL")
	setString(&c.Logging.Format, "LOG_FORMAT")
	setString(&c.Logging.File, "LOG_FILE")
	if val := os.Getenv(EnvPrefix + "METRICS_ENABLED"); val != "" {
		c.Metrics.Enabled = strings.ToLower(val) == "true"
	}
	setString(&c.Metrics.Address, "METRICS_ADDRESS")

	// Feature flags
	if err := setInt(&c.Features.MaterializeAfterReads, "MATERIALIZE_AFTER_READS"); err != nil {
		return err
	}

	return nil
}

func setString(dst *string, key string) {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		*dst = val
	}
}

func setInt(dst *int, key string) error {
	val := os.Getenv(EnvPrefix + key)
	if val == "" {
		return nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	val := os.Getenv(EnvPrefix + key)
	if val == "" {
		return nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
	}
	*dst = d
	return nil
}

// SaveToFile saves the configuration to a YAML file. The password is not written.
func (c *Configuration) SaveToFile(filename string) error {
	redacted := *c
	redacted.Auth.Password = ""

	data, err := yaml.Marshal(&redacted)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	if err := c.Credentials().Validate(); err != nil {
		return err
	}

	if c.Storage.Container != "" && strings.Contains(c.Storage.Container, "/") {
		return fmt.Errorf("container cannot contain '/': %s", c.Storage.Container)
	}

	if c.Network.Timeouts.Connect <= 0 {
		return fmt.Errorf("timeouts.connect must be greater than 0")
	}
	if c.Network.Timeouts.Request < 0 {
		return fmt.Errorf("timeouts.request cannot be negative")
	}
	if c.Network.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	if cb := c.Network.CircuitBreaker; cb.Enabled {
		if cb.FailureThreshold < 1 {
			return fmt.Errorf("circuit_breaker.failure_threshold must be at least 1")
		}
		if cb.Timeout <= 0 {
			return fmt.Errorf("circuit_breaker.timeout must be greater than 0")
		}
	}

	if c.Cache.StatTTL <= 0 {
		return fmt.Errorf("cache.stat_ttl must be greater than 0")
	}

	if c.Features.MaterializeAfterReads < 0 {
		return fmt.Errorf("features.materialize_after_reads cannot be negative")
	}

	if _, err := utils.ParseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid logging.level: %s (must be one of: DEBUG, INFO, WARN, ERROR)", c.Logging.Level)
	}
	switch c.Logging.Format {
	case utils.FormatText, utils.FormatJSON:
	default:
		return fmt.Errorf("invalid logging.format: %s (must be text or json)", c.Logging.Format)
	}

	if c.Metrics.Enabled && c.Metrics.Address == "" {
		return fmt.Errorf("metrics.address is required when metrics are enabled")
	}

	return nil
}

// Credentials returns the identity settings as session credentials.
func (c *Configuration) Credentials() types.Credentials {
	return types.Credentials{
		AuthURL:     c.Auth.URL,
		AuthVersion: c.Auth.Version,
		TenantName:  c.Auth.Tenant,
		Username:    c.Auth.Username,
		Password:    c.Auth.Password,
		Region:      c.Auth.Region,
		ServiceName: c.Auth.ServiceName,
	}
}

// RetryPolicy returns the request retry policy.
func (c *Configuration) RetryPolicy() retry.Config {
	return retry.Config{
		MaxAttempts:  c.Network.Retry.MaxAttempts,
		InitialDelay: c.Network.Retry.BaseDelay,
		MaxDelay:     c.Network.Retry.MaxDelay,
	}
}

// Breakers returns the per-container breaker manager, or nil when disabled.
func (c *Configuration) Breakers(onStateChange func(name string, from, to circuit.State)) *circuit.Manager {
	cb := c.Network.CircuitBreaker
	if !cb.Enabled {
		return nil
	}
	return circuit.NewManager(circuit.Config{
		FailureThreshold: uint32(cb.FailureThreshold),
		Timeout:          cb.Timeout,
		OnStateChange:    onStateChange,
	})
}

// LoggerConfig returns the settings for utils.NewLogger.
func (c *Configuration) LoggerConfig() utils.LoggerConfig {
	return utils.LoggerConfig{
		Level:    c.Logging.Level,
		Format:   c.Logging.Format,
		File:     c.Logging.File,
		Rotation: c.Logging.Rotation,
	}
}
