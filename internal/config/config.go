package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/bassnotion/assetcache/pkg/errors"
	"github.com/bassnotion/assetcache/pkg/types"
)

// Configuration is the complete engine configuration tree.
type Configuration struct {
	Global       GlobalConfig       `yaml:"global"`
	Cache        CacheConfig        `yaml:"cache"`
	Prefetch     PrefetchConfig     `yaml:"prefetch"`
	Optimization OptimizationConfig `yaml:"optimization"`
	Fetch        FetchConfig        `yaml:"fetch"`
	Durable      DurableConfig      `yaml:"durable"`
	Monitoring   MonitoringConfig   `yaml:"monitoring"`
}

// GlobalConfig holds process-wide settings.
type GlobalConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// CacheConfig sizes and shapes the in-memory store.
type CacheConfig struct {
	// MaxSize is the byte capacity, as a human size string ("256MB").
	MaxSize string `yaml:"max_size"`
	// MaxEntries caps the entry count independently of byte size.
	MaxEntries int `yaml:"max_entries"`
	// DefaultTTL applies to entries written without an explicit TTL.
	DefaultTTL time.Duration `yaml:"default_ttl"`
	// StaleWindow is how long past expiry an entry may still be served
	// while a background refresh runs.
	StaleWindow time.Duration `yaml:"stale_window"`
	// PrimaryStrategy receives entries written without a strategy hint and
	// is the eviction fallback when analytics has no clear winner.
	PrimaryStrategy string `yaml:"primary_strategy"`
	// CleanupInterval is the period of the expired-entry sweep.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// PrefetchConfig tunes the prefetch scheduler.
type PrefetchConfig struct {
	Enabled bool `yaml:"enabled"`
	// MaxPrefetchSize bounds bytes fetched in a single batch.
	MaxPrefetchSize string `yaml:"max_prefetch_size"`
	// RequestTimeout bounds each individual prefetch fetch.
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// MaxConcurrent limits simultaneous prefetch fetches.
	MaxConcurrent int `yaml:"max_concurrent"`
}

// OptimizationConfig tunes the background optimization controller.
type OptimizationConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	// PressureThreshold is the utilization fraction that switches eviction
	// to the pressure tier.
	PressureThreshold float64 `yaml:"pressure_threshold"`
	// EmergencyThreshold is the utilization fraction that switches
	// eviction to the emergency tier.
	EmergencyThreshold float64 `yaml:"emergency_threshold"`
	// DegradedHitRate is the global hit rate below which a
	// performance-degradation cycle fires.
	DegradedHitRate float64 `yaml:"degraded_hit_rate"`
}

// FetchConfig selects and tunes the remote asset source.
type FetchConfig struct {
	// Source is "s3", "http" or "none".
	Source string `yaml:"source"`
	// Timeout bounds a single fetch attempt.
	Timeout time.Duration `yaml:"timeout"`

	S3             S3Config             `yaml:"s3"`
	HTTP           HTTPConfig           `yaml:"http"`
	Retry          RetryConfig          `yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// S3Config configures the object-storage fetcher.
type S3Config struct {
	Bucket       string `yaml:"bucket"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	KeyPrefix    string `yaml:"key_prefix"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

// HTTPConfig configures the CDN fetcher.
type HTTPConfig struct {
	BaseURL string            `yaml:"base_url"`
	Headers map[string]string `yaml:"headers"`
}

// RetryConfig configures fetch retries.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// CircuitBreakerConfig configures the fetch circuit breaker.
type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// DurableConfig configures the optional on-disk warm-start store.
type DurableConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Directory string `yaml:"directory"`
	MaxSize   string `yaml:"max_size"`
	// MinEntrySize filters tiny payloads out of the durable tier.
	MinEntrySize string `yaml:"min_entry_size"`
}

// MonitoringConfig configures metrics export.
type MonitoringConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	Port      int    `yaml:"port"`
}

// NewDefault returns a configuration with sensible defaults.
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:  "INFO",
			LogFormat: "text",
		},
		Cache: CacheConfig{
			MaxSize:         "256MB",
			MaxEntries:      10000,
			DefaultTTL:      30 * time.Minute,
			StaleWindow:     2 * time.Minute,
			PrimaryStrategy: string(types.StrategyLRU),
			CleanupInterval: 1 * time.Minute,
		},
		Prefetch: PrefetchConfig{
			Enabled:         true,
			MaxPrefetchSize: "32MB",
			RequestTimeout:  10 * time.Second,
			MaxConcurrent:   4,
		},
		Optimization: OptimizationConfig{
			Enabled:            true,
			Interval:           5 * time.Minute,
			PressureThreshold:  0.80,
			EmergencyThreshold: 0.95,
			DegradedHitRate:    0.40,
		},
		Fetch: FetchConfig{
			Source:  "none",
			Timeout: 30 * time.Second,
			S3: S3Config{
				Region: "us-east-1",
			},
			Retry: RetryConfig{
				MaxAttempts: 3,
				BaseDelay:   100 * time.Millisecond,
				MaxDelay:    5 * time.Second,
			},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          true,
				FailureThreshold: 5,
				Timeout:          30 * time.Second,
			},
		},
		Durable: DurableConfig{
			Enabled:      false,
			Directory:    "",
			MaxSize:      "1GB",
			MinEntrySize: "4KB",
		},
		Monitoring: MonitoringConfig{
			Enabled:   false,
			Namespace: "assetcache",
			Port:      9090,
		},
	}
}

// LoadFromFile loads configuration from a YAML file on top of the receiver.
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return errors.Wrap(errors.ErrCodeConfigLoad, "failed to read config file", err).
			WithContext("path", filename)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Wrap(errors.ErrCodeConfigLoad, "failed to parse config file", err).
			WithContext("path", filename)
	}

	return nil
}

// LoadFromEnv applies environment variable overrides.
func (c *Configuration) LoadFromEnv() {
	if val := os.Getenv("ASSETCACHE_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}
	if val := os.Getenv("ASSETCACHE_MAX_SIZE"); val != "" {
		c.Cache.MaxSize = val
	}
	if val := os.Getenv("ASSETCACHE_MAX_ENTRIES"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Cache.MaxEntries = n
		}
	}
	if val := os.Getenv("ASSETCACHE_DEFAULT_TTL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Cache.DefaultTTL = d
		}
	}
	if val := os.Getenv("ASSETCACHE_PRIMARY_STRATEGY"); val != "" {
		c.Cache.PrimaryStrategy = val
	}
	if val := os.Getenv("ASSETCACHE_PREFETCHING"); val != "" {
		c.Prefetch.Enabled = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("ASSETCACHE_FETCH_SOURCE"); val != "" {
		c.Fetch.Source = val
	}
	if val := os.Getenv("ASSETCACHE_S3_BUCKET"); val != "" {
		c.Fetch.S3.Bucket = val
	}
	if val := os.Getenv("ASSETCACHE_S3_ENDPOINT"); val != "" {
		c.Fetch.S3.Endpoint = val
	}
	if val := os.Getenv("ASSETCACHE_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Monitoring.Port = port
		}
	}
}

// SaveToFile writes the configuration to a YAML file.
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(errors.ErrCodeConfigLoad, "failed to marshal config", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return errors.Wrap(errors.ErrCodeConfigLoad, "failed to create config directory", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return errors.Wrap(errors.ErrCodeConfigLoad, "failed to write config file", err).
			WithContext("path", filename)
	}

	return nil
}

// Validate checks the configuration for internal consistency.
func (c *Configuration) Validate() error {
	if _, err := ParseSize(c.Cache.MaxSize); err != nil {
		return errors.Wrap(errors.ErrCodeConfigValidation, "invalid cache.max_size", err)
	}
	if c.Cache.MaxEntries <= 0 {
		return errors.New(errors.ErrCodeConfigValidation, "cache.max_entries must be greater than 0")
	}
	if c.Cache.DefaultTTL <= 0 {
		return errors.New(errors.ErrCodeConfigValidation, "cache.default_ttl must be positive")
	}
	if c.Cache.StaleWindow < 0 {
		return errors.New(errors.ErrCodeConfigValidation, "cache.stale_window cannot be negative")
	}
	if _, err := types.ParseStrategy(c.Cache.PrimaryStrategy); err != nil {
		return errors.New(errors.ErrCodeConfigValidation,
			fmt.Sprintf("invalid cache.primary_strategy: %s", c.Cache.PrimaryStrategy))
	}

	if c.Prefetch.Enabled {
		if _, err := ParseSize(c.Prefetch.MaxPrefetchSize); err != nil {
			return errors.Wrap(errors.ErrCodeConfigValidation, "invalid prefetch.max_prefetch_size", err)
		}
		if c.Prefetch.MaxConcurrent <= 0 {
			return errors.New(errors.ErrCodeConfigValidation, "prefetch.max_concurrent must be greater than 0")
		}
		if c.Prefetch.RequestTimeout <= 0 {
			return errors.New(errors.ErrCodeConfigValidation, "prefetch.request_timeout must be positive")
		}
	}

	if c.Optimization.Enabled {
		if c.Optimization.PressureThreshold <= 0 || c.Optimization.PressureThreshold >= 1 {
			return errors.New(errors.ErrCodeConfigValidation, "optimization.pressure_threshold must be in (0, 1)")
		}
		if c.Optimization.EmergencyThreshold <= c.Optimization.PressureThreshold {
			return errors.New(errors.ErrCodeConfigValidation,
				"optimization.emergency_threshold must exceed pressure_threshold")
		}
	}

	switch c.Fetch.Source {
	case "none":
	case "s3":
		if c.Fetch.S3.Bucket == "" {
			return errors.New(errors.ErrCodeConfigValidation, "fetch.s3.bucket is required for s3 source")
		}
	case "http":
		if c.Fetch.HTTP.BaseURL == "" {
			return errors.New(errors.ErrCodeConfigValidation, "fetch.http.base_url is required for http source")
		}
	default:
		return errors.New(errors.ErrCodeConfigValidation,
			fmt.Sprintf("invalid fetch.source: %s (must be one of: none, s3, http)", c.Fetch.Source))
	}

	if c.Fetch.Retry.MaxAttempts <= 0 {
		return errors.New(errors.ErrCodeConfigValidation, "fetch.retry.max_attempts must be greater than 0")
	}

	if c.Durable.Enabled {
		if c.Durable.Directory == "" {
			return errors.New(errors.ErrCodeConfigValidation, "durable.directory is required when durable is enabled")
		}
		if _, err := ParseSize(c.Durable.MaxSize); err != nil {
			return errors.Wrap(errors.ErrCodeConfigValidation, "invalid durable.max_size", err)
		}
	}

	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	logLevelValid := false
	for _, level := range validLogLevels {
		if strings.EqualFold(c.Global.LogLevel, level) {
			logLevelValid = true
			break
		}
	}
	if !logLevelValid {
		return errors.New(errors.ErrCodeConfigValidation,
			fmt.Sprintf("invalid log_level: %s (must be one of: %s)",
				c.Global.LogLevel, strings.Join(validLogLevels, ", ")))
	}

	return nil
}

// CacheMaxSizeBytes returns the byte capacity of the in-memory store.
// Call after Validate.
func (c *Configuration) CacheMaxSizeBytes() int64 {
	size, _ := ParseSize(c.Cache.MaxSize)
	return size
}

// MaxPrefetchBytes returns the per-batch prefetch budget in bytes.
func (c *Configuration) MaxPrefetchBytes() int64 {
	size, _ := ParseSize(c.Prefetch.MaxPrefetchSize)
	return size
}

// ParseSize parses a human-readable size string like "256MB" or "4KB"
// into a byte count. A bare number is taken as bytes.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	multiplier := int64(1)
	numeric := s
	switch {
	case strings.HasSuffix(s, "TB"):
		multiplier = 1 << 40
		numeric = strings.TrimSuffix(s, "TB")
	case strings.HasSuffix(s, "GB"):
		multiplier = 1 << 30
		numeric = strings.TrimSuffix(s, "GB")
	case strings.HasSuffix(s, "MB"):
		multiplier = 1 << 20
		numeric = strings.TrimSuffix(s, "MB")
	case strings.HasSuffix(s, "KB"):
		multiplier = 1 << 10
		numeric = strings.TrimSuffix(s, "KB")
	case strings.HasSuffix(s, "B"):
		numeric = strings.TrimSuffix(s, "B")
	}

	value, err := strconv.ParseFloat(strings.TrimSpace(numeric), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	if value < 0 {
		return 0, fmt.Errorf("size cannot be negative: %q", s)
	}

	return int64(value * float64(multiplier)), nil
}
