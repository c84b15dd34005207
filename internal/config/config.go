// Package config defines the optimization layer's configuration surface.
//
// Configuration is constructed once at process start (from defaults, an
// optional YAML file, and environment overrides) and is immutable
// afterwards: every component receives a copy of its section by value.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Configuration represents the complete optimization layer configuration.
type Configuration struct {
	Global   GlobalConfig   `yaml:"global"`
	Cache    CacheConfig    `yaml:"cache"`
	Balancer BalancerConfig `yaml:"balancer"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// GlobalConfig represents global settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level"`
}

// CacheConfig represents the cache hierarchy configuration.
type CacheConfig struct {
	MaxAge                  time.Duration `yaml:"max_age"`
	MaxEntries              int           `yaml:"max_entries"`
	EvictionBatchSize       int           `yaml:"eviction_batch_size"`
	MemoryPressureThreshold float64       `yaml:"memory_pressure_threshold"`
	// Strategy is one of "recency", "frequency", "composite",
	// "composite_decay".
	Strategy string `yaml:"strategy"`

	// FastCapacity bounds the fast tier's estimated memory, e.g. "256MB".
	FastCapacity string `yaml:"fast_capacity"`
	// SecondaryMaxEntries bounds the ordered secondary tier.
	SecondaryMaxEntries int `yaml:"secondary_max_entries"`
	// FastShards is the stripe count of the fast tier; rounded up to a
	// power of two. Zero picks a default from GOMAXPROCS.
	FastShards int `yaml:"fast_shards"`

	Compression CompressionConfig `yaml:"compression"`
	BulkStore   BulkStoreConfig   `yaml:"bulk_store"`
}

// CompressionConfig represents value compression settings.
type CompressionConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Algorithm string `yaml:"algorithm"` // "zstd", "gzip", "none"
	MinSize   string `yaml:"min_size"`  // values below this are stored raw
}

// BulkStoreConfig selects and configures the bulk tier backing store.
type BulkStoreConfig struct {
	// Backend is one of "memory", "disk", "s3".
	Backend   string `yaml:"backend"`
	Directory string `yaml:"directory"` // disk backend
	// MaxEntries bounds the bulk tier; overflow is dropped.
	MaxEntries int `yaml:"max_entries"`
	// HealthInterval is how often a degraded bulk tier is re-probed.
	HealthInterval time.Duration `yaml:"health_interval"`

	S3 S3Config `yaml:"s3"`
}

// S3Config mirrors store.S3Config for YAML binding.
type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style"`
}

// BalancerConfig represents load balancer configuration.
type BalancerConfig struct {
	// Policy is one of "weighted_round_robin", "least_connections",
	// "resource_based", "predictive".
	Policy string `yaml:"policy"`

	// Weights for weighted round robin, keyed by server address.
	Weights map[string]float64 `yaml:"weights"`
	// MaxConnections for least-connections.
	MaxConnections int64 `yaml:"max_connections"`
	// Metric weights for resource-based selection.
	CPUWeight      float64 `yaml:"cpu_weight"`
	MemoryWeight   float64 `yaml:"memory_weight"`
	ResponseWeight float64 `yaml:"response_weight"`

	// HistoryRetention is the sliding window for load samples.
	HistoryRetention time.Duration `yaml:"history_retention"`
	// PredictionWindow is how many recent samples the predictor uses.
	PredictionWindow int `yaml:"prediction_window"`
}

// MetricsConfig represents the Prometheus endpoint configuration.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
	// SampleWindow bounds the per-server latency ring buffers.
	SampleWindow int `yaml:"sample_window"`
}

// NewDefault returns a configuration with the defaults the original system
// shipped with: one-hour entry lifetime, 10k entries, batches of 100, and
// eviction at 85% memory pressure.
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel: "INFO",
		},
		Cache: CacheConfig{
			MaxAge:                  time.Hour,
			MaxEntries:              10000,
			EvictionBatchSize:       100,
			MemoryPressureThreshold: 0.85,
			Strategy:                "composite",
			FastCapacity:            "256MB",
			SecondaryMaxEntries:     20000,
			Compression: CompressionConfig{
				Enabled:   true,
				Algorithm: "zstd",
				MinSize:   "1KB",
			},
			BulkStore: BulkStoreConfig{
				Backend:        "memory",
				MaxEntries:     50000,
				HealthInterval: 30 * time.Second,
			},
		},
		Balancer: BalancerConfig{
			Policy:           "weighted_round_robin",
			MaxConnections:   100,
			CPUWeight:        1.0,
			MemoryWeight:     1.0,
			ResponseWeight:   1.0,
			HistoryRetention: time.Hour,
			PredictionWindow: 12,
		},
		Metrics: MetricsConfig{
			Enabled:      true,
			Port:         9091,
			Path:         "/metrics",
			Namespace:    "optilayer",
			SampleWindow: 1024,
		},
	}
}

// LoadFromFile loads configuration from a YAML file over the receiver.
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

// LoadFromEnv applies environment variable overrides.
func (c *Configuration) LoadFromEnv() {
	if val := os.Getenv("OPTILAYER_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}
	if val := os.Getenv("OPTILAYER_CACHE_MAX_ENTRIES"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Cache.MaxEntries = n
		}
	}
	if val := os.Getenv("OPTILAYER_CACHE_STRATEGY"); val != "" {
		c.Cache.Strategy = val
	}
	if val := os.Getenv("OPTILAYER_BALANCER_POLICY"); val != "" {
		c.Balancer.Policy = val
	}
	if val := os.Getenv("OPTILAYER_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Metrics.Port = port
		}
	}
	if val := os.Getenv("OPTILAYER_BULK_BACKEND"); val != "" {
		c.Cache.BulkStore.Backend = val
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Configuration) Validate() error {
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache.max_entries must be greater than 0")
	}
	if c.Cache.EvictionBatchSize <= 0 {
		return fmt.Errorf("cache.eviction_batch_size must be greater than 0")
	}
	if c.Cache.MemoryPressureThreshold <= 0 || c.Cache.MemoryPressureThreshold > 1 {
		return fmt.Errorf("cache.memory_pressure_threshold must be in (0, 1]")
	}
	switch c.Cache.Strategy {
	case "recency", "frequency", "composite", "composite_decay":
	default:
		return fmt.Errorf("invalid cache.strategy: %s", c.Cache.Strategy)
	}
	if _, err := ParseSize(c.Cache.FastCapacity); err != nil {
		return fmt.Errorf("invalid cache.fast_capacity: %w", err)
	}
	switch c.Cache.Compression.Algorithm {
	case "", "zstd", "gzip", "none":
	default:
		return fmt.Errorf("invalid cache.compression.algorithm: %s", c.Cache.Compression.Algorithm)
	}
	if c.Cache.Compression.MinSize != "" {
		if _, err := ParseSize(c.Cache.Compression.MinSize); err != nil {
			return fmt.Errorf("invalid cache.compression.min_size: %w", err)
		}
	}
	switch c.Cache.BulkStore.Backend {
	case "", "memory", "disk", "s3":
	default:
		return fmt.Errorf("invalid cache.bulk_store.backend: %s", c.Cache.BulkStore.Backend)
	}
	if c.Cache.BulkStore.Backend == "disk" && c.Cache.BulkStore.Directory == "" {
		return fmt.Errorf("cache.bulk_store.directory required for disk backend")
	}
	if c.Cache.BulkStore.Backend == "s3" && c.Cache.BulkStore.S3.Bucket == "" {
		return fmt.Errorf("cache.bulk_store.s3.bucket required for s3 backend")
	}

	switch c.Balancer.Policy {
	case "weighted_round_robin", "least_connections", "resource_based", "predictive":
	default:
		return fmt.Errorf("invalid balancer.policy: %s", c.Balancer.Policy)
	}
	if c.Balancer.MaxConnections <= 0 {
		return fmt.Errorf("balancer.max_connections must be greater than 0")
	}
	if c.Balancer.HistoryRetention <= 0 {
		return fmt.Errorf("balancer.history_retention must be greater than 0")
	}
	if c.Balancer.PredictionWindow < 3 {
		return fmt.Errorf("balancer.prediction_window must be at least 3")
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
		return fmt.Errorf("invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}

	return nil
}

// ParseSize parses human-readable sizes like "1KB", "256MB", "2GB".
// A bare number is bytes.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}

	multiplier := int64(1)
	switch {
	case strings.HasSuffix(s, "TB"):
		multiplier = 1 << 40
		s = strings.TrimSuffix(s, "TB")
	case strings.HasSuffix(s, "GB"):
		multiplier = 1 << 30
		s = strings.TrimSuffix(s, "GB")
	case strings.HasSuffix(s, "MB"):
		multiplier = 1 << 20
		s = strings.TrimSuffix(s, "MB")
	case strings.HasSuffix(s, "KB"):
		multiplier = 1 << 10
		s = strings.TrimSuffix(s, "KB")
	case strings.HasSuffix(s, "B"):
		s = strings.TrimSuffix(s, "B")
	}

	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("size cannot be negative")
	}
	return n * multiplier, nil
}
