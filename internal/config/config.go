package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Cache       CacheConfig
	Log         LogConfig
	Maintenance MaintenanceConfig
	Observe     ObserveConfig
}

// CacheConfig specifies the cache root and the eviction policy applied
// to every cache type unless a type profile overrides it.
type CacheConfig struct {
	// Dir is the root directory; each cache type gets a subdirectory.
	Dir string `env:"CACHE_DIR, default=/var/cache/extract-cache"`

	// MaxSizeMB is the per-type size quota. Zero disables the size
	// policy.
	MaxSizeMB int64 `env:"CACHE_MAX_SIZE_MB, default=2048"`

	// MaxAgeDays removes entries idle longer than this. Zero disables
	// the age policy.
	MaxAgeDays int `env:"CACHE_MAX_AGE_DAYS, default=30"`

	// MinFreeSpaceMB is the free-space floor for the cache filesystem.
	// Zero disables the space policy.
	MinFreeSpaceMB int64 `env:"CACHE_MIN_FREE_SPACE_MB, default=1024"`

	// TargetSizeRatio sets eviction hysteresis: a size pass shrinks the
	// directory to MaxSizeMB*TargetSizeRatio.
	TargetSizeRatio float64 `env:"CACHE_TARGET_SIZE_RATIO, default=0.8"`

	// ProcessingStaleMinutes bounds how long a processing marker is
	// believed before its owner is presumed dead.
	ProcessingStaleMinutes int `env:"CACHE_PROCESSING_STALE_MINUTES, default=30"`

	// OnProbeError selects the reaction to a failed disk space probe:
	// "fail" or "aggressive".
	OnProbeError string `env:"CACHE_ON_PROBE_ERROR, default=fail"`

	// TypesProfile optionally names a YAML manifest declaring the cache
	// types and per-type policy overrides.
	TypesProfile string `env:"CACHE_TYPES_PROFILE"`
}

// LogConfig controls zerolog output. When File is set, output rotates
// there instead of going to stderr.
type LogConfig struct {
	Level      string `env:"LOG_LEVEL, default=info"`
	File       string `env:"LOG_FILE"`
	MaxSizeMB  int    `env:"LOG_MAX_SIZE_MB, default=100"`
	MaxBackups int    `env:"LOG_MAX_BACKUPS, default=5"`
	MaxAgeDays int    `env:"LOG_MAX_AGE_DAYS, default=30"`
	Compress   bool   `env:"LOG_COMPRESS, default=true"`
}

type MaintenanceConfig struct {
	Enabled         bool `env:"MAINTENANCE_ENABLED, default=true"`
	IntervalMinutes int  `env:"MAINTENANCE_INTERVAL_MINUTES, default=15"`
}

type ObserveConfig struct {
	SDKLogLevel               string `env:"OBSERVE_OTEL_LOG_LEVEL, default=info"`
	Enabled                   bool   `env:"OBSERVE_ENABLED, default=false"`
	MetricsEnabled            bool   `env:"OBSERVE_METRICS_ENABLED, default=true"`
	Type                      string `env:"OBSERVE_TYPE, default=grpc"`
	ServiceName               string `env:"OBSERVE_SERVICE_NAME, default=extract-cache"`
	TraceBatchTimeoutSeconds  int    `env:"OBSERVE_TRACE_BATCH_TIMEOUT_SECS, default=20"`
	MetricReadIntervalSeconds int    `env:"OBSERVE_METRIC_READ_INTERVAL_SECS, default=60"`
}

func Load(ctx context.Context) (Config, error) {
	return load(ctx, nil) // load from OS environment
}

func load(ctx context.Context, lookup envconfig.Lookuper) (Config, error) {
	var cfg Config
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookup, // nil defaults to OS environment
	})
	if err != nil {
		return cfg, err
	}

	err = cfg.Cache.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid cache configuration: %w", err)
	}

	err = cfg.Maintenance.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid maintenance configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the cache policy values are usable.
func (c *CacheConfig) Validate() error {
	if c.Dir == "" {
		return fmt.Errorf("CACHE_DIR must not be empty")
	}
	if c.MaxSizeMB < 0 {
		return fmt.Errorf("CACHE_MAX_SIZE_MB must not be negative")
	}
	if c.MaxAgeDays < 0 {
		return fmt.Errorf("CACHE_MAX_AGE_DAYS must not be negative")
	}
	if c.MinFreeSpaceMB < 0 {
		return fmt.Errorf("CACHE_MIN_FREE_SPACE_MB must not be negative")
	}
	if c.TargetSizeRatio <= 0 || c.TargetSizeRatio > 1 {
		return fmt.Errorf("CACHE_TARGET_SIZE_RATIO must be within (0, 1]")
	}
	if c.ProcessingStaleMinutes <= 0 {
		return fmt.Errorf("CACHE_PROCESSING_STALE_MINUTES must be positive")
	}
	if c.OnProbeError != "fail" && c.OnProbeError != "aggressive" {
		return fmt.Errorf("CACHE_ON_PROBE_ERROR must be %q or %q", "fail", "aggressive")
	}
	return nil
}

func (c *MaintenanceConfig) Validate() error {
	if c.IntervalMinutes <= 0 {
		return fmt.Errorf("MAINTENANCE_INTERVAL_MINUTES must be positive")
	}
	return nil
}

// MaxSizeBytes converts the size quota to bytes.
func (c *CacheConfig) MaxSizeBytes() int64 {
	return c.MaxSizeMB * 1024 * 1024
}

// MaxAge converts the age limit to a duration.
func (c *CacheConfig) MaxAge() time.Duration {
	return time.Duration(c.MaxAgeDays) * 24 * time.Hour
}

// MinFreeBytes converts the free-space floor to bytes.
func (c *CacheConfig) MinFreeBytes() uint64 {
	return uint64(c.MinFreeSpaceMB) * 1024 * 1024
}

// ProcessingStale converts the marker staleness window to a duration.
func (c *CacheConfig) ProcessingStale() time.Duration {
	return time.Duration(c.ProcessingStaleMinutes) * time.Minute
}

// Interval converts the maintenance period to a duration.
func (c *MaintenanceConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}
