package config

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Defaults(t *testing.T) {
	cfg, err := Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "/var/cache/extract-cache", cfg.Cache.Dir)
	assert.Equal(t, int64(2048), cfg.Cache.MaxSizeMB)
	assert.Equal(t, 30, cfg.Cache.MaxAgeDays)
	assert.Equal(t, int64(1024), cfg.Cache.MinFreeSpaceMB)
	assert.Equal(t, 0.8, cfg.Cache.TargetSizeRatio)
	assert.Equal(t, 30, cfg.Cache.ProcessingStaleMinutes)
	assert.Equal(t, "fail", cfg.Cache.OnProbeError)
	assert.Empty(t, cfg.Cache.TypesProfile)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Empty(t, cfg.Log.File)

	assert.True(t, cfg.Maintenance.Enabled)
	assert.Equal(t, 15, cfg.Maintenance.IntervalMinutes)

	assert.False(t, cfg.Observe.Enabled)
	assert.Equal(t, "extract-cache", cfg.Observe.ServiceName)
}

func TestConfig_FromEnvironment(t *testing.T) {
	t.Setenv("CACHE_DIR", "/srv/cache")
	t.Setenv("CACHE_MAX_SIZE_MB", "512")
	t.Setenv("CACHE_MAX_AGE_DAYS", "7")
	t.Setenv("CACHE_MIN_FREE_SPACE_MB", "256")
	t.Setenv("CACHE_TARGET_SIZE_RATIO", "0.5")
	t.Setenv("CACHE_ON_PROBE_ERROR", "aggressive")
	t.Setenv("MAINTENANCE_INTERVAL_MINUTES", "5")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FILE", "/var/log/extract-cache.log")

	cfg, err := Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "/srv/cache", cfg.Cache.Dir)
	assert.Equal(t, int64(512), cfg.Cache.MaxSizeMB)
	assert.Equal(t, 7, cfg.Cache.MaxAgeDays)
	assert.Equal(t, int64(256), cfg.Cache.MinFreeSpaceMB)
	assert.Equal(t, 0.5, cfg.Cache.TargetSizeRatio)
	assert.Equal(t, "aggressive", cfg.Cache.OnProbeError)
	assert.Equal(t, 5, cfg.Maintenance.IntervalMinutes)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "/var/log/extract-cache.log", cfg.Log.File)
}

func TestConfig_InvalidRatio(t *testing.T) {
	t.Setenv("CACHE_TARGET_SIZE_RATIO", "1.5")

	_, err := Load(context.Background())
	assert.ErrorContains(t, err, "CACHE_TARGET_SIZE_RATIO")

	t.Setenv("CACHE_TARGET_SIZE_RATIO", "0")
	_, err = Load(context.Background())
	assert.ErrorContains(t, err, "CACHE_TARGET_SIZE_RATIO")
}

func TestConfig_InvalidSizes(t *testing.T) {
	t.Setenv("CACHE_MAX_SIZE_MB", "-1")
	_, err := Load(context.Background())
	assert.ErrorContains(t, err, "CACHE_MAX_SIZE_MB")
}

func TestConfig_InvalidProbePolicy(t *testing.T) {
	t.Setenv("CACHE_ON_PROBE_ERROR", "shrug")

	_, err := Load(context.Background())
	assert.ErrorContains(t, err, "CACHE_ON_PROBE_ERROR")
}

func TestConfig_InvalidMaintenanceInterval(t *testing.T) {
	t.Setenv("MAINTENANCE_INTERVAL_MINUTES", "0")

	_, err := Load(context.Background())
	assert.ErrorContains(t, err, "MAINTENANCE_INTERVAL_MINUTES")
}

func TestCacheConfig_Conversions(t *testing.T) {
	cfg := CacheConfig{
		MaxSizeMB:              100,
		MaxAgeDays:             2,
		MinFreeSpaceMB:         50,
		ProcessingStaleMinutes: 45,
	}

	assert.Equal(t, int64(100*1024*1024), cfg.MaxSizeBytes())
	assert.Equal(t, 48*time.Hour, cfg.MaxAge())
	assert.Equal(t, uint64(50*1024*1024), cfg.MinFreeBytes())
	assert.Equal(t, 45*time.Minute, cfg.ProcessingStale())
}

func TestMaintenanceConfig_Interval(t *testing.T) {
	cfg := MaintenanceConfig{IntervalMinutes: 10}
	assert.Equal(t, 10*time.Minute, cfg.Interval())
}
