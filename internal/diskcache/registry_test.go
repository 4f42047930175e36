package diskcache_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagefold/extract-cache/internal/config"
	"github.com/pagefold/extract-cache/internal/diskcache"
)

func registryConfig(t *testing.T) config.CacheConfig {
	t.Helper()
	return config.CacheConfig{
		Dir:                    t.TempDir(),
		MaxSizeMB:              2048,
		MaxAgeDays:             30,
		MinFreeSpaceMB:         0,
		TargetSizeRatio:        0.8,
		ProcessingStaleMinutes: 30,
		OnProbeError:           "fail",
	}
}

func int64Ptr(v int64) *int64 { return &v }
func intPtr(v int) *int       { return &v }

func TestRegistry_DefaultNames(t *testing.T) {
	registry := diskcache.NewRegistry(registryConfig(t))
	assert.Equal(t, []string{"document", "ocr", "mime", "table"}, registry.Names())
}

func TestRegistry_ManifestReplacesDefaults(t *testing.T) {
	manifest := config.TypesManifest{Types: []config.TypeProfile{
		{Name: "invoice"},
		{Name: "receipt"},
	}}

	registry := diskcache.NewRegistry(registryConfig(t), diskcache.WithManifest(manifest))
	assert.Equal(t, []string{"invoice", "receipt"}, registry.Names())
}

func TestRegistry_GetReturnsSameInstance(t *testing.T) {
	registry := diskcache.NewRegistry(registryConfig(t))

	first, err := registry.Get("document")
	require.NoError(t, err)
	second, err := registry.Get("document")
	require.NoError(t, err)

	assert.Same(t, first, second)
}

func TestRegistry_InvalidTypeName(t *testing.T) {
	registry := diskcache.NewRegistry(registryConfig(t))

	_, err := registry.Get("../outside")
	assert.Error(t, err)
}

func TestRegistry_UnknownTypeUsesGlobalPolicy(t *testing.T) {
	manifest := config.TypesManifest{Types: []config.TypeProfile{
		{Name: "invoice"},
	}}
	registry := diskcache.NewRegistry(registryConfig(t), diskcache.WithManifest(manifest))

	cache, err := registry.Get("adhoc")
	require.NoError(t, err)
	assert.Equal(t, "adhoc", cache.TypeName())
}

func TestRegistry_ProfileOverridesAgePolicy(t *testing.T) {
	ctx := context.Background()
	cfg := registryConfig(t)
	cfg.MaxAgeDays = 1

	// The ocr profile disables the age policy; document inherits it.
	manifest := config.TypesManifest{Types: []config.TypeProfile{
		{Name: "document"},
		{Name: "ocr", MaxAgeDays: intPtr(0)},
	}}
	registry := diskcache.NewRegistry(cfg, diskcache.WithManifest(manifest))

	for _, typeName := range []string{"document", "ocr"} {
		cache, err := registry.Get(typeName)
		require.NoError(t, err)
		require.NoError(t, cache.Set(ctx, "0000000000000001", []byte("old")))

		then := time.Now().Add(-48 * time.Hour)
		payload := filepath.Join(cache.Dir(), "0000000000000001.dat")
		require.NoError(t, os.Chtimes(payload, then, then))

		_, err = cache.Maintain(ctx)
		require.NoError(t, err)
	}

	document, err := registry.Get("document")
	require.NoError(t, err)
	_, ok, err := document.Get(ctx, "0000000000000001")
	require.NoError(t, err)
	assert.False(t, ok, "document must follow the global age policy")

	ocr, err := registry.Get("ocr")
	require.NoError(t, err)
	_, ok, err = ocr.Get(ctx, "0000000000000001")
	require.NoError(t, err)
	assert.True(t, ok, "ocr profile must disable the age policy")
}

func TestRegistry_ProfileOverridesSizePolicy(t *testing.T) {
	ctx := context.Background()
	cfg := registryConfig(t)

	manifest := config.TypesManifest{Types: []config.TypeProfile{
		{Name: "table", MaxSizeMB: int64Ptr(1)},
	}}
	registry := diskcache.NewRegistry(cfg, diskcache.WithManifest(manifest))

	cache, err := registry.Get("table")
	require.NoError(t, err)

	big := make([]byte, 700*1024)
	require.NoError(t, cache.Set(ctx, "0000000000000001", big))
	require.NoError(t, cache.Set(ctx, "0000000000000002", big))

	then := time.Now().Add(-time.Hour)
	payload := filepath.Join(cache.Dir(), "0000000000000001.dat")
	require.NoError(t, os.Chtimes(payload, then, then))

	result, err := cache.Maintain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Removed, "profile quota must override the global quota")
}

func TestRegistry_All(t *testing.T) {
	registry := diskcache.NewRegistry(registryConfig(t))

	caches, err := registry.All()
	require.NoError(t, err)
	require.Len(t, caches, 4)

	names := make([]string, len(caches))
	for i, cache := range caches {
		names[i] = cache.TypeName()
	}
	assert.Equal(t, []string{"document", "ocr", "mime", "table"}, names)
}

func TestRegistry_WithInstrumentation(t *testing.T) {
	registry := diskcache.NewRegistry(registryConfig(t), diskcache.WithInstrumentation())

	cache, err := registry.Get("document")
	require.NoError(t, err)
	assert.IsType(t, &diskcache.Instrumented{}, cache)

	ctx := context.Background()
	require.NoError(t, cache.Set(ctx, "0000000000000001", []byte("payload")))
	got, ok, err := cache.Get(ctx, "0000000000000001")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("payload"), got)
}
