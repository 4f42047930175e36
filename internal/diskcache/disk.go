package diskcache

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/maypok86/otter/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/pagefold/extract-cache/internal/config"
	"github.com/pagefold/extract-cache/internal/diskspace"
	"github.com/pagefold/extract-cache/internal/evict"
	"github.com/pagefold/extract-cache/internal/keys"
	"github.com/pagefold/extract-cache/internal/marker"
	"github.com/pagefold/extract-cache/internal/store"
)

// Stats snapshots are memoized briefly: the scan is metadata-only but
// still O(entries), and dashboards poll far more often than a cache
// directory changes meaningfully.
const statsTTL = 2 * time.Second

const statsKey = "stats"

// DiskCache implements Cache for one type directory under the cache
// root.
type DiskCache struct {
	typeName string
	store    *store.Store
	markers  *marker.Coordinator
	policy   evict.SmartOptions
	snapshot *otter.Cache[string, Stats]
	inflight singleflight.Group
	probe    func(path string) (uint64, error)
}

var _ Cache = (*DiskCache)(nil)

// New creates the cache for typeName under cfg.Dir. The type name
// becomes a directory segment, so it obeys the same rules as a cache
// key.
func New(cfg config.CacheConfig, typeName string) (*DiskCache, error) {
	if err := keys.Validate(typeName); err != nil {
		return nil, fmt.Errorf("invalid cache type name %q: %w", typeName, err)
	}

	dir := filepath.Join(cfg.Dir, typeName)
	s, err := store.New(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s cache: %w", typeName, err)
	}
	markers, err := marker.New(dir, cfg.ProcessingStale())
	if err != nil {
		return nil, fmt.Errorf("failed to create %s cache: %w", typeName, err)
	}

	policy := evict.SmartOptions{
		Options: evict.Options{
			MaxAge:       cfg.MaxAge(),
			MaxSizeBytes: cfg.MaxSizeBytes(),
			TargetRatio:  cfg.TargetSizeRatio,
		},
		MinFreeBytes: cfg.MinFreeBytes(),
		OnProbeError: evict.ProbeErrorPolicy(cfg.OnProbeError),
	}

	snapshot := otter.Must(&otter.Options[string, Stats]{
		MaximumSize:      1,
		ExpiryCalculator: otter.ExpiryCreating[string, Stats](statsTTL),
	})

	log.Info().
		Str("cache_type", typeName).
		Str("dir", dir).
		Int64("max_size_bytes", policy.MaxSizeBytes).
		Dur("max_age", policy.MaxAge).
		Msg("initializing disk cache")

	return &DiskCache{
		typeName: typeName,
		store:    s,
		markers:  markers,
		policy:   policy,
		snapshot: snapshot,
		probe:    diskspace.Available,
	}, nil
}

// Get retrieves a cached result.
func (c *DiskCache) Get(ctx context.Context, key string, opts ...store.GetOption) ([]byte, bool, error) {
	return c.store.Get(ctx, key, opts...)
}

// Set stores a result.
func (c *DiskCache) Set(ctx context.Context, key string, data []byte, opts ...store.SetOption) error {
	return c.store.Set(ctx, key, data, opts...)
}

// GetOrCompute returns the cached result, computing it on a miss.
// In-process callers racing on the same key share one computation;
// workers in other processes see the processing marker and may choose
// to wait or duplicate the work. A failure to cache the computed value
// is logged and the value still returned: the cache must never turn a
// successful extraction into a failure.
func (c *DiskCache) GetOrCompute(ctx context.Context, key string, compute ComputeFunc, opts ...store.SetOption) ([]byte, error) {
	if err := keys.Validate(key); err != nil {
		return nil, err
	}

	v, err, _ := c.inflight.Do(key, func() (any, error) {
		data, ok, err := c.store.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			return data, nil
		}

		if err := c.markers.MarkProcessing(ctx, key); err != nil {
			log.Warn().Err(err).Str("cache_type", c.typeName).Str("key", key).
				Msg("failed to mark processing")
		}
		defer func() {
			if err := c.markers.MarkComplete(ctx, key); err != nil {
				log.Warn().Err(err).Str("cache_type", c.typeName).Str("key", key).
					Msg("failed to clear processing marker")
			}
		}()

		data, err = compute(ctx)
		if err != nil {
			return nil, err
		}

		if err := c.store.Set(ctx, key, data, opts...); err != nil {
			log.Warn().Err(err).Str("cache_type", c.typeName).Str("key", key).
				Msg("failed to cache computed result")
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// IsProcessing reports whether a live processing marker exists for key.
func (c *DiskCache) IsProcessing(ctx context.Context, key string) bool {
	return c.markers.IsProcessing(ctx, key)
}

// MarkProcessing claims key for this worker.
func (c *DiskCache) MarkProcessing(ctx context.Context, key string) error {
	return c.markers.MarkProcessing(ctx, key)
}

// MarkComplete releases the claim on key.
func (c *DiskCache) MarkComplete(ctx context.Context, key string) error {
	return c.markers.MarkComplete(ctx, key)
}

// Clear removes all entries and markers for this cache type.
func (c *DiskCache) Clear(ctx context.Context) (evict.Result, error) {
	result, err := evict.Clear(ctx, c.store)
	c.markers.Clear(ctx)
	c.snapshot.InvalidateAll()

	log.Info().
		Str("cache_type", c.typeName).
		Int("removed", result.Removed).
		Int64("bytes_freed", result.BytesFreed).
		Msg("cache cleared")
	return result, err
}

// Stats summarizes the directory. Snapshots are served from a short
// lived memo; a probe failure is reported in-band as negative available
// space rather than failing the whole summary.
func (c *DiskCache) Stats(ctx context.Context) (Stats, error) {
	if cached, ok := c.snapshot.GetEntry(statsKey); ok {
		return cached.Value, nil
	}

	scan, err := c.store.Scan(ctx)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{
		TotalFiles:  scan.Entries,
		TotalSizeMB: float64(scan.TotalBytes) / (1024 * 1024),
	}

	now := time.Now()
	if !scan.OldestAccess.IsZero() {
		stats.OldestFileAgeDays = now.Sub(scan.OldestAccess).Hours() / 24
	}
	if !scan.NewestAccess.IsZero() {
		stats.NewestFileAgeDays = now.Sub(scan.NewestAccess).Hours() / 24
	}

	free, err := c.probe(c.store.Dir())
	if err != nil {
		log.Warn().Err(err).Str("cache_type", c.typeName).Msg("disk space unavailable for stats")
		stats.AvailableSpaceMB = -1
	} else {
		stats.AvailableSpaceMB = float64(free) / (1024 * 1024)
	}

	c.snapshot.Set(statsKey, stats)
	return stats, nil
}

// Maintain applies the eviction policies for this type and reclaims
// stale processing markers.
func (c *DiskCache) Maintain(ctx context.Context) (evict.Result, error) {
	result, err := evict.SmartCleanup(ctx, c.store, c.policy)

	if swept := c.markers.Sweep(ctx); swept > 0 {
		log.Info().
			Str("cache_type", c.typeName).
			Int("markers", swept).
			Msg("reclaimed stale processing markers")
	}
	c.snapshot.InvalidateAll()

	return result, err
}

// Dir returns the directory backing this cache type.
func (c *DiskCache) Dir() string {
	return c.store.Dir()
}

// TypeName returns the cache type identifier.
func (c *DiskCache) TypeName() string {
	return c.typeName
}

// Store exposes the underlying entry store for maintenance tooling.
func (c *DiskCache) Store() *store.Store {
	return c.store
}
