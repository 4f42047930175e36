package diskcache

import (
	"context"

	"github.com/pagefold/extract-cache/internal/evict"
	"github.com/pagefold/extract-cache/internal/store"
)

// Cache is the per-type caching surface used by extraction pipelines.
// Implementations are safe for concurrent use; several processes may
// share one cache directory.
type Cache interface {
	// Get retrieves a cached result. Returns the payload, whether a
	// usable entry was found, and any error. Staleness and corruption
	// surface as misses, not errors.
	Get(ctx context.Context, key string, opts ...store.GetOption) ([]byte, bool, error)

	// Set stores a result. Options may attach a source fingerprint for
	// later staleness detection.
	Set(ctx context.Context, key string, data []byte, opts ...store.SetOption) error

	// GetOrCompute returns the cached result for key, computing and
	// caching it when absent. Concurrent in-process callers for the
	// same key share one computation.
	GetOrCompute(ctx context.Context, key string, compute ComputeFunc, opts ...store.SetOption) ([]byte, error)

	// IsProcessing reports whether another worker has a live claim on
	// computing this key.
	IsProcessing(ctx context.Context, key string) bool

	// MarkProcessing records a claim on computing this key.
	MarkProcessing(ctx context.Context, key string) error

	// MarkComplete releases the claim on this key.
	MarkComplete(ctx context.Context, key string) error

	// Clear removes every entry of this cache type.
	Clear(ctx context.Context) (evict.Result, error)

	// Stats summarizes the cache directory without reading payloads.
	Stats(ctx context.Context) (Stats, error)

	// Maintain applies the eviction policies and reclaims stale
	// markers and temp files.
	Maintain(ctx context.Context) (evict.Result, error)

	// Dir returns the cache directory for this type.
	Dir() string

	// TypeName returns the cache type identifier.
	TypeName() string
}

// ComputeFunc produces the value to cache for a key.
type ComputeFunc func(ctx context.Context) ([]byte, error)

// Stats is the reporting shape for one cache type. Sizes are megabytes
// and ages days, the units operators configure the policies in.
// AvailableSpaceMB is negative when the filesystem probe failed.
type Stats struct {
	TotalFiles        int
	TotalSizeMB       float64
	AvailableSpaceMB  float64
	OldestFileAgeDays float64
	NewestFileAgeDays float64
}
