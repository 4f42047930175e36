package evict

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pagefold/extract-cache/internal/diskspace"
	"github.com/pagefold/extract-cache/internal/store"
)

// DefaultTargetRatio is the hysteresis factor for the size policy: once
// a directory exceeds its quota, eviction continues below the quota so
// the next few writes do not immediately trigger another pass.
const DefaultTargetRatio = 0.8

// How long a temp file may exist before a cleanup pass discards it as
// the leftover of a crashed writer.
const tempMaxAge = time.Hour

// ProbeErrorPolicy selects the reaction to a failed disk space probe
// during SmartCleanup.
type ProbeErrorPolicy string

const (
	// ProbeErrorFail surfaces the probe error after the quota passes
	// have run. Nothing extra is evicted.
	ProbeErrorFail ProbeErrorPolicy = "fail"

	// ProbeErrorAggressive assumes the free-space floor is breached by
	// its full amount and evicts accordingly instead of erroring.
	ProbeErrorAggressive ProbeErrorPolicy = "aggressive"
)

// Result reports one eviction pass over a directory.
type Result struct {
	Removed    int
	BytesFreed int64
}

func (r *Result) add(other Result) {
	r.Removed += other.Removed
	r.BytesFreed += other.BytesFreed
}

// Options configures the age and size policies.
type Options struct {
	// MaxAge removes entries idle longer than this. Zero disables the
	// age policy.
	MaxAge time.Duration

	// MaxSizeBytes is the aggregate quota for the directory. Zero
	// disables the size policy.
	MaxSizeBytes int64

	// TargetRatio sets the hysteresis point: eviction stops once the
	// directory is at or below MaxSizeBytes*TargetRatio. Values outside
	// (0, 1] fall back to DefaultTargetRatio.
	TargetRatio float64
}

func (o Options) targetBytes() int64 {
	ratio := o.TargetRatio
	if ratio <= 0 || ratio > 1 {
		ratio = DefaultTargetRatio
	}
	return int64(float64(o.MaxSizeBytes) * ratio)
}

// SmartOptions adds the free-space floor to the quota policies.
type SmartOptions struct {
	Options

	// MinFreeBytes is the free space the cache's filesystem must
	// retain. When free space drops below it, least recently used
	// entries are evicted regardless of the size quota. Zero disables
	// the space policy.
	MinFreeBytes uint64

	// OnProbeError selects the reaction when free space cannot be
	// determined. Empty defaults to ProbeErrorFail.
	OnProbeError ProbeErrorPolicy

	// Probe overrides the disk space probe. Nil uses the real
	// filesystem.
	Probe func(path string) (uint64, error)
}

// FilterOlderThan selects the entries whose last access is older than
// maxAge. The input order is preserved.
func FilterOlderThan(infos []store.EntryInfo, maxAge time.Duration) []store.EntryInfo {
	if maxAge <= 0 {
		return nil
	}

	cutoff := time.Now().Add(-maxAge)
	old := make([]store.EntryInfo, 0, len(infos))
	for _, info := range infos {
		if info.AccessedAt.Before(cutoff) {
			old = append(old, info)
		}
	}
	return old
}

// IsEntryFresh reports whether the file at path exists and was accessed
// within maxAge.
func IsEntryFresh(path string, maxAge time.Duration) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return time.Since(info.ModTime()) <= maxAge
}

// Cleanup applies the age policy and then the size policy to the
// store's directory. Entries that fail to delete are skipped and the
// pass continues.
func Cleanup(ctx context.Context, s *store.Store, opts Options) (Result, error) {
	s.SweepTemp(ctx, tempMaxAge)

	infos, err := s.List(ctx)
	if err != nil {
		return Result{}, err
	}

	var result Result

	// Age pass.
	expired := FilterOlderThan(infos, opts.MaxAge)
	removed := removeEntries(ctx, s, expired)
	result.add(removed)

	// Size pass over the survivors.
	if opts.MaxSizeBytes > 0 {
		survivors, total := survivorsAfter(infos, expired)
		if total > opts.MaxSizeBytes {
			result.add(evictToSize(ctx, s, survivors, total, opts.targetBytes()))
		}
	}

	if result.Removed > 0 {
		log.Info().
			Str("dir", s.Dir()).
			Int("removed", result.Removed).
			Int64("bytes_freed", result.BytesFreed).
			Msg("cache cleanup complete")
	}
	return result, ctx.Err()
}

// SmartCleanup runs Cleanup and then enforces the free-space floor,
// evicting least recently used entries until the filesystem recovers or
// the directory is empty. The space policy overrides the size quota: it
// keeps evicting entries the quota would have retained.
func SmartCleanup(ctx context.Context, s *store.Store, opts SmartOptions) (Result, error) {
	result, err := Cleanup(ctx, s, opts.Options)
	if err != nil {
		return result, err
	}
	if opts.MinFreeBytes == 0 {
		return result, nil
	}

	probe := opts.Probe
	if probe == nil {
		probe = diskspace.Available
	}

	free, probeErr := probe(s.Dir())
	if probeErr != nil {
		if opts.OnProbeError != ProbeErrorAggressive {
			return result, fmt.Errorf("cannot enforce free space floor: %w", probeErr)
		}
		// Unknown free space: assume the floor is breached in full and
		// reclaim that much.
		log.Warn().Err(probeErr).Str("dir", s.Dir()).
			Msg("disk probe failed, evicting aggressively")
		result.add(evictBytes(ctx, s, int64(opts.MinFreeBytes)))
		return result, nil
	}

	if free >= opts.MinFreeBytes {
		return result, nil
	}

	deficit := int64(opts.MinFreeBytes - free)
	log.Info().
		Str("dir", s.Dir()).
		Uint64("free_bytes", free).
		Uint64("min_free_bytes", opts.MinFreeBytes).
		Msg("free space below floor, evicting by pressure")
	result.add(evictBytes(ctx, s, deficit))

	return result, nil
}

// Clear removes every entry in the store's directory and reports the
// bytes reclaimed.
func Clear(ctx context.Context, s *store.Store) (Result, error) {
	stats, err := s.Scan(ctx)
	if err != nil {
		return Result{}, err
	}

	removed, err := s.Clear(ctx)
	if err != nil {
		return Result{Removed: removed}, err
	}
	return Result{Removed: removed, BytesFreed: stats.TotalBytes}, nil
}

// evictToSize removes least recently used entries until total is at or
// below target.
func evictToSize(ctx context.Context, s *store.Store, infos []store.EntryInfo, total, target int64) Result {
	store.SortByAccess(infos)

	var result Result
	for _, info := range infos {
		if total <= target || ctx.Err() != nil {
			break
		}
		if err := s.Remove(ctx, info.Key); err != nil {
			log.Warn().Err(err).Str("key", info.Key).Msg("failed to evict cache entry")
			continue
		}
		total -= info.SizeBytes
		result.Removed++
		result.BytesFreed += info.SizeBytes
	}
	return result
}

// evictBytes removes least recently used entries until roughly want
// bytes have been reclaimed or the directory is empty.
func evictBytes(ctx context.Context, s *store.Store, want int64) Result {
	var result Result
	if want <= 0 {
		return result
	}

	infos, err := s.List(ctx)
	if err != nil {
		log.Warn().Err(err).Str("dir", s.Dir()).Msg("failed to list entries for space eviction")
		return result
	}
	store.SortByAccess(infos)

	for _, info := range infos {
		if result.BytesFreed >= want || ctx.Err() != nil {
			break
		}
		if err := s.Remove(ctx, info.Key); err != nil {
			log.Warn().Err(err).Str("key", info.Key).Msg("failed to evict cache entry")
			continue
		}
		result.Removed++
		result.BytesFreed += info.SizeBytes
	}
	return result
}

// removeEntries deletes the given entries, tolerating per-file failures.
func removeEntries(ctx context.Context, s *store.Store, infos []store.EntryInfo) Result {
	var result Result
	for _, info := range infos {
		if ctx.Err() != nil {
			break
		}
		if err := s.Remove(ctx, info.Key); err != nil {
			log.Warn().Err(err).Str("key", info.Key).Msg("failed to remove expired cache entry")
			continue
		}
		result.Removed++
		result.BytesFreed += info.SizeBytes
	}
	return result
}

// survivorsAfter returns the entries not in removed, with their total
// size.
func survivorsAfter(infos, removed []store.EntryInfo) ([]store.EntryInfo, int64) {
	gone := make(map[string]bool, len(removed))
	for _, info := range removed {
		gone[info.Key] = true
	}

	survivors := make([]store.EntryInfo, 0, len(infos))
	var total int64
	for _, info := range infos {
		if gone[info.Key] {
			continue
		}
		survivors = append(survivors, info)
		total += info.SizeBytes
	}
	return survivors, total
}
