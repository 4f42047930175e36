package maintain

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pagefold/extract-cache/internal/evict"
)

// Maintainer is the slice of a cache the runner drives: one periodic
// policy pass per cache type.
type Maintainer interface {
	TypeName() string
	Maintain(ctx context.Context) (evict.Result, error)
}

// Runner periodically applies the eviction policies of every registered
// cache type.
type Runner struct {
	interval time.Duration
	caches   []Maintainer
}

func NewRunner(interval time.Duration, caches ...Maintainer) *Runner {
	return &Runner{
		interval: interval,
		caches:   caches,
	}
}

// Run executes a maintenance pass immediately and then on every
// interval until ctx is cancelled. A failing or panicking cache type
// does not stop the loop or the other types.
func (r *Runner) Run(ctx context.Context) {
	for {
		r.runOnce(ctx)

		select {
		case <-time.After(r.interval):
			// continue
		case <-ctx.Done():
			log.Info().Msg("maintenance loop shutting down gracefully")
			return
		}
	}
}

// RunOnce performs a single maintenance pass over all registered cache
// types.
func (r *Runner) RunOnce(ctx context.Context) evict.Result {
	return r.runOnce(ctx)
}

func (r *Runner) runOnce(ctx context.Context) evict.Result {
	start := time.Now()

	var total evict.Result
	for _, cache := range r.caches {
		if ctx.Err() != nil {
			break
		}
		result := r.maintainOne(ctx, cache)
		total.Removed += result.Removed
		total.BytesFreed += result.BytesFreed
	}

	log.Info().
		Int("removed", total.Removed).
		Int64("bytes_freed", total.BytesFreed).
		Dur("elapsed", time.Since(start)).
		Msg("maintenance pass complete")
	return total
}

func (r *Runner) maintainOne(ctx context.Context, cache Maintainer) (result evict.Result) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Warn().Interface("recover", rec).Str("cache_type", cache.TypeName()).
				Msg("maintenance pass failed; will attempt to continue")
		}
	}()

	result, err := cache.Maintain(ctx)
	if err != nil {
		// This may be transient, so the next pass tries again.
		log.Warn().Err(err).Str("cache_type", cache.TypeName()).
			Msg("cache maintenance failed, continuing")
	}
	return result
}
