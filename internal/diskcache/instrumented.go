package diskcache

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/pagefold/extract-cache/internal/evict"
	"github.com/pagefold/extract-cache/internal/store"
)

var (
	metricsOnce     sync.Once
	cacheOperations metric.Int64Counter
	cacheDuration   metric.Float64Histogram
)

func initMetrics() {
	metricsOnce.Do(func() {
		meter := otel.Meter("github.com/pagefold/extract-cache/internal/diskcache")

		var err error
		cacheOperations, err = meter.Int64Counter(
			"cache.operations",
			metric.WithDescription("Total cache operations"),
		)
		if err != nil {
			otel.Handle(err)
		}

		cacheDuration, err = meter.Float64Histogram(
			"cache.operation.duration",
			metric.WithDescription("Cache operation duration"),
			metric.WithUnit("s"),
		)
		if err != nil {
			otel.Handle(err)
		}
	})
}

// Instrumented wraps a Cache with metrics instrumentation.
type Instrumented struct {
	wrapped   Cache
	cacheType string
}

var _ Cache = (*Instrumented)(nil)

// NewInstrumented creates an instrumented cache wrapper.
func NewInstrumented(cache Cache) *Instrumented {
	initMetrics()
	return &Instrumented{
		wrapped:   cache,
		cacheType: cache.TypeName(),
	}
}

// Get retrieves a cached result.
func (i *Instrumented) Get(ctx context.Context, key string, opts ...store.GetOption) ([]byte, bool, error) {
	start := time.Now()

	value, found, err := i.wrapped.Get(ctx, key, opts...)

	duration := time.Since(start)
	i.recordDuration(ctx, "get", duration)

	status := "miss"
	if err != nil {
		status = "error"
	} else if found {
		status = "hit"
	}
	i.recordOperation(ctx, "get", status)
	i.setSpanAttributes(ctx, "get", status, duration)

	return value, found, err
}

// Set stores a result.
func (i *Instrumented) Set(ctx context.Context, key string, data []byte, opts ...store.SetOption) error {
	start := time.Now()

	err := i.wrapped.Set(ctx, key, data, opts...)

	duration := time.Since(start)
	i.recordDuration(ctx, "set", duration)

	status := "success"
	if err != nil {
		status = "error"
	}
	i.recordOperation(ctx, "set", status)
	i.setSpanAttributes(ctx, "set", status, duration)

	return err
}

// GetOrCompute returns the cached result, computing it on a miss.
func (i *Instrumented) GetOrCompute(ctx context.Context, key string, compute ComputeFunc, opts ...store.SetOption) ([]byte, error) {
	start := time.Now()

	computed := false
	data, err := i.wrapped.GetOrCompute(ctx, key, func(ctx context.Context) ([]byte, error) {
		computed = true
		return compute(ctx)
	}, opts...)

	duration := time.Since(start)
	i.recordDuration(ctx, "get_or_compute", duration)

	status := "hit"
	if err != nil {
		status = "error"
	} else if computed {
		status = "computed"
	}
	i.recordOperation(ctx, "get_or_compute", status)
	i.setSpanAttributes(ctx, "get_or_compute", status, duration)

	return data, err
}

// IsProcessing reports whether a live processing marker exists for key.
func (i *Instrumented) IsProcessing(ctx context.Context, key string) bool {
	start := time.Now()

	processing := i.wrapped.IsProcessing(ctx, key)

	duration := time.Since(start)
	i.recordDuration(ctx, "is_processing", duration)

	status := "idle"
	if processing {
		status = "processing"
	}
	i.recordOperation(ctx, "is_processing", status)
	i.setSpanAttributes(ctx, "is_processing", status, duration)

	return processing
}

// MarkProcessing claims key for this worker.
func (i *Instrumented) MarkProcessing(ctx context.Context, key string) error {
	start := time.Now()

	err := i.wrapped.MarkProcessing(ctx, key)

	duration := time.Since(start)
	i.recordDuration(ctx, "mark_processing", duration)

	status := "success"
	if err != nil {
		status = "error"
	}
	i.recordOperation(ctx, "mark_processing", status)
	i.setSpanAttributes(ctx, "mark_processing", status, duration)

	return err
}

// MarkComplete releases the claim on key.
func (i *Instrumented) MarkComplete(ctx context.Context, key string) error {
	start := time.Now()

	err := i.wrapped.MarkComplete(ctx, key)

	duration := time.Since(start)
	i.recordDuration(ctx, "mark_complete", duration)

	status := "success"
	if err != nil {
		status = "error"
	}
	i.recordOperation(ctx, "mark_complete", status)
	i.setSpanAttributes(ctx, "mark_complete", status, duration)

	return err
}

// Clear removes all entries and markers.
func (i *Instrumented) Clear(ctx context.Context) (evict.Result, error) {
	start := time.Now()

	result, err := i.wrapped.Clear(ctx)

	duration := time.Since(start)
	i.recordDuration(ctx, "clear", duration)

	status := "success"
	if err != nil {
		status = "error"
	}
	i.recordOperation(ctx, "clear", status)
	i.setSpanAttributes(ctx, "clear", status, duration)

	return result, err
}

// Stats summarizes the cache directory.
func (i *Instrumented) Stats(ctx context.Context) (Stats, error) {
	start := time.Now()

	stats, err := i.wrapped.Stats(ctx)

	duration := time.Since(start)
	i.recordDuration(ctx, "stats", duration)

	status := "success"
	if err != nil {
		status = "error"
	}
	i.recordOperation(ctx, "stats", status)
	i.setSpanAttributes(ctx, "stats", status, duration)

	return stats, err
}

// Maintain applies the eviction policies.
func (i *Instrumented) Maintain(ctx context.Context) (evict.Result, error) {
	start := time.Now()

	result, err := i.wrapped.Maintain(ctx)

	duration := time.Since(start)
	i.recordDuration(ctx, "maintain", duration)

	status := "success"
	if err != nil {
		status = "error"
	}
	i.recordOperation(ctx, "maintain", status)
	i.setSpanAttributes(ctx, "maintain", status, duration)

	return result, err
}

// Dir returns the directory backing this cache type.
func (i *Instrumented) Dir() string {
	return i.wrapped.Dir()
}

// TypeName returns the cache type identifier.
func (i *Instrumented) TypeName() string {
	return i.wrapped.TypeName()
}

func (i *Instrumented) recordOperation(ctx context.Context, operation, status string) {
	if cacheOperations == nil {
		return
	}
	cacheOperations.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("cache.type", i.cacheType),
			attribute.String("cache.operation", operation),
			attribute.String("cache.status", status),
		),
	)
}

func (i *Instrumented) recordDuration(ctx context.Context, operation string, duration time.Duration) {
	if cacheDuration == nil {
		return
	}
	cacheDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.String("cache.type", i.cacheType),
			attribute.String("cache.operation", operation),
		),
	)
}

func (i *Instrumented) setSpanAttributes(ctx context.Context, operation, status string, duration time.Duration) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("cache.type", i.cacheType),
		attribute.String("cache."+operation+".status", status),
		attribute.Float64("cache."+operation+".duration", duration.Seconds()),
	)
}
