package diskcache

import (
	"sync"

	"github.com/pagefold/extract-cache/internal/config"
)

// Registry hands out one Cache per type, constructing each lazily on
// first use. When a type manifest is supplied its profiles override the
// global eviction policy for the types they name; any other type name
// is still constructible and inherits the global policy unchanged.
type Registry struct {
	cfg        config.CacheConfig
	manifest   config.TypesManifest
	instrument bool

	mu     sync.Mutex
	caches map[string]Cache
}

type RegistryOption func(*Registry)

// WithManifest installs the declared type set and per-type overrides.
func WithManifest(manifest config.TypesManifest) RegistryOption {
	return func(r *Registry) {
		r.manifest = manifest
	}
}

// WithInstrumentation wraps every constructed cache with OpenTelemetry
// metrics.
func WithInstrumentation() RegistryOption {
	return func(r *Registry) {
		r.instrument = true
	}
}

func NewRegistry(cfg config.CacheConfig, opts ...RegistryOption) *Registry {
	r := &Registry{
		cfg:    cfg,
		caches: make(map[string]Cache),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Names lists the declared cache types: the manifest's types when one
// was supplied, the built-in defaults otherwise.
func (r *Registry) Names() []string {
	if len(r.manifest.Types) > 0 {
		return r.manifest.Names()
	}
	names := make([]string, len(config.DefaultTypes))
	copy(names, config.DefaultTypes)
	return names
}

// Get returns the cache for typeName, creating it if necessary.
func (r *Registry) Get(typeName string) (Cache, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cache, ok := r.caches[typeName]; ok {
		return cache, nil
	}

	cfg := r.cfg
	if profile, ok := r.manifest.Profile(typeName); ok {
		cfg.MaxSizeMB = profile.EffectiveMaxSizeMB(cfg.MaxSizeMB)
		cfg.MaxAgeDays = profile.EffectiveMaxAgeDays(cfg.MaxAgeDays)
	}

	cache, err := New(cfg, typeName)
	if err != nil {
		return nil, err
	}

	var wrapped Cache = cache
	if r.instrument {
		wrapped = NewInstrumented(cache)
	}
	r.caches[typeName] = wrapped
	return wrapped, nil
}

// All returns the cache for every declared type, constructing any that
// have not been used yet.
func (r *Registry) All() ([]Cache, error) {
	names := r.Names()
	caches := make([]Cache, 0, len(names))
	for _, name := range names {
		cache, err := r.Get(name)
		if err != nil {
			return nil, err
		}
		caches = append(caches, cache)
	}
	return caches, nil
}
