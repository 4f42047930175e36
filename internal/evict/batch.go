package evict

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/pagefold/extract-cache/internal/store"
)

// CleanupAll runs SmartCleanup over several stores with one policy,
// in parallel. Results are keyed by directory. A failing directory does
// not stop the others; the first error is returned after all passes
// finish.
func CleanupAll(ctx context.Context, stores []*store.Store, opts SmartOptions) (map[string]Result, error) {
	results := make(map[string]Result, len(stores))

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(4)

	for _, s := range stores {
		g.Go(func() error {
			result, err := SmartCleanup(ctx, s, opts)

			mu.Lock()
			results[s.Dir()] = result
			mu.Unlock()

			return err
		})
	}

	err := g.Wait()
	return results, err
}
