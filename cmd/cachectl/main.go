// This command is an operations utility: it runs one-shot inspection and
// cleanup passes against a configured cache root without starting the
// maintenance daemon.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pagefold/extract-cache/internal/config"
	"github.com/pagefold/extract-cache/internal/diskcache"
	"github.com/pagefold/extract-cache/internal/evict"
	"github.com/pagefold/extract-cache/internal/store"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	// results go to stdout; keep library logging quiet unless it matters
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.WarnLevel)

	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error reading config: %v\n", err)
		os.Exit(1)
	}

	switch os.Args[1] {
	case "stats":
		err = runStats(ctx, cfg)
	case "cleanup":
		err = runCleanup(ctx, cfg)
	case "clear":
		err = runClear(ctx, cfg, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: cachectl stats|cleanup|clear <type>...")
}

func typeNames(cfg config.Config) ([]string, error) {
	if cfg.Cache.TypesProfile != "" {
		manifest, err := config.LoadTypes(cfg.Cache.TypesProfile)
		if err != nil {
			return nil, err
		}
		return manifest.Names(), nil
	}
	return config.DefaultTypes, nil
}

func runStats(ctx context.Context, cfg config.Config) error {
	names, err := typeNames(cfg)
	if err != nil {
		return err
	}

	fmt.Printf("%-12s %8s %12s %12s %10s\n", "TYPE", "FILES", "SIZE_MB", "FREE_MB", "OLDEST_D")
	for _, name := range names {
		cache, err := diskcache.New(cfg.Cache, name)
		if err != nil {
			return err
		}
		stats, err := cache.Stats(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%-12s %8d %12.2f %12.2f %10.1f\n",
			name, stats.TotalFiles, stats.TotalSizeMB, stats.AvailableSpaceMB, stats.OldestFileAgeDays)
	}
	return nil
}

// runCleanup applies the global policy across every type directory in
// one parallel pass. Per-type manifest overrides are the daemon's
// concern; this path is for reclaiming space in bulk.
func runCleanup(ctx context.Context, cfg config.Config) error {
	names, err := typeNames(cfg)
	if err != nil {
		return err
	}

	stores := make([]*store.Store, 0, len(names))
	for _, name := range names {
		s, err := store.New(filepath.Join(cfg.Cache.Dir, name))
		if err != nil {
			return err
		}
		stores = append(stores, s)
	}

	opts := evict.SmartOptions{
		Options: evict.Options{
			MaxAge:       cfg.Cache.MaxAge(),
			MaxSizeBytes: cfg.Cache.MaxSizeBytes(),
			TargetRatio:  cfg.Cache.TargetSizeRatio,
		},
		MinFreeBytes: cfg.Cache.MinFreeBytes(),
		OnProbeError: evict.ProbeErrorPolicy(cfg.Cache.OnProbeError),
	}

	results, err := evict.CleanupAll(ctx, stores, opts)
	for dir, result := range results {
		fmt.Printf("%s: removed %d entries, freed %d bytes\n", dir, result.Removed, result.BytesFreed)
	}
	return err
}

func runClear(ctx context.Context, cfg config.Config, names []string) error {
	if len(names) == 0 {
		return fmt.Errorf("clear requires explicit cache type names")
	}

	for _, name := range names {
		cache, err := diskcache.New(cfg.Cache, name)
		if err != nil {
			return err
		}
		result, err := cache.Clear(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%s: removed %d entries, freed %d bytes\n", name, result.Removed, result.BytesFreed)
	}
	return nil
}
