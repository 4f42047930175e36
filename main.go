package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/pagefold/extract-cache/internal/config"
	"github.com/pagefold/extract-cache/internal/diskcache"
	"github.com/pagefold/extract-cache/internal/maintain"
	"github.com/pagefold/extract-cache/internal/observe"
)

func main() {
	configureLogging()

	logBuildInfo()

	err := launchDaemon()
	if err != nil {
		log.Fatal().Err(err).Msg("cache daemon failed to start")
	}
}

func launchDaemon() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("configuration load failed: %w", err)
	}

	applyLogConfig(cfg.Log)

	// configure telemetry before any cache construction so the
	// instrumented facades register against the real providers
	shutdownTelemetry, err := observe.Configure(ctx, cfg.Observe)
	if err != nil {
		return fmt.Errorf("telemetry bootstrap failed: %w", err)
	}

	var hooks maintain.ShutdownHooks
	hooks.AddContext("telemetry", shutdownTelemetry)

	registry, err := configureRegistry(cfg)
	if err != nil {
		return err
	}

	caches, err := registry.All()
	if err != nil {
		return fmt.Errorf("cache initialization failed: %w", err)
	}

	if cfg.Maintenance.Enabled {
		maintainers := make([]maintain.Maintainer, len(caches))
		for i, c := range caches {
			maintainers[i] = c
		}

		runner := maintain.NewRunner(cfg.Maintenance.Interval(), maintainers...)
		go runner.Run(ctx)

		log.Info().
			Dur("interval", cfg.Maintenance.Interval()).
			Int("cache_types", len(caches)).
			Msg("maintenance loop started")
	} else {
		log.Info().Msg("maintenance disabled, daemon idle")
	}

	<-ctx.Done()
	stop()
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	hooks.Execute(shutdownCtx)

	return nil
}

func configureRegistry(cfg config.Config) (*diskcache.Registry, error) {
	var opts []diskcache.RegistryOption

	if cfg.Cache.TypesProfile != "" {
		manifest, err := config.LoadTypes(cfg.Cache.TypesProfile)
		if err != nil {
			return nil, fmt.Errorf("cache type manifest load failed: %w", err)
		}
		log.Info().
			Str("path", cfg.Cache.TypesProfile).
			Strs("types", manifest.Names()).
			Msg("cache type manifest loaded")
		opts = append(opts, diskcache.WithManifest(manifest))
	}

	if cfg.Observe.Enabled && cfg.Observe.MetricsEnabled {
		opts = append(opts, diskcache.WithInstrumentation())
	}

	return diskcache.NewRegistry(cfg.Cache, opts...), nil
}

func configureLogging() {
	// Set global level to the minimum: allows the Open Telemetry logging to be
	// configured separately. However, it means that any logger that sets its
	// level will log as this effectively disables the global level.
	zerolog.SetGlobalLevel(zerolog.Level(-128))

	// default level is Info
	log.Logger = log.Level(zerolog.InfoLevel)

	if os.Getenv("ENV") == "development" {
		log.Logger = log.
			Output(zerolog.ConsoleWriter{Out: os.Stdout}).
			Level(zerolog.DebugLevel)
	}

	zerolog.DefaultContextLogger = &log.Logger
}

// applyLogConfig narrows the bootstrap logging to the configured level
// and, when a log file is set, rotates output there instead of stderr.
func applyLogConfig(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		log.Warn().Str("level", cfg.Level).Msg("unknown log level, keeping info")
		level = zerolog.InfoLevel
	}

	log.Logger = log.Level(level)

	if cfg.File != "" {
		log.Logger = log.Output(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}).Level(level)
	}

	zerolog.DefaultContextLogger = &log.Logger
}

func logBuildInfo() {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	ev := log.Info()
	for _, v := range buildInfo.Settings {
		if strings.HasPrefix(v.Key, "vcs.") ||
			strings.HasPrefix(v.Key, "GO") ||
			v.Key == "CGO_ENABLED" {
			ev = ev.Str(v.Key, v.Value)
		}
	}

	ev.Msg("build information")
}
