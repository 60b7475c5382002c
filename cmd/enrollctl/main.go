// Command enrollctl operates an enrollment store directly: evolve
// experiments against it, force an opt-in or opt-out, and inspect the
// current enrollment view.
//
// # Usage
//
//	enrollctl -database postgres://localhost/enrollment_core get-enrollments
//	enrollctl opt-in -slug my-experiment -branch treatment
//
// # Configuration
//
// enrollctl reads its runtime configuration from internal/config, which can
// be overridden with ENROLLCTL_CONFIG pointing at a YAML file, and accepts
// the database and redis URLs as flags or environment variables
// (ENROLLCTL_DATABASE_URL, ENROLLCTL_REDIS_URL).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nimbus-experiments/enrollment-core/internal/cache"
	"github.com/nimbus-experiments/enrollment-core/internal/config"
	"github.com/nimbus-experiments/enrollment-core/internal/enrollctl"
	"github.com/nimbus-experiments/enrollment-core/internal/enrollcore"
	"github.com/nimbus-experiments/enrollment-core/internal/store"
)

func main() {
	var (
		dbURL      = flag.String("database", "", "Database URL (postgres://...)")
		redisURL   = flag.String("redis", "", "Redis URL for the enrollments cache (optional)")
		configPath = flag.String("config", os.Getenv("ENROLLCTL_CONFIG"), "Path to a YAML config overlay")
		debug      = flag.Bool("debug", false, "Enable debug logging")
		version    = flag.Bool("version", false, "Print version and exit")
	)
	flag.Usage = usage
	flag.Parse()

	if *version {
		fmt.Println("enrollctl v0.1.0")
		os.Exit(0)
	}

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}
	cmd := enrollctl.Find(args[0])
	if cmd == nil {
		fmt.Fprintf(os.Stderr, "enrollctl: unknown command %q\n", args[0])
		flag.Usage()
		os.Exit(2)
	}

	cfgStore, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := cfgStore.Get()

	if *dbURL == "" {
		*dbURL = os.Getenv("ENROLLCTL_DATABASE_URL")
	}
	if *dbURL == "" {
		*dbURL = cfg.DatabaseURL
	}
	if *redisURL == "" {
		*redisURL = os.Getenv("ENROLLCTL_REDIS_URL")
	}
	if *redisURL == "" {
		*redisURL = cfg.RedisURL
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := store.NewPostgresStoreFromURL(ctx, *dbURL)
	cancel()
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	migCtx, migCancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer migCancel()
	if err := store.Migrate(migCtx, pool.Pool(), logger); err != nil {
		logger.Error("database migration failed", "error", err)
		os.Exit(1)
	}

	core := enrollcore.New(pool, logger)

	if *redisURL != "" {
		respCache, err := cache.New(*redisURL, logger)
		if err != nil {
			logger.Warn("enrollments cache disabled - connection failed", "error", err)
		} else {
			core = core.WithCache(respCache, cfg.CacheTTL)
			logger.Info("enrollments cache enabled")
		}
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		runCancel()
	}()

	if err := cmd.Run(runCtx, core, os.Stdout, logger, args[1:]); err != nil {
		logger.Error(cmd.Name+" failed", "error", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: enrollctl [flags] <command> [command flags]\n\nCommands:\n")
	for _, c := range enrollctl.Commands {
		fmt.Fprintf(os.Stderr, "  %s\n", c.Name)
	}
	fmt.Fprintf(os.Stderr, "\nFlags:\n")
	flag.PrintDefaults()
}
