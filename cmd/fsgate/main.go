package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"fsgate/internal/command"
	"fsgate/internal/config"
	"fsgate/internal/extract"
	"fsgate/internal/gateway"
	"fsgate/internal/gitrun"
	"fsgate/internal/logging"
	"fsgate/internal/mutation"
	"fsgate/internal/pathguard"
	"fsgate/internal/search"
	"fsgate/internal/sizeguard"
	"fsgate/internal/taskdb"
	"fsgate/internal/taskreg"
	"fsgate/internal/validator"
)

var version = "dev"
var buildTime = "unknown"

func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gateway.Version = version

	app := command.BuildApp(command.Deps{
		LoadConfig: config.Load,
		RunStdio: func(ctx context.Context, cfg config.Config) error {
			return runServe(ctx, cfg, "stdio")
		},
		RunHTTP: func(ctx context.Context, cfg config.Config) error {
			return runServe(ctx, cfg, "http")
		},
		RunMigrateUp: runMigrateUp,
	})

	if err := app.RunContext(rootCtx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "fsgate:", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context, cfg config.Config, transport string) error {
	log := logging.NewLogger(logging.Options{Level: cfg.LogLevel, Component: "fsgate"})
	log.Info("starting", "version", version, "build_time", buildTime, "transport", transport, "root", cfg.Root)

	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	policy, err := config.NewPolicyStore(cfg.StateDir).LoadOrInit()
	if err != nil {
		return fmt.Errorf("load policy: %w", err)
	}

	guard, err := pathguard.New(cfg.Root, policy.ProtectedPaths, policy.MaxPathLength)
	if err != nil {
		return fmt.Errorf("sandbox root: %w", err)
	}

	db, err := taskdb.Open(filepath.Join(cfg.StateDir, "tasks.db"))
	if err != nil {
		return fmt.Errorf("open task ledger: %w", err)
	}
	ledger, err := taskdb.NewLedger(db)
	if err != nil {
		return fmt.Errorf("migrate task ledger: %w", err)
	}

	sizes := sizeguard.New(policy.MaxFileSizeBytes())
	checks := validator.New(validator.Config{
		MinWorkers:     policy.Validator.MinWorkers,
		MaxWorkers:     policy.Validator.MaxWorkers,
		AcquireTimeout: policy.AcquireTimeout(),
		CheckTimeout:   policy.CheckTimeout(),
	}, validator.DefaultChecks()...)
	defer checks.Close()
	engine := mutation.NewEngine(guard, sizes, checks, log)
	index := search.NewIndex(guard, search.Config{
		Workers:  policy.Search.Workers,
		MaxBytes: policy.SearchMaxFileBytes(),
	})
	tasks := taskreg.New(guard, taskreg.Config{
		OutputWindow: policy.Tasks.OutputWindowKB * 1024,
		GracePeriod:  policy.GracePeriod(),
		Retention:    policy.Retention(),
	}, ledger, log)
	defer tasks.Close()

	gw := gateway.New(gateway.Deps{
		Guard:     guard,
		Engine:    engine,
		Search:    index,
		Tasks:     tasks,
		Git:       gitrun.NewExecRunner(guard, "git", 0),
		Extractor: extract.MetadataFallback{},
		Vision:    extract.MetadataFallback{},
		Log:       log,
	})

	if transport == "http" {
		return gw.RunHTTP(ctx, cfg.HTTPHost, cfg.HTTPPort)
	}
	return gw.RunStdio(ctx)
}

func runMigrateUp(_ context.Context, cfg config.Config) error {
	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	db, err := taskdb.Open(filepath.Join(cfg.StateDir, "tasks.db"))
	if err != nil {
		return err
	}
	return taskdb.SyncSchema(db)
}
