package command

import (
	"context"
	"errors"
	"strings"

	"github.com/urfave/cli/v2"

	"fsgate/internal/config"
)

type Deps struct {
	LoadConfig   func() config.Config
	RunStdio     func(context.Context, config.Config) error
	RunHTTP      func(context.Context, config.Config) error
	RunMigrateUp func(context.Context, config.Config) error
}

func BuildApp(deps Deps) *cli.App {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:  "transport",
			Usage: "transport to serve on: stdio or http",
		},
		&cli.IntFlag{
			Name:  "port",
			Usage: "listen port for the http transport",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "log level: debug, info, warn, error",
		},
	}
	return &cli.App{
		Name:      "fsgate",
		Usage:     "governed filesystem gateway",
		ArgsUsage: "[root-dir]",
		Flags:     flags,
		Action: func(ctx *cli.Context) error {
			cfg := loadConfig(deps, ctx)
			return runServeByConfig(ctx.Context, deps, cfg)
		},
		Commands: []*cli.Command{
			{
				Name:      "serve",
				Usage:     "start the gateway",
				ArgsUsage: "[root-dir]",
				Flags:     flags,
				Action: func(ctx *cli.Context) error {
					cfg := loadConfig(deps, ctx)
					return runServeByConfig(ctx.Context, deps, cfg)
				},
				Subcommands: []*cli.Command{
					{
						Name:      "stdio",
						Usage:     "serve over stdio",
						ArgsUsage: "[root-dir]",
						Flags:     flags,
						Action: func(ctx *cli.Context) error {
							cfg := loadConfig(deps, ctx)
							cfg.Transport = "stdio"
							return runStdio(ctx.Context, deps, cfg)
						},
					},
					{
						Name:      "http",
						Usage:     "serve over streamable http",
						ArgsUsage: "[root-dir]",
						Flags:     flags,
						Action: func(ctx *cli.Context) error {
							cfg := loadConfig(deps, ctx)
							cfg.Transport = "http"
							return runHTTP(ctx.Context, deps, cfg)
						},
					},
				},
			},
			{
				Name:  "migrate",
				Usage: "run task ledger migration",
				Subcommands: []*cli.Command{
					{
						Name:  "up",
						Usage: "apply pending migrations",
						Action: func(ctx *cli.Context) error {
							cfg := loadConfig(deps, ctx)
							return runMigrateUp(ctx.Context, deps, cfg)
						},
					},
				},
			},
		},
	}
}

// loadConfig layers CLI arguments over the environment-derived config.
func loadConfig(deps Deps, ctx *cli.Context) config.Config {
	var cfg config.Config
	if deps.LoadConfig != nil {
		cfg = deps.LoadConfig()
	} else {
		cfg = config.Load()
	}
	if root := ctx.Args().First(); root != "" {
		cfg.Root = root
	}
	if t := ctx.String("transport"); t != "" {
		cfg.Transport = t
	}
	if p := ctx.Int("port"); p > 0 {
		cfg.HTTPPort = p
	}
	if l := ctx.String("log-level"); l != "" {
		cfg.LogLevel = l
	}
	return cfg
}

func runServeByConfig(ctx context.Context, deps Deps, cfg config.Config) error {
	if strings.TrimSpace(strings.ToLower(cfg.Transport)) == "http" {
		return runHTTP(ctx, deps, cfg)
	}
	return runStdio(ctx, deps, cfg)
}

func runStdio(ctx context.Context, deps Deps, cfg config.Config) error {
	if deps.RunStdio == nil {
		return errors.New("stdio runner is not configured")
	}
	return deps.RunStdio(ctx, cfg)
}

func runHTTP(ctx context.Context, deps Deps, cfg config.Config) error {
	if deps.RunHTTP == nil {
		return errors.New("http runner is not configured")
	}
	return deps.RunHTTP(ctx, cfg)
}

func runMigrateUp(ctx context.Context, deps Deps, cfg config.Config) error {
	if deps.RunMigrateUp == nil {
		return errors.New("migrate up runner is not configured")
	}
	return deps.RunMigrateUp(ctx, cfg)
}
