package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/airules/internal"
	pkgconfig "github.com/starford/airules/pkg/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// loadConfig reads the config file (optional) and applies global flag
// overrides on top of file and environment values.
func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	root := cmd.Root()

	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadOptional(root.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if v := root.String("list-endpoint"); v != "" {
		cfg.Remote.ListEndpoint = v
	}
	if root.IsSet("content-base") {
		cfg.Remote.ContentBase = root.String("content-base")
	}
	if d := root.Duration("ttl"); d > 0 {
		cfg.Cache.TTL = d
	}
	if root.Bool("no-bundled") {
		cfg.Cache.AllowBundledFallback = false
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// openApp wires the application for a one-shot CLI command. Logs go to
// stderr and stay quiet unless --verbose is given.
func openApp(cmd *cli.Command) (*internal.App, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	cfg.App.LogFormat = internal.LogFormatText
	if cmd.Root().Bool("verbose") {
		cfg.App.LogLevel = slog.LevelDebug
	} else if cfg.App.LogLevel < slog.LevelWarn {
		cfg.App.LogLevel = slog.LevelWarn
	}
	return internal.NewApp(
		internal.WithConfig(cfg),
		internal.WithLogWriter(os.Stderr),
		internal.WithVersion(version),
	)
}

// withApp opens the app, runs fn and closes it. With the global --refresh
// flag the recipe set is force-refreshed before fn runs.
func withApp(fn func(ctx context.Context, cmd *cli.Command, app *internal.App) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		app, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		if cmd.Root().Bool("refresh") {
			app.Service.Load(ctx, true)
		}
		return fn(ctx, cmd, app)
	}
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if p := cmd.Int("port"); p > 0 {
		cfg.App.HTTP.Port = int(p)
	}
	if err := internal.Run(ctx,
		internal.WithConfig(cfg),
		internal.WithVersion(version),
	); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func mcp(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.RunMCP(ctx,
		internal.WithConfig(cfg),
		internal.WithLogWriter(os.Stderr),
		internal.WithVersion(version),
	); err != nil {
		return fmt.Errorf("mcp run error: %w", err)
	}
	return nil
}

func newCommand(stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:    "airules",
		Usage:   "Resolve, cache and search technology-stack recipes for AI coding assistants",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file (optional)",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("AIRULES_CONFIG_FILE"),
			},
			&cli.BoolFlag{
				Name:  "refresh",
				Usage: "Bypass the cache and fetch recipes from the remote first",
			},
			&cli.StringFlag{
				Name:  "list-endpoint",
				Usage: "Override the remote listing endpoint",
			},
			&cli.StringFlag{
				Name:  "content-base",
				Usage: "Override the raw content base URL (empty uses listed download URLs)",
			},
			&cli.DurationFlag{
				Name:  "ttl",
				Usage: "Override the cache time-to-live",
			},
			&cli.BoolFlag{
				Name:  "no-bundled",
				Usage: "Do not fall back to the bundled recipes",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Log debug output to stderr",
			},
		},
		Commands: commands(stdout),
	}
}

func main() {
	cmd := newCommand(os.Stdout)
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
