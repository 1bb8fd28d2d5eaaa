package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/starford/airules/internal/bundled"
	"github.com/starford/airules/internal/cache"
	"github.com/starford/airules/internal/catalog"
	"github.com/starford/airules/internal/endpoint"
	"github.com/starford/airules/internal/recipeservice"
	"github.com/starford/airules/internal/remote"
	"github.com/starford/airules/internal/resolver"
	"github.com/starford/airules/internal/sse"
)

// App holds the wired components shared by the CLI, the HTTP server and
// the MCP server.
type App struct {
	Config    *Config
	Logger    *slog.Logger
	Endpoints *endpoint.Config
	Client    *remote.Client
	Cache     *cache.Store
	Service   *recipeservice.Service
	Events    *sse.Broker
	Version   string

	catalog *catalog.DB
}

// NewApp builds the application from options. Close releases what it opens.
func NewApp(opts ...Option) (*App, error) {
	a := &application{
		logWriter: os.Stdout,
		version:   "dev",
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	cfg := a.config

	logger := newLogger(a, cfg.App)
	slog.SetDefault(logger)

	settings := cfg.EndpointSettings()
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	endpoints := endpoint.New(settings)

	clientOpts := []remote.Option{
		remote.WithTimeout(cfg.Remote.Timeout),
		remote.WithLogger(logger),
		remote.WithUserAgent(userAgent(cfg.Remote.UserAgent, a.version)),
	}
	if token := cfg.Remote.BearerToken(); token != "" {
		clientOpts = append(clientOpts, remote.WithToken(token))
	}
	client := remote.New(endpoints, clientOpts...)

	store := cache.New(cfg.Cache.Dir, endpoints, cache.WithLogger(logger))

	res := resolver.New(client, store, endpoints,
		resolver.WithWorkers(cfg.Remote.Workers),
		resolver.WithBundled(bundled.Load),
		resolver.WithLogger(logger),
	)

	events := sse.NewBroker()
	svcOpts := []recipeservice.Option{
		recipeservice.WithLogger(logger),
		recipeservice.WithLocalDir(cfg.Local.Dir),
		recipeservice.WithOnLoad(func(s recipeservice.Summary) { events.PublishLoaded(s.Digest, s) }),
	}

	app := &App{
		Config:    cfg,
		Logger:    logger,
		Endpoints: endpoints,
		Client:    client,
		Cache:     store,
		Events:    events,
		Version:   a.version,
	}

	if cfg.SQLite.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.SQLite.Path), 0o755); err != nil {
			_ = client.Close()
			events.Close()
			return nil, fmt.Errorf("create catalog dir: %w", err)
		}
		db, err := catalog.Open(cfg.SQLite.Path)
		if err != nil {
			_ = client.Close()
			events.Close()
			return nil, fmt.Errorf("init catalog: %w", err)
		}
		app.catalog = db
		svcOpts = append(svcOpts, recipeservice.WithCatalog(db))
	}

	app.Service = recipeservice.New(res, store, endpoints, client, svcOpts...)

	logger.Debug("Configuration loaded",
		slog.String("list_endpoint", settings.ListEndpoint),
		slog.String("content_base", settings.ContentEndpointBase),
		slog.String("cache_dir", cfg.Cache.Dir),
		slog.String("local_dir", cfg.Local.Dir),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.Duration("ttl", settings.TTL),
		slog.Bool("authenticated", client.Authenticated()))

	return app, nil
}

// Close stops the event broker and releases the HTTP client and the
// catalog database.
func (a *App) Close() error {
	a.Events.Close()
	var errs []error
	if err := a.Client.Close(); err != nil {
		errs = append(errs, err)
	}
	if a.catalog != nil {
		if err := a.catalog.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func newLogger(a *application, cfg ApplicationConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	if cfg.LogFormat == LogFormatText {
		return slog.New(slog.NewTextHandler(a.logWriter, opts))
	}
	return slog.New(slog.NewJSONHandler(a.logWriter, opts))
}

func userAgent(configured, version string) string {
	if configured != "" {
		return configured
	}
	return "airules/" + version
}
