// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/airules/internal/api"
	"github.com/starford/airules/internal/mcpserver"
	"github.com/starford/airules/internal/watch"
)

// Run starts the HTTP server with the given options and blocks until a
// shutdown signal arrives or ctx is cancelled.
func Run(ctx context.Context, opts ...Option) error {
	app, err := NewApp(opts...)
	if err != nil {
		return err
	}
	defer app.Close()

	return app.Serve(ctx)
}

// RunMCP serves the MCP tools on stdin/stdout. Logs must not go to stdout
// in this mode; pass WithLogWriter(os.Stderr).
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := NewApp(opts...)
	if err != nil {
		return err
	}
	defer app.Close()

	app.Logger.Info("MCP server starting", slog.String("version", app.Version))
	return mcpserver.New(app.Service, app.Version).ServeStdio()
}

// Handler returns the root HTTP handler: health checks plus the API under /api.
func (a *App) Handler() http.Handler {
	cfg := a.Config
	apiRouter := api.NewRouter(a.Service, cfg.Auth.AuthEnabled(), cfg.Auth.Token, a.Events)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		sum := a.Service.Summary()
		status := http.StatusOK
		state := "ok"
		if sum.Count == 0 {
			status = http.StatusServiceUnavailable
			state = "loading"
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": state,
			"tier":   sum.Tier,
			"count":  sum.Count,
		})
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)
	return r
}

// Serve runs the HTTP server, the initial load and the directory watcher.
func (a *App) Serve(ctx context.Context) error {
	cfg := a.Config
	logger := a.Logger

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Initial load.
	g.Go(func() error {
		sum := a.Service.Load(gCtx, false)
		logger.Info("Recipes loaded",
			slog.String("tier", sum.Tier.String()),
			slog.Int("count", sum.Count),
			slog.Int("local", sum.Local))
		return nil
	})

	// Reload when the cache or the local recipe directory changes on disk.
	g.Go(func() error {
		dirs := []string{cfg.Cache.Dir}
		if cfg.Local.Dir != "" {
			dirs = append(dirs, cfg.Local.Dir)
		}
		err := watch.Dirs(gCtx, dirs, watch.DefaultDebounce, logger, func(paths []string) {
			logger.Debug("recipe files changed", slog.Int("paths", len(paths)))
			a.Events.PublishChange(paths)
			a.Service.Reload()
		})
		if err != nil {
			logger.Warn("watcher stopped", slog.String("error", err.Error()))
		}
		return nil
	})

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}
