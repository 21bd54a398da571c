// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
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

	"github.com/starford/ansuz/internal/api"
	"github.com/starford/ansuz/internal/event"
	"github.com/starford/ansuz/internal/mcpserver"
	"github.com/starford/ansuz/internal/notedb"
	"github.com/starford/ansuz/internal/noteservice"
	"github.com/starford/ansuz/internal/notestore"
	"github.com/starford/ansuz/internal/observer"
	"github.com/starford/ansuz/internal/observers"
	"github.com/starford/ansuz/internal/pipeline"
	"github.com/starford/ansuz/internal/runtime"
	"github.com/starford/ansuz/internal/scripts"
	"github.com/starford/ansuz/internal/sse"
	"github.com/starford/ansuz/internal/watcher"
)

// core holds the wired pipeline shared by every command mode.
type core struct {
	cfg      *Config
	logger   *slog.Logger
	store    *notestore.FS
	db       *notedb.DB
	registry *observer.Registry
	norm     *event.Normalizer
	pipe     *pipeline.Pipeline
	svc      *noteservice.Service
	loader   *scripts.Loader
	jsWorker *runtime.JSWorker
}

func (c *core) close() {
	if c.jsWorker != nil {
		c.jsWorker.Close()
	}
	if c.db != nil {
		_ = c.db.Close()
	}
}

// buildCore assembles the store, runtimes, observer registry, and pipeline
// from configuration. cb receives pipeline notifications and may be nil.
func buildCore(cfg *Config, cb pipeline.Callback) (*core, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	if err := os.MkdirAll(cfg.Vault.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create vault dir: %w", err)
	}

	store, err := notestore.NewFS(cfg.Vault.Path)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	db, err := notedb.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init note db: %w", err)
	}

	luaPool := runtime.NewLuaPool(int64(cfg.Pipeline.LuaPool))
	jsWorker := runtime.NewJSWorker(logger)

	registry := observer.NewRegistry()
	registry.Register(observers.Timestamp(time.Now))
	registry.Register(observers.Toc())
	registry.Register(observers.CodeFence(luaPool))
	registry.Register(observers.TagIndex(store))
	registry.Register(observers.SQLite(db))

	var loader *scripts.Loader
	if cfg.Scripts.Dir != "" {
		loader = scripts.NewLoader(cfg.Scripts.Dir, registry, luaPool, jsWorker, logger)
		if err := loader.Load(); err != nil {
			logger.Warn("script load failed", slog.String("error", err.Error()))
		}
	}

	norm := event.NewNormalizer(store, logger)
	if err := norm.Seed(); err != nil {
		logger.Warn("normalizer seed failed", slog.String("error", err.Error()))
	}

	pipe := pipeline.New(store, registry, norm, int64(cfg.Pipeline.Workers), logger, cb)
	svc := noteservice.New(store, norm, pipe, registry, logger)

	return &core{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		db:       db,
		registry: registry,
		norm:     norm,
		pipe:     pipe,
		svc:      svc,
		loader:   loader,
		jsWorker: jsWorker,
	}, nil
}

func buildApp(opts []Option) (*application, error) {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

// Run starts the watch mode: the file watcher feeds the observer pipeline
// until a shutdown signal arrives. The HTTP API runs alongside when enabled.
func Run(ctx context.Context, opts ...Option) error {
	app, err := buildApp(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	broker := sse.NewBroker()
	defer broker.Close()

	c, err := buildCore(cfg, broker.Publish)
	if err != nil {
		return err
	}
	defer c.close()

	c.logger.Info("Configuration loaded",
		slog.String("vault_path", cfg.Vault.Path),
		slog.String("scripts_dir", cfg.Scripts.Dir),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.Int("observers", len(c.registry.All())),
		slog.String("log_level", cfg.App.LogLevel.String()))

	w, err := watcher.New(cfg.Vault.Path, cfg.Pipeline.Debounce, c.logger)
	if err != nil {
		return fmt.Errorf("init watcher: %w", err)
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return w.Run(gCtx)
	})

	g.Go(func() error {
		for {
			select {
			case <-gCtx.Done():
				return nil
			case ch, ok := <-w.Changes():
				if !ok {
					return nil
				}
				c.pipe.HandleChange(gCtx, ch)
			}
		}
	})

	var httpServer *http.Server
	if cfg.App.HTTP.Enabled {
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
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})

		r.Mount("/api", api.NewRouter(c.svc, reloaderOrNil(c.loader), cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker))

		httpServer = &http.Server{
			Addr:    cfg.App.HTTP.Address(),
			Handler: r,
		}

		g.Go(func() error {
			c.logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("HTTP server error: %w", err)
			}
			return nil
		})
	}

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			c.logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			c.logger.Info("Context cancelled, initiating shutdown")
		}

		c.logger.Info("Shutting down...")

		if httpServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				c.logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
			}
		}

		if !c.pipe.Drain(cfg.Pipeline.ShutdownGrace) {
			c.logger.Warn("pipeline drain timed out", slog.Duration("grace", cfg.Pipeline.ShutdownGrace))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		c.logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	c.logger.Info("Stopped successfully")
	return nil
}

// reloaderOrNil avoids handing the API a typed-nil interface value.
func reloaderOrNil(l *scripts.Loader) api.Reloader {
	if l == nil {
		return nil
	}
	return l
}

// Sync runs every observer against every note once and exits.
func Sync(ctx context.Context, opts ...Option) error {
	app, err := buildApp(opts)
	if err != nil {
		return err
	}

	c, err := buildCore(app.config, nil)
	if err != nil {
		return err
	}
	defer c.close()

	count, err := c.svc.SyncAll(ctx)
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	c.svc.Wait()
	c.logger.Info("Sync complete", slog.Int("notes", count))
	return nil
}

// Observers prints the registered observers in dispatch order and exits.
func Observers(_ context.Context, opts ...Option) error {
	app, err := buildApp(opts)
	if err != nil {
		return err
	}

	c, err := buildCore(app.config, nil)
	if err != nil {
		return err
	}
	defer c.close()

	for _, b := range c.registry.All() {
		d := b.Descriptor
		events := "all"
		if len(d.Events) > 0 {
			events = ""
			for i, k := range d.Events {
				if i > 0 {
					events += ","
				}
				events += string(k)
			}
		}
		fmt.Printf("%-20s runtime=%-6s priority=%-4d timeout=%-6s events=%s\n",
			d.Name, d.Runtime, d.Priority, d.EffectiveTimeout(), events)
	}
	return nil
}

// ServeMCP starts the MCP server on stdin/stdout.
func ServeMCP(_ context.Context, opts ...Option) error {
	app, err := buildApp(opts)
	if err != nil {
		return err
	}

	c, err := buildCore(app.config, nil)
	if err != nil {
		return err
	}
	defer c.close()

	srv := mcpserver.New(c.svc)
	if err := srv.ServeStdio(); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}
