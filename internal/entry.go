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
	"github.com/starford/ansuz/internal/checksum"
	"github.com/starford/ansuz/internal/graph"
	"github.com/starford/ansuz/internal/mcpserver"
	"github.com/starford/ansuz/internal/sse"
	"github.com/starford/ansuz/internal/storage"
	syncer "github.com/starford/ansuz/internal/sync"
)

// project bundles the per-project runtime pieces.
type project struct {
	cfg     ProjectConfig
	store   *storage.FS
	service *syncer.Service
	disp    *syncer.Dispatcher
	watcher *syncer.Watcher
}

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	// Structured JSON logger. MCP mode owns stdout for the protocol, so
	// logs go to stderr there.
	logOut := os.Stdout
	if app.mcp {
		logOut = os.Stderr
	}
	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("graph_path", cfg.Graph.Path),
		slog.Int("projects", len(cfg.Projects)),
		slog.String("log_level", cfg.App.LogLevel.String()))

	db, err := graph.Open(cfg.Graph.Path)
	if err != nil {
		return fmt.Errorf("open graph: %w", err)
	}
	defer db.Close()

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	// Bring up each project: storage, detector, sync service.
	projects := make(map[string]*project, len(cfg.Projects))
	registry := make(map[string]api.Project, len(cfg.Projects))
	for _, pc := range cfg.Projects {
		p, err := setupProject(cfg, pc, db, logger, broker)
		if err != nil {
			return fmt.Errorf("project %s: %w", pc.Name, err)
		}
		projects[pc.Name] = p
		registry[pc.Name] = api.Project{Store: p.store, Sync: p.service}
	}

	// Initial reconciliation pass per project.
	for name, p := range projects {
		report, err := p.service.SyncProject(ctx)
		if err != nil {
			logger.Warn("initial sync failed",
				slog.String("project", name), slog.String("error", err.Error()))
			continue
		}
		logger.Info("initial sync complete",
			slog.String("project", name),
			slog.Int("created", report.Created),
			slog.Int("updated", report.Updated),
			slog.Int("deleted", report.Deleted),
			slog.Int("renamed", report.Renamed),
			slog.Int("errors", len(report.Errors)))
	}

	svc := api.NewService(db, registry)

	if app.mcp {
		logger.Info("Starting MCP server on stdio")
		return mcpserver.New(svc, cfg.DefaultProject()).ServeStdio()
	}

	apiRouter := api.NewRouter(svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	// Build chi router.
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

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Start per-project dispatchers and watchers.
	for _, p := range projects {
		p.disp.Start()
		if cfg.Sync.Watch {
			watcher := p.watcher
			g.Go(func() error {
				return watcher.Run(gCtx)
			})
		}
	}

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

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		for _, p := range projects {
			p.disp.Stop()
		}

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

func setupProject(cfg *Config, pc ProjectConfig, db *graph.DB, logger *slog.Logger, broker *sse.Broker) (*project, error) {
	if err := os.MkdirAll(pc.Root, 0o755); err != nil {
		return nil, fmt.Errorf("create root dir: %w", err)
	}
	store, err := storage.NewFS(pc.Root)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	proj, err := db.EnsureProject(pc.Name, store.Root(), pc.Default)
	if err != nil {
		return nil, fmt.Errorf("ensure project: %w", err)
	}

	name := pc.Name
	detector := checksum.NewDetector(cfg.Sync.RenameWindow())
	service := syncer.NewService(db, store, proj, detector, logger, syncer.Options{
		RegeneratePermalinksOnMove: pc.PermalinksFollowMoves,
		ReadRetries:                cfg.Sync.ReadRetries,
	}, func(kind, path string) {
		broker.PublishEntityEvent(kind, name, path)
	})
	if err := service.SeedDetector(); err != nil {
		return nil, fmt.Errorf("seed detector: %w", err)
	}

	disp := syncer.NewDispatcher(service, cfg.Sync.Workers, cfg.Sync.QueueSize, cfg.Sync.RenameWindow(), logger)
	watcher := syncer.NewWatcher(store.Root(), disp, cfg.Sync.Debounce(), logger)

	return &project{
		cfg:     pc,
		store:   store,
		service: service,
		disp:    disp,
		watcher: watcher,
	}, nil
}
