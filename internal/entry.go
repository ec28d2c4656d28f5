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

	"github.com/starford/perthro/internal/api"
	"github.com/starford/perthro/internal/autosave"
	"github.com/starford/perthro/internal/ledger"
	"github.com/starford/perthro/internal/mcpserver"
	"github.com/starford/perthro/internal/remote"
	"github.com/starford/perthro/internal/scriptservice"
	"github.com/starford/perthro/internal/sse"
	"github.com/starford/perthro/internal/workspace"
)

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("remote_base_url", cfg.Remote.BaseURL),
		slog.String("workspace_path", cfg.Workspace.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Initialize version ledger.
	db, err := ledger.Open(cfg.SQLite.Path)
	if err != nil {
		return fmt.Errorf("init ledger: %w", err)
	}
	defer db.Close()

	// Remote script service client.
	rc := remote.NewHTTP(cfg.Remote.BaseURL, cfg.Remote.Token, cfg.Remote.Timeout())

	// SSE broker fed by service events.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	svc := scriptservice.New(db, rc, cfg.Retention.MaxAutosaves, broker.PublishVersionEvent)

	// Optional editing workspace.
	var ws *workspace.FS
	if cfg.Workspace.Path != "" {
		if err := os.MkdirAll(cfg.Workspace.Path, 0o755); err != nil {
			return fmt.Errorf("create workspace dir: %w", err)
		}
		ws, err = workspace.New(cfg.Workspace.Path)
		if err != nil {
			return fmt.Errorf("init workspace: %w", err)
		}
	}

	apiRouter := api.NewRouter(svc, ws, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

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

	// Start autosave watcher over the workspace.
	if ws != nil && cfg.Workspace.Watch {
		g.Go(func() error {
			return autosave.Watch(gCtx, svc, ws, cfg.Workspace.Debounce(), logger)
		})
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

// RunMCP serves the MCP stdio transport with the given options. The logger
// goes to stderr because stdout belongs to the protocol.
func RunMCP(_ context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	db, err := ledger.Open(cfg.SQLite.Path)
	if err != nil {
		return fmt.Errorf("init ledger: %w", err)
	}
	defer db.Close()

	rc := remote.NewHTTP(cfg.Remote.BaseURL, cfg.Remote.Token, cfg.Remote.Timeout())
	svc := scriptservice.New(db, rc, cfg.Retention.MaxAutosaves, nil)

	logger.Info("MCP server starting on stdio")
	return mcpserver.New(svc).ServeStdio()
}
