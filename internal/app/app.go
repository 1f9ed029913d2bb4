// Package app provides the top-level lifecycle of the trade verification
// service. It wires the trade ledger, caches, blob storage, verification
// services, background pipeline, and HTTP server, and runs them until the
// context is cancelled.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/linkback/tradeverify/internal/config"
)

// App is the root application object. It owns the configuration, logger, and
// a list of cleanup functions called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, starts the HTTP server, event hub, and
// background pipeline, and blocks until the context is cancelled or a
// component fails.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting trade verification service",
		slog.Int("port", a.cfg.Server.Port),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Server.Start()
	})

	g.Go(func() error {
		return deps.Hub.Run(ctx)
	})

	g.Go(func() error {
		return deps.Orchestrator.Run(ctx)
	})

	// Shut the server down when the context ends so Start returns.
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return deps.Server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Close tears down all resources in reverse registration order. Safe to call
// multiple times.
func (a *App) Close() {
	a.logger.Info("shutting down trade verification service")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
