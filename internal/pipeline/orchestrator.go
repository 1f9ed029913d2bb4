package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Orchestrator runs the background workers as concurrent goroutines and
// stops them together on context cancellation.
type Orchestrator struct {
	dispatcher *Dispatcher
	sweeper    *Sweeper
	logger     *slog.Logger
}

// NewOrchestrator creates an Orchestrator over the given workers.
func NewOrchestrator(dispatcher *Dispatcher, sweeper *Sweeper, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		dispatcher: dispatcher,
		sweeper:    sweeper,
		logger:     logger.With(slog.String("component", "orchestrator")),
	}
}

// Run starts the workers in an errgroup. If any worker returns a
// non-context error, the shared context is cancelled and Run returns that
// error.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("pipeline orchestrator starting")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := o.dispatcher.Run(ctx)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return fmt.Errorf("dispatcher: %w", err)
	})

	g.Go(func() error {
		err := o.sweeper.Run(ctx)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return fmt.Errorf("sweeper: %w", err)
	})

	if err := g.Wait(); err != nil {
		o.logger.Error("pipeline orchestrator stopped with error",
			slog.String("error", err.Error()),
		)
		return err
	}

	o.logger.Info("pipeline orchestrator stopped cleanly")
	return nil
}
