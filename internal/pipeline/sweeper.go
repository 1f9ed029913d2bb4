package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/linkback/tradeverify/internal/domain"
)

// Alerter receives sweep summaries. *notify.Notifier satisfies it.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Sweeper periodically expires trades that never completed verification
// within the configured TTL. EXPIRED is terminal, so a late return or proof
// claim for a swept trade observes a conflict.
type Sweeper struct {
	ledger   domain.TradeLedger
	ttl      time.Duration
	interval time.Duration
	alerter  Alerter
	logger   *slog.Logger
}

// NewSweeper creates a Sweeper. alerter may be nil.
func NewSweeper(ledger domain.TradeLedger, ttl, interval time.Duration, alerter Alerter, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Sweeper{
		ledger:   ledger,
		ttl:      ttl,
		interval: interval,
		alerter:  alerter,
		logger:   logger.With(slog.String("component", "sweeper")),
	}
}

// Run sweeps on a ticker until the context is cancelled. The first sweep
// happens immediately so a restart does not delay expiry by a full interval.
func (s *Sweeper) Run(ctx context.Context) error {
	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep runs one expiry pass.
func (s *Sweeper) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.ttl)

	n, err := s.ledger.ExpireStale(ctx, cutoff)
	if err != nil {
		s.logger.ErrorContext(ctx, "expiry sweep failed",
			slog.String("error", err.Error()),
		)
		return
	}

	if n == 0 {
		return
	}

	s.logger.InfoContext(ctx, "expired stale trades",
		slog.Int64("count", n),
		slog.Time("cutoff", cutoff),
	)

	if s.alerter != nil {
		_ = s.alerter.Notify(ctx, "expiry", "trades expired",
			fmt.Sprintf("%d trade(s) passed the %s verification window", n, s.ttl))
	}
}
