// Package pipeline runs the background workers of the verification service:
// the pending-return dispatch queue and the expiry sweeper.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/linkback/tradeverify/internal/domain"
)

// RedirectConfirmer advances a trade to PENDING_RETURN.
// *verify.DeliveryVerifier satisfies it.
type RedirectConfirmer interface {
	ConfirmRedirect(ctx context.Context, tradeID string) (domain.Trade, error)
}

// DispatcherConfig controls queue capacity, concurrency, and the retry
// policy for the asynchronous ledger update fired after a redirect.
type DispatcherConfig struct {
	QueueSize   int
	Workers     int
	CallTimeout time.Duration
	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// job is one pending-return notification attempt.
type job struct {
	tradeID string
	attempt int
}

// Dispatcher decouples the user-visible redirect from its ledger side
// effect. The redirect handler enqueues a notification and returns
// immediately; workers mark the trade REDIRECTED, invoke the delivery
// verifier with a bounded timeout, and retry transient failures with capped
// exponential backoff. Everything here is best-effort: a failure never
// reaches the user who was already redirected.
type Dispatcher struct {
	ledger    domain.TradeLedger
	confirmer RedirectConfirmer
	queue     chan job
	cfg       DispatcherConfig
	logger    *slog.Logger
}

// NewDispatcher creates a Dispatcher. Run must be called before Enqueue has
// any effect.
func NewDispatcher(ledger domain.TradeLedger, confirmer RedirectConfirmer, cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 2 * time.Second
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 200 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Second
	}
	return &Dispatcher{
		ledger:    ledger,
		confirmer: confirmer,
		queue:     make(chan job, cfg.QueueSize),
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "dispatcher")),
	}
}

// Enqueue schedules a pending-return notification for the trade. It never
// blocks: when the queue is full the notification is dropped and logged,
// preserving the sub-request redirect latency.
func (d *Dispatcher) Enqueue(tradeID string) bool {
	select {
	case d.queue <- job{tradeID: tradeID}:
		return true
	default:
		d.logger.Warn("dispatch queue full, dropping notification",
			slog.String("trade_id", tradeID),
		)
		return false
	}
}

// Run consumes the queue with the configured number of workers until the
// context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < d.cfg.Workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case j := <-d.queue:
					d.process(ctx, j)
				}
			}
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// process performs one notification attempt and schedules a retry on
// transient failure.
func (d *Dispatcher) process(ctx context.Context, j job) {
	callCtx, cancel := context.WithTimeout(ctx, d.cfg.CallTimeout)
	defer cancel()

	// Record redirect issuance first; an already-advanced trade makes this
	// a no-op and a terminal trade makes the confirm below fail the same
	// way, so the error is only logged.
	if _, err := d.ledger.MarkRedirected(callCtx, j.tradeID, time.Now().UTC()); err != nil && !errors.Is(err, domain.ErrConflict) {
		d.logger.WarnContext(ctx, "mark redirected failed",
			slog.String("trade_id", j.tradeID),
			slog.String("error", err.Error()),
		)
	}

	_, err := d.confirmer.ConfirmRedirect(callCtx, j.tradeID)
	if err == nil {
		return
	}

	if !retryable(err) {
		d.logger.WarnContext(ctx, "pending-return notification rejected",
			slog.String("trade_id", j.tradeID),
			slog.String("error", err.Error()),
		)
		return
	}

	if j.attempt >= d.cfg.MaxRetries {
		d.logger.ErrorContext(ctx, "pending-return notification dropped after retries",
			slog.String("trade_id", j.tradeID),
			slog.Int("attempts", j.attempt+1),
			slog.String("error", err.Error()),
		)
		return
	}

	backoff := d.cfg.BaseBackoff << uint(j.attempt)
	if backoff > d.cfg.MaxBackoff {
		backoff = d.cfg.MaxBackoff
	}

	d.logger.WarnContext(ctx, "pending-return notification failed, retrying",
		slog.String("trade_id", j.tradeID),
		slog.Int("attempt", j.attempt+1),
		slog.Duration("backoff", backoff),
		slog.String("error", err.Error()),
	)

	next := job{tradeID: j.tradeID, attempt: j.attempt + 1}
	time.AfterFunc(backoff, func() {
		select {
		case d.queue <- next:
		default:
			d.logger.Warn("dispatch queue full, dropping retry",
				slog.String("trade_id", next.tradeID),
			)
		}
	})
}

// retryable reports whether the failure is transient. The pending-return
// transition is idempotent, so timeouts are safe to retry; definitive
// rejections (unknown trade, terminal state, validation) are not.
func retryable(err error) bool {
	switch {
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrConflict),
		errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrRateLimited):
		return false
	}
	return true
}
