package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/linkback/tradeverify/internal/domain"
	"github.com/linkback/tradeverify/internal/settle"
)

// SignalEmitter delivers settlement signals off the request path.
// *settle.Emitter satisfies it.
type SignalEmitter interface {
	Emit(sig settle.Signal)
}

// lockAttempts bounds how long Evaluate waits for the per-trade lock before
// falling back to reading the stored outcome.
const (
	lockAttempts  = 5
	lockRetryWait = 50 * time.Millisecond
)

// ReturnConfig holds the dwell-time tier thresholds and reward amounts.
// All values come from deployment configuration.
type ReturnConfig struct {
	RejectBelowSec float64
	FullAboveSec   float64
	PartialReward  float64
	FullReward     float64
	LockTTL        time.Duration
}

// ReturnVerifier performs the second-stage dwell-time evaluation that
// finalises reward eligibility and tier.
type ReturnVerifier struct {
	ledger  domain.TradeLedger
	locks   domain.LockManager
	emitter SignalEmitter
	events  domain.EventPublisher
	cfg     ReturnConfig
	logger  *slog.Logger
}

// NewReturnVerifier creates a ReturnVerifier. emitter and events may be nil.
func NewReturnVerifier(ledger domain.TradeLedger, locks domain.LockManager, emitter SignalEmitter, events domain.EventPublisher, cfg ReturnConfig, logger *slog.Logger) *ReturnVerifier {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Second
	}
	return &ReturnVerifier{
		ledger:  ledger,
		locks:   locks,
		emitter: emitter,
		events:  events,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "return_verifier")),
	}
}

// decideTier maps a dwell time onto the configured reward tiers.
func (v *ReturnVerifier) decideTier(dwell float64) (domain.TradeStatus, domain.RewardTier, float64) {
	switch {
	case dwell < v.cfg.RejectBelowSec:
		return domain.StatusRejected, domain.TierNone, 0
	case dwell < v.cfg.FullAboveSec:
		return domain.StatusVerified, domain.TierPartial, v.cfg.PartialReward
	default:
		return domain.StatusVerified, domain.TierFull, v.cfg.FullReward
	}
}

// Evaluate converts a return event into a reward-tier decision. Only a
// PENDING_RETURN trade is evaluated; a trade already settled by the return
// path replays its stored outcome (idempotent re-submission), a trade
// settled by the proof path or expired returns domain.ErrConflict, and a
// return that arrives before the redirect was confirmed is rejected as
// out-of-order. Concurrent calls for the same trade are serialised by a
// per-trade lock; the loser observes the winner's stored outcome.
func (v *ReturnVerifier) Evaluate(ctx context.Context, tradeID string, dwell float64) (domain.ReturnOutcome, error) {
	if tradeID == "" {
		return domain.ReturnOutcome{}, fmt.Errorf("verify: trade id required: %w", domain.ErrValidation)
	}
	if dwell < 0 {
		return domain.ReturnOutcome{}, fmt.Errorf("verify: dwell time must be non-negative: %w", domain.ErrValidation)
	}

	unlock, err := v.acquireLock(ctx, tradeID)
	if err != nil {
		// Lock still held after retries: the concurrent holder owns the
		// transition. Report its outcome if it already landed.
		if errors.Is(err, domain.ErrLockHeld) {
			return v.storedOutcome(ctx, tradeID)
		}
		return domain.ReturnOutcome{}, err
	}
	defer unlock()

	t, err := v.ledger.GetByID(ctx, tradeID)
	if err != nil {
		return domain.ReturnOutcome{}, err
	}

	switch {
	case t.Status == domain.StatusPendingReturn:
		// Eligible, fall through to evaluation.
	case t.Status == domain.StatusVerified || t.Status == domain.StatusRejected:
		return v.replay(tradeID, t)
	case t.Status == domain.StatusExpired:
		return domain.ReturnOutcome{}, fmt.Errorf("verify: trade %s expired: %w", tradeID, domain.ErrConflict)
	default:
		// CREATED or REDIRECTED: the return arrived before the redirect was
		// ever confirmed.
		return domain.ReturnOutcome{}, fmt.Errorf("verify: trade %s is %s, return out of order: %w",
			tradeID, t.Status, domain.ErrConflict)
	}

	status, tier, amount := v.decideTier(dwell)
	now := time.Now().UTC()

	updated, err := v.ledger.RecordReturn(ctx, tradeID, dwell, now, status, tier, amount)
	if err != nil {
		// Lost a race despite the lock (e.g. lock TTL lapsed): surface the
		// stored outcome when the trade settled via the return path.
		if errors.Is(err, domain.ErrConflict) &&
			(updated.Status == domain.StatusVerified || updated.Status == domain.StatusRejected) {
			return v.replay(tradeID, updated)
		}
		return domain.ReturnOutcome{}, err
	}

	if v.events != nil {
		v.events.Publish(domain.TradeEvent{
			TradeID: updated.ID,
			Status:  updated.Status,
			Tier:    tier,
			At:      now,
		})
	}

	if status == domain.StatusVerified && v.emitter != nil {
		v.emitter.Emit(settle.Signal{
			TradeID:         tradeID,
			Status:          status,
			Tier:            tier,
			SecondaryReward: amount,
			DwellTime:       &dwell,
			Path:            "return",
			OccurredAt:      now,
		})
	}

	v.logger.InfoContext(ctx, "return evaluated",
		slog.String("trade_id", tradeID),
		slog.Float64("dwell_time", dwell),
		slog.String("status", string(status)),
		slog.String("tier", string(tier)),
	)

	return domain.ReturnOutcome{
		TradeID:         tradeID,
		Status:          status,
		Tier:            tier,
		DwellTime:       dwell,
		SecondaryReward: amount,
	}, nil
}

// acquireLock obtains the per-trade lock, retrying briefly so that a
// duplicate client fire waits for the first evaluation instead of failing.
func (v *ReturnVerifier) acquireLock(ctx context.Context, tradeID string) (func(), error) {
	var lastErr error
	for i := 0; i < lockAttempts; i++ {
		unlock, err := v.locks.Acquire(ctx, "trade:"+tradeID, v.cfg.LockTTL)
		if err == nil {
			return unlock, nil
		}
		lastErr = err
		if !errors.Is(err, domain.ErrLockHeld) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("verify: acquire lock for %s: %w", tradeID, ctx.Err())
		case <-time.After(lockRetryWait):
		}
	}
	return nil, lastErr
}

// storedOutcome reads the trade and replays its settled outcome, or reports
// a conflict when no outcome has landed yet.
func (v *ReturnVerifier) storedOutcome(ctx context.Context, tradeID string) (domain.ReturnOutcome, error) {
	t, err := v.ledger.GetByID(ctx, tradeID)
	if err != nil {
		return domain.ReturnOutcome{}, err
	}
	if t.Status == domain.StatusVerified || t.Status == domain.StatusRejected {
		return v.replay(tradeID, t)
	}
	return domain.ReturnOutcome{}, fmt.Errorf("verify: trade %s evaluation in progress: %w",
		tradeID, domain.ErrConflict)
}

// replay rebuilds the outcome stored on a trade settled by the return path.
// A trade settled by the proof path has no dwell time and conflicts instead.
func (v *ReturnVerifier) replay(tradeID string, t domain.Trade) (domain.ReturnOutcome, error) {
	if t.DwellTime == nil {
		return domain.ReturnOutcome{}, fmt.Errorf("verify: trade %s settled by proof claim: %w",
			tradeID, domain.ErrConflict)
	}

	out := domain.ReturnOutcome{
		TradeID:   tradeID,
		Status:    t.Status,
		Tier:      domain.TierNone,
		DwellTime: *t.DwellTime,
		Replayed:  true,
	}
	if t.RewardTier != nil {
		out.Tier = *t.RewardTier
	}
	if t.SecondaryReward != nil {
		out.SecondaryReward = *t.SecondaryReward
	}
	return out, nil
}
