// Package verify implements the trade verification state machine: the
// first-stage delivery gate, the second-stage dwell-time evaluation, and the
// proof-claim settlement path.
package verify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/linkback/tradeverify/internal/domain"
)

// DeliveryVerifier performs the first-stage gate: it establishes that a
// redirect genuinely occurred and moves the trade to PENDING_RETURN so the
// system starts waiting for the user's return signal.
type DeliveryVerifier struct {
	ledger domain.TradeLedger
	policy AdmissionPolicy
	events domain.EventPublisher
	logger *slog.Logger
}

// NewDeliveryVerifier creates a DeliveryVerifier. events may be nil.
func NewDeliveryVerifier(ledger domain.TradeLedger, policy AdmissionPolicy, events domain.EventPublisher, logger *slog.Logger) *DeliveryVerifier {
	if policy == nil {
		policy = AllowAll{}
	}
	return &DeliveryVerifier{
		ledger: ledger,
		policy: policy,
		events: events,
		logger: logger.With(slog.String("component", "delivery_verifier")),
	}
}

// ConfirmRedirect transitions the trade to PENDING_RETURN. It is idempotent:
// a trade already at PENDING_RETURN or VERIFIED returns successfully without
// mutation, so duplicate dispatcher calls (page reloads, retries) are
// harmless. A REJECTED or EXPIRED trade returns domain.ErrConflict; an
// unknown trade returns domain.ErrNotFound.
func (v *DeliveryVerifier) ConfirmRedirect(ctx context.Context, tradeID string) (domain.Trade, error) {
	if tradeID == "" {
		return domain.Trade{}, fmt.Errorf("verify: trade id required: %w", domain.ErrValidation)
	}

	t, err := v.ledger.GetByID(ctx, tradeID)
	if err != nil {
		return domain.Trade{}, err
	}

	// Already past the gate: idempotent no-op.
	if t.Status.AtOrPast(domain.StatusPendingReturn) {
		if t.Status == domain.StatusRejected || t.Status == domain.StatusExpired {
			return t, fmt.Errorf("verify: trade %s is %s: %w", tradeID, t.Status, domain.ErrConflict)
		}
		return t, nil
	}

	if err := v.policy.Admit(ctx, t); err != nil {
		return t, err
	}

	updated, err := v.ledger.MarkPendingReturn(ctx, tradeID, time.Now().UTC())
	if err != nil {
		return updated, err
	}

	if updated.Status != t.Status && v.events != nil {
		v.events.Publish(domain.TradeEvent{
			TradeID: updated.ID,
			Status:  updated.Status,
			At:      time.Now().UTC(),
		})
	}

	v.logger.InfoContext(ctx, "redirect confirmed",
		slog.String("trade_id", tradeID),
		slog.String("status", string(updated.Status)),
	)

	return updated, nil
}
