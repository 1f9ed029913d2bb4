package verify

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/linkback/tradeverify/internal/domain"
)

// AdmissionPolicy is the pluggable first-stage gate consulted before a
// trade is admitted into PENDING_RETURN. Richer fraud heuristics slot in
// here without touching the verifier.
type AdmissionPolicy interface {
	// Admit returns nil to admit the trade. A denial should wrap
	// domain.ErrRateLimited or domain.ErrConflict so handlers can map it.
	Admit(ctx context.Context, t domain.Trade) error
}

// AllowAll admits every trade. Used when no admission limit is configured.
type AllowAll struct{}

// Admit always returns nil.
func (AllowAll) Admit(ctx context.Context, t domain.Trade) error {
	return nil
}

// DestinationRateLimit caps redirect confirmations per destination host
// inside a sliding window. Limiter errors fail open so a degraded Redis
// never blocks legitimate confirmations.
type DestinationRateLimit struct {
	limiter domain.RateLimiter
	limit   int
	window  time.Duration
	logger  *slog.Logger
}

// NewDestinationRateLimit creates the policy. limit must be positive.
func NewDestinationRateLimit(limiter domain.RateLimiter, limit int, window time.Duration, logger *slog.Logger) *DestinationRateLimit {
	return &DestinationRateLimit{
		limiter: limiter,
		limit:   limit,
		window:  window,
		logger:  logger.With(slog.String("component", "admission")),
	}
}

// Admit counts the confirmation against the destination host's window.
func (p *DestinationRateLimit) Admit(ctx context.Context, t domain.Trade) error {
	host := t.Destination
	if u, err := url.Parse(t.Destination); err == nil && u.Host != "" {
		host = u.Host
	}

	allowed, err := p.limiter.Allow(ctx, "admit:dest:"+host, p.limit, p.window)
	if err != nil {
		p.logger.WarnContext(ctx, "admission limiter unavailable, failing open",
			slog.String("trade_id", t.ID),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if !allowed {
		return fmt.Errorf("verify: destination %s over admission limit: %w", host, domain.ErrRateLimited)
	}
	return nil
}
