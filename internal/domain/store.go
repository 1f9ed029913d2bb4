package domain

import (
	"context"
	"io"
	"time"
)

// TradeLedger is the single source of truth for trade records. Every writer
// goes through the transition methods below; the implementation enforces the
// monotonic-status invariant and write-once fields as a precondition inside
// the same statement or transaction as the write.
type TradeLedger interface {
	// Create inserts a new trade in CREATED state. Returns ErrAlreadyExists
	// if a trade with the same id is already recorded.
	Create(ctx context.Context, t Trade) error

	// GetByID loads a trade. Returns ErrNotFound for unknown ids; a missing
	// trade is never silently created.
	GetByID(ctx context.Context, id string) (Trade, error)

	// MarkRedirected moves CREATED → REDIRECTED and stamps redirected_at.
	// Calling it on a trade at or past REDIRECTED is a no-op; calling it on
	// a REJECTED or EXPIRED trade returns ErrConflict.
	MarkRedirected(ctx context.Context, id string, at time.Time) (Trade, error)

	// MarkPendingReturn moves CREATED or REDIRECTED → PENDING_RETURN,
	// stamping redirected_at if it was never set. A trade already at
	// PENDING_RETURN or VERIFIED is a no-op; REJECTED or EXPIRED returns
	// ErrConflict.
	MarkPendingReturn(ctx context.Context, id string, at time.Time) (Trade, error)

	// RecordReturn finalises the dwell-time evaluation: it sets dwell_time,
	// returned_at, reward tier, secondary reward amount, and the terminal
	// status in one atomic write. Only a PENDING_RETURN trade whose
	// dwell_time and secondary reward are still unset is eligible; anything
	// else returns ErrConflict and leaves the row untouched.
	RecordReturn(ctx context.Context, id string, dwell float64, at time.Time, status TradeStatus, tier RewardTier, amount float64) (Trade, error)

	// RecordProofClaim settles the trade via the proof path: it sets the
	// proof reference, reward tier, secondary reward amount, and terminal
	// status atomically. Eligible only while the trade is non-terminal and
	// neither the secondary reward nor a proof reference has been set, which
	// makes the two settlement paths mutually exclusive under concurrency.
	RecordProofClaim(ctx context.Context, id string, proofRef string, status TradeStatus, tier RewardTier, amount float64) (Trade, error)

	// ExpireStale marks every non-terminal trade created before the cutoff
	// as EXPIRED and returns the number of rows affected.
	ExpireStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// LockManager provides per-key mutual exclusion so that concurrent
// settlement attempts for the same trade are serialised.
type LockManager interface {
	// Acquire obtains the lock for key with the given TTL and returns an
	// unlock function, or ErrLockHeld if another holder owns it.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// RateLimiter answers whether an action identified by key is within its
// sliding-window budget.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// BlobWriter uploads proof artifacts to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// EventPublisher fans trade transition events out to monitoring consumers.
// Publishing is best-effort and must never block a request path.
type EventPublisher interface {
	Publish(event TradeEvent)
}
