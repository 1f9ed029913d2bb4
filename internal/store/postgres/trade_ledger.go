package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/linkback/tradeverify/internal/domain"
)

// DB is the subset of pgxpool.Pool used by the ledger. It exists so tests
// can substitute a pgxmock pool.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TradeLedger implements domain.TradeLedger using PostgreSQL. Every
// transition is a single conditional UPDATE whose WHERE clause carries the
// monotonic-status and write-once preconditions, so concurrent writers
// cannot interleave an invalid transition: at most one UPDATE matches the
// row, and every loser re-reads to classify the miss.
type TradeLedger struct {
	db DB
}

// NewTradeLedger creates a TradeLedger backed by the given pool.
func NewTradeLedger(db DB) *TradeLedger {
	return &TradeLedger{db: db}
}

const tradeCols = `id, destination, status, created_at, redirected_at, returned_at,
	dwell_time, primary_reward_amount, secondary_reward_amount, reward_tier, proof_reference`

func scanTrade(row pgx.Row) (domain.Trade, error) {
	var t domain.Trade
	var tier *string
	err := row.Scan(
		&t.ID, &t.Destination, &t.Status, &t.CreatedAt, &t.RedirectedAt,
		&t.ReturnedAt, &t.DwellTime, &t.PrimaryReward, &t.SecondaryReward,
		&tier, &t.ProofRef,
	)
	if err != nil {
		return domain.Trade{}, err
	}
	if tier != nil {
		rt := domain.RewardTier(*tier)
		t.RewardTier = &rt
	}
	return t, nil
}

// Create inserts a new trade in CREATED state.
func (l *TradeLedger) Create(ctx context.Context, t domain.Trade) error {
	status := t.Status
	if status == "" {
		status = domain.StatusCreated
	}
	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	tag, err := l.db.Exec(ctx, `
		INSERT INTO trades (id, destination, status, created_at, primary_reward_amount)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`,
		t.ID, t.Destination, status, createdAt, t.PrimaryReward,
	)
	if err != nil {
		return fmt.Errorf("postgres: create trade %s: %w", t.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: create trade %s: %w", t.ID, domain.ErrAlreadyExists)
	}
	return nil
}

// GetByID loads a trade by id, returning domain.ErrNotFound for unknown ids.
func (l *TradeLedger) GetByID(ctx context.Context, id string) (domain.Trade, error) {
	row := l.db.QueryRow(ctx, `SELECT `+tradeCols+` FROM trades WHERE id = $1`, id)
	t, err := scanTrade(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Trade{}, fmt.Errorf("postgres: trade %s: %w", id, domain.ErrNotFound)
		}
		return domain.Trade{}, fmt.Errorf("postgres: get trade %s: %w", id, err)
	}
	return t, nil
}

// MarkRedirected moves CREATED → REDIRECTED.
func (l *TradeLedger) MarkRedirected(ctx context.Context, id string, at time.Time) (domain.Trade, error) {
	row := l.db.QueryRow(ctx, `
		UPDATE trades
		SET status = $2, redirected_at = $3
		WHERE id = $1 AND status = $4
		RETURNING `+tradeCols,
		id, domain.StatusRedirected, at, domain.StatusCreated,
	)
	t, err := scanTrade(row)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Trade{}, fmt.Errorf("postgres: mark redirected %s: %w", id, err)
	}
	return l.classifyMiss(ctx, id, domain.StatusRedirected)
}

// MarkPendingReturn moves CREATED or REDIRECTED → PENDING_RETURN, stamping
// redirected_at if it was never set.
func (l *TradeLedger) MarkPendingReturn(ctx context.Context, id string, at time.Time) (domain.Trade, error) {
	row := l.db.QueryRow(ctx, `
		UPDATE trades
		SET status = $2, redirected_at = COALESCE(redirected_at, $3)
		WHERE id = $1 AND status IN ($4, $5)
		RETURNING `+tradeCols,
		id, domain.StatusPendingReturn, at, domain.StatusCreated, domain.StatusRedirected,
	)
	t, err := scanTrade(row)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Trade{}, fmt.Errorf("postgres: mark pending return %s: %w", id, err)
	}
	return l.classifyMiss(ctx, id, domain.StatusPendingReturn)
}

// classifyMiss decides why a conditional transition matched no row: the
// trade is unknown, the transition already happened (idempotent no-op), or
// the trade sits in a state the transition may not leave.
func (l *TradeLedger) classifyMiss(ctx context.Context, id string, target domain.TradeStatus) (domain.Trade, error) {
	t, err := l.GetByID(ctx, id)
	if err != nil {
		return domain.Trade{}, err
	}
	if t.Status == domain.StatusRejected || t.Status == domain.StatusExpired {
		return t, fmt.Errorf("postgres: trade %s is %s: %w", id, t.Status, domain.ErrConflict)
	}
	if t.Status.AtOrPast(target) {
		return t, nil
	}
	return t, fmt.Errorf("postgres: trade %s is %s, cannot reach %s: %w",
		id, t.Status, target, domain.ErrConflict)
}

// RecordReturn finalises the dwell-time evaluation atomically. The WHERE
// clause requires PENDING_RETURN with dwell_time and secondary reward still
// unset, so a second return event or a concurrent proof claim can never
// overwrite the first outcome.
func (l *TradeLedger) RecordReturn(ctx context.Context, id string, dwell float64, at time.Time, status domain.TradeStatus, tier domain.RewardTier, amount float64) (domain.Trade, error) {
	row := l.db.QueryRow(ctx, `
		UPDATE trades
		SET status = $2, dwell_time = $3, returned_at = $4,
		    reward_tier = $5, secondary_reward_amount = $6
		WHERE id = $1
		  AND status = $7
		  AND dwell_time IS NULL
		  AND secondary_reward_amount IS NULL
		RETURNING `+tradeCols,
		id, status, dwell, at, tier, amount, domain.StatusPendingReturn,
	)
	t, err := scanTrade(row)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Trade{}, fmt.Errorf("postgres: record return %s: %w", id, err)
	}

	existing, getErr := l.GetByID(ctx, id)
	if getErr != nil {
		return domain.Trade{}, getErr
	}
	return existing, fmt.Errorf("postgres: trade %s is %s: %w", id, existing.Status, domain.ErrConflict)
}

// RecordProofClaim settles the trade via the proof path atomically. The
// WHERE clause refuses trades whose secondary reward or proof reference is
// already set, enforcing mutual exclusivity with the dwell-time path.
func (l *TradeLedger) RecordProofClaim(ctx context.Context, id string, proofRef string, status domain.TradeStatus, tier domain.RewardTier, amount float64) (domain.Trade, error) {
	row := l.db.QueryRow(ctx, `
		UPDATE trades
		SET status = $2, proof_reference = $3, reward_tier = $4,
		    secondary_reward_amount = $5
		WHERE id = $1
		  AND status IN ($6, $7, $8)
		  AND secondary_reward_amount IS NULL
		  AND proof_reference IS NULL
		RETURNING `+tradeCols,
		id, status, proofRef, tier, amount,
		domain.StatusCreated, domain.StatusRedirected, domain.StatusPendingReturn,
	)
	t, err := scanTrade(row)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Trade{}, fmt.Errorf("postgres: record proof claim %s: %w", id, err)
	}

	existing, getErr := l.GetByID(ctx, id)
	if getErr != nil {
		return domain.Trade{}, getErr
	}
	return existing, fmt.Errorf("postgres: trade %s already settled or terminal: %w", id, domain.ErrConflict)
}

// ExpireStale marks non-terminal trades created before the cutoff as
// EXPIRED and returns the number of rows affected.
func (l *TradeLedger) ExpireStale(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := l.db.Exec(ctx, `
		UPDATE trades
		SET status = $1
		WHERE status IN ($2, $3, $4) AND created_at < $5`,
		domain.StatusExpired,
		domain.StatusCreated, domain.StatusRedirected, domain.StatusPendingReturn,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("postgres: expire stale trades: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.TradeLedger = (*TradeLedger)(nil)
