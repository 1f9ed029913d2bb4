package verify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/linkback/tradeverify/internal/domain"
	"github.com/linkback/tradeverify/internal/platform/adjudicator"
	"github.com/linkback/tradeverify/internal/settle"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memLedger is an in-memory domain.TradeLedger that mirrors the conditional
// write semantics of the postgres implementation.
type memLedger struct {
	mu     sync.Mutex
	trades map[string]domain.Trade
}

func newMemLedger(trades ...domain.Trade) *memLedger {
	l := &memLedger{trades: make(map[string]domain.Trade)}
	for _, t := range trades {
		l.trades[t.ID] = t
	}
	return l
}

func (l *memLedger) Create(ctx context.Context, t domain.Trade) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.trades[t.ID]; ok {
		return fmt.Errorf("mem: trade %s: %w", t.ID, domain.ErrAlreadyExists)
	}
	l.trades[t.ID] = t
	return nil
}

func (l *memLedger) GetByID(ctx context.Context, id string) (domain.Trade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.trades[id]
	if !ok {
		return domain.Trade{}, fmt.Errorf("mem: trade %s: %w", id, domain.ErrNotFound)
	}
	return t, nil
}

func (l *memLedger) MarkRedirected(ctx context.Context, id string, at time.Time) (domain.Trade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.trades[id]
	if !ok {
		return domain.Trade{}, fmt.Errorf("mem: trade %s: %w", id, domain.ErrNotFound)
	}
	if t.Status == domain.StatusCreated {
		t.Status = domain.StatusRedirected
		t.RedirectedAt = &at
		l.trades[id] = t
		return t, nil
	}
	if t.Status == domain.StatusRejected || t.Status == domain.StatusExpired {
		return t, fmt.Errorf("mem: trade %s is %s: %w", id, t.Status, domain.ErrConflict)
	}
	return t, nil
}

func (l *memLedger) MarkPendingReturn(ctx context.Context, id string, at time.Time) (domain.Trade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.trades[id]
	if !ok {
		return domain.Trade{}, fmt.Errorf("mem: trade %s: %w", id, domain.ErrNotFound)
	}
	switch t.Status {
	case domain.StatusCreated, domain.StatusRedirected:
		t.Status = domain.StatusPendingReturn
		if t.RedirectedAt == nil {
			t.RedirectedAt = &at
		}
		l.trades[id] = t
		return t, nil
	case domain.StatusPendingReturn, domain.StatusVerified:
		return t, nil
	default:
		return t, fmt.Errorf("mem: trade %s is %s: %w", id, t.Status, domain.ErrConflict)
	}
}

func (l *memLedger) RecordReturn(ctx context.Context, id string, dwell float64, at time.Time, status domain.TradeStatus, tier domain.RewardTier, amount float64) (domain.Trade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.trades[id]
	if !ok {
		return domain.Trade{}, fmt.Errorf("mem: trade %s: %w", id, domain.ErrNotFound)
	}
	if t.Status != domain.StatusPendingReturn || t.DwellTime != nil || t.SecondaryReward != nil {
		return t, fmt.Errorf("mem: trade %s not eligible: %w", id, domain.ErrConflict)
	}
	t.Status = status
	t.DwellTime = &dwell
	t.ReturnedAt = &at
	t.RewardTier = &tier
	t.SecondaryReward = &amount
	l.trades[id] = t
	return t, nil
}

func (l *memLedger) RecordProofClaim(ctx context.Context, id string, proofRef string, status domain.TradeStatus, tier domain.RewardTier, amount float64) (domain.Trade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.trades[id]
	if !ok {
		return domain.Trade{}, fmt.Errorf("mem: trade %s: %w", id, domain.ErrNotFound)
	}
	if t.Status.Terminal() || t.SecondaryReward != nil || t.ProofRef != nil {
		return t, fmt.Errorf("mem: trade %s not eligible: %w", id, domain.ErrConflict)
	}
	t.Status = status
	t.ProofRef = &proofRef
	t.RewardTier = &tier
	t.SecondaryReward = &amount
	l.trades[id] = t
	return t, nil
}

func (l *memLedger) ExpireStale(ctx context.Context, cutoff time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var n int64
	for id, t := range l.trades {
		if !t.Status.Terminal() && t.CreatedAt.Before(cutoff) {
			t.Status = domain.StatusExpired
			l.trades[id] = t
			n++
		}
	}
	return n, nil
}

// memLocks is an in-memory domain.LockManager.
type memLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func newMemLocks() *memLocks {
	return &memLocks{held: make(map[string]bool)}
}

func (m *memLocks) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[key] {
		return nil, domain.ErrLockHeld
	}
	m.held[key] = true
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.held, key)
	}, nil
}

// captureEmitter records emitted settlement signals.
type captureEmitter struct {
	mu      sync.Mutex
	signals []settle.Signal
}

func (c *captureEmitter) Emit(sig settle.Signal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.signals = append(c.signals, sig)
}

func (c *captureEmitter) emitted() []settle.Signal {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]settle.Signal, len(c.signals))
	copy(out, c.signals)
	return out
}

// captureEvents records published trade events.
type captureEvents struct {
	mu     sync.Mutex
	events []domain.TradeEvent
}

func (c *captureEvents) Publish(event domain.TradeEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

// memBlob records proof uploads in memory.
type memBlob struct {
	mu   sync.Mutex
	keys []string
}

func (b *memBlob) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	return b.PutMultipart(ctx, path, data, 0)
}

func (b *memBlob) PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error {
	if _, err := io.Copy(io.Discard, data); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.keys = append(b.keys, path)
	return nil
}

// stubAdjudicator returns a fixed verdict or error.
type stubAdjudicator struct {
	verdict adjudicator.Verdict
	err     error
}

func (s *stubAdjudicator) Adjudicate(ctx context.Context, transactionID, proofRef string) (adjudicator.Verdict, error) {
	if s.err != nil {
		return adjudicator.Verdict{}, s.err
	}
	return s.verdict, nil
}

// denyAll rejects every trade at admission.
type denyAll struct{}

func (denyAll) Admit(ctx context.Context, t domain.Trade) error {
	return fmt.Errorf("denied: %w", domain.ErrRateLimited)
}
