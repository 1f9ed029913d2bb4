package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkback/tradeverify/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubLedger implements domain.TradeLedger; the dispatcher only calls
// MarkRedirected.
type stubLedger struct {
	mu         sync.Mutex
	redirected []string
}

func (s *stubLedger) Create(ctx context.Context, t domain.Trade) error { return nil }
func (s *stubLedger) GetByID(ctx context.Context, id string) (domain.Trade, error) {
	return domain.Trade{}, domain.ErrNotFound
}
func (s *stubLedger) MarkRedirected(ctx context.Context, id string, at time.Time) (domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.redirected = append(s.redirected, id)
	return domain.Trade{ID: id, Status: domain.StatusRedirected}, nil
}
func (s *stubLedger) MarkPendingReturn(ctx context.Context, id string, at time.Time) (domain.Trade, error) {
	return domain.Trade{}, nil
}
func (s *stubLedger) RecordReturn(ctx context.Context, id string, dwell float64, at time.Time, status domain.TradeStatus, tier domain.RewardTier, amount float64) (domain.Trade, error) {
	return domain.Trade{}, nil
}
func (s *stubLedger) RecordProofClaim(ctx context.Context, id string, proofRef string, status domain.TradeStatus, tier domain.RewardTier, amount float64) (domain.Trade, error) {
	return domain.Trade{}, nil
}
func (s *stubLedger) ExpireStale(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

// flakyConfirmer fails with a transient error until failures is exhausted,
// then succeeds and closes done.
type flakyConfirmer struct {
	mu       sync.Mutex
	failures int
	calls    int
	done     chan struct{}
}

func (f *flakyConfirmer) ConfirmRedirect(ctx context.Context, tradeID string) (domain.Trade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return domain.Trade{}, fmt.Errorf("transient: %w", domain.ErrUpstream)
	}
	select {
	case <-f.done:
	default:
		close(f.done)
	}
	return domain.Trade{ID: tradeID, Status: domain.StatusPendingReturn}, nil
}

func newTestDispatcher(ledger domain.TradeLedger, confirmer RedirectConfirmer) *Dispatcher {
	return NewDispatcher(ledger, confirmer, DispatcherConfig{
		QueueSize:   16,
		Workers:     2,
		CallTimeout: time.Second,
		MaxRetries:  3,
		BaseBackoff: 5 * time.Millisecond,
		MaxBackoff:  20 * time.Millisecond,
	}, testLogger())
}

func TestDispatcherRetriesTransientFailure(t *testing.T) {
	ledger := &stubLedger{}
	confirmer := &flakyConfirmer{failures: 2, done: make(chan struct{})}
	d := newTestDispatcher(ledger, confirmer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx) }()

	require.True(t, d.Enqueue("t1"))

	select {
	case <-confirmer.done:
	case <-time.After(2 * time.Second):
		t.Fatal("notification was not retried to success")
	}

	confirmer.mu.Lock()
	calls := confirmer.calls
	confirmer.mu.Unlock()
	assert.Equal(t, 3, calls, "two transient failures then success")
}

func TestDispatcherDoesNotRetryDefinitiveRejection(t *testing.T) {
	assert.False(t, retryable(fmt.Errorf("x: %w", domain.ErrNotFound)))
	assert.False(t, retryable(fmt.Errorf("x: %w", domain.ErrConflict)))
	assert.False(t, retryable(fmt.Errorf("x: %w", domain.ErrValidation)))
	assert.True(t, retryable(fmt.Errorf("x: %w", domain.ErrUpstream)))
	assert.True(t, retryable(context.DeadlineExceeded))
}

func TestDispatcherEnqueueDropsWhenFull(t *testing.T) {
	d := NewDispatcher(&stubLedger{}, &flakyConfirmer{done: make(chan struct{})}, DispatcherConfig{
		QueueSize: 1,
		Workers:   1,
	}, testLogger())

	// Run is never started, so the queue fills up.
	assert.True(t, d.Enqueue("t1"))
	assert.False(t, d.Enqueue("t2"), "a full queue drops instead of blocking")
}

func TestSweeperExpiresAndAlerts(t *testing.T) {
	ledger := &countingSweepLedger{stale: 2}
	alerts := &captureAlerter{}
	s := NewSweeper(ledger, time.Hour, time.Minute, alerts, testLogger())

	s.sweep(context.Background())

	assert.Equal(t, 1, ledger.calls)
	require.Len(t, alerts.events, 1)
	assert.Equal(t, "expiry", alerts.events[0])
}

func TestSweeperQuietWhenNothingExpires(t *testing.T) {
	ledger := &countingSweepLedger{stale: 0}
	alerts := &captureAlerter{}
	s := NewSweeper(ledger, time.Hour, time.Minute, alerts, testLogger())

	s.sweep(context.Background())

	assert.Empty(t, alerts.events)
}

type countingSweepLedger struct {
	stubLedger
	stale int64
	calls int
}

func (c *countingSweepLedger) ExpireStale(ctx context.Context, cutoff time.Time) (int64, error) {
	c.calls++
	return c.stale, nil
}

type captureAlerter struct {
	mu     sync.Mutex
	events []string
}

func (c *captureAlerter) Notify(ctx context.Context, event, title, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}
