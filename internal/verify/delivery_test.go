package verify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkback/tradeverify/internal/domain"
)

func pendingTrade(id string) domain.Trade {
	return domain.Trade{
		ID:          id,
		Destination: "https://shop.example.com/item/1",
		Status:      domain.StatusPendingReturn,
		CreatedAt:   time.Now().UTC(),
	}
}

func TestConfirmRedirectTransitionsToPendingReturn(t *testing.T) {
	ledger := newMemLedger(domain.Trade{
		ID:          "t1",
		Destination: "https://shop.example.com",
		Status:      domain.StatusCreated,
		CreatedAt:   time.Now().UTC(),
	})
	events := &captureEvents{}
	v := NewDeliveryVerifier(ledger, nil, events, testLogger())

	got, err := v.ConfirmRedirect(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingReturn, got.Status)
	assert.NotNil(t, got.RedirectedAt)
	assert.Len(t, events.events, 1)

	stored, err := ledger.GetByID(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingReturn, stored.Status)
}

func TestConfirmRedirectIdempotentOnPendingReturn(t *testing.T) {
	ledger := newMemLedger(pendingTrade("t1"))
	events := &captureEvents{}
	v := NewDeliveryVerifier(ledger, nil, events, testLogger())

	got, err := v.ConfirmRedirect(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingReturn, got.Status)
	assert.Empty(t, events.events, "no event for a no-op")
}

func TestConfirmRedirectUnknownTrade(t *testing.T) {
	v := NewDeliveryVerifier(newMemLedger(), nil, nil, testLogger())

	_, err := v.ConfirmRedirect(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestConfirmRedirectTerminalConflict(t *testing.T) {
	trade := pendingTrade("t1")
	trade.Status = domain.StatusRejected
	v := NewDeliveryVerifier(newMemLedger(trade), nil, nil, testLogger())

	_, err := v.ConfirmRedirect(context.Background(), "t1")
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestConfirmRedirectAdmissionDenied(t *testing.T) {
	ledger := newMemLedger(domain.Trade{
		ID:          "t1",
		Destination: "https://shop.example.com",
		Status:      domain.StatusCreated,
		CreatedAt:   time.Now().UTC(),
	})
	v := NewDeliveryVerifier(ledger, denyAll{}, nil, testLogger())

	_, err := v.ConfirmRedirect(context.Background(), "t1")
	assert.ErrorIs(t, err, domain.ErrRateLimited)

	stored, gerr := ledger.GetByID(context.Background(), "t1")
	require.NoError(t, gerr)
	assert.Equal(t, domain.StatusCreated, stored.Status, "denied admission must not mutate the trade")
}

func TestConfirmRedirectMissingID(t *testing.T) {
	v := NewDeliveryVerifier(newMemLedger(), nil, nil, testLogger())

	_, err := v.ConfirmRedirect(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrValidation)
}
