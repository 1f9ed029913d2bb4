package verify

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkback/tradeverify/internal/domain"
)

func newReturnVerifier(ledger *memLedger, emitter *captureEmitter) *ReturnVerifier {
	return NewReturnVerifier(ledger, newMemLocks(), emitter, nil, ReturnConfig{
		RejectBelowSec: 10,
		FullAboveSec:   60,
		PartialReward:  50,
		FullReward:     150,
	}, testLogger())
}

func TestEvaluateTierBoundaries(t *testing.T) {
	cases := []struct {
		name       string
		dwell      float64
		wantStatus domain.TradeStatus
		wantTier   domain.RewardTier
		wantAmount float64
	}{
		{"below reject threshold", 5, domain.StatusRejected, domain.TierNone, 0},
		{"between thresholds", 30, domain.StatusVerified, domain.TierPartial, 50},
		{"above full threshold", 90, domain.StatusVerified, domain.TierFull, 150},
		{"exactly at reject threshold", 10, domain.StatusVerified, domain.TierPartial, 50},
		{"exactly at full threshold", 60, domain.StatusVerified, domain.TierFull, 150},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ledger := newMemLedger(pendingTrade("t1"))
			emitter := &captureEmitter{}
			v := newReturnVerifier(ledger, emitter)

			out, err := v.Evaluate(context.Background(), "t1", tc.dwell)
			require.NoError(t, err)
			assert.Equal(t, tc.wantStatus, out.Status)
			assert.Equal(t, tc.wantTier, out.Tier)
			assert.Equal(t, tc.wantAmount, out.SecondaryReward)
			assert.False(t, out.Replayed)

			if tc.wantStatus == domain.StatusVerified {
				require.Len(t, emitter.emitted(), 1)
				assert.Equal(t, "return", emitter.emitted()[0].Path)
			} else {
				assert.Empty(t, emitter.emitted(), "no settlement signal for a rejection")
			}
		})
	}
}

func TestEvaluateIdempotentResubmission(t *testing.T) {
	ledger := newMemLedger(pendingTrade("t1"))
	emitter := &captureEmitter{}
	v := newReturnVerifier(ledger, emitter)

	first, err := v.Evaluate(context.Background(), "t1", 30)
	require.NoError(t, err)

	second, err := v.Evaluate(context.Background(), "t1", 30)
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.Tier, second.Tier)
	assert.Equal(t, first.SecondaryReward, second.SecondaryReward)
	assert.Equal(t, first.DwellTime, second.DwellTime)

	// The reward is granted once: only the first evaluation emits.
	assert.Len(t, emitter.emitted(), 1)
}

func TestEvaluateOutOfOrderReturn(t *testing.T) {
	trade := pendingTrade("t1")
	trade.Status = domain.StatusCreated
	v := newReturnVerifier(newMemLedger(trade), &captureEmitter{})

	_, err := v.Evaluate(context.Background(), "t1", 30)
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestEvaluateExpiredTrade(t *testing.T) {
	trade := pendingTrade("t1")
	trade.Status = domain.StatusExpired
	v := newReturnVerifier(newMemLedger(trade), &captureEmitter{})

	_, err := v.Evaluate(context.Background(), "t1", 30)
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestEvaluateValidation(t *testing.T) {
	v := newReturnVerifier(newMemLedger(), &captureEmitter{})

	_, err := v.Evaluate(context.Background(), "", 30)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = v.Evaluate(context.Background(), "t1", -1)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestEvaluateUnknownTrade(t *testing.T) {
	v := newReturnVerifier(newMemLedger(), &captureEmitter{})

	_, err := v.Evaluate(context.Background(), "missing", 30)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEvaluateConcurrentDoubleFire(t *testing.T) {
	ledger := newMemLedger(pendingTrade("t1"))
	emitter := &captureEmitter{}
	v := newReturnVerifier(ledger, emitter)

	var wg sync.WaitGroup
	outcomes := make([]domain.ReturnOutcome, 2)
	errs := make([]error, 2)

	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = v.Evaluate(context.Background(), "t1", 30)
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	// Exactly one transition: both callers observe the same stored outcome
	// and the reward is computed once.
	assert.Equal(t, outcomes[0].Status, outcomes[1].Status)
	assert.Equal(t, outcomes[0].SecondaryReward, outcomes[1].SecondaryReward)
	assert.Equal(t, domain.StatusVerified, outcomes[0].Status)
	assert.Len(t, emitter.emitted(), 1)

	stored, err := ledger.GetByID(context.Background(), "t1")
	require.NoError(t, err)
	require.NotNil(t, stored.SecondaryReward)
	assert.Equal(t, 50.0, *stored.SecondaryReward)
}

func TestEvaluateConflictsAfterProofSettlement(t *testing.T) {
	ledger := newMemLedger(pendingTrade("t1"))
	_, err := ledger.RecordProofClaim(context.Background(), "t1", "proofs/t1/a.png",
		domain.StatusVerified, domain.TierFull, 150)
	require.NoError(t, err)

	v := newReturnVerifier(ledger, &captureEmitter{})

	_, err = v.Evaluate(context.Background(), "t1", 30)
	assert.ErrorIs(t, err, domain.ErrConflict, "a proof-settled trade has no dwell outcome to replay")
}
