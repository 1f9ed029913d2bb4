package verify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/linkback/tradeverify/internal/domain"
	"github.com/linkback/tradeverify/internal/platform/adjudicator"
	"github.com/linkback/tradeverify/internal/settle"
)

// VerdictFailed is the generic failure verdict relayed to the claimant when
// the adjudicator cannot be reached. Internal error detail never leaks to
// the caller.
const VerdictFailed = "검증 실패"

// AdjudicatorClient submits a proof for external adjudication.
// *adjudicator.Client satisfies it.
type AdjudicatorClient interface {
	Adjudicate(ctx context.Context, transactionID, proofRef string) (adjudicator.Verdict, error)
}

// ClaimResult is the adjudication verdict relayed back to the claimant.
type ClaimResult struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
}

// ProofConfig holds the proof-path reward parameters.
type ProofConfig struct {
	Reward  float64
	LockTTL time.Duration
}

// ProofClaimService settles trades through the manual-proof path: the
// artifact is streamed to object storage, submitted for adjudication, and
// the verdict recorded on the ledger. The path is mutually exclusive with
// dwell-time evaluation; whichever settles first wins and the loser
// observes a conflict.
type ProofClaimService struct {
	ledger      domain.TradeLedger
	locks       domain.LockManager
	blobs       domain.BlobWriter
	adjudicator AdjudicatorClient
	emitter     SignalEmitter
	events      domain.EventPublisher
	cfg         ProofConfig
	logger      *slog.Logger
}

// NewProofClaimService creates a ProofClaimService. emitter and events may
// be nil.
func NewProofClaimService(ledger domain.TradeLedger, locks domain.LockManager, blobs domain.BlobWriter, adj AdjudicatorClient, emitter SignalEmitter, events domain.EventPublisher, cfg ProofConfig, logger *slog.Logger) *ProofClaimService {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	return &ProofClaimService{
		ledger:      ledger,
		locks:       locks,
		blobs:       blobs,
		adjudicator: adj,
		emitter:     emitter,
		events:      events,
		cfg:         cfg,
		logger:      logger.With(slog.String("component", "proof_claim")),
	}
}

// SubmitClaim processes one proof upload for the given transaction id. The
// proof reader is streamed to object storage without being buffered
// wholesale. On adjudicator transport failure it returns the generic
// failure verdict together with an error wrapping domain.ErrUpstream so the
// handler can relay the verdict with a 500.
func (s *ProofClaimService) SubmitClaim(ctx context.Context, transactionID string, proof io.Reader, filename, contentType string) (ClaimResult, error) {
	if transactionID == "" || proof == nil {
		return ClaimResult{}, fmt.Errorf("verify: transaction id and proof required: %w", domain.ErrValidation)
	}

	// Serialise against the dwell-time path for the same trade.
	unlock, err := s.locks.Acquire(ctx, "trade:"+transactionID, s.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return ClaimResult{}, fmt.Errorf("verify: trade %s settlement in progress: %w",
				transactionID, domain.ErrConflict)
		}
		return ClaimResult{}, err
	}
	defer unlock()

	t, err := s.ledger.GetByID(ctx, transactionID)
	if err != nil {
		return ClaimResult{}, err
	}
	if t.SecondaryReward != nil || t.ProofRef != nil {
		return ClaimResult{}, fmt.Errorf("verify: trade %s already settled: %w",
			transactionID, domain.ErrConflict)
	}
	if t.Status.Terminal() {
		return ClaimResult{}, fmt.Errorf("verify: trade %s is %s: %w",
			transactionID, t.Status, domain.ErrConflict)
	}

	key := proofKey(transactionID, filename)
	if err := s.blobs.PutMultipart(ctx, key, proof, 0); err != nil {
		return ClaimResult{}, fmt.Errorf("verify: store proof for %s: %w", transactionID, err)
	}

	verdict, err := s.adjudicator.Adjudicate(ctx, transactionID, key)
	if err != nil {
		s.logger.ErrorContext(ctx, "adjudication failed",
			slog.String("transaction_id", transactionID),
			slog.String("error", err.Error()),
		)
		return ClaimResult{Success: false, Status: VerdictFailed},
			fmt.Errorf("verify: adjudicate %s: %w", transactionID, domain.ErrUpstream)
	}

	status := domain.StatusRejected
	tier := domain.TierNone
	amount := 0.0
	if verdict.Success {
		status = domain.StatusVerified
		tier = domain.TierFull
		amount = s.cfg.Reward
	}

	updated, err := s.ledger.RecordProofClaim(ctx, transactionID, key, status, tier, amount)
	if err != nil {
		return ClaimResult{}, err
	}

	now := time.Now().UTC()
	if s.events != nil {
		s.events.Publish(domain.TradeEvent{
			TradeID: updated.ID,
			Status:  updated.Status,
			Tier:    tier,
			At:      now,
		})
	}

	if verdict.Success && s.emitter != nil {
		s.emitter.Emit(settle.Signal{
			TradeID:         transactionID,
			Status:          status,
			Tier:            tier,
			SecondaryReward: amount,
			Path:            "proof",
			OccurredAt:      now,
		})
	}

	s.logger.InfoContext(ctx, "proof claim adjudicated",
		slog.String("transaction_id", transactionID),
		slog.Bool("success", verdict.Success),
		slog.String("proof_ref", key),
	)

	return ClaimResult{Success: verdict.Success, Status: verdict.Status}, nil
}

// proofKey builds the object key for an uploaded proof, preserving the
// original file extension when present.
func proofKey(transactionID, filename string) string {
	key := fmt.Sprintf("proofs/%s/%s", transactionID, uuid.New().String())
	if ext := path.Ext(filename); ext != "" {
		key += ext
	}
	return key
}
