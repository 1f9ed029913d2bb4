package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/linkback/tradeverify/internal/domain"
)

// ReturnService performs the dwell-time evaluation.
// *verify.ReturnVerifier satisfies it.
type ReturnService interface {
	Evaluate(ctx context.Context, tradeID string, dwell float64) (domain.ReturnOutcome, error)
}

// ReturnHandler exposes the second-stage dwell-time evaluation over HTTP.
type ReturnHandler struct {
	verifier ReturnService
	logger   *slog.Logger
}

// NewReturnHandler creates a ReturnHandler.
func NewReturnHandler(verifier ReturnService, logger *slog.Logger) *ReturnHandler {
	return &ReturnHandler{
		verifier: verifier,
		logger:   logger.With(slog.String("component", "return_handler")),
	}
}

type returnRequest struct {
	TradeID   string   `json:"trade_id"`
	DwellTime *float64 `json:"dwell_time"`
}

// VerifyReturn converts a return event into a reward-tier decision. A
// repeated submission for a settled trade replays the stored outcome.
// POST /verify-return
func (h *ReturnHandler) VerifyReturn(w http.ResponseWriter, r *http.Request) {
	var req returnRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	if req.TradeID == "" || req.DwellTime == nil {
		writeError(w, h.logger, r, fmt.Errorf("handler: trade_id and dwell_time required: %w", domain.ErrValidation))
		return
	}

	outcome, err := h.verifier.Evaluate(r.Context(), req.TradeID, *req.DwellTime)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, outcome)
}
