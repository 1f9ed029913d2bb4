package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/linkback/tradeverify/internal/domain"
)

// DeliveryService performs the first-stage pending-return transition.
// *verify.DeliveryVerifier satisfies it.
type DeliveryService interface {
	ConfirmRedirect(ctx context.Context, tradeID string) (domain.Trade, error)
}

// DeliveryHandler exposes the first-stage verification gate over HTTP.
type DeliveryHandler struct {
	verifier DeliveryService
	logger   *slog.Logger
}

// NewDeliveryHandler creates a DeliveryHandler.
func NewDeliveryHandler(verifier DeliveryService, logger *slog.Logger) *DeliveryHandler {
	return &DeliveryHandler{
		verifier: verifier,
		logger:   logger.With(slog.String("component", "delivery_handler")),
	}
}

type deliveryRequest struct {
	TradeID string `json:"trade_id"`
}

type deliveryResponse struct {
	TradeID string             `json:"trade_id"`
	Status  domain.TradeStatus `json:"status"`
}

// UpdatePendingReturn receives the dispatcher's asynchronous notification
// and advances the trade to PENDING_RETURN. Idempotent for trades already
// past the gate.
// POST /verification/update-pending-return
func (h *DeliveryHandler) UpdatePendingReturn(w http.ResponseWriter, r *http.Request) {
	var req deliveryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	if req.TradeID == "" {
		writeError(w, h.logger, r, fmt.Errorf("handler: trade_id required: %w", domain.ErrValidation))
		return
	}

	t, err := h.verifier.ConfirmRedirect(r.Context(), req.TradeID)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, deliveryResponse{TradeID: t.ID, Status: t.Status})
}

// VerifyDelivery is the externally-callable first-stage verification
// endpoint. Extra admission fields in the body are passed through to the
// configured admission policy's backing signals and otherwise ignored.
// POST /verify-delivery
func (h *DeliveryHandler) VerifyDelivery(w http.ResponseWriter, r *http.Request) {
	var req deliveryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	if req.TradeID == "" {
		writeError(w, h.logger, r, fmt.Errorf("handler: trade_id required: %w", domain.ErrValidation))
		return
	}

	t, err := h.verifier.ConfirmRedirect(r.Context(), req.TradeID)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, deliveryResponse{TradeID: t.ID, Status: t.Status})
}
