package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/linkback/tradeverify/internal/domain"
)

// TradeHandler exposes trade creation and inspection for the upstream
// matching component and reconciliation tooling.
type TradeHandler struct {
	ledger domain.TradeLedger
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler.
func NewTradeHandler(ledger domain.TradeLedger, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{
		ledger: ledger,
		logger: logger.With(slog.String("component", "trade_handler")),
	}
}

type createTradeRequest struct {
	ID            string   `json:"id"`
	Destination   string   `json:"destination"`
	PrimaryReward *float64 `json:"primary_reward_amount,omitempty"`
}

// tradeView is the JSON projection of a trade record.
type tradeView struct {
	ID              string             `json:"id"`
	Destination     string             `json:"destination"`
	Status          domain.TradeStatus `json:"status"`
	CreatedAt       time.Time          `json:"created_at"`
	RedirectedAt    *time.Time         `json:"redirected_at,omitempty"`
	ReturnedAt      *time.Time         `json:"returned_at,omitempty"`
	DwellTime       *float64           `json:"dwell_time,omitempty"`
	PrimaryReward   *float64           `json:"primary_reward_amount,omitempty"`
	SecondaryReward *float64           `json:"secondary_reward_amount,omitempty"`
	RewardTier      *domain.RewardTier `json:"reward_tier,omitempty"`
	ProofRef        *string            `json:"proof_reference,omitempty"`
}

func toTradeView(t domain.Trade) tradeView {
	return tradeView{
		ID:              t.ID,
		Destination:     t.Destination,
		Status:          t.Status,
		CreatedAt:       t.CreatedAt,
		RedirectedAt:    t.RedirectedAt,
		ReturnedAt:      t.ReturnedAt,
		DwellTime:       t.DwellTime,
		PrimaryReward:   t.PrimaryReward,
		SecondaryReward: t.SecondaryReward,
		RewardTier:      t.RewardTier,
		ProofRef:        t.ProofRef,
	}
}

// CreateTrade records a new trade in CREATED state. The id is minted by the
// upstream matching component, never here.
// POST /trades
func (h *TradeHandler) CreateTrade(w http.ResponseWriter, r *http.Request) {
	var req createTradeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	if req.ID == "" || req.Destination == "" {
		writeError(w, h.logger, r, fmt.Errorf("handler: id and destination required: %w", domain.ErrValidation))
		return
	}
	if _, err := url.ParseRequestURI(req.Destination); err != nil {
		writeError(w, h.logger, r, fmt.Errorf("handler: destination must be a valid URL: %w", domain.ErrValidation))
		return
	}

	t := domain.Trade{
		ID:            req.ID,
		Destination:   req.Destination,
		Status:        domain.StatusCreated,
		CreatedAt:     time.Now().UTC(),
		PrimaryReward: req.PrimaryReward,
	}
	if err := h.ledger.Create(r.Context(), t); err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "trade created",
		slog.String("trade_id", t.ID),
	)

	writeSuccess(w, http.StatusCreated, toTradeView(t))
}

// GetTrade returns a single trade record.
// GET /trades/{id}
func (h *TradeHandler) GetTrade(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, h.logger, r, fmt.Errorf("handler: trade id required: %w", domain.ErrValidation))
		return
	}

	t, err := h.ledger.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, toTradeView(t))
}
