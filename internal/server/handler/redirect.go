package handler

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/linkback/tradeverify/internal/domain"
)

// Enqueuer schedules the asynchronous pending-return notification.
// *pipeline.Dispatcher satisfies it.
type Enqueuer interface {
	Enqueue(tradeID string) bool
}

// RedirectHandler issues the user-visible redirect. The redirect never waits
// on, or fails because of, the ledger update that follows it.
type RedirectHandler struct {
	dispatcher Enqueuer
	logger     *slog.Logger
}

// NewRedirectHandler creates a RedirectHandler.
func NewRedirectHandler(dispatcher Enqueuer, logger *slog.Logger) *RedirectHandler {
	return &RedirectHandler{
		dispatcher: dispatcher,
		logger:     logger.With(slog.String("component", "redirect_handler")),
	}
}

// TrackRedirect validates the query parameters, fires the async
// pending-return notification, and redirects with 307.
// GET /track-redirect?trade_id=...&dest=...
func (h *RedirectHandler) TrackRedirect(w http.ResponseWriter, r *http.Request) {
	tradeID := r.URL.Query().Get("trade_id")
	dest := r.URL.Query().Get("dest")

	if tradeID == "" || dest == "" {
		writeError(w, h.logger, r, fmt.Errorf("handler: trade_id and dest required: %w", domain.ErrValidation))
		return
	}

	// Fire-and-forget: the workers mark the trade REDIRECTED and notify the
	// delivery verifier. A full queue drops the notification, never the
	// redirect.
	h.dispatcher.Enqueue(tradeID)

	// Location is set verbatim: http.Redirect would re-encode the URL.
	w.Header().Set("Location", dest)
	w.WriteHeader(http.StatusTemporaryRedirect)
}
