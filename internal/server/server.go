// Package server wires the HTTP surface of the trade verification service:
// routing, middleware, and lifecycle.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/linkback/tradeverify/internal/domain"
	"github.com/linkback/tradeverify/internal/server/handler"
	"github.com/linkback/tradeverify/internal/server/middleware"
	"github.com/linkback/tradeverify/internal/server/ws"
)

// Config holds the HTTP server settings.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string

	// RateLimit caps requests per client IP within RateWindow. Zero disables
	// the limiter.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers bundles the endpoint handlers the server routes to.
type Handlers struct {
	Redirect *handler.RedirectHandler
	Delivery *handler.DeliveryHandler
	Return   *handler.ReturnHandler
	Claim    *handler.ClaimHandler
	Trades   *handler.TradeHandler
	Health   *handler.HealthHandler
	Hub      *ws.Hub
}

// Server is the HTTP front of the verification service.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// New builds the server with its full middleware chain. limiter may be nil
// to disable rate limiting.
func New(cfg Config, h Handlers, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Bearer auth gates every write endpoint except the redirect itself,
	// which must succeed for anonymous users.
	auth := middleware.Auth(cfg.APIKey)

	mux.HandleFunc("GET /track-redirect", h.Redirect.TrackRedirect)
	mux.Handle("POST /verification/update-pending-return", auth(http.HandlerFunc(h.Delivery.UpdatePendingReturn)))
	mux.Handle("POST /verify-delivery", auth(http.HandlerFunc(h.Delivery.VerifyDelivery)))
	mux.Handle("POST /verify-return", auth(http.HandlerFunc(h.Return.VerifyReturn)))
	mux.Handle("POST /rewards/claim", auth(http.HandlerFunc(h.Claim.SubmitClaim)))
	mux.Handle("POST /trades", auth(http.HandlerFunc(h.Trades.CreateTrade)))
	mux.Handle("GET /trades/{id}", auth(http.HandlerFunc(h.Trades.GetTrade)))
	mux.HandleFunc("GET /api/health", h.Health.Health)
	if h.Hub != nil {
		mux.HandleFunc("GET /ws", h.Hub.HandleWS)
	}

	var root http.Handler = mux
	if limiter != nil && cfg.RateLimit > 0 {
		root = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow)(root)
	}
	root = middleware.CORS(cfg.CORSOrigins)(root)
	root = middleware.Logging(logger)(root)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           root,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		logger: logger.With(slog.String("component", "http_server")),
	}
}

// Handler returns the root handler with the full middleware chain applied.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start runs the server until it fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
