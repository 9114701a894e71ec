// Package server assembles the HTTP + WebSocket API for the settlement
// engine: route registration, middleware chain, and graceful shutdown.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/marketpool/settlement/internal/domain"
	"github.com/marketpool/settlement/internal/server/handler"
	"github.com/marketpool/settlement/internal/server/middleware"
	"github.com/marketpool/settlement/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// RateLimit caps requests per client IP per minute; zero disables the
	// limiter.
	RateLimit int
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health     *handler.HealthHandler
	Markets    *handler.MarketHandler
	Stakes     *handler.StakeHandler
	Settlement *handler.SettlementHandler
	Oracles    *handler.OracleHandler
	Tokens     *handler.TokenHandler
	Archives   *handler.ArchiveHandler
}

// Server is the HTTP + WebSocket API server for the settlement engine.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux
// and the middleware chain (rate limit, auth, logging, CORS) applied.
// limiter may be nil when rate limiting is disabled.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Market creation, lifecycle, and queries.
	mux.HandleFunc("POST /api/markets", handlers.Markets.CreateMarket)
	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)
	mux.HandleFunc("PATCH /api/markets/{id}", handlers.Markets.UpdateMarket)
	mux.HandleFunc("POST /api/markets/{id}/outcomes", handlers.Markets.AddOutcome)
	mux.HandleFunc("POST /api/markets/{id}/publish", handlers.Markets.PublishMarket)
	mux.HandleFunc("POST /api/markets/{id}/pause", handlers.Markets.PauseMarket)
	mux.HandleFunc("POST /api/markets/{id}/cancel", handlers.Markets.CancelMarket)

	// Stake ledger.
	mux.HandleFunc("POST /api/markets/{id}/stakes", handlers.Stakes.PlaceStake)
	mux.HandleFunc("GET /api/markets/{id}/stakes", handlers.Stakes.ListStakes)

	// Settlement.
	mux.HandleFunc("POST /api/markets/{id}/resolve", handlers.Settlement.ResolveMarket)
	mux.HandleFunc("GET /api/markets/{id}/entitlement", handlers.Settlement.GetEntitlement)
	mux.HandleFunc("POST /api/markets/{id}/withdraw", handlers.Settlement.WithdrawPrize)
	mux.HandleFunc("POST /api/markets/{id}/payall", handlers.Settlement.PayAllPrizes)
	mux.HandleFunc("POST /api/markets/{id}/refund", handlers.Settlement.Refund)
	mux.HandleFunc("POST /api/markets/{id}/refund-all", handlers.Settlement.RefundAll)
	mux.HandleFunc("GET /api/markets/{id}/payouts", handlers.Settlement.ListPayouts)

	// Oracle directory and outcome reporting.
	mux.HandleFunc("POST /api/oracles", handlers.Oracles.CreateOracle)
	mux.HandleFunc("GET /api/oracles", handlers.Oracles.ListOracles)
	mux.HandleFunc("POST /api/oracles/{addr}/register", handlers.Oracles.RegisterMarket)
	mux.HandleFunc("POST /api/oracles/{addr}/unregister", handlers.Oracles.UnregisterMarket)
	mux.HandleFunc("POST /api/oracles/{addr}/outcome", handlers.Oracles.SetOutcome)

	// Reference token ledger.
	mux.HandleFunc("POST /api/token/issue", handlers.Tokens.Issue)
	mux.HandleFunc("POST /api/token/destroy", handlers.Tokens.Destroy)
	mux.HandleFunc("POST /api/token/approve", handlers.Tokens.Approve)
	mux.HandleFunc("GET /api/token/balance/{address}", handlers.Tokens.GetBalance)
	mux.HandleFunc("GET /api/token/allowance", handlers.Tokens.GetAllowance)

	// Archived ledgers.
	if handlers.Archives != nil {
		mux.HandleFunc("GET /api/archives", handlers.Archives.ListArchives)
		mux.HandleFunc("GET /api/archives/{id}", handlers.Archives.GetArchive)
	}

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain, innermost first.
	var h http.Handler = mux

	h = middleware.Auth(cfg.APIKey)(h)

	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, time.Minute)(h)
	}

	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
