// Package server hosts the settlement engine's HTTP and WebSocket API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/sealedsettle/internal/domain"
	"github.com/alanyoungcy/sealedsettle/internal/observability"
	"github.com/alanyoungcy/sealedsettle/internal/server/handler"
	"github.com/alanyoungcy/sealedsettle/internal/server/middleware"
	"github.com/alanyoungcy/sealedsettle/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // empty disables operator auth

	// Per-IP request budgets for the public write routes. Zero disables.
	EncodeLimit int
	ClaimLimit  int
	LimitWindow time.Duration
}

// Handlers aggregates the HTTP handlers. Ledger is nil when the engine
// talks to an external ledger.
type Handlers struct {
	Health     *handler.HealthHandler
	Markets    *handler.MarketHandler
	Settlement *handler.SettlementHandler
	Stats      *handler.StatsHandler
	Ledger     *handler.LedgerHandler
}

// Server is the settlement API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in the shared
// middleware. limiter, metrics and hub may be nil.
func NewServer(
	cfg Config,
	handlers Handlers,
	hub *ws.Hub,
	limiter domain.RateLimiter,
	metrics *observability.Metrics,
	logger *slog.Logger,
) *Server {
	window := cfg.LimitWindow
	if window <= 0 {
		window = time.Minute
	}
	operator := middleware.Auth(cfg.APIKey)
	encodeLimit := middleware.RateLimit(limiter, "encode", cfg.EncodeLimit, window, logger)
	claimLimit := middleware.RateLimit(limiter, "claim", cfg.ClaimLimit, window, logger)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.Handle("GET /metrics", metrics.Handler())
	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	mux.Handle("POST /api/markets", operator(http.HandlerFunc(handlers.Markets.Register)))
	mux.HandleFunc("GET /api/markets/{market}", handlers.Markets.GetMarket)
	mux.HandleFunc("GET /api/markets/{market}/audit", handlers.Markets.AuditBundle)

	mux.Handle("POST /api/markets/{market}/encode", encodeLimit(http.HandlerFunc(handlers.Settlement.Encode)))
	mux.HandleFunc("POST /api/markets/{market}/finalize", handlers.Settlement.Finalize)
	mux.HandleFunc("POST /api/markets/{market}/claim/check", handlers.Settlement.CheckClaim)
	mux.Handle("POST /api/markets/{market}/claim", claimLimit(http.HandlerFunc(handlers.Settlement.Claim)))
	mux.HandleFunc("GET /api/markets/{market}/stats", handlers.Stats.Stats)

	if handlers.Ledger != nil {
		mux.Handle("POST /api/ledger/markets", operator(http.HandlerFunc(handlers.Ledger.CreateMarket)))
		mux.HandleFunc("POST /api/ledger/markets/{market}/tickets", handlers.Ledger.BuyTickets)
	}

	// The mux sets r.Pattern in place, so the outer layers see the route.
	var h http.Handler = mux
	h = middleware.Logging(logger)(h)
	h = middleware.Metrics(metrics)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
