// Package server exposes the settlement engine over HTTP and WebSocket.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/pancholabs/pancho-engine/internal/domain"
	"github.com/pancholabs/pancho-engine/internal/server/handler"
	"github.com/pancholabs/pancho-engine/internal/server/middleware"
	"github.com/pancholabs/pancho-engine/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port           int
	CORSOrigins    []string
	APIKey         string // if empty, authentication is disabled
	RateLimitRPS   int    // if 0, rate limiting is disabled
	RateLimitBurst int
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health    *handler.HealthHandler
	Protocol  *handler.ProtocolHandler
	Rounds    *handler.RoundHandler
	Positions *handler.PositionHandler
	Audit     *handler.AuditHandler
	Archives  *handler.ArchiveHandler
}

// Server is the headless HTTP + WebSocket API for the settlement engine.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth, rate limiting) and attaches
// the WebSocket hub. limiter may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Protocol config endpoints.
	mux.HandleFunc("POST /api/protocol/init", handlers.Protocol.Initialize)
	mux.HandleFunc("GET /api/protocol", handlers.Protocol.GetConfig)
	mux.HandleFunc("PUT /api/protocol/config", handlers.Protocol.UpdateConfig)
	mux.HandleFunc("PUT /api/protocol/treasury", handlers.Protocol.UpdateTreasury)

	// Round lifecycle endpoints.
	mux.HandleFunc("POST /api/rounds", handlers.Rounds.CreateRound)
	mux.HandleFunc("GET /api/rounds", handlers.Rounds.ListRounds)
	mux.HandleFunc("GET /api/rounds/{market}/{round_id}", handlers.Rounds.GetRound)
	mux.HandleFunc("POST /api/rounds/{market}/{round_id}/join", handlers.Rounds.JoinRound)
	mux.HandleFunc("POST /api/rounds/{market}/{round_id}/lock", handlers.Rounds.LockRound)
	mux.HandleFunc("POST /api/rounds/{market}/{round_id}/settle", handlers.Rounds.SettleRound)
	mux.HandleFunc("POST /api/rounds/{market}/{round_id}/claim", handlers.Rounds.ClaimRound)
	mux.HandleFunc("GET /api/rounds/{market}/{round_id}/vaults", handlers.Rounds.GetVaults)

	// Position read endpoints.
	mux.HandleFunc("GET /api/rounds/{market}/{round_id}/positions", handlers.Positions.ListRoundPositions)
	mux.HandleFunc("GET /api/positions", handlers.Positions.ListUserPositions)

	// Audit log.
	if handlers.Audit != nil {
		mux.HandleFunc("GET /api/audit", handlers.Audit.ListEntries)
	}

	// Archived round snapshots. Registered only when cold storage is
	// configured.
	if handlers.Archives != nil {
		mux.HandleFunc("GET /api/archives", handlers.Archives.ListArchives)
	}

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	// Apply auth middleware (skips if APIKey is empty).
	h = middleware.Auth(cfg.APIKey)(h)

	// Apply per-client rate limiting when configured.
	if limiter != nil && cfg.RateLimitRPS > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimitRPS, time.Second)(h)
	}

	// Apply request logging middleware.
	h = middleware.Logging(logger)(h)

	// Apply CORS middleware.
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
