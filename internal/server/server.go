// Package server assembles the HTTP and WebSocket API of the relayer.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/trustbet/relayd/internal/domain"
	"github.com/trustbet/relayd/internal/server/handler"
	"github.com/trustbet/relayd/internal/server/middleware"
	"github.com/trustbet/relayd/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// AdminToken guards the market lifecycle endpoints.
	AdminToken string

	// BetRateLimit / BetRateWindow bound per-IP bet submissions. Limiter may
	// be nil, in which case bets are not rate limited.
	BetRateLimit  int
	BetRateWindow time.Duration
}

// Handlers aggregates all HTTP handlers the server registers.
type Handlers struct {
	Health  *handler.HealthHandler
	Bets    *handler.BetHandler
	Markets *handler.MarketHandler
	Claims  *handler.ClaimHandler
}

// Server is the HTTP + WebSocket API server for the relayer.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered. The admin routes
// sit behind token auth, the bet route behind the rate limiter; everything
// shares logging and CORS.
func NewServer(cfg Config, handlers Handlers, limiter domain.RateLimiter, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health and market reads are open. Health also answers on the bare
	// path so load balancer checks need no prefix.
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)
	mux.HandleFunc("GET /api/markets/{id}/bets", handlers.Markets.GetUserBets)
	mux.HandleFunc("GET /api/markets/{id}/payout", handlers.Claims.Preview)
	mux.HandleFunc("GET /api/fee", handlers.Markets.GetFee)

	// Bet submission, rate limited per client IP.
	var betHandler http.Handler = http.HandlerFunc(handlers.Bets.PlaceBet)
	if limiter != nil && cfg.BetRateLimit > 0 {
		betHandler = middleware.RateLimit(limiter, cfg.BetRateLimit, cfg.BetRateWindow)(betHandler)
	}
	// The UI posts to the unprefixed path; both routes share the limiter.
	mux.Handle("POST /api/bet", betHandler)
	mux.Handle("POST /bet", betHandler)

	// Claims settle against the embedded ledger.
	mux.HandleFunc("POST /api/claim", handlers.Claims.Claim)

	// Operator lifecycle endpoints behind token auth.
	adminAuth := middleware.Auth(cfg.AdminToken)
	mux.Handle("POST /api/admin/markets", adminAuth(http.HandlerFunc(handlers.Markets.CreateMarket)))
	mux.Handle("POST /api/admin/markets/{id}/resolve", adminAuth(http.HandlerFunc(handlers.Markets.ResolveMarket)))

	// WebSocket event feed.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux
	h = middleware.Logging(logger)(h)
	h = corsMiddleware(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute, // bet submissions block on confirmation
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
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

// corsMiddleware returns middleware that sets CORS headers for the allowed
// origins. If no origins are specified, it defaults to allowing all origins.
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if origin != "" {
				allowed := len(allowedOrigins) == 0 // allow all if none specified
				for _, o := range allowedOrigins {
					if strings.EqualFold(o, "*") || strings.EqualFold(o, origin) {
						allowed = true
						break
					}
				}

				if allowed {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
					w.Header().Set("Access-Control-Max-Age", "86400")
				}
			}

			// Handle preflight requests.
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
