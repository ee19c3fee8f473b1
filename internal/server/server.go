// Package server exposes the listing engine over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/listingengine/internal/domain"
	"github.com/alanyoungcy/listingengine/internal/server/handler"
	"github.com/alanyoungcy/listingengine/internal/server/middleware"
	"github.com/alanyoungcy/listingengine/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// RateLimit is the per-client request budget per RateWindow. Zero
	// disables rate limiting.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server registers.
type Handlers struct {
	Health     *handler.HealthHandler
	Approvals  *handler.ApprovalHandler
	Listings   *handler.ListingHandler
	Quota      *handler.QuotaHandler
	Currencies *handler.CurrencyHandler
	Archive    *handler.ArchiveHandler
}

// Server is the listingd HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in middleware. limiter
// and wsHub may be nil.
func NewServer(cfg Config, handlers Handlers, limiter domain.RateLimiter, wsHub *ws.Hub, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      newHandler(cfg, handlers, limiter, wsHub, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger}
}

func newHandler(cfg Config, handlers Handlers, limiter domain.RateLimiter, wsHub *ws.Hub, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	mux.HandleFunc("POST /api/collections/{collection}/approvals/items", handlers.Approvals.ApproveItem)
	mux.HandleFunc("POST /api/collections/{collection}/approvals/categories", handlers.Approvals.ApproveCategory)

	mux.HandleFunc("GET /api/collections/{collection}/listings", handlers.Listings.ListByCollection)
	mux.HandleFunc("GET /api/collections/{collection}/listings/{item}", handlers.Listings.GetListing)
	mux.HandleFunc("GET /api/listers/{lister}/listings", handlers.Listings.ListByLister)
	mux.HandleFunc("GET /api/categories/{category}/listings", handlers.Listings.ListByCategory)

	mux.HandleFunc("GET /api/quota/{account}", handlers.Quota.GetStatus)
	mux.HandleFunc("POST /api/quota/{account}/deposit", handlers.Quota.Deposit)

	mux.HandleFunc("GET /api/currencies", handlers.Currencies.ListCurrencies)
	mux.HandleFunc("POST /api/currencies", handlers.Currencies.AddCurrencies)

	mux.HandleFunc("POST /api/archive/listings", handlers.Archive.ArchiveListings)
	mux.HandleFunc("GET /api/archive/listings", handlers.Archive.ListSnapshots)
	mux.HandleFunc("GET /api/archive/listings/{name}", handlers.Archive.GetSnapshot)

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health")(h)
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
