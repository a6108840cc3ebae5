// Package api exposes the query pipeline over HTTP: a JSON query endpoint,
// an SSE streaming variant, session lookup, analytics, and health probes.
// All /api/v1 routes require a resolved tenant; credential verification
// itself lives at the gateway.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/helpdeck/helpdeck/internal/analytics"
	"github.com/helpdeck/helpdeck/internal/business"
	"github.com/helpdeck/helpdeck/internal/pipeline"
	"github.com/helpdeck/helpdeck/internal/session"
	"github.com/helpdeck/helpdeck/internal/stream"
)

// ServerConfig wires the server's dependencies.
type ServerConfig struct {
	Logger     *slog.Logger
	Pipeline   *pipeline.Pipeline // Required
	Businesses *business.Store    // Required: tenant resolution
	Sessions   *session.Store     // Optional: nil disables session lookup
	Analytics  *analytics.Logger  // Optional: nil disables analytics routes
	Pool       *pgxpool.Pool      // Optional: nil disables pool stats in /ready
	TrustProxy bool               // Trust X-Real-IP/X-Forwarded-For (behind reverse proxy)
	RateBurst  int                // Per-IP burst size (0 = default 60)
}

// Server is the HTTP server for the query API.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates a server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Pipeline == nil {
		return nil, errors.New("pipeline is required")
	}
	if cfg.Businesses == nil {
		return nil, errors.New("business store is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	qh := &queryHandler{
		pipeline: cfg.Pipeline,
		streams:  stream.NewManager(logger),
		logger:   logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/query", qh.query)
	mux.HandleFunc("GET /api/v1/query/stream", qh.streamQuery)
	mux.HandleFunc("POST /api/v1/query/stream", qh.streamQuery)

	if cfg.Sessions != nil {
		sh := &sessionHandler{store: cfg.Sessions, logger: logger}
		mux.HandleFunc("GET /api/v1/sessions/{token}", sh.get)
	}

	if cfg.Analytics != nil {
		ah := &analyticsHandler{store: cfg.Analytics, logger: logger}
		mux.HandleFunc("GET /api/v1/analytics/query", ah.query)
	}

	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newIPLimiter(1.0, burst)

	// Middleware stack, outermost first:
	//   Recovery → Logging → RateLimit → Auth → Routes
	var handler http.Handler = mux
	handler = authMiddleware(cfg.Businesses, logger)(handler)
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = recoveryMiddleware(logger)(handler)

	// Health probes bypass auth and rate limiting.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health)
	topMux.Handle("GET /ready", readiness(cfg.Pool))
	topMux.Handle("/", handler)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
