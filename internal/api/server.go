package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eddalabs/efni/internal/rag"
)

// Pipeline is the slice of the question-answering pipeline the API serves.
// *rag.Pipeline satisfies it; tests substitute fakes.
type Pipeline interface {
	Ask(ctx context.Context, q rag.Question) (*rag.QueryResult, error)
	Health(ctx context.Context) error
	Stats(ctx context.Context) (rag.Stats, error)
}

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger      *slog.Logger
	Pipeline    Pipeline      // Required
	Pool        *pgxpool.Pool // Optional: nil disables pool stats in /ready
	CORSOrigins []string      // Allowed origins for the tutor frontend
	RateRPS     float64       // Token refill per second per IP (0 = default 1)
	RateBurst   int           // Rate limiter burst size per IP (0 = default 30)
	TrustProxy  bool          // Trust X-Real-IP/X-Forwarded-For headers
	IsDev       bool          // Disables HSTS
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates the API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Pipeline == nil {
		return nil, errors.New("pipeline is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ah := &askHandler{pipeline: cfg.Pipeline, logger: logger}
	sh := &statsHandler{pipeline: cfg.Pipeline, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/ask", ah.ask)
	mux.HandleFunc("GET /api/v1/stats", sh.stats)

	rps := cfg.RateRPS
	if rps <= 0 {
		rps = 1.0
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 30
	}
	rl := newRateLimiter(rps, burst)

	// Middleware stack (outermost first):
	//   Recovery → RequestID → Logging → CORS → RateLimit → Routes
	// RequestID must be before Logging so request_id is available in log
	// attributes. CORS must be before RateLimit so preflight OPTIONS gets
	// proper CORS headers.
	var handler http.Handler = mux
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	isDev := cfg.IsDev
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w, isDev)
		handler.ServeHTTP(w, r)
	})

	// Health probes bypass the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health)
	topMux.Handle("GET /ready", readiness(cfg.Pipeline, cfg.Pool))
	topMux.Handle("/", final)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
