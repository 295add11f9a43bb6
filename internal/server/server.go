package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/harunnryd/sitewise/internal/concurrency"
	"github.com/harunnryd/sitewise/internal/idempotency"
	"github.com/harunnryd/sitewise/internal/orchestrator"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	maxRequestBytes       = 1 << 20
	DefaultIdempotencyTTL = 24 * time.Hour
)

// Engine resolves run controllers and reports backend health.
type Engine interface {
	Controller(model string) (*orchestrator.FallbackController, error)
	Ping(ctx context.Context) error
}

type Server struct {
	Router *chi.Mux
	engine Engine
	locks  *concurrency.SessionLocks
	logger *slog.Logger

	idempotency    *idempotency.Store
	idempotencyTTL time.Duration
}

type Option func(*Server)

// WithTracing wraps the router with otelhttp.
func WithTracing(operation string) Option {
	return func(s *Server) {
		s.Router.Use(func(next http.Handler) http.Handler {
			return otelhttp.NewHandler(next, operation)
		})
	}
}

// WithIdempotency enables Idempotency-Key replay for non-streaming chats.
func WithIdempotency(store *idempotency.Store, ttl time.Duration) Option {
	return func(s *Server) {
		if ttl <= 0 {
			ttl = DefaultIdempotencyTTL
		}
		s.idempotency = store
		s.idempotencyTTL = ttl
	}
}

func New(engine Engine, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(middleware.Recoverer)

	s := &Server{
		Router: r,
		engine: engine,
		locks:  concurrency.NewSessionLocks(),
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	r.Get("/healthz", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/chat", s.handleChat)
	})
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}
