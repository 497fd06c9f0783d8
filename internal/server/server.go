// Package server exposes the rule engine over HTTP.
//
// Routes:
//
//	GET    /api/v1/health
//	POST   /api/v1/evaluate
//	POST   /api/v1/validate
//	GET    /api/v1/rules
//	POST   /api/v1/rules
//	GET    /api/v1/rules/{name}
//	DELETE /api/v1/rules/{name}
//	GET    /api/v1/executions
//
// The rule and execution endpoints need a Store; without one they answer
// 503 and /evaluate only accepts inline rules.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/roach88/rcmflow/internal/engine"
	"github.com/roach88/rcmflow/internal/ir"
	"github.com/roach88/rcmflow/internal/store"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Store is the persistence the server needs. *store.Store implements it.
type Store interface {
	Ping(ctx context.Context) error
	SaveRule(ctx context.Context, rule ir.WorkflowRule) (string, error)
	GetRule(ctx context.Context, name string) (store.StoredRule, error)
	ListRules(ctx context.Context) ([]store.StoredRule, error)
	ListActiveRules(ctx context.Context) ([]ir.WorkflowRule, error)
	DeleteRule(ctx context.Context, name string) error
	WriteExecutions(ctx context.Context, ec ir.ExecutionContext, results []ir.RuleExecutionResult) ([]store.ExecutionRecord, error)
	ListExecutions(ctx context.Context, filter store.ExecutionFilter) ([]store.ExecutionRecord, error)
}

// Server routes HTTP requests to an engine and an optional store.
type Server struct {
	engine         *engine.Engine
	store          Store
	logger         *slog.Logger
	requestTimeout time.Duration
	router         *chi.Mux
}

// Option configures a Server.
type Option func(*Server)

// WithStore enables the rule and execution endpoints.
func WithStore(s Store) Option {
	return func(srv *Server) {
		srv.store = s
	}
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(srv *Server) {
		if l != nil {
			srv.logger = l
		}
	}
}

// WithRequestTimeout bounds each request. Zero disables the bound.
func WithRequestTimeout(d time.Duration) Option {
	return func(srv *Server) {
		srv.requestTimeout = d
	}
}

// New creates a server around e.
func New(e *engine.Engine, opts ...Option) *Server {
	s := &Server{
		engine:         e,
		logger:         slog.New(slog.DiscardHandler),
		requestTimeout: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	if s.requestTimeout > 0 {
		r.Use(middleware.Timeout(s.requestTimeout))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/evaluate", s.handleEvaluate)
		r.Post("/validate", s.handleValidate)

		r.Group(func(r chi.Router) {
			r.Use(s.requireStore)

			r.Get("/rules", s.handleListRules)
			r.Post("/rules", s.handleSaveRule)
			r.Get("/rules/{name}", s.handleGetRule)
			r.Delete("/rules/{name}", s.handleDeleteRule)

			r.Get("/executions", s.handleListExecutions)
		})
	})

	s.router = r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully. ready, when non-nil, receives the bound address.
func (s *Server) ListenAndServe(ctx context.Context, addr string, ready func(net.Addr)) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	httpServer := &http.Server{
		Handler:      s,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: s.requestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", ln.Addr().String())
		errCh <- httpServer.Serve(ln)
	}()
	if ready != nil {
		ready(ln.Addr())
	}

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// requireStore answers 503 when no store is configured.
func (s *Server) requireStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.store == nil {
			respondError(w, http.StatusServiceUnavailable, "no rule store configured", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestLogger logs one line per request through slog.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info("http request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration_ms", time.Since(start).Milliseconds(),
					"request_id", middleware.GetReqID(r.Context()),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
