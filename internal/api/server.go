// Package api exposes the HTTP surface: evaluation, audit queries, rule-set
// management, and health endpoints.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/openrisk/kestrel/internal/metrics"
)

// Server is the HTTP server.
type Server struct {
	router  chi.Router
	server  *http.Server
	handler *Handler
	logger  *slog.Logger
}

// NewServer creates an HTTP server with all routes registered.
func NewServer(handler *Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		router:  chi.NewRouter(),
		handler: handler,
		logger:  logger,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router

	r.Use(CORSMiddleware)
	r.Use(RecoverMiddleware(s.logger))
	r.Use(middleware.RealIP)
	r.Use(TracingMiddleware)
	r.Use(MetricsMiddleware)
	r.Use(LoggingMiddleware(s.logger))
	r.Use(middleware.Compress(5))

	// Operational endpoints.
	r.Get("/health", s.handler.Health)
	r.Get("/ready", s.handler.Ready)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/evaluate", s.handler.Evaluate)

		r.Get("/assessments", s.handler.ListAssessments)
		r.Get("/assessments/{id}", s.handler.GetAssessment)

		r.Get("/transactions/{id}", s.handler.GetTransaction)
		r.Get("/transactions/{id}/assessment", s.handler.GetTransactionAssessment)

		r.Get("/rulesets", s.handler.ListRuleSets)
		r.Post("/rulesets", s.handler.CreateRuleSet)
		r.Get("/rulesets/{version}", s.handler.GetRuleSet)
		r.Post("/rulesets/{version}/activate", s.handler.ActivateRuleSet)
	})
}

// Start begins serving HTTP requests. Blocks until the server stops.
func (s *Server) Start(host string, port, readTimeout, writeTimeout int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(readTimeout) * time.Second,
		WriteTimeout: time.Duration(writeTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info("http server starting", "addr", addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("http server shutting down")
	return s.server.Shutdown(ctx)
}

// Router exposes the router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}
