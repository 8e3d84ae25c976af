// Package api exposes the case pipeline over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/service"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, svc *service.Service, version string) *Server {
	handler := NewHandler(svc, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	// Health endpoints
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// Case pipeline
	router.Route("/cases", func(r chi.Router) {
		r.Post("/", handler.CreateCase)
		r.Get("/", handler.ListCases)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", handler.GetCase)
			r.Get("/audit", handler.CaseAudit)

			r.Post("/rescore", handler.Rescore)
			r.Post("/narrative", handler.AttachNarrative)
			r.Post("/review", handler.OpenReview)
			r.Post("/approve", handler.Approve)
			r.Post("/reject", handler.Reject)
			r.Post("/reopen", handler.Reopen)
			r.Post("/archive", handler.Archive)
		})
	})

	// Compliance reporting
	router.Get("/audit", handler.QueryAudit)
	router.Get("/stats", handler.Stats)

	// Rule management
	router.Get("/rules", handler.RuleSet)
	router.Post("/rules/reload", handler.ReloadRules)

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}
