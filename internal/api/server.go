package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-finance/condor/internal/domain"
	"github.com/opensource-finance/condor/internal/engine"
	"github.com/opensource-finance/condor/internal/ratelimit"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server with the full route table mounted.
func NewServer(cfg *domain.Config, repo domain.Repository, cache domain.Cache, bus domain.EventBus, eng *engine.Engine, limiter *ratelimit.Limiter, version string) *Server {
	handler := NewHandler(cfg, repo, cache, bus, eng, limiter, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression
	router.Use(handler.countRequests)

	// Operational endpoints (no auth required)
	router.Get("/health", handler.Health)
	router.Get("/metrics-lite", handler.MetricsLite)

	router.Route("/api/v1", func(r chi.Router) {
		// Public: account lifecycle plus the fiscal-year listing that
		// registration forms read before a token exists
		r.Post("/auth/register", handler.Register)
		r.Post("/auth/login", handler.Login)
		r.Post("/auth/refresh", handler.Refresh)
		r.Get("/fiscal-years", handler.ListFiscalYears)

		// Authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(handler.tokens))
			if limiter != nil {
				r.Use(RateLimitMiddleware(limiter))
			}

			r.Post("/profiles", handler.CreateProfile)
			r.Get("/profiles", handler.ListProfiles)
			r.Get("/profiles/{id}", handler.GetProfile)
			r.Put("/profiles/{id}", handler.UpdateProfile)
			r.Delete("/profiles/{id}", handler.DeleteProfile)

			r.Post("/evaluations", handler.CreateEvaluation)
			r.Get("/evaluations", handler.ListEvaluations)
			r.Get("/evaluations/{id}", handler.GetEvaluation)

			r.Get("/obligations", handler.ListObligations)
			r.Get("/obligations/{code}", handler.GetObligation)

			r.Get("/calendar", handler.ListCalendar)
			r.Patch("/calendar/{id}", handler.UpdateCalendarEntry)

			r.Get("/disclaimers/current", handler.CurrentDisclaimer)
			r.Post("/disclaimers/accept", handler.AcceptDisclaimer)

			// Admin routes
			r.Route("/admin", func(r chi.Router) {
				r.Use(RequireAdmin)

				r.Get("/fiscal-years", handler.AdminListFiscalYears)
				r.Post("/fiscal-years", handler.AdminCreateFiscalYear)
				r.Get("/fiscal-years/{id}/thresholds", handler.AdminListThresholds)
				r.Post("/fiscal-years/{id}/thresholds", handler.AdminUpsertThreshold)
				r.Patch("/fiscal-years/{id}/status", handler.AdminUpdateFiscalYearStatus)

				r.Get("/rule-sets", handler.AdminListRuleSets)
				r.Post("/rule-sets", handler.AdminCreateRuleSet)
				r.Post("/rule-sets/{id}/publish", handler.AdminPublishRuleSet)
			})
		})
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg.Server,
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

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
