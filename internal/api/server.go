package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/kestrel/internal/analysis"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, svc *analysis.Service, repo domain.Repository, cache domain.Cache, bus domain.EventBus, version string) *Server {
	handler := NewHandler(svc, repo, cache, bus, version)
	router := chi.NewRouter()

	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(metrics.Middleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Method(http.MethodGet, "/metrics", metrics.Handler())

	router.With(RateLimitMiddleware(cache, "generate", cfg.GenerateRateLimit, time.Minute)).
		Post("/datasets", handler.GenerateDataset)

	router.Route("/merchants", func(r chi.Router) {
		r.Get("/", handler.ListMerchants)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", handler.GetMerchant)
			r.Get("/transactions", handler.GetMerchantTransactions)

			r.Post("/risk-metrics", handler.CalculateRisk)
			r.Get("/risk-metrics/latest", handler.LatestRisk)
			r.Get("/risk-metrics/history", handler.RiskHistory)

			r.Post("/summaries", handler.GenerateSummaries)
			r.Get("/summaries", handler.ListSummaries)

			r.Post("/timeline-events", handler.DetectTimelineEvents)
			r.Get("/timeline-events", handler.ListTimelineEvents)
		})
	})

	router.Get("/transactions", handler.ListTransactions)
	router.Get("/transactions/{id}", handler.GetTransaction)

	router.Post("/timeline-events/{id}/processed", handler.MarkEventProcessed)

	router.Get("/rules", handler.ListRules)
	router.Post("/rules", handler.CreateRule)
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

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
