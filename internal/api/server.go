package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-finance/ratedesk/internal/domain"
	"github.com/opensource-finance/ratedesk/internal/metrics"
	"github.com/opensource-finance/ratedesk/internal/pricing"
)

// Server is the reference persistence backend.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// Deps are the collaborators behind the API. Only Repo is required.
type Deps struct {
	Repo     domain.Repository
	Bus      domain.EventBus
	Uploader domain.Uploader
	Quoter   *pricing.Quoter
	Metrics  *metrics.Metrics
	Version  string
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, deps Deps) *Server {
	handler := NewHandler(deps.Repo, deps.Bus, deps.Uploader, deps.Quoter, deps.Version)
	router := chi.NewRouter()

	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware(deps.Metrics))
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	if deps.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(AuthMiddleware)

		r.Route("/insurers/{insurer}/products/{product}", func(r chi.Router) {
			r.Use(InsurerMiddleware)

			r.Get("/config/{endpoint}", handler.GetConfig)
			r.Post("/config/{endpoint}", handler.CreateConfig)
			r.Patch("/config/{endpoint}", handler.UpdateConfig)

			r.Post("/quotes/{id}/price", handler.PriceQuote)
		})

		r.Get("/master-data/{kind}", handler.GetMasterData)
		r.Put("/master-data/{kind}", handler.PutMasterData)

		r.With(InsurerMiddleware).Get("/quotes/{id}/bundle", handler.GetBundle)
		r.With(InsurerMiddleware).Put("/quotes/{id}/bundle", handler.PutBundle)

		r.Post("/uploads", handler.Upload)
	})

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
