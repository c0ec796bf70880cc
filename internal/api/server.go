package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scanner"
)

// Scanner is the part of the scanner the API drives.
type Scanner interface {
	Start(ctx context.Context)
	Stop()
	Status() scanner.Status
	Scan(ctx context.Context) (*scanner.Report, error)
	ScanEntity(ctx context.Context, module, id string) ([]*domain.Insight, error)
}

// Deps are the services behind the API. Cache and Bus are only health-checked.
type Deps struct {
	Insights domain.InsightRepository
	Catalog  *rules.Catalog
	Scanner  Scanner
	Cache    domain.Cache
	Bus      domain.EventBus

	// BaseContext outlives requests; the background scanner is started with it.
	BaseContext context.Context
}

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, deps Deps, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "api")

	handler := NewHandler(deps, version, logger)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware(logger))
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware(logger))
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	router.Route("/insights", func(r chi.Router) {
		r.Get("/", handler.ListInsights)
		r.Get("/summary", handler.Summary)
		r.Get("/top", handler.TopInsights)
		r.Get("/{id}", handler.GetInsight)

		r.Group(func(r chi.Router) {
			r.Use(ActorMiddleware)
			r.Post("/{id}/acknowledge", handler.Acknowledge)
			r.Post("/{id}/assign", handler.Assign)
			r.Post("/{id}/resolve", handler.Resolve)
			r.Post("/{id}/dismiss", handler.Dismiss)
		})
	})

	router.Group(func(r chi.Router) {
		r.Use(ActorMiddleware)
		r.Post("/scan/{module}/{entityId}", handler.ScanEntity)
		r.Post("/scanner/start", handler.StartScanner)
		r.Post("/scanner/stop", handler.StopScanner)
		r.Post("/scanner/run", handler.RunScan)
	})
	router.Get("/scanner/status", handler.ScannerStatus)

	router.Get("/rules", handler.ListRules)
	router.Get("/rules/{module}", handler.ModuleRules)

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
