package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/foxzi/arrsync/internal/config"
	"github.com/foxzi/arrsync/internal/deploy"
	"github.com/foxzi/arrsync/internal/ipfilter"
	"github.com/foxzi/arrsync/internal/metrics"
	"github.com/foxzi/arrsync/internal/models"
)

// Scheduler is the part of the update scheduler exposed over HTTP
type Scheduler interface {
	Run(ctx context.Context, trigger string) (*models.RunResult, error)
	Trigger() bool
	Status() models.SchedulerStatus
	Runs(limit int) ([]models.RunResult, error)
}

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	engine     *deploy.Service
	scheduler  Scheduler
	collector  *metrics.Collector
	config     config.ServerConfig
	auth       *tokenAuth
	filter     *ipfilter.Filter
	logger     *slog.Logger
	version    string
	startTime  time.Time
}

// NewServer creates a new API server. scheduler and collector may be nil.
func NewServer(engine *deploy.Service, scheduler Scheduler, collector *metrics.Collector, cfg *config.Config, version string, logger *slog.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		engine:    engine,
		scheduler: scheduler,
		collector: collector,
		config:    cfg.Server,
		auth:      newTokenAuth(cfg.API.Tokens),
		logger:    logger.With("component", "api"),
		version:   version,
		startTime: time.Now(),
	}

	s.filter = ipfilter.New(cfg.Server.AllowedIPs, s.logger)
	s.setupRoutes()
	return s
}

// Handler exposes the router, used by tests and the TLS listener
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	// runs before RealIP so forwarded headers cannot bypass it
	s.router.Use(s.filter.HTTPMiddleware)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(metrics.HTTPMiddleware(s.collector))

	// Health check (no auth required)
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Route("/templates", func(r chi.Router) {
			r.Get("/", s.handleTemplatesList)
			r.Post("/", s.handleTemplatesCreate)
			r.Post("/import", s.handleTemplatesImport)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleTemplatesGet)
				r.Put("/", s.handleTemplatesUpdate)
				r.Delete("/", s.handleTemplatesDelete)
				r.Put("/formats/{trashId}/score", s.handleFormatScore)
				r.Get("/mappings", s.handleTemplateMappings)
				r.Put("/strategy", s.handleBulkStrategy)
				r.Post("/bulk-deploy", s.handleBulkDeploy)

				r.Route("/instances/{instanceId}", func(r chi.Router) {
					r.Get("/preview", s.handlePreview)
					r.Post("/deploy", s.handleDeploy)

					r.Get("/resolutions", s.handleResolutionsGet)
					r.Put("/resolutions/{trashId}", s.handleResolutionSet)
					r.Delete("/resolutions", s.handleResolutionsReset)

					r.Get("/overrides", s.handleOverridesList)
					r.Put("/overrides/{trashId}", s.handleOverrideSet)
					r.Delete("/overrides", s.handleOverridesDeleteAll)
					r.Delete("/overrides/{trashId}", s.handleOverrideDelete)
					r.Post("/overrides/{trashId}/promote", s.handleOverridePromote)

					r.Get("/strategy", s.handleStrategyGet)
					r.Put("/strategy", s.handleStrategySet)
					r.Delete("/strategy", s.handleStrategyUnlink)
				})
			})
		})

		r.Get("/catalogs/{serviceType}", s.handleCatalog)

		r.Route("/history", func(r chi.Router) {
			r.Get("/", s.handleHistoryList)
			r.Get("/{id}", s.handleHistoryGet)
			r.Post("/{id}/undeploy", s.handleUndeploy)
			r.Delete("/{id}", s.handleHistoryDelete)
		})

		r.Get("/instances", s.handleInstances)

		r.Route("/scheduler", func(r chi.Router) {
			r.Post("/run", s.handleSchedulerRun)
			r.Get("/status", s.handleSchedulerStatus)
			r.Get("/runs", s.handleSchedulerRuns)
		})
	})
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:         s.config.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	s.logger.Info("starting HTTP API server", "addr", s.config.ListenAddr, "tls", s.config.TLS.Enabled)

	var err error
	if s.config.TLS.Enabled {
		err = s.httpServer.ListenAndServeTLS(s.config.TLS.CertFile, s.config.TLS.KeyFile)
	} else {
		err = s.httpServer.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
