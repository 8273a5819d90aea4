// Package api serves the JSON HTTP API used by the dashboard.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/foxzi/letterbox/internal/archive"
	"github.com/foxzi/letterbox/internal/config"
	"github.com/foxzi/letterbox/internal/delivery"
	"github.com/foxzi/letterbox/internal/draft"
	"github.com/foxzi/letterbox/internal/ipfilter"
	"github.com/foxzi/letterbox/internal/metrics"
	"github.com/foxzi/letterbox/internal/settings"
	"github.com/foxzi/letterbox/internal/subscriber"
)

// Outbox is the read side of the delivery queue
type Outbox interface {
	Get(ctx context.Context, id string) (*delivery.Message, error)
	List(ctx context.Context, filter delivery.ListFilter) ([]*delivery.Message, error)
	Stats(ctx context.Context) (*delivery.Stats, error)
}

// Deps are the services exposed by the API
type Deps struct {
	Audience *subscriber.Service
	Archive  *archive.Service
	Settings *settings.Service
	Drafts   *draft.Manager
	Outbox   Outbox
	Version  string
}

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	deps       Deps
	config     *config.APIConfig
	logger     *slog.Logger
	startTime  time.Time
}

// NewServer creates a new API server
func NewServer(deps Deps, cfg *config.APIConfig, logger *slog.Logger) *Server {
	if deps.Version == "" {
		deps.Version = "dev"
	}
	s := &Server{
		router:    chi.NewRouter(),
		deps:      deps,
		config:    cfg,
		logger:    logger,
		startTime: time.Now(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(metrics.HTTPMiddleware)

	if len(s.config.CORSOrigins) > 0 {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.config.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
			ExposedHeaders:   []string{"Content-Disposition"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.sendError(w, http.StatusNotFound, "not_found", "Not found")
	})
	s.router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.sendError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
	})

	filter := ipfilter.New(s.config.AllowedIPs, s.logger)
	filter.SetTrustedProxies(s.config.TrustedProxies)

	// Public routes
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(filter.HTTPMiddleware)

		r.Post("/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/dashboard", s.handleDashboard)

			r.Route("/audience", func(r chi.Router) {
				r.Get("/", s.handleListSubscribers)
				r.Post("/", s.handleAddSubscriber)
				r.Get("/counts", s.handleSubscriberCounts)
				r.Post("/import", s.handleImportSubscribers)
				r.Get("/export", s.handleExportSubscribers)
				r.Delete("/{id}", s.handleRemoveSubscriber)
				r.Put("/{id}/status", s.handleSetSubscriberStatus)
			})

			r.Route("/history", func(r chi.Router) {
				r.Get("/", s.handleListHistory)
				r.Get("/stats", s.handleHistoryStats)
				r.Get("/{id}", s.handleGetNewsletter)
			})

			r.Route("/settings", func(r chi.Router) {
				r.Get("/", s.handleGetSettings)
				r.Put("/", s.handleSaveSettings)
				r.Post("/test/{service}", s.handleTestConnection)
			})

			r.Route("/drafts", func(r chi.Router) {
				r.Get("/", s.handleListDrafts)
				r.Post("/", s.handleCreateDraft)
				r.Get("/{id}", s.handleGetDraft)
				r.Delete("/{id}", s.handleDeleteDraft)
				r.Post("/{id}/generate", s.handleGenerateDraft)
				r.Patch("/{id}", s.handleEditDraft)
				r.Post("/{id}/save", s.handleSaveDraft)
				r.Post("/{id}/send", s.handleSendDraft)
			})

			r.Route("/outbox", func(r chi.Router) {
				r.Get("/", s.handleListOutbox)
				r.Get("/stats", s.handleOutboxStats)
				r.Get("/{id}", s.handleGetOutboxMessage)
				r.Post("/{id}/retry", s.handleRetryOutboxMessage)
			})
		})
	})
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:           s.config.ListenAddr,
		Handler:        s.router,
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		IdleTimeout:    s.config.IdleTimeout,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
	}

	s.logger.Info("starting HTTP API server", "addr", s.config.ListenAddr)
	err := s.httpServer.ListenAndServe()
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
