// Package api exposes the campaign management HTTP surface plus the
// public tracking and webhook endpoints.
package api

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mailtide/mailtide/internal/config"
	"github.com/mailtide/mailtide/internal/dispatch"
	"github.com/mailtide/mailtide/internal/feedback"
	"github.com/mailtide/mailtide/internal/metrics"
	"github.com/mailtide/mailtide/internal/repository"
	"github.com/mailtide/mailtide/internal/segment"
	"github.com/mailtide/mailtide/internal/tracking"
)

// Server is the HTTP server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server

	campaigns   *repository.CampaignRepository
	jobs        *repository.JobRepository
	messages    *repository.MessageRepository
	recipients  *repository.RecipientRepository
	segments    *repository.SegmentRepository
	identities  *repository.IdentityRepository
	credentials *repository.CredentialRepository
	auditLog    *repository.AuditRepository
	pager       *segment.Pager

	dispatcher *dispatch.Dispatcher
	config     *config.Config
	logger     *slog.Logger
	startTime  time.Time
}

// NewServer creates the HTTP server and wires all routes
func NewServer(db *sql.DB, cfg *config.Config, dispatcher *dispatch.Dispatcher, m *metrics.Metrics, logger *slog.Logger) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		campaigns:   repository.NewCampaignRepository(db),
		jobs:        repository.NewJobRepository(db),
		messages:    repository.NewMessageRepository(db),
		recipients:  repository.NewRecipientRepository(db),
		segments:    repository.NewSegmentRepository(db),
		identities:  repository.NewIdentityRepository(db),
		credentials: repository.NewCredentialRepository(db),
		auditLog:    repository.NewAuditRepository(db),
		pager:       segment.NewPager(repository.NewRecipientRepository(db)),
		dispatcher:  dispatcher,
		config:      cfg,
		logger:      logger.With("component", "api"),
		startTime:   time.Now(),
	}

	s.setupRoutes(db, m)
	return s
}

func (s *Server) setupRoutes(db *sql.DB, m *metrics.Metrics) {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(metrics.HTTPMiddleware)

	// Public endpoints: health, metrics, tracking callbacks, webhooks.
	// Tracking links land in recipient inboxes and must not need auth.
	s.router.Get("/health", s.handleHealth)
	if m != nil {
		s.router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
	}
	tracking.NewHandler(db, s.logger).Routes(s.router)
	feedback.NewHandler(db, s.logger).Routes(s.router)

	// Management API
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Route("/campaigns", func(r chi.Router) {
			r.Get("/", s.handleListCampaigns)
			r.Post("/", s.handleCreateCampaign)
			r.Get("/{id}", s.handleGetCampaign)
			r.Put("/{id}", s.handleUpdateCampaign)
			r.Delete("/{id}", s.handleDeleteCampaign)
			r.Post("/{id}/send", s.handleSendCampaign)
			r.Post("/{id}/pause", s.handlePauseCampaign)
			r.Get("/{id}/status", s.handleCampaignStatus)
			r.Get("/{id}/messages", s.handleCampaignMessages)
		})

		r.Route("/segments", func(r chi.Router) {
			r.Get("/", s.handleListSegments)
			r.Post("/", s.handleCreateSegment)
			r.Get("/{id}", s.handleGetSegment)
			r.Put("/{id}", s.handleUpdateSegment)
			r.Delete("/{id}", s.handleDeleteSegment)
			r.Get("/{id}/count", s.handleSegmentCount)
		})

		r.Route("/recipients", func(r chi.Router) {
			r.Get("/", s.handleListRecipients)
			r.Post("/", s.handleCreateRecipient)
			r.Post("/import", s.handleImportRecipients)
			r.Delete("/{id}", s.handleDeleteRecipient)
		})

		r.Route("/identities", func(r chi.Router) {
			r.Get("/", s.handleListIdentities)
			r.Post("/", s.handleCreateIdentity)
			r.Post("/{id}/verify", s.handleVerifyIdentity)
		})

		r.Route("/credentials", func(r chi.Router) {
			r.Get("/{tenant_id}", s.handleGetCredentials)
			r.Put("/{tenant_id}", s.handleUpsertCredentials)
		})

		r.Get("/audit", s.handleListAudit)
	})
}

// Router returns the configured handler, used by tests
func (s *Server) Router() http.Handler {
	return s.router
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:         s.config.Server.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.config.Server.ListenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
