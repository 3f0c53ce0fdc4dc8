package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/jonny/sentinel/internal/adapter/inbound/api/middleware"
	"github.com/jonny/sentinel/internal/domain/port/inbound"
	"github.com/jonny/sentinel/pkg/version"
)

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port              int
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	RequestTimeout    time.Duration
	MaxBodyBytes      int64
	RequestsPerMinute int
	Burst             int
	TrustProxy        bool
	Principals        []middleware.Principal
	// IngestSecret, when set, switches the activity and honeytoken-access
	// routes from bearer auth to HMAC-signed bodies.
	IngestSecret string
}

// Server exposes the security port over HTTP.
type Server struct {
	cfg      ServerConfig
	security inbound.SecurityPort
	logger   *slog.Logger
	limiter  *middleware.RateLimiter
	srv      *http.Server
}

// NewServer creates a Server. A nil logger falls back to slog.Default().
func NewServer(cfg ServerConfig, security inbound.SecurityPort, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 120
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	return &Server{
		cfg:      cfg,
		security: security,
		logger:   logger,
		limiter:  middleware.NewRateLimiter(cfg.RequestsPerMinute, cfg.Burst, cfg.TrustProxy),
	}
}

// Routes builds the router. Layout:
//
//	GET   /api/v1/status
//	POST  /api/v1/checks
//	GET   /api/v1/alerts, /api/v1/alerts/{id}
//	PATCH /api/v1/alerts/{id}/status
//	GET   /api/v1/audit, /api/v1/audit/statistics
//	POST  /api/v1/audit/{id}/approve, /api/v1/audit/{id}/reject
//	GET   /api/v1/rollback/options
//	POST  /api/v1/rollback
//	GET   /api/v1/deployments
//	POST  /api/v1/deployments, /api/v1/deployments/{id}/complete
//	POST  /api/v1/snapshots/{id}/verify
//	POST  /api/v1/honeytokens, /api/v1/honeytokens/access
//	GET   /api/v1/config-files
//	POST  /api/v1/config-files, /api/v1/config-files/{id}/acknowledge
//	POST  /api/v1/activity/exports, /api/v1/activity/logins, /api/v1/activity/queries
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logging(s.logger))
	r.Use(middleware.ResponseHeaders(version.Version))
	r.Use(s.limiter.Middleware)
	r.Use(chimw.Timeout(s.cfg.RequestTimeout))
	r.Use(middleware.BodyReader(s.cfg.MaxBodyBytes))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondStatus(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondStatus(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.BearerAuth(s.cfg.Principals))

			r.Get("/status", s.handleStatus)
			r.Post("/checks", s.handleTriggerCheck)

			r.Route("/alerts", func(r chi.Router) {
				r.Get("/", s.handleListAlerts)
				r.Get("/{id}", s.handleGetAlert)
				r.Patch("/{id}/status", s.handleUpdateAlertStatus)
			})

			r.Route("/audit", func(r chi.Router) {
				r.Get("/", s.handleListAudit)
				r.Get("/statistics", s.handleAuditStatistics)
				r.Post("/{id}/approve", s.handleApprove)
				r.Post("/{id}/reject", s.handleReject)
			})

			r.Get("/rollback/options", s.handleRollbackOptions)
			r.Post("/rollback", s.handleInitiateRollback)

			r.Route("/deployments", func(r chi.Router) {
				r.Get("/", s.handleListDeployments)
				r.Post("/", s.handleStartDeployment)
				r.Post("/{id}/complete", s.handleCompleteDeployment)
			})
			r.Post("/snapshots/{id}/verify", s.handleVerifySnapshot)

			r.Post("/honeytokens", s.handleDeployHoneytoken)

			r.Route("/config-files", func(r chi.Router) {
				r.Get("/", s.handleListConfigFiles)
				r.Post("/", s.handleRegisterConfigFile)
				r.Post("/{id}/acknowledge", s.handleAcknowledgeConfig)
			})

			if s.cfg.IngestSecret == "" {
				s.ingestRoutes(r)
			}
		})

		if s.cfg.IngestSecret != "" {
			r.Group(func(r chi.Router) {
				r.Use(middleware.HMACAuth(s.cfg.IngestSecret))
				s.ingestRoutes(r)
			})
		}
	})

	return r
}

func (s *Server) ingestRoutes(r chi.Router) {
	r.Post("/honeytokens/access", s.handleHoneytokenAccess)
	r.Post("/activity/exports", s.handleRecordExport)
	r.Post("/activity/logins", s.handleRecordLogin)
	r.Post("/activity/queries", s.handleRecordQuery)
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.Routes(),
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api server listening", "port", s.cfg.Port)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	evict := time.NewTicker(5 * time.Minute)
	defer evict.Stop()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("api server shutdown: %w", err)
			}
			return nil
		case err := <-errCh:
			return err
		case <-evict.C:
			s.limiter.EvictStale(10 * time.Minute)
		}
	}
}
