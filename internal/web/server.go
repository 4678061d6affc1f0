// Package web provides the HTTP API of the contact import service.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/contacthub/internal/config"
	"github.com/JonMunkholm/contacthub/internal/contact"
	"github.com/JonMunkholm/contacthub/internal/importer"
	"github.com/JonMunkholm/contacthub/internal/mapping"
	"github.com/JonMunkholm/contacthub/internal/metrics"
	"github.com/JonMunkholm/contacthub/internal/web/middleware"
)

// Services are the collaborators the handlers drive. Metrics may be nil.
type Services struct {
	Mappings *mapping.Service
	Contacts *contact.Engine
	Imports  *importer.Orchestrator
	Files    *importer.FileImporter
	Metrics  *metrics.Metrics
}

// Server is the HTTP server for the contact API.
type Server struct {
	cfg      *config.Config
	svc      Services
	router   *chi.Mux
	server   *http.Server
	limiters []*middleware.RateLimiter
}

// NewServer creates a new Server instance.
func NewServer(cfg *config.Config, svc Services) *Server {
	s := &Server{
		cfg:    cfg,
		svc:    svc,
		router: chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)
	s.router.Use(chimw.Timeout(s.cfg.Server.RequestTimeout))
	s.router.Use(securityHeaders)
	s.router.Use(requestMetadata)
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	if s.svc.Metrics != nil {
		s.router.Method(http.MethodGet, "/metrics", s.svc.Metrics.Handler())
	}

	s.router.Route("/v1", func(r chi.Router) {
		if s.cfg.Rate.Enabled {
			r.Use(s.rateLimit(s.cfg.Rate.RequestsPerMinute))
		}
		r.Use(middleware.Auth(&s.cfg.Security))

		r.Route("/mappings", func(r chi.Router) {
			r.Post("/find-or-create", s.handleFindOrCreateMapping)
			r.Get("/{headerHash}", s.handleGetMapping)
			r.Put("/{headerHash}", s.handleUpdateMapping)
			r.Get("/{headerHash}/rules", s.handleGetMappingRules)
			r.Patch("/{headerHash}/rules", s.handleUpdateMappingRules)
		})

		r.Route("/contacts", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				if s.cfg.Rate.Enabled {
					r.Use(s.rateLimit(s.cfg.Rate.ImportLimit))
				}
				r.Post("/import", s.handleImportFile)
				r.Post("/import/preview", s.handlePreviewFile)
				r.Post("/bulk", s.handleBulkCreate)
			})

			r.Post("/", s.handleCreateContact)
			r.Get("/", s.handleListContacts)
			r.Delete("/trash", s.handleEmptyTrash)
			r.Get("/{id}", s.handleGetContact)
			r.Put("/{id}", s.handleUpdateContact)
			r.Patch("/{id}", s.handlePatchContact)
			r.Delete("/{id}", s.handleDeleteContact)
			r.Post("/{id}/restore", s.handleRestoreContact)
		})
	})
}

func (s *Server) rateLimit(perMinute int) func(http.Handler) http.Handler {
	rl := middleware.NewRateLimiter(perMinute)
	s.limiters = append(s.limiters, rl)
	return rl.Middleware
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	slog.Info("starting server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	for _, rl := range s.limiters {
		rl.Close()
	}
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

type healthResponse struct {
	Status  string                  `json:"status"`
	Imports *importer.LimiterStatus `json:"imports,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok"}
	if s.svc.Files != nil {
		st := s.svc.Files.Limiter().Status()
		resp.Imports = &st
	}
	writeJSON(w, http.StatusOK, resp)
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cache-Control", "no-store")

		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v as JSON with the given status.
// Logs encoding errors since headers are already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
