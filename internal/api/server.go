// Package api provides the HTTP control API of the resource controller.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/socpm/pmres/internal/domain"
	"github.com/socpm/pmres/internal/health"
	"github.com/socpm/pmres/internal/infra/resource"
	"github.com/socpm/pmres/internal/infra/sqlite"
)

// Server is the pmres HTTP API server.
type Server struct {
	fw             *resource.Framework
	journal        *sqlite.DB      // nil disables /api/journal and /api/rollbacks
	health         *health.Checker // nil reports ok
	log            logr.Logger
	version        string
	metricsEnabled bool
}

// NewServer creates a new API server over fw.
func NewServer(fw *resource.Framework, log logr.Logger) *Server {
	return &Server{fw: fw, log: log.WithName("api"), version: "dev"}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetJournal exposes the transition journal.
func (s *Server) SetJournal(db *sqlite.DB) { s.journal = db }

// SetHealth backs /health with the checker's results.
func (s *Server) SetHealth(c *health.Checker) { s.health = c }

// SetVersion sets the version reported by /api/version.
func (s *Server) SetVersion(v string) { s.version = v }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
		})

		r.Get("/resources", s.handleListResources)
		r.Route("/resources/{name}", func(r chi.Router) {
			r.Get("/", s.handleGetResource)
			r.Post("/request", s.handleRequest)
			r.Post("/release", s.handleRelease)
		})

		r.Get("/domains", s.handleListDomains)
		r.Route("/domains/{vdd}", func(r chi.Router) {
			r.Post("/lock", s.handleLock)
			r.Post("/unlock", s.handleUnlock)
			r.Post("/opp", s.handleSetOPP)
			r.Post("/resync", s.handleResync)
		})

		r.Get("/dependencies", s.handleDependencies)
		r.Get("/journal", s.handleJournal)
		r.Get("/rollbacks", s.handleRollbacks)
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
		return
	}
	status, code := "ok", http.StatusOK
	if !s.health.IsHealthy() {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status": status,
		"checks": s.health.Statuses(),
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    "error",
		},
	})
}

// statusFor maps framework errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrResourceNotFound), errors.Is(err, domain.ErrClientNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidDomain), errors.Is(err, domain.ErrInvalidLevel),
		errors.Is(err, domain.ErrLockUnderflow):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrDependencyCycle):
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}
