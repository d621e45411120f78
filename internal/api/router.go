package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/matteocacciola/cheshirecat-core/internal/api/handlers"
	"github.com/matteocacciola/cheshirecat-core/internal/api/middleware"
	"github.com/matteocacciola/cheshirecat-core/internal/config"
)

// NewRouter creates the HTTP router with all API routes.
func NewRouter(cfg *config.Config, h *handlers.Handlers) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(middleware.Credential)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Tenant-Id", "X-API-Key", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "X-Trace-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health & info
	r.Get("/health", healthHandler)
	r.Get("/version", versionHandler(cfg))

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		// Tenant configuration
		r.Route("/tenants", func(r chi.Router) {
			r.Get("/", h.ListTenants)
			r.Route("/{tenantID}", func(r chi.Router) {
				r.Get("/", h.GetTenant)
				r.Put("/", h.PutTenant)
				r.Delete("/", h.DeleteTenant)
			})
		})

		// Plugin administration
		r.Route("/plugins", func(r chi.Router) {
			r.Get("/", h.ListPlugins)
			r.Post("/install", h.InstallPlugin)
			r.Route("/{pluginName}", func(r chi.Router) {
				r.Get("/", h.GetPlugin)
				r.Delete("/", h.UninstallPlugin)
			})
		})

		// Per-tenant operations. A tenant id is mandatory here: requests
		// without one are rejected, never routed to a default tenant.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireTenant)
			r.Post("/message", h.PostMessage)
			r.Route("/rag", func(r chi.Router) {
				r.Post("/ingest", h.IngestKnowledge)
				r.Post("/query", h.QueryKnowledge)
			})
		})
	})

	return r
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "cheshirecat-core",
	})
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"version": cfg.Version,
			"service": "cheshirecat-core",
		})
	}
}
