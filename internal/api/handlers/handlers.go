// Package handlers implements the HTTP handlers for the CheshireCat core
// runtime: tenant configuration CRUD, plugin administration, the per-tenant
// message endpoint, and knowledge ingestion.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/matteocacciola/cheshirecat-core/internal/eventbus"
	"github.com/matteocacciola/cheshirecat-core/internal/factory"
	"github.com/matteocacciola/cheshirecat-core/internal/plugins"
	"github.com/matteocacciola/cheshirecat-core/internal/rag"
	"github.com/matteocacciola/cheshirecat-core/internal/settings"
	"github.com/matteocacciola/cheshirecat-core/internal/tenant"
)

// Handlers holds all handler dependencies.
type Handlers struct {
	Store        settings.Store
	Catalog      *plugins.Catalog
	Registry     *factory.Registry
	Cache        *tenant.Cache
	Syncer       *eventbus.Syncer
	Orchestrator *rag.Orchestrator
}

// New creates a Handlers instance with all dependencies.
func New(store settings.Store, catalog *plugins.Catalog, registry *factory.Registry, cache *tenant.Cache, syncer *eventbus.Syncer, orchestrator *rag.Orchestrator) *Handlers {
	return &Handlers{
		Store:        store,
		Catalog:      catalog,
		Registry:     registry,
		Cache:        cache,
		Syncer:       syncer,
		Orchestrator: orchestrator,
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondResolveError maps tenant resolution failures onto HTTP statuses:
// unknown tenant is 404, a tenant whose components cannot be built right now
// is 503, anything else is 500.
func respondResolveError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tenant.ErrTenantNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, tenant.ErrTenantNotReady):
		respondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}
