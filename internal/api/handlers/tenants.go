package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/matteocacciola/cheshirecat-core/internal/settings"
	"github.com/matteocacciola/cheshirecat-core/pkg/models"
)

// ── Tenant configuration ─────────────────────────────────────

func (h *Handlers) ListTenants(w http.ResponseWriter, r *http.Request) {
	ids, err := h.Store.ListTenants(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if ids == nil {
		ids = []string{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"tenants": ids})
}

func (h *Handlers) GetTenant(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	cfg, err := h.Store.GetTenant(r.Context(), tenantID)
	if err != nil {
		if settings.IsNotFound(err) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, cfg)
}

// PutTenant creates or replaces a tenant's configuration. Factory selections
// are validated against the current allow-lists and enabled plugins against
// the catalog before anything is written. The new version is published on the
// synchronization channel, which invalidates the local cached instance before
// this call returns.
func (h *Handlers) PutTenant(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	if err := models.ValidateTenantID(tenantID); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req struct {
		Selections     map[models.ComponentKind]models.FactorySelection `json:"selections"`
		EnabledPlugins []string                                         `json:"enabled_plugins"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.validateSelections(req.Selections); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.validatePlugins(req.EnabledPlugins); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	cfg := &models.TenantConfig{
		TenantID:       tenantID,
		Selections:     req.Selections,
		EnabledPlugins: req.EnabledPlugins,
	}
	version, err := h.Store.PutTenant(r.Context(), cfg)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.Syncer.Publish(r.Context(), models.SyncSettingsChanged, tenantID, "", version)

	log.Info().Str("tenant", tenantID).Int64("version", version).Msg("Tenant configuration updated")
	respondJSON(w, http.StatusOK, cfg)
}

func (h *Handlers) DeleteTenant(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	cfg, err := h.Store.GetTenant(r.Context(), tenantID)
	if err != nil {
		if settings.IsNotFound(err) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := h.Store.DeleteTenant(r.Context(), tenantID); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.Syncer.Publish(r.Context(), models.SyncTenantInvalidate, tenantID, "", cfg.Version)

	log.Info().Str("tenant", tenantID).Msg("Tenant configuration deleted")
	w.WriteHeader(http.StatusNoContent)
}

// validateSelections rejects unknown component kinds and implementation names
// outside the current allow-lists. The error names the allowed set so callers
// can self-correct.
func (h *Handlers) validateSelections(selections map[models.ComponentKind]models.FactorySelection) error {
	for kind, sel := range selections {
		if !kind.Valid() {
			return fmt.Errorf("unknown component kind %q", kind)
		}
		if sel.Name == "" {
			continue
		}
		if !h.Registry.Allowed(kind, sel.Name) {
			return fmt.Errorf("%s %q is not available; allowed: %s",
				kind, sel.Name, strings.Join(h.Registry.AllowedNames(kind), ", "))
		}
	}
	return nil
}

func (h *Handlers) validatePlugins(names []string) error {
	for _, name := range names {
		if !h.Catalog.Has(name) {
			return fmt.Errorf("plugin %q is not installed", name)
		}
	}
	return nil
}
