package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/matteocacciola/cheshirecat-core/internal/plugins"
)

// ── Plugin administration ────────────────────────────────────

func (h *Handlers) ListPlugins(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"plugins": h.Catalog.List()})
}

func (h *Handlers) GetPlugin(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "pluginName")
	info, ok := h.Catalog.Get(name)
	if !ok {
		respondError(w, http.StatusNotFound, (&plugins.NotInstalledError{Name: name}).Error())
		return
	}
	respondJSON(w, http.StatusOK, info)
}

// InstallPlugin copies a plugin package from a path local to this replica
// into the managed plugin directory and reloads the catalog. Other replicas
// learn about the new plugin through the synchronization channel.
func (h *Handlers) InstallPlugin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		respondError(w, http.StatusBadRequest, "request body must carry a plugin package path")
		return
	}

	info, err := h.Catalog.Install(r.Context(), req.Path)
	if err != nil {
		var exists *plugins.AlreadyInstalledError
		if errors.As(err, &exists) {
			respondError(w, http.StatusConflict, err.Error())
			return
		}
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, info)
}

func (h *Handlers) UninstallPlugin(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "pluginName")
	cascade, _ := strconv.ParseBool(r.URL.Query().Get("cascade"))

	removed, err := h.Catalog.Uninstall(r.Context(), name, cascade)
	if err != nil {
		var (
			missing    *plugins.NotInstalledError
			dependents *plugins.DependentsError
		)
		switch {
		case errors.As(err, &missing):
			respondError(w, http.StatusNotFound, err.Error())
		case errors.As(err, &dependents):
			respondError(w, http.StatusConflict, err.Error())
		default:
			respondError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"removed": removed})
}
