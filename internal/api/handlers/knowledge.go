package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/matteocacciola/cheshirecat-core/internal/api/middleware"
	"github.com/matteocacciola/cheshirecat-core/internal/rag"
	"github.com/matteocacciola/cheshirecat-core/pkg/models"
)

// ── Knowledge ingestion and retrieval ────────────────────────

type ingestRequest struct {
	Source    string         `json:"source"`
	Documents []rag.Document `json:"documents"`
}

// IngestKnowledge runs the RAG pipeline over the posted documents: each one
// passes through before_document_stored, gets chunked and embedded, and lands
// in the tenant's vector database.
func (h *Handlers) IngestKnowledge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.TenantID(ctx)

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Documents) == 0 {
		respondError(w, http.StatusBadRequest, "request body must carry at least one document")
		return
	}
	if req.Source == "" {
		req.Source = "api"
	}

	result, err := h.Orchestrator.Ingest(ctx, tenantID, req.Source, req.Documents)
	if err != nil {
		respondResolveError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, result)
}

type queryRequest struct {
	Text string `json:"text"`
	TopK int    `json:"top_k"`
}

func (h *Handlers) QueryKnowledge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.TenantID(ctx)

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		respondError(w, http.StatusBadRequest, "request body must carry a non-empty text field")
		return
	}

	hits, err := h.Orchestrator.Query(ctx, tenantID, req.Text, req.TopK)
	if err != nil {
		respondResolveError(w, err)
		return
	}
	if hits == nil {
		hits = []models.SearchResult{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"results": hits})
}
