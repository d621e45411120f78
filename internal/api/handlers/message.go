package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/matteocacciola/cheshirecat-core/internal/api/middleware"
	"github.com/matteocacciola/cheshirecat-core/internal/hooks"
	"github.com/matteocacciola/cheshirecat-core/internal/tenant"
	"github.com/matteocacciola/cheshirecat-core/pkg/models"
)

// ── Message endpoint ─────────────────────────────────────────

type messageRequest struct {
	Text string `json:"text"`
}

type messageResponse struct {
	TenantID string `json:"tenant_id"`
	Reply    string `json:"reply"`
	Fast     bool   `json:"fast"`
}

// PostMessage runs one conversational turn for the tenant: the inbound text
// passes through before_message_read, then agent_fast_reply may short-circuit
// the language model entirely, and whatever reply is produced passes through
// before_reply_sent before going back to the caller.
func (h *Handlers) PostMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.TenantID(ctx)

	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		respondError(w, http.StatusBadRequest, "request body must carry a non-empty text field")
		return
	}

	inst, err := h.Cache.Resolve(ctx, tenantID)
	if err != nil {
		respondResolveError(w, err)
		return
	}
	defer inst.Release()

	allowed, err := inst.Auth.Authorize(ctx, middleware.GetCredential(ctx), "conversation", "write")
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !allowed {
		respondError(w, http.StatusForbidden, "credential not authorized for this tenant")
		return
	}

	payload := hooks.Payload{
		"text":      req.Text,
		"tenant_id": tenantID,
	}
	payload, _, err = inst.Dispatch(ctx, hooks.BeforeMessageRead, payload)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	text, _ := payload["text"].(string)

	reply, fast, err := h.produceReply(ctx, inst, tenantID, text, payload)
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}

	outbound := hooks.Payload{
		"reply":     reply,
		"tenant_id": tenantID,
		"fast":      fast,
	}
	outbound, _, err = inst.Dispatch(ctx, hooks.BeforeReplySent, outbound)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if final, ok := outbound["reply"].(string); ok {
		reply = final
	}

	respondJSON(w, http.StatusOK, messageResponse{
		TenantID: tenantID,
		Reply:    reply,
		Fast:     fast,
	})
}

// produceReply consults agent_fast_reply first; when a handler short-circuits,
// its payload carries the reply and the language model is never invoked.
func (h *Handlers) produceReply(ctx context.Context, inst *tenant.Instance, tenantID, text string, payload hooks.Payload) (string, bool, error) {
	p, fast, err := inst.Dispatch(ctx, hooks.AgentFastReply, payload)
	if err != nil {
		return "", false, err
	}
	if fast {
		reply, _ := p["reply"].(string)
		log.Debug().Str("tenant", tenantID).Msg("Fast reply short-circuited the language model")
		return reply, true, nil
	}

	reply, err := inst.LLM.Complete(ctx, []models.ChatMessage{
		{Role: "user", Content: text},
	})
	if err != nil {
		return "", false, err
	}
	return reply, false, nil
}
