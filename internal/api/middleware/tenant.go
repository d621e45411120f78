package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/matteocacciola/cheshirecat-core/pkg/models"
)

type contextKey string

const (
	// TenantIDKey is the context key for the resolved tenant id.
	TenantIDKey contextKey = "tenant_id"
	// CredentialKey is the context key for the caller credential.
	CredentialKey contextKey = "credential"
)

// RequireTenant resolves the tenant id from the X-Tenant-Id header or the
// tenant_id query parameter. A request without a tenant id is rejected with
// 400: there is no implicit default tenant.
func RequireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := strings.TrimSpace(r.Header.Get("X-Tenant-Id"))
		if tenantID == "" {
			tenantID = strings.TrimSpace(r.URL.Query().Get("tenant_id"))
		}
		if tenantID == "" {
			respondBadRequest(w, "tenant id required: set the X-Tenant-Id header or the tenant_id query parameter")
			return
		}
		if err := models.ValidateTenantID(tenantID); err != nil {
			respondBadRequest(w, err.Error())
			return
		}

		ctx := context.WithValue(r.Context(), TenantIDKey, tenantID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// TenantID retrieves the tenant id resolved by RequireTenant. Empty when the
// request did not pass through it.
func TenantID(ctx context.Context) string {
	if v, ok := ctx.Value(TenantIDKey).(string); ok {
		return v
	}
	return ""
}

// Credential extracts the caller credential and stores it in context for the
// tenant's auth handler. Checked in order: Authorization bearer token,
// X-API-Key header, api_key query parameter. Absence is not an error here —
// whether an empty credential is acceptable is the auth handler's call.
func Credential(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		credential := ""
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			credential = strings.TrimPrefix(auth, "Bearer ")
		} else if key := r.Header.Get("X-API-Key"); key != "" {
			credential = key
		} else if key := r.URL.Query().Get("api_key"); key != "" {
			credential = key
		}

		ctx := context.WithValue(r.Context(), CredentialKey, credential)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetCredential retrieves the caller credential from the request context.
func GetCredential(ctx context.Context) string {
	if v, ok := ctx.Value(CredentialKey).(string); ok {
		return v
	}
	return ""
}

func respondBadRequest(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   "bad_request",
		"message": msg,
	})
}
