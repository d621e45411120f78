package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func echoTenant(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte(TenantID(r.Context())))
}

func TestRequireTenantFromHeader(t *testing.T) {
	h := RequireTenant(http.HandlerFunc(echoTenant))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Tenant-Id", "acme")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "acme" {
		t.Fatalf("status = %d body = %q", rec.Code, rec.Body.String())
	}
}

func TestRequireTenantFromQuery(t *testing.T) {
	h := RequireTenant(http.HandlerFunc(echoTenant))

	req := httptest.NewRequest(http.MethodGet, "/?tenant_id=beta", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Body.String() != "beta" {
		t.Fatalf("body = %q, want beta", rec.Body.String())
	}
}

func TestRequireTenantMissingIsBadRequest(t *testing.T) {
	h := RequireTenant(http.HandlerFunc(echoTenant))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["error"] != "bad_request" {
		t.Errorf("body = %v", body)
	}
}

func TestRequireTenantRejectsReservedID(t *testing.T) {
	h := RequireTenant(http.HandlerFunc(echoTenant))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Tenant-Id", "system")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCredentialExtraction(t *testing.T) {
	h := Credential(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(GetCredential(r.Context())))
	}))

	tests := []struct {
		name  string
		setup func(*http.Request)
		want  string
	}{
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer tok-1") }, "tok-1"},
		{"api key header", func(r *http.Request) { r.Header.Set("X-API-Key", "key-2") }, "key-2"},
		{"query param", func(r *http.Request) { r.URL.RawQuery = "api_key=key-3" }, "key-3"},
		{"absent", func(*http.Request) {}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			tt.setup(req)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Body.String() != tt.want {
				t.Errorf("credential = %q, want %q", rec.Body.String(), tt.want)
			}
		})
	}
}
