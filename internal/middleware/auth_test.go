package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAPIKeyAuthMissingKey(t *testing.T) {
	h := APIKeyAuth(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run without a key")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/jobs", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestAPIKeyAuthSetsOwnerHash(t *testing.T) {
	var gotHash string
	var gotPrivileged bool
	h := APIKeyAuth(func(hash string) bool { return hash == HashAPIKey("admin-key") })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotHash = OwnerHashFromContext(r.Context())
			gotPrivileged = PrivilegedFromContext(r.Context())
		}))

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", nil)
	req.Header.Set("X-API-Key", "user-key")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if gotHash != HashAPIKey("user-key") {
		t.Fatalf("owner hash = %q, want hash of user-key", gotHash)
	}
	if gotPrivileged {
		t.Fatal("standard key must not be privileged")
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/jobs", nil)
	req.Header.Set("X-API-Key", "admin-key")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if !gotPrivileged {
		t.Fatal("admin key must be privileged")
	}
}

func TestWidgetAuthUsesQueryParameter(t *testing.T) {
	var gotHash string
	h := WidgetAuth(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHash = OwnerHashFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/widget/paris?key=widget-key", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)
	if gotHash != HashAPIKey("widget-key") {
		t.Fatalf("owner hash = %q, want hash of widget-key", gotHash)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/widget/paris", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status without key = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}
