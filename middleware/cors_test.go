package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func corsHandler(cfg CORSConfig) http.Handler {
	return CORS(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func TestCORSAllowedOrigin(t *testing.T) {
	handler := corsHandler(CORSConfig{
		AllowedOrigins:   []string{"https://app.example.com"},
		AllowedHeaders:   []string{"X-Session-Token"},
		AllowCredentials: true,
	})

	req := httptest.NewRequest(http.MethodGet, "/sessioninfo", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Fatalf("origin not echoed: %q", got)
	}
	if rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatal("credentials flag missing")
	}
}

func TestCORSUnknownOriginGetsNoHeaders(t *testing.T) {
	handler := corsHandler(CORSConfig{AllowedOrigins: []string{"https://app.example.com"}})

	req := httptest.NewRequest(http.MethodGet, "/sessioninfo", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("unknown origin must not be allowed")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("request itself still passes through, got %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	handler := corsHandler(CORSConfig{
		AllowedOrigins: []string{"https://app.example.com"},
		AllowedHeaders: []string{"X-Session-Token"},
	})

	req := httptest.NewRequest(http.MethodOptions, "/auth/signin", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight must be answered with 204, got %d", rec.Code)
	}
	allow := rec.Header().Get("Access-Control-Allow-Headers")
	if !strings.Contains(allow, "X-Session-Token") || !strings.Contains(allow, "Content-Type") {
		t.Fatalf("allow-headers incomplete: %q", allow)
	}
}
