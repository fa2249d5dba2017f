package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tlcmonkshawn/gemini-3-exploration/pkg/gateway/config"
)

func corsConfig(origins ...string) config.Config {
	cfg := config.Config{CORSAllowedOrigins: make(map[string]struct{})}
	for _, o := range origins {
		cfg.CORSAllowedOrigins[o] = struct{}{}
	}
	return cfg
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestCORS_PreflightAllowedOrigin(t *testing.T) {
	t.Parallel()

	h := CORS(corsConfig("http://localhost:3000"), okHandler())

	req := httptest.NewRequest(http.MethodOptions, "/api/deep/chat", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status=%d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("allow-origin=%q", got)
	}
}

func TestCORS_PreflightDeniedOrigin(t *testing.T) {
	t.Parallel()

	h := CORS(corsConfig("http://localhost:3000"), okHandler())

	req := httptest.NewRequest(http.MethodOptions, "/api/deep/chat", nil)
	req.Header.Set("Origin", "http://evil.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status=%d, want 403", rec.Code)
	}
}

func TestCORS_DisabledWithoutOrigins(t *testing.T) {
	t.Parallel()

	h := CORS(corsConfig(), okHandler())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("allow-origin=%q, want unset when disabled", got)
	}
}
