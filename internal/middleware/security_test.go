package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func securityHeadersResponse(cfg SecurityHeadersConfig) http.Header {
	router := gin.New()
	router.Use(SecurityHeaders(cfg))
	router.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/x", nil))
	return w.Header()
}

func TestSecurityHeadersDefaults(t *testing.T) {
	h := securityHeadersResponse(DefaultSecurityHeadersConfig())

	checks := map[string]string{
		"Strict-Transport-Security":   "max-age=31536000; includeSubDomains",
		"X-Frame-Options":             "DENY",
		"X-Content-Type-Options":      "nosniff",
		"Referrer-Policy":             "strict-origin-when-cross-origin",
		"Cross-Origin-Opener-Policy":  "same-origin",
	}
	for name, want := range checks {
		if got := h.Get(name); got != want {
			t.Errorf("%s = %q, want %q", name, got, want)
		}
	}
	if !strings.Contains(h.Get("Content-Security-Policy"), "default-src 'self'") {
		t.Errorf("CSP = %q", h.Get("Content-Security-Policy"))
	}
}

func TestSecurityHeadersAPIProfile(t *testing.T) {
	h := securityHeadersResponse(APISecurityHeadersConfig())

	if got := h.Get("Content-Security-Policy"); got != "default-src 'none'; frame-ancestors 'none'" {
		t.Errorf("CSP = %q", got)
	}
	if got := h.Get("Referrer-Policy"); got != "no-referrer" {
		t.Errorf("Referrer-Policy = %q", got)
	}
	if h.Get("Permissions-Policy") != "" {
		t.Error("API profile should not set Permissions-Policy")
	}
}

func TestSecurityHeadersHSTSDisabled(t *testing.T) {
	cfg := DefaultSecurityHeadersConfig()
	cfg.EnableHSTS = false

	h := securityHeadersResponse(cfg)
	if h.Get("Strict-Transport-Security") != "" {
		t.Error("HSTS header set while disabled")
	}
}

func TestSecurityHeadersOnErrorResponses(t *testing.T) {
	router := gin.New()
	router.Use(SecurityHeaders(APISecurityHeadersConfig()))
	// No routes registered: request 404s before any handler runs.

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/missing", nil))

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing on 404")
	}
}
