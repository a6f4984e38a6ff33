package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func newCORSRouter(config CORSConfig) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS(config))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

// TestCORSWildcard verifies the allow-all mode answers preflights and never
// grants credentials.
func TestCORSWildcard(t *testing.T) {
	r := newCORSRouter(CORSConfig{AllowAllOrigins: true})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/ping", nil)
	req.Header.Set("Origin", "https://example.test")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("preflight status: got %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("allow-origin: got %q, want *", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Credentials"); got != "false" {
		t.Errorf("allow-credentials: got %q, want false", got)
	}
}

// TestCORSAllowList verifies only configured origins receive CORS headers.
func TestCORSAllowList(t *testing.T) {
	config := CORSConfig{AllowedOrigins: []string{"https://ui.internal"}}

	tests := []struct {
		name       string
		origin     string
		wantHeader string
	}{
		{"listed origin", "https://ui.internal", "https://ui.internal"},
		{"unlisted origin", "https://evil.test", ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := newCORSRouter(config)
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/ping", nil)
			req.Header.Set("Origin", tc.origin)
			r.ServeHTTP(w, req)

			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tc.wantHeader {
				t.Errorf("allow-origin: got %q, want %q", got, tc.wantHeader)
			}
		})
	}
}
