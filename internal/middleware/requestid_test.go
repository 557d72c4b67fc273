package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func requestIDRouter() *gin.Engine {
	router := gin.New()
	router.Use(RequestID())
	router.GET("/x", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(RequestIDKey))
	})
	return router
}

func TestRequestIDGenerated(t *testing.T) {
	router := requestIDRouter()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/x", nil))

	header := w.Header().Get(RequestIDHeader)
	if header == "" {
		t.Fatal("no X-Request-ID on response")
	}
	if _, err := uuid.Parse(header); err != nil {
		t.Errorf("generated id %q is not a UUID: %v", header, err)
	}
	if w.Body.String() != header {
		t.Error("context value and response header disagree")
	}
}

func TestRequestIDPropagated(t *testing.T) {
	router := requestIDRouter()

	req := httptest.NewRequest("GET", "/x", nil)
	req.Header.Set(RequestIDHeader, "upstream-id-42")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got := w.Header().Get(RequestIDHeader); got != "upstream-id-42" {
		t.Errorf("inbound id not reused: got %q", got)
	}
}

func TestRequestIDUniquePerRequest(t *testing.T) {
	router := requestIDRouter()

	seen := make(map[string]bool)
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/x", nil))
		id := w.Header().Get(RequestIDHeader)
		if seen[id] {
			t.Fatalf("duplicate request id %q", id)
		}
		seen[id] = true
	}
}
