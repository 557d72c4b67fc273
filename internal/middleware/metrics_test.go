package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/DecisionRecordsORG/decision-records/internal/telemetry"
)

func TestMetricsUsesRouteTemplate(t *testing.T) {
	router := gin.New()
	router.Use(Metrics())
	router.GET("/v1/tenants/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	before := testutil.ToFloat64(telemetry.HTTPRequestsTotal.WithLabelValues("GET", "/v1/tenants/:id", "200"))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/v1/tenants/tenant-1", nil))

	after := testutil.ToFloat64(telemetry.HTTPRequestsTotal.WithLabelValues("GET", "/v1/tenants/:id", "200"))
	if after != before+1 {
		t.Errorf("counter went %v -> %v, want +1", before, after)
	}
}

func TestMetricsUnmatchedRoute(t *testing.T) {
	router := gin.New()
	router.Use(Metrics())

	before := testutil.ToFloat64(telemetry.HTTPRequestsTotal.WithLabelValues("GET", "<no-route>", "404"))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/nope", nil))

	after := testutil.ToFloat64(telemetry.HTTPRequestsTotal.WithLabelValues("GET", "<no-route>", "404"))
	if after != before+1 {
		t.Errorf("counter went %v -> %v, want +1", before, after)
	}
}
