package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/DecisionRecordsORG/decision-records/internal/telemetry"
)

// Metrics records a request counter and duration histogram for every request
// that passes through the router.
//
// The path label comes from c.FullPath(), the matched route template (e.g.
// /v1/auth/passkey/login/finish) rather than the raw URL, so per-resource ids
// do not inflate label cardinality. Requests that match no route use the
// literal "<no-route>".
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "<no-route>"
		}
		method := c.Request.Method
		status := strconv.Itoa(c.Writer.Status())

		telemetry.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
