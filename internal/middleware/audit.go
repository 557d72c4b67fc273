// audit.go provides Gin middleware that records authenticated write
// operations to the audit log.
package middleware

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/DecisionRecordsORG/decision-records/internal/config"
	"github.com/DecisionRecordsORG/decision-records/internal/db/models"
	"github.com/DecisionRecordsORG/decision-records/internal/db/repositories"
)

type auditWriter interface {
	CreateEntry(ctx context.Context, entry *models.AuditLog) error
}

var _ auditWriter = (*repositories.AuditRepository)(nil)

// Audit records write operations after the handler has run. Reads are never
// logged; failed writes are logged only when audit.log_failed_requests is on.
// The database write is asynchronous so audit latency never shows up on the
// request path.
func Audit(repo auditWriter, cfg config.AuditConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if !cfg.Enabled {
			return
		}
		switch c.Request.Method {
		case "GET", "HEAD", "OPTIONS":
			return
		}
		if c.Writer.Status() >= 400 && !cfg.LogFailedRequests {
			return
		}

		entry := &models.AuditLog{
			Action:    c.Request.Method + " " + routePath(c),
			CreatedAt: time.Now(),
			Metadata: map[string]interface{}{
				"status_code": c.Writer.Status(),
			},
		}
		if ip := c.ClientIP(); ip != "" {
			entry.IPAddress = &ip
		}
		if v, ok := c.Get(UserIDKey); ok {
			if id, ok := v.(string); ok && id != "" {
				entry.UserID = &id
			}
		}
		if v, ok := c.Get(TenantIDKey); ok {
			if id, ok := v.(string); ok && id != "" {
				entry.TenantID = &id
			}
		}
		if v, ok := c.Get(AuthMethodKey); ok {
			entry.Metadata["auth_method"] = v
		}
		if rt := resourceTypeForPath(c.Request.URL.Path); rt != "" {
			entry.ResourceType = &rt
		}

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := repo.CreateEntry(ctx, entry); err != nil {
				slog.Error("audit write failed", "action", entry.Action, "error", err)
			}
		}()
	}
}

// routePath prefers the matched route template over the raw URL so audit
// actions aggregate by endpoint rather than by resource id.
func routePath(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return c.Request.URL.Path
}

func resourceTypeForPath(path string) string {
	switch {
	case strings.Contains(path, "/keys"):
		return "api_key"
	case strings.Contains(path, "/credentials"), strings.Contains(path, "/passkey"):
		return "credential"
	case strings.Contains(path, "/members"):
		return "membership"
	case strings.Contains(path, "/tenants"), strings.Contains(path, "/settings"):
		return "tenant"
	case strings.Contains(path, "/auth"), strings.Contains(path, "/login"), strings.Contains(path, "/logout"):
		return "session"
	case strings.Contains(path, "/users"):
		return "user"
	default:
		return ""
	}
}
