package adminapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type auditEntryResponse struct {
	ID           string                 `json:"id"`
	Action       string                 `json:"action"`
	UserID       *string                `json:"user_id,omitempty"`
	ResourceType *string                `json:"resource_type,omitempty"`
	ResourceID   *string                `json:"resource_id,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	IPAddress    *string                `json:"ip_address,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
}

// ListAuditLog returns the tenant's audit trail, newest first. Master
// principals may inspect any tenant by id; tenant callers see their own.
// GET /v1/admin/audit?limit=50&offset=0
// GET /v1/admin/audit?tenant_id=... (master only, enforced here)
func (h *Handlers) ListAuditLog(c *gin.Context) {
	tenantID, ok := tenantScope(c)
	if !ok {
		return
	}

	limit, offset := pagination(c)
	entries, err := h.audit.ListByTenant(c.Request.Context(), tenantID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list audit log"})
		return
	}

	out := make([]auditEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditEntryResponse{
			ID:           e.ID,
			Action:       e.Action,
			UserID:       e.UserID,
			ResourceType: e.ResourceType,
			ResourceID:   e.ResourceID,
			Metadata:     e.Metadata,
			IPAddress:    e.IPAddress,
			CreatedAt:    e.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"entries": out})
}
