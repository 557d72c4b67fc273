package adminapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/DecisionRecordsORG/decision-records/internal/db/models"
)

type memberResponse struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	JoinedAt  time.Time `json:"joined_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ListMembers lists the tenant's members with their roles.
// GET /v1/admin/members?limit=50&offset=0
func (h *Handlers) ListMembers(c *gin.Context) {
	_, tenantID := principalAndTenant(c)
	if tenantID == "" {
		c.JSON(http.StatusForbidden, gin.H{"error": "No tenant context"})
		return
	}

	limit, offset := pagination(c)
	members, err := h.members.ListMembersByTenant(c.Request.Context(), tenantID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list members"})
		return
	}

	out := make([]memberResponse, 0, len(members))
	for _, m := range members {
		out = append(out, memberResponse{
			UserID:    m.UserID,
			Email:     m.UserEmail,
			Name:      m.UserName,
			Role:      string(m.Role),
			JoinedAt:  m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"members": out})
}

type updateRoleRequest struct {
	Role models.Role `json:"role" binding:"required"`
}

// UpdateMemberRole changes a member's role. Admins cannot change their own
// role, which keeps every tenant with at least one admin able to administer
// it. Role changes feed the maturity computation, so it is recomputed after
// the write.
// PUT /v1/admin/members/:id/role
func (h *Handlers) UpdateMemberRole(c *gin.Context) {
	p, tenantID := principalAndTenant(c)
	if tenantID == "" {
		c.JSON(http.StatusForbidden, gin.H{"error": "No tenant context"})
		return
	}

	var req updateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil || !req.Role.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "role must be one of user, provisional_admin, steward, admin"})
		return
	}

	targetID := c.Param("id")
	if p.User != nil && p.User.ID == targetID {
		c.JSON(http.StatusConflict, gin.H{"error": "Cannot change your own role"})
		return
	}

	membership, err := h.members.GetMembership(c.Request.Context(), tenantID, targetID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load membership"})
		return
	}
	if membership == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Member not found"})
		return
	}
	if membership.Role == req.Role {
		c.JSON(http.StatusOK, gin.H{"updated": false})
		return
	}

	if err := h.members.UpdateRole(c.Request.Context(), tenantID, targetID, req.Role); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update role"})
		return
	}

	h.recordAction(c, "member.role_change", "membership", targetID, map[string]interface{}{
		"from": string(membership.Role),
		"to":   string(req.Role),
	})

	if _, err := h.maturity.Update(c.Request.Context(), tenantID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Role saved but maturity update failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"updated": true})
}

// RemoveMember removes a member from the tenant. The user row survives; only
// the membership goes. Self-removal is refused for the same reason as
// self-demotion.
// DELETE /v1/admin/members/:id
func (h *Handlers) RemoveMember(c *gin.Context) {
	p, tenantID := principalAndTenant(c)
	if tenantID == "" {
		c.JSON(http.StatusForbidden, gin.H{"error": "No tenant context"})
		return
	}

	targetID := c.Param("id")
	if p.User != nil && p.User.ID == targetID {
		c.JSON(http.StatusConflict, gin.H{"error": "Cannot remove yourself"})
		return
	}

	membership, err := h.members.GetMembership(c.Request.Context(), tenantID, targetID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load membership"})
		return
	}
	if membership == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Member not found"})
		return
	}

	if err := h.members.DeleteMembership(c.Request.Context(), tenantID, targetID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to remove member"})
		return
	}

	h.recordAction(c, "member.remove", "membership", targetID, map[string]interface{}{
		"role": string(membership.Role),
	})

	// Removal changes member counts, but maturity never regresses; the
	// update is still run so bootstrap tenants get a consistent recompute.
	if _, err := h.maturity.Update(c.Request.Context(), tenantID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Member removed but maturity update failed"})
		return
	}

	c.Status(http.StatusNoContent)
}
