package adminapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/DecisionRecordsORG/decision-records/internal/auth"
	"github.com/DecisionRecordsORG/decision-records/internal/db/models"
	"github.com/DecisionRecordsORG/decision-records/internal/policy"
)

type createAPIKeyRequest struct {
	Name    string   `json:"name" binding:"required,max=100"`
	Scopes  []string `json:"scopes"`
	TTLDays int      `json:"ttl_days"`
}

type apiKeyResponse struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	KeyPrefix  string     `json:"key_prefix"`
	Scopes     []string   `json:"scopes"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func keyResponse(k *models.APIKey) apiKeyResponse {
	return apiKeyResponse{
		ID:         k.ID,
		Name:       k.Name,
		KeyPrefix:  k.KeyPrefix,
		Scopes:     k.Scopes,
		ExpiresAt:  k.ExpiresAt,
		LastUsedAt: k.LastUsedAt,
		RevokedAt:  k.RevokedAt,
		CreatedAt:  k.CreatedAt,
	}
}

// CreateAPIKey issues a key for the calling user in its tenant. The plaintext
// secret appears in this response and nowhere else, ever.
// POST /v1/admin/keys
func (h *Handlers) CreateAPIKey(c *gin.Context) {
	p, tenantID := principalAndTenant(c)
	if p == nil || p.User == nil || tenantID == "" {
		c.JSON(http.StatusForbidden, gin.H{"error": "API keys belong to a tenant user"})
		return
	}

	var req createAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}

	key, secret, err := h.keys.Create(c.Request.Context(), p.User.ID, tenantID, req.Name, req.Scopes, req.TTLDays)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidScope) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown scope; valid scopes are read, search, write"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create API key"})
		return
	}

	h.recordAction(c, "apikey.create", "api_key", key.ID, map[string]interface{}{
		"name":   key.Name,
		"scopes": key.Scopes,
	})

	resp := keyResponse(key)
	c.JSON(http.StatusCreated, gin.H{
		"key":    secret,
		"record": resp,
	})
}

// ListAPIKeys lists the calling user's keys in its tenant, hashed secrets
// omitted.
// GET /v1/admin/keys
func (h *Handlers) ListAPIKeys(c *gin.Context) {
	p, tenantID := principalAndTenant(c)
	if p == nil || p.User == nil || tenantID == "" {
		c.JSON(http.StatusForbidden, gin.H{"error": "API keys belong to a tenant user"})
		return
	}

	keys, err := h.keyStore.ListAPIKeys(c.Request.Context(), p.User.ID, tenantID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list API keys"})
		return
	}

	out := make([]apiKeyResponse, 0, len(keys))
	for _, k := range keys {
		out = append(out, keyResponse(k))
	}
	c.JSON(http.StatusOK, gin.H{"keys": out})
}

// RevokeAPIKey revokes a key. The owner may revoke their own keys; stewards
// and admins may revoke any key in their tenant. Revocation is idempotent,
// but a key outside the caller's reach is reported as not found rather than
// forbidden.
// DELETE /v1/admin/keys/:id
func (h *Handlers) RevokeAPIKey(c *gin.Context) {
	p, tenantID := principalAndTenant(c)
	if p == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	key, err := h.keyStore.GetAPIKeyByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load API key"})
		return
	}
	if key == nil || !h.canRevoke(p, tenantID, key) {
		c.JSON(http.StatusNotFound, gin.H{"error": "API key not found"})
		return
	}

	if err := h.keys.Revoke(c.Request.Context(), key.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to revoke API key"})
		return
	}

	h.recordAction(c, "apikey.revoke", "api_key", key.ID, map[string]interface{}{
		"name": key.Name,
	})
	c.Status(http.StatusNoContent)
}

func (h *Handlers) canRevoke(p *policy.Principal, tenantID string, key *models.APIKey) bool {
	if p.IsMaster() {
		return true
	}
	if key.TenantID != tenantID {
		return false
	}
	if p.User != nil && key.UserID == p.User.ID {
		return true
	}
	return p.Role().AtLeast(models.RoleSteward)
}
