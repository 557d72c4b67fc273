package adminapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type tenantSettingsResponse struct {
	ID            string `json:"id"`
	Domain        string `json:"domain"`
	Name          string `json:"name"`
	MaturityState string `json:"maturity_state"`

	MatureAgeDays     *int `json:"mature_age_days"`
	MatureMemberCount *int `json:"mature_member_count"`

	GoogleEnabled bool `json:"google_enabled"`
	SlackEnabled  bool `json:"slack_enabled"`
	SSOEnabled    bool `json:"sso_enabled"`

	SSOIssuerURL *string `json:"sso_issuer_url"`
	SSOClientID  *string `json:"sso_client_id"`
	SSOConfigSet bool    `json:"sso_configured"`

	SlackInstalled bool `json:"slack_installed"`

	AISearchEnabled     bool `json:"ai_search_enabled"`
	SlackQueriesEnabled bool `json:"slack_queries_enabled"`
	ExternalAPIEnabled  bool `json:"external_api_enabled"`
}

type updateTenantSettingsRequest struct {
	Name string `json:"name" binding:"required,max=200"`

	MatureAgeDays     *int `json:"mature_age_days"`
	MatureMemberCount *int `json:"mature_member_count"`

	GoogleEnabled bool `json:"google_enabled"`
	SlackEnabled  bool `json:"slack_enabled"`
	SSOEnabled    bool `json:"sso_enabled"`

	SSOIssuerURL    *string `json:"sso_issuer_url"`
	SSOClientID     *string `json:"sso_client_id"`
	SSOClientSecret *string `json:"sso_client_secret"`

	AISearchEnabled     bool `json:"ai_search_enabled"`
	SlackQueriesEnabled bool `json:"slack_queries_enabled"`
	ExternalAPIEnabled  bool `json:"external_api_enabled"`
}

// GetTenantSettings returns the tenant settings. The SSO client secret and
// the Slack bot token never leave the server; only their presence is
// reported.
// GET /v1/admin/tenant
// GET /v1/admin/tenant?tenant_id=... (master only)
func (h *Handlers) GetTenantSettings(c *gin.Context) {
	tenantID, ok := tenantScope(c)
	if !ok {
		return
	}

	tenant, err := h.tenants.GetTenantByID(c.Request.Context(), tenantID)
	if err != nil || tenant == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load tenant"})
		return
	}

	c.JSON(http.StatusOK, tenantSettingsResponse{
		ID:                  tenant.ID,
		Domain:              tenant.Domain,
		Name:                tenant.Name,
		MaturityState:       tenant.MaturityState,
		MatureAgeDays:       tenant.MatureAgeDays,
		MatureMemberCount:   tenant.MatureMemberCount,
		GoogleEnabled:       tenant.GoogleEnabled,
		SlackEnabled:        tenant.SlackEnabled,
		SSOEnabled:          tenant.SSOEnabled,
		SSOIssuerURL:        tenant.SSOIssuerURL,
		SSOClientID:         tenant.SSOClientID,
		SSOConfigSet:        tenant.SSOConfigured(),
		SlackInstalled:      tenant.SlackTeamID != nil,
		AISearchEnabled:     tenant.AISearchEnabled,
		SlackQueriesEnabled: tenant.SlackQueriesEnabled,
		ExternalAPIEnabled:  tenant.ExternalAPIEnabled,
	})
}

// UpdateTenantSettings replaces the admin-editable tenant settings. Maturity
// threshold overrides at or below zero are stored as NULL, meaning "use the
// deployment defaults". An omitted SSO client secret keeps the stored one, so
// admins can edit other settings without re-entering it.
// PUT /v1/admin/tenant
// PUT /v1/admin/tenant?tenant_id=... (master only)
func (h *Handlers) UpdateTenantSettings(c *gin.Context) {
	tenantID, ok := tenantScope(c)
	if !ok {
		return
	}

	var req updateTenantSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}

	tenant, err := h.tenants.GetTenantByID(c.Request.Context(), tenantID)
	if err != nil || tenant == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load tenant"})
		return
	}

	tenant.Name = req.Name
	tenant.MatureAgeDays = normalizeThreshold(req.MatureAgeDays)
	tenant.MatureMemberCount = normalizeThreshold(req.MatureMemberCount)
	tenant.GoogleEnabled = req.GoogleEnabled
	tenant.SlackEnabled = req.SlackEnabled
	tenant.SSOEnabled = req.SSOEnabled
	tenant.SSOIssuerURL = req.SSOIssuerURL
	tenant.SSOClientID = req.SSOClientID
	if req.SSOClientSecret != nil {
		tenant.SSOClientSecret = req.SSOClientSecret
	}
	tenant.AISearchEnabled = req.AISearchEnabled
	tenant.SlackQueriesEnabled = req.SlackQueriesEnabled
	tenant.ExternalAPIEnabled = req.ExternalAPIEnabled

	if err := h.tenants.UpdateTenantSettings(c.Request.Context(), tenant); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update tenant"})
		return
	}

	h.recordAction(c, "tenant.settings_update", "tenant", tenant.ID, map[string]interface{}{
		"sso_enabled":    tenant.SSOEnabled,
		"google_enabled": tenant.GoogleEnabled,
		"slack_enabled":  tenant.SlackEnabled,
	})

	// Threshold changes can flip the maturity computation immediately.
	if _, err := h.maturity.Update(c.Request.Context(), tenant.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Settings saved but maturity update failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"updated": true})
}

// normalizeThreshold maps absent and non-positive overrides to NULL. Zero is
// deliberately not distinguishable from unset.
func normalizeThreshold(v *int) *int {
	if v == nil || *v <= 0 {
		return nil
	}
	return v
}
