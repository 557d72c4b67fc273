package adminapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type featureOptOutRequest struct {
	AISearchEnabled     bool `json:"ai_search_enabled"`
	SlackQueriesEnabled bool `json:"slack_queries_enabled"`
	ExternalAPIEnabled  bool `json:"external_api_enabled"`
}

// GetMyFeatures returns the caller's per-user feature switches, the third
// level of the feature cascade. A feature enabled here can still be off for
// the request if the system or tenant level disables it.
// GET /v1/me/features
func (h *Handlers) GetMyFeatures(c *gin.Context) {
	p, _ := principalAndTenant(c)
	if p == nil || p.User == nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "Feature opt-outs belong to a tenant user"})
		return
	}
	c.JSON(http.StatusOK, featureOptOutRequest{
		AISearchEnabled:     p.User.AISearchEnabled,
		SlackQueriesEnabled: p.User.SlackQueriesEnabled,
		ExternalAPIEnabled:  p.User.ExternalAPIEnabled,
	})
}

// UpdateMyFeatures replaces the caller's per-user feature switches.
// PUT /v1/me/features
func (h *Handlers) UpdateMyFeatures(c *gin.Context) {
	p, _ := principalAndTenant(c)
	if p == nil || p.User == nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "Feature opt-outs belong to a tenant user"})
		return
	}

	var req featureOptOutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Malformed request body"})
		return
	}

	err := h.users.SetFeatureOptOuts(c.Request.Context(), p.User.ID,
		req.AISearchEnabled, req.SlackQueriesEnabled, req.ExternalAPIEnabled)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update features"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": true})
}
