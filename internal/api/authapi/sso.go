// sso.go implements the browser-facing OAuth/OIDC sign-in endpoints and the
// Slack workspace install flow. All failures redirect to the error route with
// a machine-readable code; nothing here returns provider error details to the
// browser.
package authapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/DecisionRecordsORG/decision-records/internal/auth/sso"
)

// GoogleLogin starts the Google OIDC flow.
// GET /v1/auth/google/login?return_url=/records
func (h *Handlers) GoogleLogin(c *gin.Context) {
	authURL, err := h.bridge.BeginGoogle(c.Request.Context(), returnURL(c))
	if err != nil {
		h.errorRedirect(c, err)
		return
	}
	c.Redirect(http.StatusFound, authURL)
}

// GoogleCallback finishes the Google OIDC flow.
// GET /v1/auth/google/callback?state=...&code=...
func (h *Handlers) GoogleCallback(c *gin.Context) {
	h.completeSignIn(c, sso.FlowGoogle, "login.google")
}

// SlackLogin starts the Slack OIDC sign-in flow (user identity, not the
// workspace install).
// GET /v1/auth/slack/login?return_url=/records
func (h *Handlers) SlackLogin(c *gin.Context) {
	authURL, err := h.bridge.BeginSlack(c.Request.Context(), returnURL(c))
	if err != nil {
		h.errorRedirect(c, err)
		return
	}
	c.Redirect(http.StatusFound, authURL)
}

// SlackCallback finishes the Slack OIDC sign-in flow.
func (h *Handlers) SlackCallback(c *gin.Context) {
	h.completeSignIn(c, sso.FlowSlack, "login.slack")
}

// SSOLogin starts a tenant's generic SSO flow. The tenant is named by its
// authentication domain so the login page can link straight from an email
// field.
// GET /v1/auth/sso/login?domain=acme.com&return_url=/records
func (h *Handlers) SSOLogin(c *gin.Context) {
	domain := c.Query("domain")
	if domain == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "domain is required"})
		return
	}
	tenant, err := h.tenants.GetTenantByDomain(c.Request.Context(), domain)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to look up tenant"})
		return
	}
	if tenant == nil {
		// Indistinguishable from a tenant with SSO off, on purpose.
		c.Redirect(http.StatusFound, ErrorRedirectPath+"?code="+sso.CodeProviderDisabled)
		return
	}

	authURL, err := h.bridge.BeginSSO(c.Request.Context(), tenant, returnURL(c))
	if err != nil {
		h.errorRedirect(c, err)
		return
	}
	c.Redirect(http.StatusFound, authURL)
}

// SSOCallback finishes a tenant SSO flow.
func (h *Handlers) SSOCallback(c *gin.Context) {
	h.completeSignIn(c, sso.FlowSSO, "login.sso")
}

func (h *Handlers) completeSignIn(c *gin.Context, flow sso.Flow, auditAction string) {
	if errParam := c.Query("error"); errParam != "" {
		// The provider declined (user hit cancel, consent denied). No local
		// failure to report beyond the fact itself.
		c.Redirect(http.StatusFound, ErrorRedirectPath+"?code="+sso.CodeExchangeFailed)
		return
	}

	result, err := h.bridge.Complete(c.Request.Context(), flow, c.Query("state"), c.Query("code"))
	if err != nil {
		h.errorRedirect(c, err)
		return
	}

	if err := h.issueSignIn(c, result.User, result.Tenant); err != nil {
		h.errorRedirect(c, err)
		return
	}

	var tenantID *string
	if result.Tenant != nil {
		tenantID = &result.Tenant.ID
	}
	h.recordLogin(c.Request.Context(), auditAction, &result.User.ID, tenantID, c.ClientIP())

	c.Redirect(http.StatusFound, result.ReturnURL)
}

// ---------------------------------------------------------------------------
// Slack workspace install

// SlackInstall starts the workspace-level OAuth install. The route is behind
// authentication and an admin gate; only the consent redirect is produced
// here.
// GET /v1/admin/slack/install
func (h *Handlers) SlackInstall(c *gin.Context) {
	if h.installer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Slack integration is not configured"})
		return
	}
	tenantID := c.GetString("tenant_id")
	if tenantID == "" {
		c.JSON(http.StatusForbidden, gin.H{"error": "No tenant context"})
		return
	}
	consentURL, err := h.installer.BeginInstall(tenantID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start install"})
		return
	}
	c.Redirect(http.StatusFound, consentURL)
}

// SlackInstallCallback finishes the workspace install. Public route: Slack
// redirects here, and the sealed state carries the tenant binding.
// GET /v1/auth/slack/install/callback?state=...&code=...
func (h *Handlers) SlackInstallCallback(c *gin.Context) {
	if h.installer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Slack integration is not configured"})
		return
	}
	tenant, err := h.installer.CompleteInstall(c.Request.Context(), c.Query("state"), c.Query("code"))
	if err != nil {
		h.errorRedirect(c, err)
		return
	}

	h.recordLogin(c.Request.Context(), "slack.install", nil, &tenant.ID, c.ClientIP())
	c.Redirect(http.StatusFound, "/settings/integrations")
}

// SlackLink redeems a cross-device link token, attaching the Slack user id in
// the token to the logged-in account.
// POST /v1/auth/slack/link {"token": "..."}
func (h *Handlers) SlackLink(c *gin.Context) {
	if h.linker == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Slack integration is not configured"})
		return
	}
	var req struct {
		Token string `json:"token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token is required"})
		return
	}
	userID := c.GetString("user_id")
	if err := h.linker.Redeem(c.Request.Context(), req.Token, userID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid or expired link token", "code": sso.ErrorCode(err)})
		return
	}

	h.recordLogin(c.Request.Context(), "slack.link", &userID, nil, c.ClientIP())
	c.JSON(http.StatusOK, gin.H{"linked": true})
}

// SlackLinkToken mints a cross-device link token for a Slack user in the
// caller's tenant. The chat backend calls this with its API key and hands the
// token to the Slack user, who redeems it from a logged-in browser.
// POST /v1/auth/slack/link/token {"slack_user_id": "U123"}
func (h *Handlers) SlackLinkToken(c *gin.Context) {
	if h.linker == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Slack integration is not configured"})
		return
	}
	var req struct {
		SlackUserID string `json:"slack_user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "slack_user_id is required"})
		return
	}
	tenantID := c.GetString("tenant_id")
	if tenantID == "" {
		c.JSON(http.StatusForbidden, gin.H{"error": "No tenant context"})
		return
	}

	token, err := h.linker.MintLinkToken(req.SlackUserID, tenantID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to mint link token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

// SlackInstallStatus reports whether the caller's tenant has a Slack
// workspace installed and whether the stored bot token still unseals. The
// token itself is never returned.
// GET /v1/admin/slack/install/status
func (h *Handlers) SlackInstallStatus(c *gin.Context) {
	if h.installer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Slack integration is not configured"})
		return
	}
	tenantID := c.GetString("tenant_id")
	if tenantID == "" {
		c.JSON(http.StatusForbidden, gin.H{"error": "No tenant context"})
		return
	}
	tenant, err := h.tenants.GetTenantByID(c.Request.Context(), tenantID)
	if err != nil || tenant == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to look up tenant"})
		return
	}

	resp := gin.H{"installed": tenant.SlackTeamID != nil, "token_ok": false}
	if tenant.SlackTeamID != nil {
		resp["team_id"] = *tenant.SlackTeamID
		if _, err := h.installer.BotToken(tenant); err == nil {
			resp["token_ok"] = true
		}
	}
	c.JSON(http.StatusOK, resp)
}
