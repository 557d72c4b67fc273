package authapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/DecisionRecordsORG/decision-records/internal/auth"
	"github.com/DecisionRecordsORG/decision-records/internal/middleware"
	"github.com/DecisionRecordsORG/decision-records/internal/session"
)

type masterLoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// MasterLogin authenticates an operator account with username and password.
// Failures are reported identically whether the account exists or not.
// POST /v1/auth/master/login
func (h *Handlers) MasterLogin(c *gin.Context) {
	var req masterLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Username and password are required"})
		return
	}

	account, err := h.masters.GetMasterAccountByUsername(c.Request.Context(), req.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to look up account"})
		return
	}
	if account == nil || !auth.CheckPassword(req.Password, account.PasswordHash) {
		h.recordLogin(c.Request.Context(), "login.master.failed", nil, nil, c.ClientIP())
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	if _, err := h.sessions.Issue(c, &session.Data{MasterID: account.ID}); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to establish session"})
		return
	}

	h.recordLogin(c.Request.Context(), "login.master", nil, nil, c.ClientIP())
	c.JSON(http.StatusOK, gin.H{"username": account.Username})
}

// Logout destroys the caller's session. Safe to call without one.
// POST /v1/auth/logout
func (h *Handlers) Logout(c *gin.Context) {
	sid, data, err := h.sessions.Load(c)
	if err == nil && sid != "" {
		if data != nil && data.UserID != "" {
			h.recordLogin(c.Request.Context(), "logout", &data.UserID, nil, c.ClientIP())
		}
		_ = h.sessions.Clear(c, sid)
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Me describes the authenticated caller.
// GET /v1/auth/me
func (h *Handlers) Me(c *gin.Context) {
	p := middleware.CurrentPrincipal(c)
	if p == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	resp := gin.H{"kind": string(p.Kind)}
	if p.Master != nil {
		resp["username"] = p.Master.Username
	}
	if p.User != nil {
		resp["user_id"] = p.User.ID
		resp["email"] = p.User.Email
		resp["name"] = p.User.Name
	}
	if p.Tenant != nil {
		resp["tenant_id"] = p.Tenant.ID
		resp["tenant_name"] = p.Tenant.Name
	}
	if p.Membership != nil {
		resp["role"] = string(p.Membership.Role)
	}
	if p.APIKey != nil {
		resp["api_key_id"] = p.APIKey.ID
		resp["scopes"] = p.APIKey.Scopes
	}
	c.JSON(http.StatusOK, resp)
}
