// passkey.go implements the WebAuthn ceremony endpoints. The challenge state
// issued at begin lives server-side in the session, never in the response
// body, so a finish call can only complete a ceremony begun by the same
// browser.
package authapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/DecisionRecordsORG/decision-records/internal/auth/passkey"
	"github.com/DecisionRecordsORG/decision-records/internal/db/models"
	"github.com/DecisionRecordsORG/decision-records/internal/session"
)

// PasskeyRegisterBegin issues a registration challenge. Logged-in users add a
// credential to their account; anonymous callers register a new account with
// the email and name from the request body.
// POST /v1/auth/passkey/register/begin {"email": "...", "name": "..."}
func (h *Handlers) PasskeyRegisterBegin(c *gin.Context) {
	sid, data, err := h.sessions.Load(c)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load session"})
		return
	}

	var user *models.User
	var pending session.PendingRegistration

	if data != nil && data.UserID != "" {
		user, err = h.users.GetUserByID(c.Request.Context(), data.UserID)
		if err != nil || user == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unknown session user"})
			return
		}
		pending = session.PendingRegistration{Email: user.Email, Name: user.Name, Domain: user.Domain}
	} else {
		var req struct {
			Email string `json:"email" binding:"required,email"`
			Name  string `json:"name"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "A valid email is required"})
			return
		}
		pending = session.PendingRegistration{
			Email:  req.Email,
			Name:   req.Name,
			Domain: models.EmailDomain(req.Email),
		}
	}

	options, blob, err := h.passkeys.BeginRegistration(c.Request.Context(), c.Request, pending, user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start registration"})
		return
	}

	if err := h.storeCeremony(c, sid, data, blob, &pending); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to persist ceremony state"})
		return
	}
	c.JSON(http.StatusOK, options)
}

// PasskeyRegisterFinish verifies the attestation response and stores the
// credential. Anonymous registrations get a session for the new account.
// POST /v1/auth/passkey/register/finish?label=YubiKey
func (h *Handlers) PasskeyRegisterFinish(c *gin.Context) {
	sid, data, err := h.sessions.Load(c)
	if err != nil || data == nil || data.PendingRegistration == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No registration in progress"})
		return
	}

	var user *models.User
	if data.UserID != "" {
		user, err = h.users.GetUserByID(c.Request.Context(), data.UserID)
		if err != nil || user == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unknown session user"})
			return
		}
	}

	pending := *data.PendingRegistration
	blob := data.WebAuthnSession
	h.clearCeremony(c, sid, data)

	user, cred, err := h.passkeys.FinishRegistration(c.Request.Context(), c.Request, blob, pending, user, c.Query("label"))
	if err != nil {
		h.passkeyError(c, err)
		return
	}

	if data.UserID == "" {
		tenant, _ := h.tenants.GetTenantByDomain(c.Request.Context(), user.Domain)
		if err := h.issueSignIn(c, user, tenant); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to establish session"})
			return
		}
	}

	h.recordLogin(c.Request.Context(), "passkey.register", &user.ID, nil, c.ClientIP())
	c.JSON(http.StatusCreated, gin.H{
		"credential_id": cred.ID,
		"label":         cred.Label,
	})
}

// PasskeyLoginBegin issues an authentication challenge. With an email the
// challenge is scoped to that account's credentials; without one the browser
// is asked for a discoverable credential.
// POST /v1/auth/passkey/login/begin {"email": "..."} (email optional)
func (h *Handlers) PasskeyLoginBegin(c *gin.Context) {
	sid, data, err := h.sessions.Load(c)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load session"})
		return
	}

	var req struct {
		Email string `json:"email"`
	}
	_ = c.ShouldBindJSON(&req) // empty body means discoverable login

	var user *models.User
	if req.Email != "" {
		user, err = h.users.GetUserByEmail(c.Request.Context(), req.Email)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to look up account"})
			return
		}
		// Unknown email falls through with user == nil: the engine answers
		// with a discoverable challenge, indistinguishable from a real one.
	}

	options, blob, err := h.passkeys.BeginLogin(c.Request.Context(), c.Request, user)
	if err != nil {
		if errors.Is(err, passkey.ErrUnknownUser) {
			// Known account, no passkeys. Same shape as the unknown-email
			// case so the endpoint is not an account oracle.
			options, blob, err = h.passkeys.BeginLogin(c.Request.Context(), c.Request, nil)
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start login"})
			return
		}
	}

	if err := h.storeCeremony(c, sid, data, blob, nil); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to persist ceremony state"})
		return
	}
	c.JSON(http.StatusOK, options)
}

// PasskeyLoginFinish verifies the assertion and signs the user in.
// POST /v1/auth/passkey/login/finish
func (h *Handlers) PasskeyLoginFinish(c *gin.Context) {
	sid, data, err := h.sessions.Load(c)
	if err != nil || data == nil || len(data.WebAuthnSession) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No login in progress"})
		return
	}

	blob := data.WebAuthnSession
	h.clearCeremony(c, sid, data)

	user, err := h.passkeys.FinishLogin(c.Request.Context(), c.Request, blob, nil)
	if err != nil {
		h.passkeyError(c, err)
		return
	}

	tenant, _ := h.tenants.GetTenantByDomain(c.Request.Context(), user.Domain)
	if err := h.issueSignIn(c, user, tenant); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to establish session"})
		return
	}

	var tenantID *string
	if tenant != nil {
		tenantID = &tenant.ID
	}
	h.recordLogin(c.Request.Context(), "login.passkey", &user.ID, tenantID, c.ClientIP())
	c.JSON(http.StatusOK, gin.H{"user_id": user.ID})
}

// PasskeyCredentialList lists the caller's registered credentials. The public
// key and credential id bytes stay server-side; only display fields go out.
// GET /v1/auth/passkey/credentials
func (h *Handlers) PasskeyCredentialList(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	creds, err := h.passkeys.ListCredentials(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list credentials"})
		return
	}

	out := make([]gin.H, 0, len(creds))
	for _, cred := range creds {
		entry := gin.H{
			"id":         cred.ID,
			"label":      cred.Label,
			"created_at": cred.CreatedAt,
		}
		if cred.LastUsedAt != nil {
			entry["last_used_at"] = cred.LastUsedAt
		}
		out = append(out, entry)
	}
	c.JSON(http.StatusOK, gin.H{"credentials": out})
}

// PasskeyCredentialDelete removes one of the caller's credentials, refusing
// to delete the last one.
// DELETE /v1/auth/passkey/credentials/:id
func (h *Handlers) PasskeyCredentialDelete(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	err := h.passkeys.DeleteCredential(c.Request.Context(), userID, c.Param("id"))
	switch {
	case err == nil:
		h.recordLogin(c.Request.Context(), "passkey.remove", &userID, nil, c.ClientIP())
		c.Status(http.StatusNoContent)
	case errors.Is(err, passkey.ErrLastCredential):
		c.JSON(http.StatusConflict, gin.H{"error": "Cannot remove the last passkey on the account"})
	case errors.Is(err, passkey.ErrUnknownUser):
		c.JSON(http.StatusNotFound, gin.H{"error": "Credential not found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to remove credential"})
	}
}

// ---------------------------------------------------------------------------
// ceremony session plumbing

// storeCeremony persists the challenge blob (and, for registrations, the
// pending identity) in the caller's session, creating an anonymous session
// when none exists yet.
func (h *Handlers) storeCeremony(c *gin.Context, sid string, data *session.Data, blob []byte, pending *session.PendingRegistration) error {
	if data == nil {
		data = &session.Data{}
		sid = ""
	}
	data.WebAuthnSession = blob
	data.PendingRegistration = pending

	if sid == "" {
		_, err := h.sessions.Issue(c, data)
		return err
	}
	return h.sessions.Save(c.Request.Context(), sid, data)
}

// clearCeremony drops ceremony state so a challenge can be used only once.
func (h *Handlers) clearCeremony(c *gin.Context, sid string, data *session.Data) {
	data.WebAuthnSession = nil
	data.PendingRegistration = nil
	_ = h.sessions.Save(c.Request.Context(), sid, data)
}

func (h *Handlers) passkeyError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, passkey.ErrCeremonyExpired):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Ceremony expired, start again"})
	case errors.Is(err, passkey.ErrInvalidCredential):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Verification failed"})
	case errors.Is(err, passkey.ErrUnknownUser):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Verification failed"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Verification failed"})
	}
}
