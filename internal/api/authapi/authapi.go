// Package authapi implements the public authentication HTTP handlers:
// OAuth/OIDC sign-in flows, the Slack workspace install, passkey ceremonies,
// master-account login, and session management. Unlike the admin handlers,
// most of these endpoints are reachable without an existing session — they
// are where sessions come from.
package authapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/DecisionRecordsORG/decision-records/internal/auth/passkey"
	"github.com/DecisionRecordsORG/decision-records/internal/auth/sso"
	"github.com/DecisionRecordsORG/decision-records/internal/config"
	"github.com/DecisionRecordsORG/decision-records/internal/db/models"
	"github.com/DecisionRecordsORG/decision-records/internal/db/repositories"
	"github.com/DecisionRecordsORG/decision-records/internal/session"
)

// ErrorRedirectPath is where failed sign-in flows land, with ?code= set to a
// machine-readable reason the frontend can translate.
const ErrorRedirectPath = "/auth/error"

type userStore interface {
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
}

type tenantStore interface {
	GetTenantByID(ctx context.Context, id string) (*models.Tenant, error)
	GetTenantByDomain(ctx context.Context, domain string) (*models.Tenant, error)
}

type masterStore interface {
	GetMasterAccountByUsername(ctx context.Context, username string) (*models.MasterAccount, error)
}

type auditStore interface {
	CreateEntry(ctx context.Context, entry *models.AuditLog) error
}

var _ userStore = (*repositories.UserRepository)(nil)
var _ tenantStore = (*repositories.TenantRepository)(nil)
var _ masterStore = (*repositories.MasterAccountRepository)(nil)
var _ auditStore = (*repositories.AuditRepository)(nil)

// Handlers carries the dependencies of the authentication endpoints.
type Handlers struct {
	cfg       *config.Config
	sessions  *session.Manager
	bridge    *sso.Bridge
	installer *sso.Installer
	linker    *sso.Linker
	passkeys  *passkey.Engine
	users     userStore
	tenants   tenantStore
	masters   masterStore
	audit     auditStore
}

// NewHandlers creates the authentication handler set. installer and linker
// may be nil when Slack is not configured; the corresponding endpoints then
// answer 503.
func NewHandlers(cfg *config.Config, sessions *session.Manager, bridge *sso.Bridge,
	installer *sso.Installer, linker *sso.Linker, passkeys *passkey.Engine,
	users userStore, tenants tenantStore, masters masterStore, audit auditStore) *Handlers {
	return &Handlers{
		cfg:       cfg,
		sessions:  sessions,
		bridge:    bridge,
		installer: installer,
		linker:    linker,
		passkeys:  passkeys,
		users:     users,
		tenants:   tenants,
		masters:   masters,
		audit:     audit,
	}
}

// returnURL sanitizes the post-login redirect target. Only same-site relative
// paths are accepted; anything absolute is replaced so the callback can never
// be used as an open redirect.
func returnURL(c *gin.Context) string {
	target := c.Query("return_url")
	if target == "" || !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") {
		return "/"
	}
	return target
}

// errorRedirect sends the browser to the error route with a stable code.
func (h *Handlers) errorRedirect(c *gin.Context, err error) {
	c.Redirect(http.StatusFound, ErrorRedirectPath+"?code="+sso.ErrorCode(err))
}

// recordLogin writes a login audit row. Best effort: handler outcomes never
// depend on the audit write.
func (h *Handlers) recordLogin(ctx context.Context, action string, userID, tenantID *string, ip string) {
	entry := &models.AuditLog{
		Action:    action,
		UserID:    userID,
		TenantID:  tenantID,
		CreatedAt: time.Now(),
	}
	if ip != "" {
		entry.IPAddress = &ip
	}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	_ = h.audit.CreateEntry(writeCtx, entry)
}

// issueSignIn establishes the browser session for a completed sign-in.
func (h *Handlers) issueSignIn(c *gin.Context, user *models.User, tenant *models.Tenant) error {
	data := &session.Data{UserID: user.ID}
	if tenant != nil {
		data.TenantID = tenant.ID
	}
	_, err := h.sessions.Issue(c, data)
	return err
}
