// Package adminapi implements the authenticated management HTTP handlers:
// API key issuance, tenant settings, membership administration, per-user
// feature opt-outs, and the audit log listing. Every route here sits behind
// session or API key authentication; role and scope gates are applied by the
// router, ownership checks by the handlers themselves.
package adminapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/DecisionRecordsORG/decision-records/internal/auth"
	"github.com/DecisionRecordsORG/decision-records/internal/db/models"
	"github.com/DecisionRecordsORG/decision-records/internal/db/repositories"
	"github.com/DecisionRecordsORG/decision-records/internal/middleware"
	"github.com/DecisionRecordsORG/decision-records/internal/policy"
)

type keyIssuer interface {
	Create(ctx context.Context, userID, tenantID, name string, scopes []string, ttlDays int) (*models.APIKey, string, error)
	Revoke(ctx context.Context, keyID string) error
}

type keyStore interface {
	GetAPIKeyByID(ctx context.Context, id string) (*models.APIKey, error)
	ListAPIKeys(ctx context.Context, userID, tenantID string) ([]*models.APIKey, error)
}

type tenantStore interface {
	GetTenantByID(ctx context.Context, id string) (*models.Tenant, error)
	UpdateTenantSettings(ctx context.Context, tenant *models.Tenant) error
}

type memberStore interface {
	GetMembership(ctx context.Context, tenantID, userID string) (*models.TenantMembership, error)
	UpdateRole(ctx context.Context, tenantID, userID string, role models.Role) error
	DeleteMembership(ctx context.Context, tenantID, userID string) error
	ListMembersByTenant(ctx context.Context, tenantID string, limit, offset int) ([]*models.MembershipWithUser, error)
}

type userStore interface {
	SetFeatureOptOuts(ctx context.Context, userID string, aiSearch, slackQueries, externalAPI bool) error
}

type auditStore interface {
	CreateEntry(ctx context.Context, entry *models.AuditLog) error
	ListByTenant(ctx context.Context, tenantID string, limit, offset int) ([]*models.AuditLog, error)
}

// maturityUpdater recomputes tenant maturity after membership or threshold
// changes.
type maturityUpdater interface {
	Update(ctx context.Context, tenantID string) (bool, error)
}

var _ keyIssuer = (*auth.APIKeyService)(nil)
var _ keyStore = (*repositories.APIKeyRepository)(nil)
var _ tenantStore = (*repositories.TenantRepository)(nil)
var _ memberStore = (*repositories.MembershipRepository)(nil)
var _ userStore = (*repositories.UserRepository)(nil)
var _ auditStore = (*repositories.AuditRepository)(nil)
var _ maturityUpdater = (*policy.MaturityService)(nil)

// Handlers carries the dependencies of the management endpoints.
type Handlers struct {
	keys     keyIssuer
	keyStore keyStore
	tenants  tenantStore
	members  memberStore
	users    userStore
	audit    auditStore
	maturity maturityUpdater
}

// NewHandlers creates the management handler set.
func NewHandlers(keys keyIssuer, keyStore keyStore, tenants tenantStore,
	members memberStore, users userStore, audit auditStore, maturity maturityUpdater) *Handlers {
	return &Handlers{
		keys:     keys,
		keyStore: keyStore,
		tenants:  tenants,
		members:  members,
		users:    users,
		audit:    audit,
		maturity: maturity,
	}
}

// principalAndTenant resolves the acting principal and its tenant id. Master
// principals carry no tenant; tenant users always do once authenticated.
func principalAndTenant(c *gin.Context) (*policy.Principal, string) {
	p := middleware.CurrentPrincipal(c)
	if p == nil {
		return nil, ""
	}
	if p.Tenant != nil {
		return p, p.Tenant.ID
	}
	return p, ""
}

// tenantScope resolves which tenant an admin endpoint operates on. Tenant
// callers act on their own tenant; a master principal belongs to none and
// names one with ?tenant_id=. Returns false after writing the error response
// when no tenant could be resolved.
func tenantScope(c *gin.Context) (string, bool) {
	p, tenantID := principalAndTenant(c)
	if p == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return "", false
	}
	if p.IsMaster() {
		tenantID = c.Query("tenant_id")
	}
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tenant_id is required"})
		return "", false
	}
	return tenantID, true
}

// pagination parses ?limit= and ?offset= with sane bounds.
func pagination(c *gin.Context) (limit, offset int) {
	limit = 50
	if v, err := strconv.Atoi(c.DefaultQuery("limit", "50")); err == nil && v > 0 {
		limit = min(v, 200)
	}
	if v, err := strconv.Atoi(c.DefaultQuery("offset", "0")); err == nil && v >= 0 {
		offset = v
	}
	return limit, offset
}

// recordAction writes an audit row for a management mutation. Best effort.
func (h *Handlers) recordAction(c *gin.Context, action, resourceType, resourceID string, metadata map[string]interface{}) {
	entry := &models.AuditLog{
		ID:       uuid.New().String(),
		Action:   action,
		Metadata: metadata,
	}
	if resourceType != "" {
		entry.ResourceType = &resourceType
	}
	if resourceID != "" {
		entry.ResourceID = &resourceID
	}
	if userID := c.GetString(middleware.UserIDKey); userID != "" {
		entry.UserID = &userID
	}
	if tenantID := c.GetString(middleware.TenantIDKey); tenantID != "" {
		entry.TenantID = &tenantID
	}
	ip := c.ClientIP()
	if ip != "" {
		entry.IPAddress = &ip
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), 5*time.Second)
	defer cancel()
	_ = h.audit.CreateEntry(ctx, entry)
}
