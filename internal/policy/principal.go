// Package policy resolves the acting principal of a request and enforces the
// layered authorization model on top of it: the four-tier role hierarchy, the
// tenant maturity rules, and the three-level feature-flag cascade. It is the
// only package the business handlers consult directly; everything below it
// (sessions, API keys, bearer tokens, ceremonies) feeds identities in.
package policy

import (
	"github.com/DecisionRecordsORG/decision-records/internal/db/models"
)

// Kind tags the principal union.
type Kind string

const (
	// KindMaster is the tenant-independent super administrator.
	KindMaster Kind = "master"
	// KindTenantUser is a user acting within one tenant membership.
	KindTenantUser Kind = "tenant_user"
)

// Principal is the resolved identity a request acts as. Exactly one variant
// is populated, selected by Kind: Master for the super administrator, or
// User/Membership/Tenant for a tenant user. APIKey is additionally set when
// the identity was established by a machine credential, so scope checks can
// be layered on top of role checks.
type Principal struct {
	Kind Kind

	Master *models.MasterAccount

	User       *models.User
	Membership *models.TenantMembership
	Tenant     *models.Tenant

	APIKey *models.APIKey
}

// NewMasterPrincipal wraps a master account.
func NewMasterPrincipal(master *models.MasterAccount) *Principal {
	return &Principal{Kind: KindMaster, Master: master}
}

// NewTenantPrincipal wraps a user acting inside a tenant.
func NewTenantPrincipal(user *models.User, membership *models.TenantMembership, tenant *models.Tenant) *Principal {
	return &Principal{
		Kind:       KindTenantUser,
		User:       user,
		Membership: membership,
		Tenant:     tenant,
	}
}

// IsMaster reports whether the principal is the super administrator.
func (p *Principal) IsMaster() bool { return p.Kind == KindMaster }

// Role returns the principal's role within its tenant. Masters have no
// tenant role; they return the empty role and are handled by the master
// branch of every gate before roles are consulted.
func (p *Principal) Role() models.Role {
	if p.Kind != KindTenantUser || p.Membership == nil {
		return ""
	}
	return p.Membership.Role
}

// HasScope reports whether the principal's credential carries the scope.
// Session-authenticated principals have no key and pass implicitly.
func (p *Principal) HasScope(scope string) bool {
	if p.APIKey == nil {
		return true
	}
	return p.APIKey.HasScope(scope)
}
