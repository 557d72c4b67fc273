// tenant_membership.go defines the (User, Tenant) join with its global role
// and the derived permission booleans downstream policy code consumes.
package models

import "time"

// TenantMembership links a user to a tenant with a role. Unique per pair.
type TenantMembership struct {
	TenantID  string
	UserID    string
	Role      Role
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsAdmin reports whether the role carries any admin standing,
// provisional or full.
func (m *TenantMembership) IsAdmin() bool {
	return m.Role.AtLeast(RoleProvisionalAdmin)
}

// IsFullAdmin reports whether the role is the full admin role.
func (m *TenantMembership) IsFullAdmin() bool {
	return m.Role == RoleAdmin
}

// CanApproveRequests reports whether the member may approve record requests.
func (m *TenantMembership) CanApproveRequests() bool {
	return m.Role.AtLeast(RoleSteward)
}

// CanChangeTenantSettings reports whether the member may change tenant
// settings. Full admins only.
func (m *TenantMembership) CanChangeTenantSettings() bool {
	return m.Role == RoleAdmin
}

// MembershipWithUser is the membership row joined with user display fields,
// for member listings.
type MembershipWithUser struct {
	TenantMembership
	UserEmail string
	UserName  string
}

// RoleCounts aggregates per-role member counts for one tenant. The maturity
// computation consumes it.
type RoleCounts struct {
	Admins   int
	Stewards int
	Total    int
}
