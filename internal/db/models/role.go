// role.go defines the ordered global role set carried by tenant memberships.
package models

// Role is a tenant-scoped role. Roles are totally ordered:
// user < provisional_admin < steward < admin.
type Role string

const (
	RoleUser             Role = "user"
	RoleProvisionalAdmin Role = "provisional_admin"
	RoleSteward          Role = "steward"
	RoleAdmin            Role = "admin"
)

var roleRank = map[Role]int{
	RoleUser:             0,
	RoleProvisionalAdmin: 1,
	RoleSteward:          2,
	RoleAdmin:            3,
}

// Valid reports whether r is one of the four known roles.
func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// AtLeast reports whether r ranks at or above other. Unknown roles rank
// below everything.
func (r Role) AtLeast(other Role) bool {
	ra, ok := roleRank[r]
	if !ok {
		return false
	}
	rb, ok := roleRank[other]
	if !ok {
		return false
	}
	return ra >= rb
}
