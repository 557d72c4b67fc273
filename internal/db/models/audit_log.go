// audit_log.go defines the AuditLog model for recording security-relevant
// events: logins, key lifecycle, credential changes, role changes, maturity
// transitions.
package models

import "time"

// AuditLog represents one audit log entry.
type AuditLog struct {
	ID           string
	UserID       *string // nil for system or unauthenticated actions
	TenantID     *string
	Action       string  // "login.google", "apikey.create", "tenant.maturity_transition"
	ResourceType *string // "user", "tenant", "api_key", "credential"
	ResourceID   *string
	Metadata     map[string]interface{}
	IPAddress    *string
	CreatedAt    time.Time
}
