// Package models defines the database model types for DecisionRecords.
// Each type corresponds to a database table. Models are pure data types —
// business logic belongs in the service layer, query logic belongs in the
// repositories layer.
package models

import (
	"strings"
	"time"
)

// User represents an end-user identity. Users are created on first successful
// login via any provider and are never hard-deleted.
type User struct {
	ID           string
	Email        string
	Name         string
	Domain       string // authentication domain derived from the email
	PasswordHash *string
	IsAdmin      bool
	GoogleSub    *string
	SlackUserID  *string
	SSOSub       *string

	// Per-user feature opt-outs, the third level of the feature cascade.
	AISearchEnabled     bool
	SlackQueriesEnabled bool
	ExternalAPIEnabled  bool

	LastLoginAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// MasterAccount is the tenant-independent super-administrator identity.
// Disjoint from User: username+password only, no memberships, no credentials.
type MasterAccount struct {
	ID           string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// EmailDomain derives the authentication domain from an email address,
// lowercased. Returns "" when the address has no @.
func EmailDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return strings.ToLower(email[at+1:])
}
