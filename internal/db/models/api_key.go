// api_key.go defines the APIKey model. Only a bcrypt hash and a short display
// prefix of the secret are stored; the plaintext exists only at issuance.
package models

import "time"

// API key scopes.
const (
	ScopeRead   = "read"
	ScopeSearch = "search"
	ScopeWrite  = "write"
)

// APIKey represents an issued API key owned by one (user, tenant) pair.
type APIKey struct {
	ID         string
	UserID     string
	TenantID   string
	Name       string
	KeyHash    string   // bcrypt hash of the full secret
	KeyPrefix  string   // first 8 characters of the full key, for display and lookup
	Scopes     []string // subset of {read, search, write}
	ExpiresAt  *time.Time
	RevokedAt  *time.Time
	LastUsedAt *time.Time
	CreatedAt  time.Time
}

// IsRevoked reports whether the key has been revoked.
func (k *APIKey) IsRevoked() bool {
	return k.RevokedAt != nil
}

// IsExpired reports whether the key is past its expiry at the given instant.
// Keys without an expiry never expire.
func (k *APIKey) IsExpired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}

// HasScope reports whether the key carries the given scope.
func (k *APIKey) HasScope(scope string) bool {
	for _, s := range k.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// ValidScope reports whether s names a known API key scope.
func ValidScope(s string) bool {
	return s == ScopeRead || s == ScopeSearch || s == ScopeWrite
}
