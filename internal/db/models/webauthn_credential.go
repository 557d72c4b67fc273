// webauthn_credential.go defines the stored passkey credential model.
package models

import "time"

// WebAuthnCredential is one registered authenticator belonging to a user.
// SignCount is strictly non-decreasing across successful authentications;
// a presented counter at or below the stored value means a possible cloned
// authenticator and the login is rejected.
type WebAuthnCredential struct {
	ID              string
	UserID          string
	CredentialID    []byte
	PublicKey       []byte
	AttestationType string
	AAGUID          []byte
	SignCount       uint32
	Transports      []string
	BackupEligible  bool
	BackupState     bool
	Label           string
	CreatedAt       time.Time
	LastUsedAt      *time.Time
}
