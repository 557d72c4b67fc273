// Package session implements the server-side session store. The client holds
// only an HMAC-signed cookie carrying a random session id; everything else —
// the authenticated user or master-account id and transient ceremony state
// (pending WebAuthn challenge, pending registration context, setup token) —
// lives server-side, keyed by that id. The production store is Redis; an
// in-memory store backs tests.
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned when no session exists for the given id.
var ErrNotFound = errors.New("session: not found")

// PendingRegistration carries the context of an in-flight WebAuthn
// registration ceremony between the begin and finish requests.
type PendingRegistration struct {
	Email  string `json:"email"`
	Name   string `json:"name"`
	Domain string `json:"domain"`
}

// Data is everything stored server-side for one session.
type Data struct {
	UserID   string `json:"user_id,omitempty"`
	MasterID string `json:"master_id,omitempty"`

	// TenantID pins the session to the tenant resolved at login.
	TenantID string `json:"tenant_id,omitempty"`

	// WebAuthnSession holds the serialized ceremony state between begin and
	// finish. Cleared on completion.
	WebAuthnSession     []byte               `json:"webauthn_session,omitempty"`
	PendingRegistration *PendingRegistration `json:"pending_registration,omitempty"`

	// SetupToken is a sealed first-credential completion token. Carried in
	// the session, never in a URL.
	SetupToken string `json:"setup_token,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// IsAuthenticated reports whether the session belongs to a logged-in
// principal of either kind.
func (d *Data) IsAuthenticated() bool {
	return d.UserID != "" || d.MasterID != ""
}

// IsMaster reports whether the session belongs to a master account.
func (d *Data) IsMaster() bool {
	return d.MasterID != ""
}

// Store persists session data keyed by session id.
type Store interface {
	// Get returns the session data for sid, or ErrNotFound.
	Get(ctx context.Context, sid string) (*Data, error)
	// Save writes the session data with the given time-to-live.
	Save(ctx context.Context, sid string, data *Data, ttl time.Duration) error
	// Delete removes the session. Deleting a missing session is not an error.
	Delete(ctx context.Context, sid string) error
}

// NewSID returns a fresh 128-bit random session id, urlsafe-encoded.
func NewSID() (string, error) {
	b := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
