// statetoken.go defines the typed payload carried inside sealed stateful
// tokens and the codec that mints and verifies them. Every payload carries a
// purpose tag, a CSRF nonce, and an absolute expiry; Open rejects, in order,
// tokens that fail decryption, tokens minted for a different purpose, and
// tokens past their expiry. The ordering matters: a token replayed against
// the wrong flow must fail on the type tag even when it has also expired, so
// callers never learn which flow a stolen token belonged to.
package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

// TokenType tags a stateful token with the single flow it may be redeemed in.
type TokenType string

const (
	// TokenTypeOAuthState guards the Slack workspace-install OAuth flow.
	TokenTypeOAuthState TokenType = "oauth_state"
	// TokenTypeGoogleOIDC guards the Google sign-in flow.
	TokenTypeGoogleOIDC TokenType = "google_oidc"
	// TokenTypeSlackOIDC guards the Slack OIDC sign-in flow.
	TokenTypeSlackOIDC TokenType = "slack_oidc"
	// TokenTypeSSOOIDC guards the generic per-tenant SSO flow.
	TokenTypeSSOOIDC TokenType = "sso_oidc"
	// TokenTypeSlackLink guards cross-device Slack account linking.
	TokenTypeSlackLink TokenType = "slack_link"
	// TokenTypeSetup carries first-credential completion state in the session.
	TokenTypeSetup TokenType = "setup_token"
)

var (
	// ErrTokenTypeMismatch is returned when a token decodes correctly but was
	// minted for a different flow than the caller expected.
	ErrTokenTypeMismatch = errors.New("crypto: token type mismatch")
	// ErrTokenExpired is returned when an otherwise valid token is past its
	// embedded expiry timestamp.
	ErrTokenExpired = errors.New("crypto: token expired")
)

// StatePayload is the JSON document sealed inside every stateful token.
// Purpose-specific fields are optional and zero-valued when unused.
type StatePayload struct {
	Type      TokenType `json:"type"`
	CSRFToken string    `json:"csrf_token"`
	ExpiresAt time.Time `json:"expires_at"`

	// ReturnURL is where the browser should land after the flow completes.
	ReturnURL string `json:"return_url,omitempty"`
	// TenantID pins a flow to one tenant (per-tenant SSO, account linking).
	TenantID string `json:"tenant_id,omitempty"`
	// Subject carries a flow-specific identifier, e.g. the Slack user id
	// being linked or the email a setup token was issued for.
	Subject string `json:"subject,omitempty"`
	// ExtraData carries provider-specific context that survives the redirect.
	ExtraData map[string]string `json:"extra_data,omitempty"`
}

// StateCodec mints and verifies stateful tokens for exactly one purpose.
// Construct one codec per flow; each derives its own encryption key from the
// master secret and the purpose label, so codecs cannot open each other's
// tokens even before the type-tag check runs.
type StateCodec struct {
	cipher  *TokenCipher
	purpose TokenType
	now     func() time.Time
}

// NewStateCodec builds a codec for one purpose, deriving its key from the
// deployment master secret.
func NewStateCodec(masterSecret string, purpose TokenType) (*StateCodec, error) {
	cipher, err := NewTokenCipher(LabeledKey(masterSecret, string(purpose)))
	if err != nil {
		return nil, err
	}
	return &StateCodec{cipher: cipher, purpose: purpose, now: time.Now}, nil
}

// Seal serializes the payload, stamping the purpose tag, a fresh CSRF nonce,
// and an absolute expiry computed from ttl, and returns the opaque token.
// Any pre-set Type, CSRFToken, or ExpiresAt on the payload is overwritten —
// callers only supply purpose fields.
func (c *StateCodec) Seal(payload StatePayload, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", fmt.Errorf("crypto: token ttl must be positive, got %v", ttl)
	}

	nonce, err := csrfNonce()
	if err != nil {
		return "", err
	}

	payload.Type = c.purpose
	payload.CSRFToken = nonce
	payload.ExpiresAt = c.now().Add(ttl).UTC()

	plaintext, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("crypto: failed to serialize state payload: %w", err)
	}

	return c.cipher.Seal(plaintext)
}

// Open decrypts and validates a token. The checks run strictly in order:
// integrity (decryption), purpose tag, expiry. All failures are terminal and
// callers must present them to end users as a single generic "invalid or
// expired" condition.
func (c *StateCodec) Open(token string) (*StatePayload, error) {
	plaintext, err := c.cipher.Open(token)
	if err != nil {
		return nil, err
	}

	var payload StatePayload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, ErrCiphertextCorrupted
	}

	if payload.Type != c.purpose {
		return nil, ErrTokenTypeMismatch
	}

	if c.now().After(payload.ExpiresAt) {
		return nil, ErrTokenExpired
	}

	return &payload, nil
}

// csrfNonce returns a fresh 128-bit urlsafe random string.
func csrfNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
