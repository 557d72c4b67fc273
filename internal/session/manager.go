// manager.go binds the session store to the HTTP layer: it signs the session
// id into the cookie, verifies it on the way back in, and exposes
// load/issue/save/clear operations to handlers and middleware.
package session

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/DecisionRecordsORG/decision-records/internal/crypto"
)

// CookieName is the session cookie issued to browsers.
const CookieName = "dr_session"

// Manager signs session ids into cookies and resolves them back to stored
// session data.
type Manager struct {
	store      Store
	signingKey []byte
	ttl        time.Duration
	secure     bool
}

// NewManager creates a manager whose cookie-signing key is derived from the
// deployment master secret.
func NewManager(store Store, masterSecret string, ttl time.Duration, secure bool) *Manager {
	return &Manager{
		store:      store,
		signingKey: crypto.LabeledKey(masterSecret, "session-cookie"),
		ttl:        ttl,
		secure:     secure,
	}
}

// TTL returns the session lifetime.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

func (m *Manager) sign(sid string) string {
	mac := hmac.New(sha256.New, m.signingKey)
	mac.Write([]byte(sid))
	return sid + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func (m *Manager) verify(value string) (string, bool) {
	dot := strings.LastIndex(value, ".")
	if dot <= 0 || dot == len(value)-1 {
		return "", false
	}
	sid, sig := value[:dot], value[dot+1:]

	gotMAC, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil {
		return "", false
	}

	mac := hmac.New(sha256.New, m.signingKey)
	mac.Write([]byte(sid))
	if !hmac.Equal(gotMAC, mac.Sum(nil)) {
		return "", false
	}
	return sid, true
}

// Load resolves the request's session cookie to stored session data.
// A missing, unsigned, tampered, or expired session yields ("", nil, nil):
// no session, not an error.
func (m *Manager) Load(c *gin.Context) (string, *Data, error) {
	value, err := c.Cookie(CookieName)
	if err != nil || value == "" {
		return "", nil, nil
	}

	sid, ok := m.verify(value)
	if !ok {
		return "", nil, nil
	}

	data, err := m.store.Get(c.Request.Context(), sid)
	if err == ErrNotFound {
		return "", nil, nil
	}
	if err != nil {
		return "", nil, err
	}
	return sid, data, nil
}

// Issue creates a new session, persists it, and sets the signed cookie.
func (m *Manager) Issue(c *gin.Context, data *Data) (string, error) {
	sid, err := NewSID()
	if err != nil {
		return "", err
	}

	data.CreatedAt = time.Now()
	if err := m.store.Save(c.Request.Context(), sid, data, m.ttl); err != nil {
		return "", err
	}

	m.setCookie(c, m.sign(sid), int(m.ttl.Seconds()))
	return sid, nil
}

// Save persists updated session data under an existing id, refreshing the TTL.
func (m *Manager) Save(ctx context.Context, sid string, data *Data) error {
	return m.store.Save(ctx, sid, data, m.ttl)
}

// Clear deletes the stored session and expires the cookie.
func (m *Manager) Clear(c *gin.Context, sid string) error {
	if sid != "" {
		if err := m.store.Delete(c.Request.Context(), sid); err != nil {
			return err
		}
	}
	m.setCookie(c, "", -1)
	return nil
}

func (m *Manager) setCookie(c *gin.Context, value string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(CookieName, value, maxAge, "/", "", m.secure, true)
}
