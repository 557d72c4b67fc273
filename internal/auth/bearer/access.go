package bearer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/DecisionRecordsORG/decision-records/internal/config"
)

// AccessCookieName is the cookie Cloudflare Access sets on authenticated
// requests; the JWT may arrive there or in the Cf-Access-Jwt-Assertion header.
const AccessCookieName = "CF_Authorization"

// ErrNotFromProxy is returned when origin-proxy enforcement is on and the
// request carries no evidence of having traversed the edge.
var ErrNotFromProxy = errors.New("bearer: request did not traverse the edge proxy")

// AccessValidator enforces the Cloudflare Access edge gateway. Its two
// switches are independent: EnforceOriginProxy rejects requests that reached
// the origin directly, and EnforceAccessJWT requires a valid Access-issued
// JWT on protected paths.
type AccessValidator struct {
	enforceProxy bool
	enforceJWT   bool
	protected    []string
	validator    *Validator
}

// NewAccessValidator builds a validator from configuration. The JWKS endpoint
// and expected issuer both derive from the team domain.
func NewAccessValidator(cfg config.AccessConfig, client HTTPClient) *AccessValidator {
	var inner *Validator
	if cfg.TeamDomain != "" {
		certsURL := fmt.Sprintf("https://%s/cdn-cgi/access/certs", cfg.TeamDomain)
		issuer := fmt.Sprintf("https://%s", cfg.TeamDomain)
		inner = NewValidator("access", certsURL, cfg.Audience,
			[]string{issuer}, NewKeyCache("access", 0, client))
	}
	return &AccessValidator{
		enforceProxy: cfg.EnforceOriginProxy,
		enforceJWT:   cfg.EnforceAccessJWT,
		protected:    cfg.ProtectedPaths,
		validator:    inner,
	}
}

// PathProtected reports whether the path falls under JWT enforcement. Entries
// ending in "*" match as prefixes, everything else matches exactly.
func (a *AccessValidator) PathProtected(path string) bool {
	if !a.enforceJWT {
		return false
	}
	for _, p := range a.protected {
		if strings.HasSuffix(p, "*") {
			if strings.HasPrefix(path, strings.TrimSuffix(p, "*")) {
				return true
			}
			continue
		}
		if path == p {
			return true
		}
	}
	return false
}

// CheckRequest applies both enforcement switches to an inbound request. It
// returns the verified claims when a JWT was required and present, nil claims
// when no check applied, and an error when enforcement failed.
func (a *AccessValidator) CheckRequest(ctx context.Context, r *http.Request) (*TokenClaims, error) {
	if a.enforceProxy && !cameFromProxy(r) {
		return nil, ErrNotFromProxy
	}
	if !a.PathProtected(r.URL.Path) {
		return nil, nil
	}
	if a.validator == nil {
		return nil, errors.New("bearer: access JWT enforcement enabled without team domain")
	}

	raw := extractAccessJWT(r)
	if raw == "" {
		return nil, errors.New("bearer: missing access JWT")
	}
	return a.validator.Validate(ctx, raw)
}

// cameFromProxy checks for the edge-injected request headers. Cf-Ray is set
// on every request Cloudflare forwards and is stripped from direct origin
// hits by the origin firewall rules.
func cameFromProxy(r *http.Request) bool {
	return r.Header.Get("Cf-Ray") != ""
}

func extractAccessJWT(r *http.Request) string {
	if h := r.Header.Get("Cf-Access-Jwt-Assertion"); h != "" {
		return h
	}
	if c, err := r.Cookie(AccessCookieName); err == nil {
		return c.Value
	}
	return ""
}
