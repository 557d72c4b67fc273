package bearer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/DecisionRecordsORG/decision-records/internal/telemetry"
)

// clockSkew is the leeway applied to exp/nbf/iat checks.
const clockSkew = 2 * time.Minute

var (
	// ErrIssuerNotAllowed is returned when the token's iss claim matches none
	// of the validator's allowed issuer prefixes.
	ErrIssuerNotAllowed = errors.New("bearer: token issuer not in allow-list")

	// ErrMissingKid is returned when the token header carries no key id.
	ErrMissingKid = errors.New("bearer: token header missing kid")
)

// TokenClaims are the claims extracted from a verified bearer token. Only the
// fields the callers consume are named; everything else rides in
// RegisteredClaims.
type TokenClaims struct {
	Email string `json:"email"`
	AppID string `json:"appid"`
	jwt.RegisteredClaims
}

// Validator verifies RS256 bearer tokens against a JWKS endpoint with a
// pinned audience and an optional issuer prefix allow-list. It is safe for
// concurrent use.
type Validator struct {
	cache          *KeyCache
	issuer         string // metrics label
	jwksURL        string
	audience       string
	issuerPrefixes []string
}

// NewValidator creates a validator. issuer is the metrics label ("bot_framework"
// or "access"); issuerPrefixes may be empty, in which case the iss claim is not
// restricted beyond what signature verification already implies.
func NewValidator(issuer, jwksURL, audience string, issuerPrefixes []string, cache *KeyCache) *Validator {
	if cache == nil {
		cache = NewKeyCache(issuer, 0, nil)
	}
	return &Validator{
		cache:          cache,
		issuer:         issuer,
		jwksURL:        jwksURL,
		audience:       audience,
		issuerPrefixes: issuerPrefixes,
	}
}

// Validate verifies the raw compact JWT and returns its claims. Every failure
// path returns a nil claims pointer; callers must treat any error as an
// unauthenticated request.
func (v *Validator) Validate(ctx context.Context, raw string) (*TokenClaims, error) {
	claims, err := v.validate(ctx, raw)
	telemetry.BearerValidationsTotal.WithLabelValues(v.issuer, outcomeLabel(err)).Inc()
	return claims, err
}

func (v *Validator) validate(ctx context.Context, raw string) (*TokenClaims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(clockSkew),
	)

	claims := &TokenClaims{}
	_, err := parser.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, ErrMissingKid
		}
		return v.cache.GetKey(ctx, v.jwksURL, kid)
	})
	if err != nil {
		return nil, fmt.Errorf("bearer: token verification failed: %w", err)
	}

	if len(v.issuerPrefixes) > 0 && !issuerAllowed(claims.Issuer, v.issuerPrefixes) {
		return nil, ErrIssuerNotAllowed
	}
	return claims, nil
}

func issuerAllowed(iss string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(iss, p) {
			return true
		}
	}
	return false
}

// outcomeLabel maps a validation error to a coarse metrics outcome class.
func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, jwt.ErrTokenExpired):
		return "expired"
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return "bad_audience"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "bad_signature"
	case errors.Is(err, ErrIssuerNotAllowed):
		return "bad_issuer"
	case errors.Is(err, ErrKeyNotFound), errors.Is(err, ErrMissingKid):
		return "no_key"
	default:
		return "invalid"
	}
}
