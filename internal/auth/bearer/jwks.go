// Package bearer validates inbound RS256 bearer tokens from external issuers:
// the Microsoft Bot Framework (Teams channel) and Cloudflare Access (edge
// identity gateway). Both share the same shape — fetch the issuer's published
// JWKS, verify signature/audience/expiry — and differ only in their extra
// checks (issuer prefix allow-list, protected-path gating).
package bearer

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/DecisionRecordsORG/decision-records/internal/telemetry"
)

// DefaultKeyTTL is how long a fetched key set stays fresh.
const DefaultKeyTTL = time.Hour

// maxJWKSBody bounds the JWKS response size.
const maxJWKSBody = 1 << 20

// ErrKeyNotFound is returned when the token's kid is absent from the issuer's
// key set even after a refetch.
var ErrKeyNotFound = errors.New("bearer: signing key not found in JWKS")

// HTTPClient is the minimal HTTP client surface the cache needs.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type keyCacheEntry struct {
	keys      map[string]any // kid -> *rsa.PublicKey or *ecdsa.PublicKey
	fetchedAt time.Time
}

// KeyCache caches JSON Web Key Sets per JWKS URL with a TTL. A stale entry is
// kept as a last-good fallback: when a refetch fails and stale keys exist,
// validation proceeds against them rather than failing an otherwise healthy
// deployment on a transient upstream error. With no cached keys at all the
// cache fails closed.
type KeyCache struct {
	mu      sync.RWMutex
	entries map[string]*keyCacheEntry
	ttl     time.Duration
	client  HTTPClient
	issuer  string // metrics label only
}

// NewKeyCache creates a key cache whose network fetches are counted under the
// given issuer label. A zero ttl means DefaultKeyTTL; a nil client means a
// default client with a short timeout.
func NewKeyCache(issuer string, ttl time.Duration, client HTTPClient) *KeyCache {
	if ttl <= 0 {
		ttl = DefaultKeyTTL
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &KeyCache{
		entries: make(map[string]*keyCacheEntry),
		ttl:     ttl,
		client:  client,
		issuer:  issuer,
	}
}

// GetKey retrieves a public key by key id from the JWKS at the given URL.
// A fresh cached set is served directly; an unknown kid in a fresh set
// triggers a refetch (key rotation); an expired or missing set is refetched,
// falling back to stale keys on fetch failure.
func (c *KeyCache) GetKey(ctx context.Context, jwksURL, kid string) (any, error) {
	c.mu.RLock()
	entry, ok := c.entries[jwksURL]
	if ok && time.Since(entry.fetchedAt) < c.ttl {
		key, exists := entry.keys[kid]
		c.mu.RUnlock()
		if exists {
			return key, nil
		}
		// kid not in the fresh set — may be a rotation; refetch below.
	} else {
		c.mu.RUnlock()
	}

	keys, err := c.fetchJWKS(ctx, jwksURL)
	if err != nil {
		// Last-good fallback.
		c.mu.RLock()
		stale, hasStale := c.entries[jwksURL]
		c.mu.RUnlock()
		if hasStale {
			if key, exists := stale.keys[kid]; exists {
				return key, nil
			}
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("bearer: failed to fetch JWKS from %s: %w", jwksURL, err)
	}

	c.mu.Lock()
	c.entries[jwksURL] = &keyCacheEntry{keys: keys, fetchedAt: time.Now()}
	c.mu.Unlock()

	key, exists := keys[kid]
	if !exists {
		return nil, ErrKeyNotFound
	}
	return key, nil
}

// Invalidate drops the cached key set for one JWKS URL.
func (c *KeyCache) Invalidate(jwksURL string) {
	c.mu.Lock()
	delete(c.entries, jwksURL)
	c.mu.Unlock()
}

type jwksResponse struct {
	Keys []jwkKey `json:"keys"`
}

type jwkKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	// RSA fields
	N string `json:"n"`
	E string `json:"e"`
	// EC fields
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

func (c *KeyCache) fetchJWKS(ctx context.Context, jwksURL string) (keys map[string]any, err error) {
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = "failure"
		}
		telemetry.JWKSRefreshesTotal.WithLabelValues(c.issuer, outcome).Inc()
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jwksURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create JWKS request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("JWKS request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read JWKS response: %w", err)
	}

	var jwks jwksResponse
	if err := json.Unmarshal(body, &jwks); err != nil {
		return nil, fmt.Errorf("failed to parse JWKS JSON: %w", err)
	}

	keys = make(map[string]any, len(jwks.Keys))
	for _, k := range jwks.Keys {
		if k.Kid == "" {
			continue
		}
		switch k.Kty {
		case "RSA":
			pubKey, err := parseRSAPublicKey(k.N, k.E)
			if err != nil {
				continue // skip malformed keys
			}
			keys[k.Kid] = pubKey
		case "EC":
			pubKey, err := parseECPublicKey(k.Crv, k.X, k.Y)
			if err != nil {
				continue
			}
			keys[k.Kid] = pubKey
		}
	}
	return keys, nil
}

// parseRSAPublicKey constructs an *rsa.PublicKey from base64url-encoded
// modulus and exponent values.
func parseRSAPublicKey(nBase64, eBase64 string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(nBase64)
	if err != nil {
		return nil, fmt.Errorf("bearer: failed to decode RSA modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(eBase64)
	if err != nil {
		return nil, fmt.Errorf("bearer: failed to decode RSA exponent: %w", err)
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(new(big.Int).SetBytes(eBytes).Int64()),
	}, nil
}

// parseECPublicKey constructs an *ecdsa.PublicKey from a curve name and
// base64url-encoded coordinates.
func parseECPublicKey(crv, xBase64, yBase64 string) (*ecdsa.PublicKey, error) {
	var curve elliptic.Curve
	switch crv {
	case "P-256":
		curve = elliptic.P256()
	case "P-384":
		curve = elliptic.P384()
	case "P-521":
		curve = elliptic.P521()
	default:
		return nil, fmt.Errorf("bearer: unsupported EC curve %q", crv)
	}

	xBytes, err := base64.RawURLEncoding.DecodeString(xBase64)
	if err != nil {
		return nil, fmt.Errorf("bearer: failed to decode EC x coordinate: %w", err)
	}
	yBytes, err := base64.RawURLEncoding.DecodeString(yBase64)
	if err != nil {
		return nil, fmt.Errorf("bearer: failed to decode EC y coordinate: %w", err)
	}

	return &ecdsa.PublicKey{
		Curve: curve,
		X:     new(big.Int).SetBytes(xBytes),
		Y:     new(big.Int).SetBytes(yBytes),
	}, nil
}
