package bearer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/DecisionRecordsORG/decision-records/internal/config"
)

// DefaultOpenIDMetadataURL is the Bot Framework's published OpenID metadata
// document, which advertises the current JWKS endpoint.
const DefaultOpenIDMetadataURL = "https://login.botframework.com/v1/.well-known/openidconfiguration"

// BotFrameworkValidator verifies connector-service tokens attached to inbound
// Teams activities. The JWKS URL is not fixed — the framework publishes it in
// an OpenID metadata document and rotates the underlying keys — so the
// validator discovers it lazily and re-resolves on the same cadence as the key
// cache TTL.
type BotFrameworkValidator struct {
	appID          string
	metadataURL    string
	issuerPrefixes []string
	cache          *KeyCache
	client         HTTPClient

	mu         sync.Mutex
	jwksURL    string
	resolvedAt time.Time
}

// NewBotFrameworkValidator builds a validator from configuration. A nil client
// uses a default with a short timeout.
func NewBotFrameworkValidator(cfg config.BotFrameworkConfig, client HTTPClient) *BotFrameworkValidator {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	metadataURL := cfg.OpenIDMetadataURL
	if metadataURL == "" {
		metadataURL = DefaultOpenIDMetadataURL
	}
	return &BotFrameworkValidator{
		appID:          cfg.AppID,
		metadataURL:    metadataURL,
		issuerPrefixes: cfg.AllowedIssuerPrefixes,
		cache:          NewKeyCache("bot_framework", 0, client),
		client:         client,
	}
}

// Validate verifies an inbound Bot Framework bearer token and returns its
// claims.
func (v *BotFrameworkValidator) Validate(ctx context.Context, raw string) (*TokenClaims, error) {
	jwksURL, err := v.resolveJWKSURL(ctx)
	if err != nil {
		return nil, err
	}
	inner := NewValidator("bot_framework", jwksURL, v.appID, v.issuerPrefixes, v.cache)
	return inner.Validate(ctx, raw)
}

type openIDMetadata struct {
	JWKSURI string `json:"jwks_uri"`
}

// resolveJWKSURL returns the JWKS endpoint from the OpenID metadata document,
// caching the result for the key TTL. A resolution failure reuses the last
// known URL when one exists.
func (v *BotFrameworkValidator) resolveJWKSURL(ctx context.Context) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.jwksURL != "" && time.Since(v.resolvedAt) < DefaultKeyTTL {
		return v.jwksURL, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.metadataURL, nil)
	if err != nil {
		return "", fmt.Errorf("bearer: failed to create metadata request: %w", err)
	}
	resp, err := v.client.Do(req)
	if err != nil {
		if v.jwksURL != "" {
			return v.jwksURL, nil
		}
		return "", fmt.Errorf("bearer: OpenID metadata request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if v.jwksURL != "" {
			return v.jwksURL, nil
		}
		return "", fmt.Errorf("bearer: OpenID metadata endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSBody))
	if err != nil {
		return "", fmt.Errorf("bearer: failed to read OpenID metadata: %w", err)
	}

	var meta openIDMetadata
	if err := json.Unmarshal(body, &meta); err != nil {
		return "", fmt.Errorf("bearer: failed to parse OpenID metadata: %w", err)
	}
	if meta.JWKSURI == "" {
		return "", fmt.Errorf("bearer: OpenID metadata document has no jwks_uri")
	}

	v.jwksURL = meta.JWKSURI
	v.resolvedAt = time.Now()
	return v.jwksURL, nil
}
