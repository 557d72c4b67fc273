// Package auth provides the core authentication primitives: API key
// generation/validation and password hashing for master accounts. Request-time
// authentication lives in internal/middleware; the browser flows live in the
// passkey and sso sub-packages.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/DecisionRecordsORG/decision-records/internal/db/models"
	"github.com/DecisionRecordsORG/decision-records/internal/db/repositories"
)

const (
	// APIKeyPrefix is the fixed product prefix of every issued key.
	APIKeyPrefix = "drk"

	// APIKeyLength is the length of the random part of the API key in bytes.
	APIKeyLength = 32

	// DisplayPrefixLength is the number of leading characters of the full key
	// that are stored and displayed unmasked.
	DisplayPrefixLength = 8

	// BcryptCost is the cost factor for bcrypt hashing.
	BcryptCost = 12
)

// ErrInvalidScope is returned when a key is created with an unknown scope.
var ErrInvalidScope = errors.New("auth: invalid API key scope")

// GenerateAPIKey creates a new random API key.
// Returns: full key (to show once), bcrypt hash (to store), display prefix.
func GenerateAPIKey() (key string, hash string, displayPrefix string, err error) {
	randomBytes := make([]byte, APIKeyLength)
	if _, err = rand.Read(randomBytes); err != nil {
		return "", "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	fullKey := fmt.Sprintf("%s_%s", APIKeyPrefix, base64.RawURLEncoding.EncodeToString(randomBytes))

	hashBytes, err := bcrypt.GenerateFromPassword([]byte(fullKey), BcryptCost)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to hash API key: %w", err)
	}

	return fullKey, string(hashBytes), fullKey[:DisplayPrefixLength], nil
}

// MatchAPIKey checks a presented key against a stored bcrypt hash.
func MatchAPIKey(providedKey, storedHash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(providedKey)) == nil
}

// ExtractBearerToken extracts the credential from an Authorization header.
// Expected format: "Bearer <token>".
func ExtractBearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header is empty")
	}

	if !strings.HasPrefix(header, "Bearer ") {
		return "", errors.New("authorization header must start with 'Bearer '")
	}

	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", errors.New("credential is empty after Bearer prefix")
	}

	return token, nil
}

// APIKeyService issues, validates, and revokes API keys against the store.
type APIKeyService struct {
	repo *repositories.APIKeyRepository
	now  func() time.Time
}

// NewAPIKeyService creates an APIKeyService.
func NewAPIKeyService(repo *repositories.APIKeyRepository) *APIKeyService {
	return &APIKeyService{repo: repo, now: time.Now}
}

// Create issues a new key for a (user, tenant) pair and returns the record
// plus the plaintext secret. The secret is returned exactly once and never
// persisted.
func (s *APIKeyService) Create(ctx context.Context, userID, tenantID, name string, scopes []string, ttlDays int) (*models.APIKey, string, error) {
	for _, scope := range scopes {
		if !models.ValidScope(scope) {
			return nil, "", fmt.Errorf("%w: %q", ErrInvalidScope, scope)
		}
	}
	if len(scopes) == 0 {
		scopes = []string{models.ScopeRead}
	}

	fullKey, hash, displayPrefix, err := GenerateAPIKey()
	if err != nil {
		return nil, "", err
	}

	key := &models.APIKey{
		UserID:    userID,
		TenantID:  tenantID,
		Name:      name,
		KeyHash:   hash,
		KeyPrefix: displayPrefix,
		Scopes:    scopes,
	}
	if ttlDays > 0 {
		expiresAt := s.now().Add(time.Duration(ttlDays) * 24 * time.Hour)
		key.ExpiresAt = &expiresAt
	}

	if err := s.repo.CreateAPIKey(ctx, key); err != nil {
		return nil, "", err
	}

	return key, fullKey, nil
}

// Validate resolves a presented secret to its key record. Returns (nil, nil)
// for any unknown, revoked, or expired key — callers cannot distinguish why.
// On success the last-used timestamp is stamped fire-and-forget.
func (s *APIKeyService) Validate(ctx context.Context, presented string) (*models.APIKey, error) {
	if len(presented) < DisplayPrefixLength || !strings.HasPrefix(presented, APIKeyPrefix+"_") {
		return nil, nil
	}

	candidates, err := s.repo.GetAPIKeysByPrefix(ctx, presented[:DisplayPrefixLength])
	if err != nil {
		return nil, err
	}

	for _, key := range candidates {
		if !MatchAPIKey(presented, key.KeyHash) {
			continue
		}
		if key.IsRevoked() || key.IsExpired(s.now()) {
			return nil, nil
		}

		// Last-writer-wins is acceptable here; a lost stamp is harmless.
		_ = s.repo.UpdateLastUsed(ctx, key.ID)
		return key, nil
	}

	return nil, nil
}

// Revoke revokes a key. Idempotent.
func (s *APIKeyService) Revoke(ctx context.Context, keyID string) error {
	return s.repo.RevokeAPIKey(ctx, keyID)
}

// CleanupExpired deletes keys whose expiry passed more than olderThanDays ago
// and returns how many were removed.
func (s *APIKeyService) CleanupExpired(ctx context.Context, olderThanDays int) (int64, error) {
	cutoff := s.now().Add(-time.Duration(olderThanDays) * 24 * time.Hour)
	return s.repo.DeleteExpiredBefore(ctx, cutoff)
}
