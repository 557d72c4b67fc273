// api_key_repository.go implements APIKeyRepository: candidate lookup by
// display prefix, creation, revocation, last-used stamping, and cleanup of
// long-expired keys.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/DecisionRecordsORG/decision-records/internal/db/models"
)

const apiKeyColumns = `id, user_id, tenant_id, name, key_hash, key_prefix,
	scopes, expires_at, revoked_at, last_used_at, created_at`

// APIKeyRepository handles API key database operations
type APIKeyRepository struct {
	db *sql.DB
}

// NewAPIKeyRepository creates a new APIKeyRepository
func NewAPIKeyRepository(db *sql.DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

func scanAPIKey(row interface{ Scan(...interface{}) error }) (*models.APIKey, error) {
	key := &models.APIKey{}
	var scopesJSON []byte
	err := row.Scan(
		&key.ID,
		&key.UserID,
		&key.TenantID,
		&key.Name,
		&key.KeyHash,
		&key.KeyPrefix,
		&scopesJSON,
		&key.ExpiresAt,
		&key.RevokedAt,
		&key.LastUsedAt,
		&key.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(scopesJSON) > 0 {
		if err := json.Unmarshal(scopesJSON, &key.Scopes); err != nil {
			return nil, err
		}
	}
	return key, nil
}

// CreateAPIKey stores a new API key record. The caller has already hashed the
// secret; the plaintext never reaches this layer.
func (r *APIKeyRepository) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	key.ID = uuid.New().String()
	key.CreatedAt = time.Now()

	scopesJSON, err := json.Marshal(key.Scopes)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO api_keys (id, user_id, tenant_id, name, key_hash, key_prefix,
			scopes, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = r.db.ExecContext(ctx, query,
		key.ID,
		key.UserID,
		key.TenantID,
		key.Name,
		key.KeyHash,
		key.KeyPrefix,
		scopesJSON,
		key.ExpiresAt,
		key.CreatedAt,
	)

	return err
}

// GetAPIKeyByID retrieves an API key by row id
func (r *APIKeyRepository) GetAPIKeyByID(ctx context.Context, id string) (*models.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE id = $1`
	return scanAPIKey(r.db.QueryRowContext(ctx, query, id))
}

// GetAPIKeysByPrefix retrieves candidate keys sharing a display prefix. The
// validator bcrypt-compares the presented secret against each candidate.
func (r *APIKeyRepository) GetAPIKeysByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE key_prefix = $1`

	rows, err := r.db.QueryContext(ctx, query, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make([]*models.APIKey, 0)
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}

	return keys, rows.Err()
}

// ListAPIKeys retrieves all keys owned by a (user, tenant) pair.
func (r *APIKeyRepository) ListAPIKeys(ctx context.Context, userID, tenantID string) ([]*models.APIKey, error) {
	query := `
		SELECT ` + apiKeyColumns + `
		FROM api_keys
		WHERE user_id = $1 AND tenant_id = $2
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, userID, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make([]*models.APIKey, 0)
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}

	return keys, rows.Err()
}

// RevokeAPIKey stamps the revocation time. Idempotent: an already revoked key
// keeps its original revocation timestamp.
func (r *APIKeyRepository) RevokeAPIKey(ctx context.Context, id string) error {
	query := `UPDATE api_keys SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL`
	_, err := r.db.ExecContext(ctx, query, id, time.Now())
	return err
}

// UpdateLastUsed stamps the key's last-used time. Callers treat this as
// fire-and-forget; a lost write is acceptable.
func (r *APIKeyRepository) UpdateLastUsed(ctx context.Context, id string) error {
	query := `UPDATE api_keys SET last_used_at = $2 WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id, time.Now())
	return err
}

// DeleteExpiredBefore removes keys whose expiry passed before the cutoff and
// returns how many rows were deleted.
func (r *APIKeyRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM api_keys WHERE expires_at IS NOT NULL AND expires_at < $1`
	res, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
