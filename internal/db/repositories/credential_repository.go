// credential_repository.go implements CredentialRepository: stored WebAuthn
// credentials, sign-count persistence, and the last-credential guard used by
// the delete path.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/DecisionRecordsORG/decision-records/internal/db/models"
)

const credentialColumns = `id, user_id, credential_id, public_key, attestation_type,
	aaguid, sign_count, transports, backup_eligible, backup_state,
	label, created_at, last_used_at`

// CredentialRepository handles WebAuthn credential database operations
type CredentialRepository struct {
	db *sql.DB
}

// NewCredentialRepository creates a new CredentialRepository
func NewCredentialRepository(db *sql.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

func scanCredential(row interface{ Scan(...interface{}) error }) (*models.WebAuthnCredential, error) {
	cred := &models.WebAuthnCredential{}
	var transportsJSON []byte
	err := row.Scan(
		&cred.ID,
		&cred.UserID,
		&cred.CredentialID,
		&cred.PublicKey,
		&cred.AttestationType,
		&cred.AAGUID,
		&cred.SignCount,
		&transportsJSON,
		&cred.BackupEligible,
		&cred.BackupState,
		&cred.Label,
		&cred.CreatedAt,
		&cred.LastUsedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(transportsJSON) > 0 {
		if err := json.Unmarshal(transportsJSON, &cred.Transports); err != nil {
			return nil, err
		}
	}
	return cred, nil
}

// CreateCredential stores a newly registered credential.
func (r *CredentialRepository) CreateCredential(ctx context.Context, cred *models.WebAuthnCredential) error {
	cred.ID = uuid.New().String()
	cred.CreatedAt = time.Now()

	if cred.Transports == nil {
		cred.Transports = []string{}
	}
	transportsJSON, err := json.Marshal(cred.Transports)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO webauthn_credentials (id, user_id, credential_id, public_key,
			attestation_type, aaguid, sign_count, transports,
			backup_eligible, backup_state, label, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err = r.db.ExecContext(ctx, query,
		cred.ID,
		cred.UserID,
		cred.CredentialID,
		cred.PublicKey,
		cred.AttestationType,
		cred.AAGUID,
		cred.SignCount,
		transportsJSON,
		cred.BackupEligible,
		cred.BackupState,
		cred.Label,
		cred.CreatedAt,
	)

	return err
}

// GetCredentialByCredentialID retrieves a credential by its WebAuthn
// credential id (authenticator-assigned, not the row id).
func (r *CredentialRepository) GetCredentialByCredentialID(ctx context.Context, credentialID []byte) (*models.WebAuthnCredential, error) {
	query := `SELECT ` + credentialColumns + ` FROM webauthn_credentials WHERE credential_id = $1`
	return scanCredential(r.db.QueryRowContext(ctx, query, credentialID))
}

// GetCredentialByID retrieves a credential by row id.
func (r *CredentialRepository) GetCredentialByID(ctx context.Context, id string) (*models.WebAuthnCredential, error) {
	query := `SELECT ` + credentialColumns + ` FROM webauthn_credentials WHERE id = $1`
	return scanCredential(r.db.QueryRowContext(ctx, query, id))
}

// ListCredentialsByUser retrieves all credentials owned by one user.
func (r *CredentialRepository) ListCredentialsByUser(ctx context.Context, userID string) ([]*models.WebAuthnCredential, error) {
	query := `
		SELECT ` + credentialColumns + `
		FROM webauthn_credentials
		WHERE user_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	creds := make([]*models.WebAuthnCredential, 0)
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, cred)
	}

	return creds, rows.Err()
}

// UpdateSignCount persists the authenticator counter after a successful login
// and stamps last_used_at.
func (r *CredentialRepository) UpdateSignCount(ctx context.Context, id string, signCount uint32) error {
	query := `
		UPDATE webauthn_credentials
		SET sign_count = $2, last_used_at = $3
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, id, signCount, time.Now())
	return err
}

// CountByUser returns how many credentials the user owns. Delete handlers use
// it to refuse removing the only authenticator.
func (r *CredentialRepository) CountByUser(ctx context.Context, userID string) (int, error) {
	var total int
	query := `SELECT COUNT(*) FROM webauthn_credentials WHERE user_id = $1`
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&total)
	return total, err
}

// DeleteCredential removes a credential row.
func (r *CredentialRepository) DeleteCredential(ctx context.Context, id string) error {
	query := `DELETE FROM webauthn_credentials WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}
