// master_account_repository.go implements MasterAccountRepository: queries for
// the tenant-independent super-administrator accounts.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/DecisionRecordsORG/decision-records/internal/db/models"
)

// MasterAccountRepository handles master account database operations
type MasterAccountRepository struct {
	db *sql.DB
}

// NewMasterAccountRepository creates a new MasterAccountRepository
func NewMasterAccountRepository(db *sql.DB) *MasterAccountRepository {
	return &MasterAccountRepository{db: db}
}

// CreateMasterAccount creates a new master account
func (r *MasterAccountRepository) CreateMasterAccount(ctx context.Context, account *models.MasterAccount) error {
	account.ID = uuid.New().String()
	account.CreatedAt = time.Now()
	account.UpdatedAt = time.Now()

	query := `
		INSERT INTO master_accounts (id, username, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.db.ExecContext(ctx, query,
		account.ID,
		account.Username,
		account.PasswordHash,
		account.CreatedAt,
		account.UpdatedAt,
	)

	return err
}

// GetMasterAccountByID retrieves a master account by ID
func (r *MasterAccountRepository) GetMasterAccountByID(ctx context.Context, id string) (*models.MasterAccount, error) {
	query := `
		SELECT id, username, password_hash, created_at, updated_at
		FROM master_accounts
		WHERE id = $1
	`

	account := &models.MasterAccount{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&account.ID,
		&account.Username,
		&account.PasswordHash,
		&account.CreatedAt,
		&account.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return account, nil
}

// GetMasterAccountByUsername retrieves a master account by username
func (r *MasterAccountRepository) GetMasterAccountByUsername(ctx context.Context, username string) (*models.MasterAccount, error) {
	query := `
		SELECT id, username, password_hash, created_at, updated_at
		FROM master_accounts
		WHERE username = $1
	`

	account := &models.MasterAccount{}
	err := r.db.QueryRowContext(ctx, query, username).Scan(
		&account.ID,
		&account.Username,
		&account.PasswordHash,
		&account.CreatedAt,
		&account.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return account, nil
}

// UpdatePassword replaces the stored password hash.
func (r *MasterAccountRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	query := `UPDATE master_accounts SET password_hash = $2, updated_at = $3 WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id, passwordHash, time.Now())
	return err
}

// Count returns the number of master accounts. Bootstrap uses it to decide
// whether the default account must be created.
func (r *MasterAccountRepository) Count(ctx context.Context) (int, error) {
	var total int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM master_accounts`).Scan(&total)
	return total, err
}
