// Package repositories implements the data access layer (repository pattern)
// for DecisionRecords. Each repository type encapsulates all database queries
// for a domain entity. Handlers never issue SQL directly — all database access
// goes through this layer, which makes query logic testable in isolation and
// prevents accidental cross-domain data access.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/DecisionRecordsORG/decision-records/internal/db/models"
)

const userColumns = `id, email, name, domain, password_hash, is_admin,
	google_sub, slack_user_id, sso_sub,
	ai_search_enabled, slack_queries_enabled, external_api_enabled,
	last_login_at, created_at, updated_at`

// UserRepository handles user database operations
type UserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func scanUser(row interface{ Scan(...interface{}) error }) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.Domain,
		&user.PasswordHash,
		&user.IsAdmin,
		&user.GoogleSub,
		&user.SlackUserID,
		&user.SSOSub,
		&user.AISearchEnabled,
		&user.SlackQueriesEnabled,
		&user.ExternalAPIEnabled,
		&user.LastLoginAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// CreateUser creates a new user. The authentication domain is always derived
// from the email.
func (r *UserRepository) CreateUser(ctx context.Context, user *models.User) error {
	user.ID = uuid.New().String()
	user.Domain = models.EmailDomain(user.Email)
	user.CreatedAt = time.Now()
	user.UpdatedAt = time.Now()

	query := `
		INSERT INTO users (id, email, name, domain, password_hash, is_admin,
			google_sub, slack_user_id, sso_sub,
			ai_search_enabled, slack_queries_enabled, external_api_enabled,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err := r.db.ExecContext(ctx, query,
		user.ID,
		user.Email,
		user.Name,
		user.Domain,
		user.PasswordHash,
		user.IsAdmin,
		user.GoogleSub,
		user.SlackUserID,
		user.SSOSub,
		user.AISearchEnabled,
		user.SlackQueriesEnabled,
		user.ExternalAPIEnabled,
		user.CreatedAt,
		user.UpdatedAt,
	)

	return err
}

// GetUserByID retrieves a user by ID
func (r *UserRepository) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, userID))
}

// GetUserByEmail retrieves a user by email
func (r *UserRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE LOWER(email) = LOWER($1)`
	return scanUser(r.db.QueryRowContext(ctx, query, email))
}

// GetUserByGoogleSub retrieves a user by Google subject identifier
func (r *UserRepository) GetUserByGoogleSub(ctx context.Context, sub string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE google_sub = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, sub))
}

// GetUserBySlackUserID retrieves a user by Slack user id
func (r *UserRepository) GetUserBySlackUserID(ctx context.Context, slackUserID string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE slack_user_id = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, slackUserID))
}

// UpdateUser updates a user's mutable fields. The email-derived domain is
// authoritative and recomputed on every update.
func (r *UserRepository) UpdateUser(ctx context.Context, user *models.User) error {
	user.Domain = models.EmailDomain(user.Email)
	user.UpdatedAt = time.Now()

	query := `
		UPDATE users
		SET email = $2, name = $3, domain = $4, password_hash = $5, is_admin = $6,
			google_sub = $7, slack_user_id = $8, sso_sub = $9,
			ai_search_enabled = $10, slack_queries_enabled = $11, external_api_enabled = $12,
			updated_at = $13
		WHERE id = $1
	`

	_, err := r.db.ExecContext(ctx, query,
		user.ID,
		user.Email,
		user.Name,
		user.Domain,
		user.PasswordHash,
		user.IsAdmin,
		user.GoogleSub,
		user.SlackUserID,
		user.SSOSub,
		user.AISearchEnabled,
		user.SlackQueriesEnabled,
		user.ExternalAPIEnabled,
		user.UpdatedAt,
	)

	return err
}

// UpdateLastLogin stamps the user's last successful login time.
func (r *UserRepository) UpdateLastLogin(ctx context.Context, userID string) error {
	query := `UPDATE users SET last_login_at = $2, updated_at = $2 WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, userID, time.Now())
	return err
}

// CountByDomain returns the number of users in one authentication domain.
// The passkey registration flow uses it to decide first-user-of-domain admin.
func (r *UserRepository) CountByDomain(ctx context.Context, domain string) (int, error) {
	var total int
	query := `SELECT COUNT(*) FROM users WHERE domain = $1`
	err := r.db.QueryRowContext(ctx, query, domain).Scan(&total)
	return total, err
}

// ListUsersByDomain retrieves a paginated list of users in one domain.
func (r *UserRepository) ListUsersByDomain(ctx context.Context, domain string, limit, offset int) ([]*models.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE domain = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.QueryContext(ctx, query, domain, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]*models.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}

	return users, rows.Err()
}

// SetFeatureOptOuts updates the user's per-feature opt-out flags.
func (r *UserRepository) SetFeatureOptOuts(ctx context.Context, userID string, aiSearch, slackQueries, externalAPI bool) error {
	query := `
		UPDATE users
		SET ai_search_enabled = $2, slack_queries_enabled = $3, external_api_enabled = $4, updated_at = $5
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, userID, aiSearch, slackQueries, externalAPI, time.Now())
	return err
}
