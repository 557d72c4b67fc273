// tenant_repository.go implements TenantRepository with sqlx struct scanning
// for the wide tenant row: lookup by domain / Slack team, settings updates,
// and the idempotent maturity-state transition.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/DecisionRecordsORG/decision-records/internal/db/models"
)

const tenantColumns = `id, domain, name, maturity_state,
	mature_age_days, mature_member_count,
	google_enabled, slack_enabled, sso_enabled,
	sso_issuer_url, sso_client_id, sso_client_secret,
	slack_team_id, slack_bot_token_sealed,
	ai_search_enabled, slack_queries_enabled, external_api_enabled,
	created_at, updated_at`

// TenantRepository handles tenant database operations
type TenantRepository struct {
	db *sqlx.DB
}

// NewTenantRepository creates a new TenantRepository
func NewTenantRepository(db *sqlx.DB) *TenantRepository {
	return &TenantRepository{db: db}
}

// CreateTenant creates a new tenant. New tenants always start in bootstrap.
func (r *TenantRepository) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	tenant.ID = uuid.New().String()
	tenant.MaturityState = models.MaturityBootstrap
	tenant.CreatedAt = time.Now()
	tenant.UpdatedAt = time.Now()

	query := `
		INSERT INTO tenants (id, domain, name, maturity_state,
			google_enabled, slack_enabled, sso_enabled,
			ai_search_enabled, slack_queries_enabled, external_api_enabled,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := r.db.ExecContext(ctx, query,
		tenant.ID,
		tenant.Domain,
		tenant.Name,
		tenant.MaturityState,
		tenant.GoogleEnabled,
		tenant.SlackEnabled,
		tenant.SSOEnabled,
		tenant.AISearchEnabled,
		tenant.SlackQueriesEnabled,
		tenant.ExternalAPIEnabled,
		tenant.CreatedAt,
		tenant.UpdatedAt,
	)

	return err
}

// GetTenantByID retrieves a tenant by ID
func (r *TenantRepository) GetTenantByID(ctx context.Context, id string) (*models.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE id = $1`

	tenant := &models.Tenant{}
	err := r.db.GetContext(ctx, tenant, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return tenant, nil
}

// GetTenantByDomain retrieves a tenant by authentication domain
func (r *TenantRepository) GetTenantByDomain(ctx context.Context, domain string) (*models.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE domain = LOWER($1)`

	tenant := &models.Tenant{}
	err := r.db.GetContext(ctx, tenant, query, domain)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return tenant, nil
}

// GetTenantBySlackTeamID retrieves a tenant by its installed Slack workspace id
func (r *TenantRepository) GetTenantBySlackTeamID(ctx context.Context, teamID string) (*models.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE slack_team_id = $1`

	tenant := &models.Tenant{}
	err := r.db.GetContext(ctx, tenant, query, teamID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return tenant, nil
}

// UpdateTenantSettings persists the admin-editable tenant settings: maturity
// threshold overrides, provider switches, SSO configuration, feature flags.
func (r *TenantRepository) UpdateTenantSettings(ctx context.Context, tenant *models.Tenant) error {
	tenant.UpdatedAt = time.Now()

	query := `
		UPDATE tenants
		SET name = $2,
			mature_age_days = $3, mature_member_count = $4,
			google_enabled = $5, slack_enabled = $6, sso_enabled = $7,
			sso_issuer_url = $8, sso_client_id = $9, sso_client_secret = $10,
			ai_search_enabled = $11, slack_queries_enabled = $12, external_api_enabled = $13,
			updated_at = $14
		WHERE id = $1
	`

	_, err := r.db.ExecContext(ctx, query,
		tenant.ID,
		tenant.Name,
		tenant.MatureAgeDays,
		tenant.MatureMemberCount,
		tenant.GoogleEnabled,
		tenant.SlackEnabled,
		tenant.SSOEnabled,
		tenant.SSOIssuerURL,
		tenant.SSOClientID,
		tenant.SSOClientSecret,
		tenant.AISearchEnabled,
		tenant.SlackQueriesEnabled,
		tenant.ExternalAPIEnabled,
		tenant.UpdatedAt,
	)

	return err
}

// SetMaturityState writes the computed maturity state only when it differs
// from the stored state, and reports whether a transition actually occurred.
func (r *TenantRepository) SetMaturityState(ctx context.Context, tenantID, state string) (bool, error) {
	query := `
		UPDATE tenants
		SET maturity_state = $2, updated_at = $3
		WHERE id = $1 AND maturity_state <> $2
	`

	res, err := r.db.ExecContext(ctx, query, tenantID, state, time.Now())
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// StoreSlackInstall records the workspace id and the sealed bot token after a
// successful Slack install flow.
func (r *TenantRepository) StoreSlackInstall(ctx context.Context, tenantID, teamID, sealedBotToken string) error {
	query := `
		UPDATE tenants
		SET slack_team_id = $2, slack_bot_token_sealed = $3, updated_at = $4
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, tenantID, teamID, sealedBotToken, time.Now())
	return err
}
