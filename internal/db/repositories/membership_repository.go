// membership_repository.go implements MembershipRepository: the (user, tenant)
// join rows with their roles, plus the per-role aggregates the maturity
// computation needs.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/DecisionRecordsORG/decision-records/internal/db/models"
)

// ErrDuplicateMembership is returned when a membership already exists for the
// (tenant, user) pair. The unique constraint is the arbiter; a second insert
// fails atomically and leaves exactly one row.
var ErrDuplicateMembership = errors.New("repositories: membership already exists")

// MembershipRepository handles tenant membership database operations
type MembershipRepository struct {
	db *sql.DB
}

// NewMembershipRepository creates a new MembershipRepository
func NewMembershipRepository(db *sql.DB) *MembershipRepository {
	return &MembershipRepository{db: db}
}

// CreateMembership creates a membership row.
func (r *MembershipRepository) CreateMembership(ctx context.Context, m *models.TenantMembership) error {
	m.CreatedAt = time.Now()
	m.UpdatedAt = time.Now()

	query := `
		INSERT INTO tenant_memberships (tenant_id, user_id, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.db.ExecContext(ctx, query, m.TenantID, m.UserID, m.Role, m.CreatedAt, m.UpdatedAt)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
		return ErrDuplicateMembership
	}
	return err
}

// GetMembership retrieves the membership for a (tenant, user) pair
func (r *MembershipRepository) GetMembership(ctx context.Context, tenantID, userID string) (*models.TenantMembership, error) {
	query := `
		SELECT tenant_id, user_id, role, created_at, updated_at
		FROM tenant_memberships
		WHERE tenant_id = $1 AND user_id = $2
	`

	m := &models.TenantMembership{}
	err := r.db.QueryRowContext(ctx, query, tenantID, userID).Scan(
		&m.TenantID,
		&m.UserID,
		&m.Role,
		&m.CreatedAt,
		&m.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return m, nil
}

// UpdateRole changes the member's role.
func (r *MembershipRepository) UpdateRole(ctx context.Context, tenantID, userID string, role models.Role) error {
	query := `
		UPDATE tenant_memberships
		SET role = $3, updated_at = $4
		WHERE tenant_id = $1 AND user_id = $2
	`
	_, err := r.db.ExecContext(ctx, query, tenantID, userID, role, time.Now())
	return err
}

// DeleteMembership removes a user from a tenant.
func (r *MembershipRepository) DeleteMembership(ctx context.Context, tenantID, userID string) error {
	query := `DELETE FROM tenant_memberships WHERE tenant_id = $1 AND user_id = $2`
	_, err := r.db.ExecContext(ctx, query, tenantID, userID)
	return err
}

// ListMembersByTenant retrieves memberships joined with user display fields.
func (r *MembershipRepository) ListMembersByTenant(ctx context.Context, tenantID string, limit, offset int) ([]*models.MembershipWithUser, error) {
	query := `
		SELECT tm.tenant_id, tm.user_id, tm.role, tm.created_at, tm.updated_at,
		       u.email, u.name
		FROM tenant_memberships tm
		JOIN users u ON tm.user_id = u.id
		WHERE tm.tenant_id = $1
		ORDER BY tm.created_at ASC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	members := make([]*models.MembershipWithUser, 0)
	for rows.Next() {
		m := &models.MembershipWithUser{}
		err := rows.Scan(
			&m.TenantID,
			&m.UserID,
			&m.Role,
			&m.CreatedAt,
			&m.UpdatedAt,
			&m.UserEmail,
			&m.UserName,
		)
		if err != nil {
			return nil, err
		}
		members = append(members, m)
	}

	return members, rows.Err()
}

// GetRoleCounts returns the aggregates the maturity computation consumes:
// full-admin count, steward count, total member count.
func (r *MembershipRepository) GetRoleCounts(ctx context.Context, tenantID string) (*models.RoleCounts, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE role = 'admin'),
			COUNT(*) FILTER (WHERE role = 'steward'),
			COUNT(*)
		FROM tenant_memberships
		WHERE tenant_id = $1
	`

	counts := &models.RoleCounts{}
	err := r.db.QueryRowContext(ctx, query, tenantID).Scan(
		&counts.Admins,
		&counts.Stewards,
		&counts.Total,
	)
	if err != nil {
		return nil, err
	}

	return counts, nil
}
