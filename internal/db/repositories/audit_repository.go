// audit_repository.go implements AuditRepository for writing and listing
// audit log entries.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/DecisionRecordsORG/decision-records/internal/db/models"
)

// AuditRepository handles audit log database operations
type AuditRepository struct {
	db *sql.DB
}

// NewAuditRepository creates a new AuditRepository
func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// CreateEntry writes one audit log entry.
func (r *AuditRepository) CreateEntry(ctx context.Context, entry *models.AuditLog) error {
	entry.ID = uuid.New().String()
	entry.CreatedAt = time.Now()

	if entry.Metadata == nil {
		entry.Metadata = map[string]interface{}{}
	}
	metadataJSON, err := json.Marshal(entry.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO audit_log (id, user_id, tenant_id, action, resource_type,
			resource_id, metadata, ip_address, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = r.db.ExecContext(ctx, query,
		entry.ID,
		entry.UserID,
		entry.TenantID,
		entry.Action,
		entry.ResourceType,
		entry.ResourceID,
		metadataJSON,
		entry.IPAddress,
		entry.CreatedAt,
	)

	return err
}

// ListByTenant retrieves a paginated slice of entries for one tenant, newest
// first.
func (r *AuditRepository) ListByTenant(ctx context.Context, tenantID string, limit, offset int) ([]*models.AuditLog, error) {
	query := `
		SELECT id, user_id, tenant_id, action, resource_type, resource_id,
		       metadata, ip_address, created_at
		FROM audit_log
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]*models.AuditLog, 0)
	for rows.Next() {
		entry := &models.AuditLog{}
		var metadataJSON []byte
		err := rows.Scan(
			&entry.ID,
			&entry.UserID,
			&entry.TenantID,
			&entry.Action,
			&entry.ResourceType,
			&entry.ResourceID,
			&metadataJSON,
			&entry.IPAddress,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
				return nil, err
			}
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}
