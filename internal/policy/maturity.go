package policy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/DecisionRecordsORG/decision-records/internal/config"
	"github.com/DecisionRecordsORG/decision-records/internal/db/models"
	"github.com/DecisionRecordsORG/decision-records/internal/db/repositories"
	"github.com/DecisionRecordsORG/decision-records/internal/telemetry"
)

// Fallback thresholds used when both the tenant override and the configured
// default are unset.
const (
	DefaultMatureAgeDays     = 90
	DefaultMatureMemberCount = 5
)

type maturityTenantStore interface {
	GetTenantByID(ctx context.Context, id string) (*models.Tenant, error)
	SetMaturityState(ctx context.Context, tenantID, state string) (bool, error)
}

type maturityMembershipStore interface {
	GetRoleCounts(ctx context.Context, tenantID string) (*models.RoleCounts, error)
}

type auditStore interface {
	CreateEntry(ctx context.Context, entry *models.AuditLog) error
}

var _ maturityTenantStore = (*repositories.TenantRepository)(nil)
var _ maturityMembershipStore = (*repositories.MembershipRepository)(nil)
var _ auditStore = (*repositories.AuditRepository)(nil)

// MaturityService computes and persists tenant maturity transitions.
type MaturityService struct {
	tenants     maturityTenantStore
	memberships maturityMembershipStore
	audit       auditStore
	cfg         config.TenancyConfig
	now         func() time.Time
}

// NewMaturityService creates the maturity service.
func NewMaturityService(tenants maturityTenantStore, memberships maturityMembershipStore,
	audit auditStore, cfg config.TenancyConfig) *MaturityService {
	return &MaturityService{
		tenants:     tenants,
		memberships: memberships,
		audit:       audit,
		cfg:         cfg,
		now:         time.Now,
	}
}

// Compute returns the maturity state the tenant should hold right now. A
// tenant is mature once any of these holds: two or more full admins, one
// admin plus one steward, member count at or past the threshold, or age at or
// past the threshold. Maturity never regresses here: once stored mature, the
// tenant stays mature even if admins later leave.
func (s *MaturityService) Compute(tenant *models.Tenant, counts *models.RoleCounts) string {
	if tenant.IsMature() {
		return models.MaturityMature
	}

	ageDays := threshold(tenant.MatureAgeDays, s.cfg.MatureAgeDays, DefaultMatureAgeDays)
	memberCount := threshold(tenant.MatureMemberCount, s.cfg.MatureMemberCount, DefaultMatureMemberCount)

	switch {
	case counts.Admins >= 2:
		return models.MaturityMature
	case counts.Admins >= 1 && counts.Stewards >= 1:
		return models.MaturityMature
	case counts.Total >= memberCount:
		return models.MaturityMature
	case tenant.AgeDays(s.now()) >= ageDays:
		return models.MaturityMature
	default:
		return models.MaturityBootstrap
	}
}

// threshold resolves a maturity threshold: the tenant override wins when set
// to a positive value, then the configured default, then the hard fallback.
// Non-positive values mean "unset" at every level.
func threshold(override *int, configured, fallback int) int {
	if override != nil && *override > 0 {
		return *override
	}
	if configured > 0 {
		return configured
	}
	return fallback
}

// Update recomputes the tenant's maturity and persists it when it differs
// from the stored state. Returns whether a transition occurred; an audit
// entry is written only then, so repeated calls stay quiet.
func (s *MaturityService) Update(ctx context.Context, tenantID string) (bool, error) {
	tenant, err := s.tenants.GetTenantByID(ctx, tenantID)
	if err != nil {
		return false, fmt.Errorf("policy: failed to load tenant: %w", err)
	}
	if tenant == nil {
		return false, fmt.Errorf("policy: tenant %s not found", tenantID)
	}

	counts, err := s.memberships.GetRoleCounts(ctx, tenantID)
	if err != nil {
		return false, fmt.Errorf("policy: failed to load role counts: %w", err)
	}

	state := s.Compute(tenant, counts)
	changed, err := s.tenants.SetMaturityState(ctx, tenantID, state)
	if err != nil {
		return false, fmt.Errorf("policy: failed to persist maturity state: %w", err)
	}
	if !changed {
		return false, nil
	}

	telemetry.TenantMaturityTransitionsTotal.Inc()
	slog.Info("tenant maturity transition",
		"tenant_id", tenantID, "domain", tenant.Domain, "state", state)

	entry := &models.AuditLog{
		ID:           uuid.New().String(),
		TenantID:     &tenantID,
		Action:       "tenant.maturity_transition",
		ResourceType: strPtr("tenant"),
		ResourceID:   &tenantID,
		Metadata: map[string]interface{}{
			"from":     tenant.MaturityState,
			"to":       state,
			"admins":   counts.Admins,
			"stewards": counts.Stewards,
			"members":  counts.Total,
		},
	}
	if err := s.audit.CreateEntry(ctx, entry); err != nil {
		slog.Warn("failed to write maturity audit entry", "tenant_id", tenantID, "error", err)
	}
	return true, nil
}

func strPtr(s string) *string { return &s }
