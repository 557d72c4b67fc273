package policy

import (
	"context"
	"testing"
	"time"

	"github.com/DecisionRecordsORG/decision-records/internal/config"
	"github.com/DecisionRecordsORG/decision-records/internal/db/models"
)

// ---------------------------------------------------------------------------
// fakes

type fakeMaturityTenants struct {
	tenant *models.Tenant
}

func (f *fakeMaturityTenants) GetTenantByID(ctx context.Context, id string) (*models.Tenant, error) {
	if f.tenant != nil && f.tenant.ID == id {
		return f.tenant, nil
	}
	return nil, nil
}

func (f *fakeMaturityTenants) SetMaturityState(ctx context.Context, tenantID, state string) (bool, error) {
	if f.tenant.MaturityState == state {
		return false, nil
	}
	f.tenant.MaturityState = state
	return true, nil
}

type fakeMaturityMemberships struct {
	counts models.RoleCounts
}

func (f *fakeMaturityMemberships) GetRoleCounts(ctx context.Context, tenantID string) (*models.RoleCounts, error) {
	c := f.counts
	return &c, nil
}

type fakeAudit struct {
	entries []*models.AuditLog
}

func (f *fakeAudit) CreateEntry(ctx context.Context, entry *models.AuditLog) error {
	f.entries = append(f.entries, entry)
	return nil
}

// ---------------------------------------------------------------------------
// helpers

func maturityFixture(tenant *models.Tenant, counts models.RoleCounts) (*MaturityService, *fakeAudit) {
	audit := &fakeAudit{}
	svc := NewMaturityService(
		&fakeMaturityTenants{tenant: tenant},
		&fakeMaturityMemberships{counts: counts},
		audit,
		config.TenancyConfig{MatureAgeDays: 90, MatureMemberCount: 5},
	)
	return svc, audit
}

func bootstrapTenant(ageDays int) *models.Tenant {
	return &models.Tenant{
		ID:            "tenant-1",
		Domain:        "acme.com",
		MaturityState: models.MaturityBootstrap,
		CreatedAt:     time.Now().Add(-time.Duration(ageDays) * 24 * time.Hour),
	}
}

func intPtr(n int) *int { return &n }

// ---------------------------------------------------------------------------
// compute

func TestComputeMaturity(t *testing.T) {
	tests := []struct {
		name    string
		tenant  *models.Tenant
		counts  models.RoleCounts
		want    string
	}{
		{"two admins", bootstrapTenant(1), models.RoleCounts{Admins: 2, Total: 2}, models.MaturityMature},
		{"admin plus steward", bootstrapTenant(1), models.RoleCounts{Admins: 1, Stewards: 1, Total: 2}, models.MaturityMature},
		{"member count at threshold", bootstrapTenant(1), models.RoleCounts{Admins: 1, Total: 5}, models.MaturityMature},
		{"age at threshold", bootstrapTenant(90), models.RoleCounts{Admins: 1, Total: 1}, models.MaturityMature},
		{"young small tenant", bootstrapTenant(1), models.RoleCounts{Admins: 1, Total: 2}, models.MaturityBootstrap},
		{"one steward no admin", bootstrapTenant(1), models.RoleCounts{Stewards: 1, Total: 2}, models.MaturityBootstrap},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := maturityFixture(tt.tenant, tt.counts)
			if got := svc.Compute(tt.tenant, &tt.counts); got != tt.want {
				t.Errorf("Compute() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestComputeMaturityNeverRegresses(t *testing.T) {
	tenant := bootstrapTenant(1)
	tenant.MaturityState = models.MaturityMature

	svc, _ := maturityFixture(tenant, models.RoleCounts{Total: 1})
	if got := svc.Compute(tenant, &models.RoleCounts{Total: 1}); got != models.MaturityMature {
		t.Errorf("Compute() = %q after members left, want mature to stick", got)
	}
}

func TestComputeMaturityTenantOverrides(t *testing.T) {
	tenant := bootstrapTenant(10)
	tenant.MatureAgeDays = intPtr(7) // stricter than the 90-day default
	svc, _ := maturityFixture(tenant, models.RoleCounts{Total: 1})

	if got := svc.Compute(tenant, &models.RoleCounts{Total: 1}); got != models.MaturityMature {
		t.Errorf("Compute() = %q, want mature via the tenant's 7-day override", got)
	}

	// A non-positive override means unset, not "mature immediately".
	young := bootstrapTenant(10)
	young.MatureAgeDays = intPtr(0)
	svc, _ = maturityFixture(young, models.RoleCounts{Total: 1})
	if got := svc.Compute(young, &models.RoleCounts{Total: 1}); got != models.MaturityBootstrap {
		t.Errorf("Compute() = %q with zero override, want bootstrap via the default", got)
	}
}

func TestThresholdPrecedence(t *testing.T) {
	tests := []struct {
		name       string
		override   *int
		configured int
		want       int
	}{
		{"override wins", intPtr(30), 90, 30},
		{"nil override falls to config", nil, 60, 60},
		{"zero override falls to config", intPtr(0), 60, 60},
		{"negative override falls to config", intPtr(-1), 60, 60},
		{"all unset falls to hard default", nil, 0, DefaultMatureAgeDays},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := threshold(tt.override, tt.configured, DefaultMatureAgeDays); got != tt.want {
				t.Errorf("threshold() = %d, want %d", got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// update

func TestUpdateWritesAuditOnlyOnTransition(t *testing.T) {
	tenant := bootstrapTenant(1)
	svc, audit := maturityFixture(tenant, models.RoleCounts{Admins: 2, Total: 2})

	changed, err := svc.Update(context.Background(), tenant.ID)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if !changed {
		t.Fatal("expected a transition to mature")
	}
	if tenant.MaturityState != models.MaturityMature {
		t.Errorf("stored state = %q, want mature", tenant.MaturityState)
	}
	if len(audit.entries) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(audit.entries))
	}
	if audit.entries[0].Action != "tenant.maturity_transition" {
		t.Errorf("audit action = %q", audit.entries[0].Action)
	}

	// Second run computes the same state; no write, no audit noise.
	changed, err = svc.Update(context.Background(), tenant.ID)
	if err != nil {
		t.Fatalf("second Update failed: %v", err)
	}
	if changed {
		t.Error("idempotent update reported a transition")
	}
	if len(audit.entries) != 1 {
		t.Errorf("audit entries = %d after no-op update, want 1", len(audit.entries))
	}
}

func TestUpdateUnknownTenant(t *testing.T) {
	svc, _ := maturityFixture(bootstrapTenant(1), models.RoleCounts{})
	if _, err := svc.Update(context.Background(), "missing"); err == nil {
		t.Error("expected error for unknown tenant")
	}
}
