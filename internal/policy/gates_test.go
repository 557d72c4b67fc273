package policy

import (
	"testing"

	"github.com/DecisionRecordsORG/decision-records/internal/config"
	"github.com/DecisionRecordsORG/decision-records/internal/db/models"
)

// ---------------------------------------------------------------------------
// helpers

func allOnFeatures() config.FeaturesConfig {
	return config.FeaturesConfig{AISearch: true, SlackQueries: true, ExternalAPI: true}
}

func tenantPrincipal(role models.Role, maturity string) *Principal {
	user := &models.User{
		ID: "user-1", Email: "person@acme.com", Domain: "acme.com",
		AISearchEnabled: true, SlackQueriesEnabled: true, ExternalAPIEnabled: true,
	}
	tenant := &models.Tenant{
		ID: "tenant-1", Domain: "acme.com", MaturityState: maturity,
		AISearchEnabled: true, SlackQueriesEnabled: true, ExternalAPIEnabled: true,
	}
	membership := &models.TenantMembership{TenantID: tenant.ID, UserID: user.ID, Role: role}
	return NewTenantPrincipal(user, membership, tenant)
}

func masterPrincipal() *Principal {
	return NewMasterPrincipal(&models.MasterAccount{ID: "master-1", Username: "master"})
}

// ---------------------------------------------------------------------------
// feature cascade

func TestFeatureCascadeAllLevelsPass(t *testing.T) {
	e := NewEngine(allOnFeatures())
	p := tenantPrincipal(models.RoleUser, models.MaturityBootstrap)

	for _, f := range []Feature{FeatureAISearch, FeatureSlackQueries, FeatureExternalAPI} {
		if d := e.FeatureAllowed(p, f); !d.Allowed {
			t.Errorf("feature %s denied at gate %q with all levels on", f, d.Gate)
		}
	}
}

func TestFeatureCascadeShortCircuitOrder(t *testing.T) {
	tests := []struct {
		name     string
		system   bool
		tenant   bool
		user     bool
		wantGate string
	}{
		{"system off wins over tenant off", false, false, true, GateSystemFlag},
		{"system off wins over user off", false, true, false, GateSystemFlag},
		{"tenant off wins over user off", true, false, false, GateTenantFlag},
		{"user opt-out reported last", true, true, false, GateUserFlag},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine(config.FeaturesConfig{AISearch: tt.system, SlackQueries: true, ExternalAPI: true})
			p := tenantPrincipal(models.RoleUser, models.MaturityBootstrap)
			p.Tenant.AISearchEnabled = tt.tenant
			p.User.AISearchEnabled = tt.user

			d := e.FeatureAllowed(p, FeatureAISearch)
			if d.Allowed {
				t.Fatal("expected denial")
			}
			if d.Gate != tt.wantGate {
				t.Errorf("gate = %q, want %q", d.Gate, tt.wantGate)
			}
		})
	}
}

func TestFeatureCascadeMasterRespectsSystemSwitchOnly(t *testing.T) {
	e := NewEngine(config.FeaturesConfig{AISearch: false, SlackQueries: true, ExternalAPI: true})
	m := masterPrincipal()

	if d := e.FeatureAllowed(m, FeatureAISearch); d.Allowed || d.Gate != GateSystemFlag {
		t.Errorf("master vs system-off: got %+v, want system_flag denial", d)
	}
	if d := e.FeatureAllowed(m, FeatureSlackQueries); !d.Allowed {
		t.Errorf("master vs system-on: denied at %q", d.Gate)
	}
}

func TestFeatureCascadeUnknownFeature(t *testing.T) {
	e := NewEngine(allOnFeatures())
	p := tenantPrincipal(models.RoleAdmin, models.MaturityMature)

	if d := e.FeatureAllowed(p, Feature("time_travel")); d.Allowed {
		t.Error("unknown feature allowed; gates must fail closed")
	}
}

// ---------------------------------------------------------------------------
// role gates

func TestDeleteRecordByRoleAndMaturity(t *testing.T) {
	e := NewEngine(allOnFeatures())

	tests := []struct {
		name     string
		role     models.Role
		maturity string
		allowed  bool
		gate     string
	}{
		{"admin in bootstrap", models.RoleAdmin, models.MaturityBootstrap, true, ""},
		{"admin in mature", models.RoleAdmin, models.MaturityMature, true, ""},
		{"steward in mature", models.RoleSteward, models.MaturityMature, true, ""},
		{"provisional admin in bootstrap", models.RoleProvisionalAdmin, models.MaturityBootstrap, true, ""},
		{"provisional admin in mature", models.RoleProvisionalAdmin, models.MaturityMature, false, GateMaturity},
		{"plain user in bootstrap", models.RoleUser, models.MaturityBootstrap, false, GateRole},
		{"plain user in mature", models.RoleUser, models.MaturityMature, false, GateRole},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := e.Can(tenantPrincipal(tt.role, tt.maturity), ActionDeleteRecord)
			if d.Allowed != tt.allowed {
				t.Fatalf("allowed = %v, want %v", d.Allowed, tt.allowed)
			}
			if d.Gate != tt.gate {
				t.Errorf("gate = %q, want %q", d.Gate, tt.gate)
			}
		})
	}
}

func TestProvisionalAdminLosesRightsOnMaturityAlone(t *testing.T) {
	// The same role row is first allowed and then denied purely because the
	// tenant's maturity state changed underneath it.
	e := NewEngine(allOnFeatures())
	p := tenantPrincipal(models.RoleProvisionalAdmin, models.MaturityBootstrap)

	if d := e.Can(p, ActionDeleteRecord); !d.Allowed {
		t.Fatalf("bootstrap: denied at %q", d.Gate)
	}

	p.Tenant.MaturityState = models.MaturityMature
	if d := e.Can(p, ActionDeleteRecord); d.Allowed || d.Gate != GateMaturity {
		t.Errorf("mature: got %+v, want maturity denial", d)
	}
}

func TestMasterForbiddenFromTenantMutations(t *testing.T) {
	e := NewEngine(allOnFeatures())
	m := masterPrincipal()

	for _, action := range []Action{ActionCreateRecord, ActionUpdateRecord, ActionDeleteRecord} {
		if d := e.Can(m, action); d.Allowed || d.Gate != GateMasterForbidden {
			t.Errorf("master %s: got %+v, want master_forbidden denial", action, d)
		}
	}

	if d := e.Can(m, ActionChangeTenantSetting); !d.Allowed {
		t.Errorf("master tenant-settings: denied at %q", d.Gate)
	}
}

func TestChangeTenantSettingsIsFullAdminOnly(t *testing.T) {
	e := NewEngine(allOnFeatures())

	if d := e.Can(tenantPrincipal(models.RoleAdmin, models.MaturityMature), ActionChangeTenantSetting); !d.Allowed {
		t.Errorf("admin denied at %q", d.Gate)
	}
	for _, role := range []models.Role{models.RoleUser, models.RoleProvisionalAdmin, models.RoleSteward} {
		if d := e.Can(tenantPrincipal(role, models.MaturityBootstrap), ActionChangeTenantSetting); d.Allowed {
			t.Errorf("%s allowed to change tenant settings", role)
		}
	}
}

func TestCanWithoutMembership(t *testing.T) {
	e := NewEngine(allOnFeatures())
	p := &Principal{Kind: KindTenantUser, User: &models.User{ID: "user-1"}}

	if d := e.Can(p, ActionCreateRecord); d.Allowed || d.Gate != GateRole {
		t.Errorf("membership-less principal: got %+v, want role denial", d)
	}
}

// ---------------------------------------------------------------------------
// scope gate

func TestScopeAllowed(t *testing.T) {
	e := NewEngine(allOnFeatures())

	session := tenantPrincipal(models.RoleUser, models.MaturityBootstrap)
	if d := e.ScopeAllowed(session, models.ScopeWrite); !d.Allowed {
		t.Errorf("session principal denied at %q; sessions carry no scopes", d.Gate)
	}

	keyed := tenantPrincipal(models.RoleUser, models.MaturityBootstrap)
	keyed.APIKey = &models.APIKey{Scopes: []string{models.ScopeRead, models.ScopeSearch}}
	if d := e.ScopeAllowed(keyed, models.ScopeRead); !d.Allowed {
		t.Errorf("in-scope read denied at %q", d.Gate)
	}
	if d := e.ScopeAllowed(keyed, models.ScopeWrite); d.Allowed || d.Gate != GateScope {
		t.Errorf("out-of-scope write: got %+v, want scope denial", d)
	}
}
