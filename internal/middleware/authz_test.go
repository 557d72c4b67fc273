package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/DecisionRecordsORG/decision-records/internal/config"
	"github.com/DecisionRecordsORG/decision-records/internal/db/models"
	"github.com/DecisionRecordsORG/decision-records/internal/policy"
)

// ---------------------------------------------------------------------------
// helpers

func policyEngine() *policy.Engine {
	return policy.NewEngine(config.FeaturesConfig{
		AISearch: true, SlackQueries: true, ExternalAPI: true,
	})
}

// withPrincipal injects a principal the way Authenticate would.
func withPrincipal(p *policy.Principal) gin.HandlerFunc {
	return func(c *gin.Context) {
		if p != nil {
			c.Set(PrincipalKey, p)
		}
		c.Next()
	}
}

func gateRequest(t *testing.T, p *policy.Principal, gate gin.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()

	router := gin.New()
	router.GET("/x", withPrincipal(p), gate, func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/x", nil))
	return w
}

func memberPrincipal(role models.Role) *policy.Principal {
	user := &models.User{ID: "user-1", Email: "person@acme.com", Domain: "acme.com",
		AISearchEnabled: true, SlackQueriesEnabled: true, ExternalAPIEnabled: true}
	tenant := &models.Tenant{ID: "tenant-1", Domain: "acme.com",
		MaturityState: models.MaturityMature,
		AISearchEnabled: true, SlackQueriesEnabled: true, ExternalAPIEnabled: true}
	membership := &models.TenantMembership{TenantID: "tenant-1", UserID: "user-1", Role: role}
	return policy.NewTenantPrincipal(user, membership, tenant)
}

// ---------------------------------------------------------------------------
// tests

func TestRequireActionAllowsSteward(t *testing.T) {
	w := gateRequest(t, memberPrincipal(models.RoleSteward),
		RequireAction(policyEngine(), policy.ActionDeleteRecord))
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestRequireActionDeniesUserWithGate(t *testing.T) {
	w := gateRequest(t, memberPrincipal(models.RoleUser),
		RequireAction(policyEngine(), policy.ActionDeleteRecord))
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"denied_by":"role"`) {
		t.Errorf("body %s missing denying gate", w.Body.String())
	}
}

func TestRequireActionWithoutPrincipal(t *testing.T) {
	w := gateRequest(t, nil, RequireAction(policyEngine(), policy.ActionCreateRecord))
	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.Code)
	}
}

func TestRequireFeatureSystemOff(t *testing.T) {
	engine := policy.NewEngine(config.FeaturesConfig{AISearch: false})
	w := gateRequest(t, memberPrincipal(models.RoleAdmin),
		RequireFeature(engine, policy.FeatureAISearch))
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"denied_by":"system_flag"`) {
		t.Errorf("body %s missing system gate", w.Body.String())
	}
}

func TestRequireScopeSessionPassesImplicitly(t *testing.T) {
	w := gateRequest(t, memberPrincipal(models.RoleUser),
		RequireScope(policyEngine(), models.ScopeWrite))
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestRequireScopeKeyedPrincipal(t *testing.T) {
	p := memberPrincipal(models.RoleUser)
	p.APIKey = &models.APIKey{ID: "key-1", Scopes: []string{models.ScopeRead}}

	if w := gateRequest(t, p, RequireScope(policyEngine(), models.ScopeRead)); w.Code != http.StatusOK {
		t.Errorf("read scope: status = %d, want 200", w.Code)
	}
	w := gateRequest(t, p, RequireScope(policyEngine(), models.ScopeWrite))
	if w.Code != http.StatusForbidden || !strings.Contains(w.Body.String(), `"denied_by":"scope"`) {
		t.Errorf("write scope: status = %d body %s", w.Code, w.Body.String())
	}
}

func TestRequireRole(t *testing.T) {
	if w := gateRequest(t, memberPrincipal(models.RoleAdmin), RequireRole(models.RoleSteward)); w.Code != http.StatusOK {
		t.Errorf("admin behind steward gate: status = %d", w.Code)
	}
	if w := gateRequest(t, memberPrincipal(models.RoleUser), RequireRole(models.RoleSteward)); w.Code != http.StatusForbidden {
		t.Errorf("user behind steward gate: status = %d", w.Code)
	}
}

func TestRequireMaster(t *testing.T) {
	master := policy.NewMasterPrincipal(&models.MasterAccount{ID: "m-1", Username: "master"})
	if w := gateRequest(t, master, RequireMaster()); w.Code != http.StatusOK {
		t.Errorf("master: status = %d", w.Code)
	}
	if w := gateRequest(t, memberPrincipal(models.RoleAdmin), RequireMaster()); w.Code != http.StatusForbidden {
		t.Errorf("tenant admin: status = %d", w.Code)
	}
}
