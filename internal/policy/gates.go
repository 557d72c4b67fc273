package policy

import (
	"github.com/DecisionRecordsORG/decision-records/internal/config"
	"github.com/DecisionRecordsORG/decision-records/internal/db/models"
	"github.com/DecisionRecordsORG/decision-records/internal/telemetry"
)

// Feature names a gated capability. Each has an independent switch at the
// system, tenant, and user level; all three must pass.
type Feature string

const (
	FeatureAISearch     Feature = "ai_search"
	FeatureSlackQueries Feature = "slack_queries"
	FeatureExternalAPI  Feature = "external_api"
)

// Action names a role-gated operation.
type Action string

const (
	ActionCreateRecord        Action = "record.create"
	ActionUpdateRecord        Action = "record.update"
	ActionDeleteRecord        Action = "record.delete"
	ActionApproveRequest      Action = "request.approve"
	ActionChangeTenantSetting Action = "tenant.change_settings"
	ActionManageMembers       Action = "tenant.manage_members"
	ActionManageAPIKeys       Action = "apikey.manage"
)

// Gate names reported on denials. These are expected user-facing states, not
// attack signals, so the reason is specific.
const (
	GateSystemFlag      = "system_flag"
	GateTenantFlag      = "tenant_flag"
	GateUserFlag        = "user_flag"
	GateRole            = "role"
	GateMaturity        = "maturity"
	GateMasterForbidden = "master_forbidden"
	GateScope           = "scope"
)

// Decision is the outcome of a policy check. Gate names the check that
// denied; it is empty on allow.
type Decision struct {
	Allowed bool
	Gate    string
}

func allow() Decision { return Decision{Allowed: true} }

func deny(gate string) Decision {
	telemetry.PolicyDenialsTotal.WithLabelValues(gate).Inc()
	return Decision{Gate: gate}
}

// Engine evaluates policy gates. The system-wide feature level comes from
// configuration; tenant and user levels ride on the principal.
type Engine struct {
	features config.FeaturesConfig
}

// NewEngine creates a policy engine.
func NewEngine(features config.FeaturesConfig) *Engine {
	return &Engine{features: features}
}

// ---------------------------------------------------------------------------
// feature cascade

// FeatureAllowed applies the three-level cascade in order: system switch,
// tenant switch, user opt-out. Evaluation short-circuits, so the reported
// gate is always the outermost level that denied. Masters are not subject to
// tenant or user gates (they have neither) but still respect the system
// switch.
func (e *Engine) FeatureAllowed(p *Principal, f Feature) Decision {
	if !e.systemEnabled(f) {
		return deny(GateSystemFlag)
	}
	if p.IsMaster() {
		return allow()
	}
	if p.Tenant != nil && !tenantEnabled(p.Tenant, f) {
		return deny(GateTenantFlag)
	}
	if p.User != nil && !userEnabled(p.User, f) {
		return deny(GateUserFlag)
	}
	return allow()
}

func (e *Engine) systemEnabled(f Feature) bool {
	switch f {
	case FeatureAISearch:
		return e.features.AISearch
	case FeatureSlackQueries:
		return e.features.SlackQueries
	case FeatureExternalAPI:
		return e.features.ExternalAPI
	default:
		return false
	}
}

func tenantEnabled(t *models.Tenant, f Feature) bool {
	switch f {
	case FeatureAISearch:
		return t.AISearchEnabled
	case FeatureSlackQueries:
		return t.SlackQueriesEnabled
	case FeatureExternalAPI:
		return t.ExternalAPIEnabled
	default:
		return false
	}
}

func userEnabled(u *models.User, f Feature) bool {
	switch f {
	case FeatureAISearch:
		return u.AISearchEnabled
	case FeatureSlackQueries:
		return u.SlackQueriesEnabled
	case FeatureExternalAPI:
		return u.ExternalAPIEnabled
	default:
		return false
	}
}

// ---------------------------------------------------------------------------
// role gates

// Can applies the role gate for an action. A master account bypasses tenant
// roles entirely but is forbidden from tenant-owned mutations: it belongs to
// no tenant, so letting it write tenant records would bypass every audit
// trail keyed by membership.
func (e *Engine) Can(p *Principal, action Action) Decision {
	if p.IsMaster() {
		if tenantOwnedMutation(action) {
			return deny(GateMasterForbidden)
		}
		return allow()
	}
	if p.Membership == nil {
		return deny(GateRole)
	}

	switch action {
	case ActionCreateRecord, ActionUpdateRecord:
		return allow()

	case ActionDeleteRecord:
		return e.elevatedAction(p)

	case ActionApproveRequest:
		if p.Membership.CanApproveRequests() {
			return allow()
		}
		return e.elevatedAction(p)

	case ActionChangeTenantSetting:
		if p.Membership.CanChangeTenantSettings() {
			return allow()
		}
		return deny(GateRole)

	case ActionManageMembers:
		return e.elevatedAction(p)

	case ActionManageAPIKeys:
		return allow() // any member may manage their own keys

	default:
		return deny(GateRole)
	}
}

// elevatedAction implements the provisional-admin maturity rule: admin and
// steward always pass; provisional_admin passes only while the tenant is
// still in bootstrap. Once the tenant matures, provisional admins lose
// elevated rights without any change to their own role row.
func (e *Engine) elevatedAction(p *Principal) Decision {
	role := p.Role()
	if role.AtLeast(models.RoleSteward) {
		return allow()
	}
	if role != models.RoleProvisionalAdmin {
		return deny(GateRole)
	}
	if p.Tenant != nil && p.Tenant.IsMature() {
		return deny(GateMaturity)
	}
	return allow()
}

// tenantOwnedMutation reports whether the action writes tenant-owned data.
func tenantOwnedMutation(action Action) bool {
	switch action {
	case ActionCreateRecord, ActionUpdateRecord, ActionDeleteRecord:
		return true
	default:
		return false
	}
}

// ---------------------------------------------------------------------------
// scope gate

// ScopeAllowed layers API key scopes on top of role checks: a principal
// resolved from a machine credential may hold a role that permits an action
// its key's scopes do not.
func (e *Engine) ScopeAllowed(p *Principal, scope string) Decision {
	if p.HasScope(scope) {
		return allow()
	}
	return deny(GateScope)
}
