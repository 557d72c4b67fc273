// authz.go implements authorization gate middleware over the policy engine.
//
// Gates are evaluated at request time rather than being baked into sessions
// or tokens. When a role changes or a tenant crosses its maturity threshold,
// the change takes effect on the member's next request without invalidating
// anything.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/DecisionRecordsORG/decision-records/internal/db/models"
	"github.com/DecisionRecordsORG/decision-records/internal/policy"
)

// RequireAction rejects with 403 unless the policy engine allows the acting
// principal to perform the action. The denying gate is included so clients
// can distinguish "role too low" from "tenant not mature yet".
func RequireAction(engine *policy.Engine, action policy.Action) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := CurrentPrincipal(c)
		if p == nil {
			abortForbidden(c, "")
			return
		}
		if d := engine.Can(p, action); !d.Allowed {
			abortForbidden(c, d.Gate)
			return
		}
		c.Next()
	}
}

// RequireFeature rejects with 403 unless the feature cascade allows the
// feature for the acting principal.
func RequireFeature(engine *policy.Engine, feature policy.Feature) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := CurrentPrincipal(c)
		if p == nil {
			abortForbidden(c, "")
			return
		}
		if d := engine.FeatureAllowed(p, feature); !d.Allowed {
			abortForbidden(c, d.Gate)
			return
		}
		c.Next()
	}
}

// RequireScope enforces API key scopes. Session-authenticated principals
// carry no key and pass implicitly; scopes constrain keys, not humans.
func RequireScope(engine *policy.Engine, scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := CurrentPrincipal(c)
		if p == nil {
			abortForbidden(c, "")
			return
		}
		if d := engine.ScopeAllowed(p, scope); !d.Allowed {
			abortForbidden(c, d.Gate)
			return
		}
		c.Next()
	}
}

// RequireRole rejects with 403 unless the principal holds at least the given
// tenant role. Master principals do not pass: endpoints that admit masters
// use RequireMaster or an action gate instead.
func RequireRole(minimum models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := CurrentPrincipal(c)
		if p == nil || !p.Role().AtLeast(minimum) {
			abortForbidden(c, policy.GateRole)
			return
		}
		c.Next()
	}
}

// RequireMaster restricts an endpoint to the master account.
func RequireMaster() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := CurrentPrincipal(c)
		if p == nil || !p.IsMaster() {
			abortForbidden(c, policy.GateRole)
			return
		}
		c.Next()
	}
}

func abortForbidden(c *gin.Context, gate string) {
	body := gin.H{"error": "Insufficient permissions"}
	if gate != "" {
		body["denied_by"] = gate
	}
	c.AbortWithStatusJSON(http.StatusForbidden, body)
}
