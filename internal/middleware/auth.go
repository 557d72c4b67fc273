// Package middleware provides Gin HTTP middleware for request identity,
// authorization gates, rate limiting, security headers, and audit logging.
//
// Middleware ordering matters and is enforced in router.go:
//
//	RequestID → Security → Metrics → RateLimit → Access → Authenticate → gates → Audit → Handler
//
// Security headers run early so they appear on all responses including errors.
// Rate limiting runs before authentication to stop brute force before any DB
// work. Authenticate resolves the acting principal; the authorization gates
// read it from context. Audit runs after the gates so denied requests are
// recorded with their final status.
package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/DecisionRecordsORG/decision-records/internal/auth/bearer"
	"github.com/DecisionRecordsORG/decision-records/internal/policy"
	"github.com/DecisionRecordsORG/decision-records/internal/session"
)

// Context keys set by Authenticate for handlers and downstream middleware.
const (
	PrincipalKey  = "principal"
	SessionIDKey  = "session_id"
	UserIDKey     = "user_id"
	TenantIDKey   = "tenant_id"
	AuthMethodKey = "auth_method"
)

// Authenticate resolves the request's credentials (session cookie, API key,
// or bot bearer token) to a Principal and stores it in the gin context.
// Requests that resolve to nothing are rejected with 401; a valid identity
// without a tenant membership gets 403.
func Authenticate(sessions *session.Manager, resolver *policy.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, sid, ok := resolvePrincipal(c, sessions, resolver, true)
		if !ok {
			return
		}
		setIdentity(c, principal, sid)
		c.Next()
	}
}

// OptionalAuthenticate resolves credentials when present but never rejects.
// Handlers behind it must treat a missing principal as anonymous.
func OptionalAuthenticate(sessions *session.Manager, resolver *policy.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, sid, _ := resolvePrincipal(c, sessions, resolver, false)
		if principal != nil {
			setIdentity(c, principal, sid)
		}
		c.Next()
	}
}

func resolvePrincipal(c *gin.Context, sessions *session.Manager, resolver *policy.Resolver, required bool) (*policy.Principal, string, bool) {
	sid, data, err := sessions.Load(c)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to load session",
		})
		return nil, "", false
	}

	principal, err := resolver.Resolve(c.Request.Context(), policy.Credentials{
		Session:             data,
		AuthorizationHeader: c.GetHeader("Authorization"),
	})
	if err != nil {
		if !required {
			return nil, "", true
		}
		switch {
		case errors.Is(err, policy.ErrUnauthenticated):
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication required",
			})
		case errors.Is(err, policy.ErrNoMembership):
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "No tenant membership",
			})
		default:
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "Authentication failed",
			})
		}
		return nil, "", false
	}
	return principal, sid, true
}

func setIdentity(c *gin.Context, p *policy.Principal, sid string) {
	c.Set(PrincipalKey, p)
	if sid != "" {
		c.Set(SessionIDKey, sid)
	}
	if p.User != nil {
		c.Set(UserIDKey, p.User.ID)
	}
	if p.Tenant != nil {
		c.Set(TenantIDKey, p.Tenant.ID)
	}
	c.Set(AuthMethodKey, authMethod(p, sid))
}

func authMethod(p *policy.Principal, sid string) string {
	switch {
	case p.IsMaster():
		return "master_session"
	case p.APIKey != nil:
		return "api_key"
	case sid != "":
		return "session"
	default:
		return "bot_token"
	}
}

// CurrentPrincipal returns the principal stored by Authenticate, or nil when
// the request is anonymous.
func CurrentPrincipal(c *gin.Context) *policy.Principal {
	v, ok := c.Get(PrincipalKey)
	if !ok {
		return nil
	}
	p, _ := v.(*policy.Principal)
	return p
}

// AccessEnforcement applies the Cloudflare Access checks before any
// application auth runs. With both enforcement switches off it is a no-op.
func AccessEnforcement(validator *bearer.AccessValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := validator.CheckRequest(c.Request.Context(), c.Request)
		if err != nil {
			if errors.Is(err, bearer.ErrNotFromProxy) {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
					"error": "Direct access not permitted",
				})
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Access verification failed",
			})
			return
		}
		if claims != nil && claims.Email != "" {
			c.Set("access_email", claims.Email)
		}
		c.Next()
	}
}
