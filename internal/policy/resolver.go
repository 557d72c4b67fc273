package policy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/DecisionRecordsORG/decision-records/internal/auth"
	"github.com/DecisionRecordsORG/decision-records/internal/auth/bearer"
	"github.com/DecisionRecordsORG/decision-records/internal/db/models"
	"github.com/DecisionRecordsORG/decision-records/internal/db/repositories"
	"github.com/DecisionRecordsORG/decision-records/internal/session"
)

var (
	// ErrUnauthenticated means no credential on the request resolved to an
	// identity. Callers answer 401 with a generic message.
	ErrUnauthenticated = errors.New("policy: no valid credential")

	// ErrNoMembership means the identity is valid but holds no membership in
	// the resolved tenant.
	ErrNoMembership = errors.New("policy: no tenant membership")
)

type resolverUserStore interface {
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
}

type resolverMasterStore interface {
	GetMasterAccountByID(ctx context.Context, id string) (*models.MasterAccount, error)
}

type resolverTenantStore interface {
	GetTenantByID(ctx context.Context, id string) (*models.Tenant, error)
	GetTenantByDomain(ctx context.Context, domain string) (*models.Tenant, error)
}

type resolverMembershipStore interface {
	GetMembership(ctx context.Context, tenantID, userID string) (*models.TenantMembership, error)
}

type apiKeyValidator interface {
	Validate(ctx context.Context, presented string) (*models.APIKey, error)
}

type bearerValidator interface {
	Validate(ctx context.Context, raw string) (*bearer.TokenClaims, error)
}

var _ resolverUserStore = (*repositories.UserRepository)(nil)
var _ resolverMasterStore = (*repositories.MasterAccountRepository)(nil)
var _ resolverTenantStore = (*repositories.TenantRepository)(nil)
var _ resolverMembershipStore = (*repositories.MembershipRepository)(nil)
var _ apiKeyValidator = (*auth.APIKeyService)(nil)

// Credentials are the request artifacts the resolver inspects. Session is the
// already-loaded server-side session (nil when the request carried no valid
// session cookie); AuthorizationHeader is the raw header value.
type Credentials struct {
	Session             *session.Data
	AuthorizationHeader string
}

// Resolver turns request credentials into a Principal. Resolution order is
// fixed: master session, then session user, then API key, then bearer token.
// The first credential that resolves wins; later ones are not consulted.
type Resolver struct {
	masters     resolverMasterStore
	users       resolverUserStore
	tenants     resolverTenantStore
	memberships resolverMembershipStore
	apiKeys     apiKeyValidator
	bots        bearerValidator // nil when the bot framework is not configured
}

// NewResolver creates a principal resolver. bots may be nil.
func NewResolver(masters resolverMasterStore, users resolverUserStore,
	tenants resolverTenantStore, memberships resolverMembershipStore,
	apiKeys apiKeyValidator, bots bearerValidator) *Resolver {
	return &Resolver{
		masters:     masters,
		users:       users,
		tenants:     tenants,
		memberships: memberships,
		apiKeys:     apiKeys,
		bots:        bots,
	}
}

// Resolve produces the acting principal for the request or
// ErrUnauthenticated.
func (r *Resolver) Resolve(ctx context.Context, creds Credentials) (*Principal, error) {
	if creds.Session != nil && creds.Session.IsMaster() {
		return r.fromMasterSession(ctx, creds.Session)
	}
	if creds.Session != nil && creds.Session.UserID != "" {
		return r.fromUserSession(ctx, creds.Session)
	}

	token, err := auth.ExtractBearerToken(creds.AuthorizationHeader)
	if err != nil || token == "" {
		return nil, ErrUnauthenticated
	}

	if strings.HasPrefix(token, auth.APIKeyPrefix+"_") {
		return r.fromAPIKey(ctx, token)
	}
	if r.bots != nil {
		return r.fromBearer(ctx, token)
	}
	return nil, ErrUnauthenticated
}

func (r *Resolver) fromMasterSession(ctx context.Context, data *session.Data) (*Principal, error) {
	master, err := r.masters.GetMasterAccountByID(ctx, data.MasterID)
	if err != nil {
		return nil, fmt.Errorf("policy: failed to load master account: %w", err)
	}
	if master == nil {
		return nil, ErrUnauthenticated
	}
	return NewMasterPrincipal(master), nil
}

func (r *Resolver) fromUserSession(ctx context.Context, data *session.Data) (*Principal, error) {
	user, err := r.users.GetUserByID(ctx, data.UserID)
	if err != nil {
		return nil, fmt.Errorf("policy: failed to load user: %w", err)
	}
	if user == nil {
		return nil, ErrUnauthenticated
	}
	return r.attachTenant(ctx, user, data.TenantID)
}

func (r *Resolver) fromAPIKey(ctx context.Context, token string) (*Principal, error) {
	key, err := r.apiKeys.Validate(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("policy: api key validation: %w", err)
	}
	if key == nil {
		return nil, ErrUnauthenticated
	}

	user, err := r.users.GetUserByID(ctx, key.UserID)
	if err != nil {
		return nil, fmt.Errorf("policy: failed to load key owner: %w", err)
	}
	if user == nil {
		return nil, ErrUnauthenticated
	}

	principal, err := r.attachTenant(ctx, user, key.TenantID)
	if err != nil {
		return nil, err
	}
	principal.APIKey = key
	return principal, nil
}

// fromBearer resolves a verified bot-framework token to the local user the
// chat platform identity maps to. The token's email claim is the join key.
func (r *Resolver) fromBearer(ctx context.Context, token string) (*Principal, error) {
	claims, err := r.bots.Validate(ctx, token)
	if err != nil {
		return nil, ErrUnauthenticated
	}
	if claims.Email == "" {
		return nil, ErrUnauthenticated
	}

	user, err := r.users.GetUserByEmail(ctx, claims.Email)
	if err != nil {
		return nil, fmt.Errorf("policy: failed to load user: %w", err)
	}
	if user == nil {
		return nil, ErrUnauthenticated
	}
	return r.attachTenant(ctx, user, "")
}

// attachTenant resolves the tenant (by explicit id when the credential pins
// one, otherwise by the user's authentication domain) and the user's
// membership in it.
func (r *Resolver) attachTenant(ctx context.Context, user *models.User, tenantID string) (*Principal, error) {
	var (
		tenant *models.Tenant
		err    error
	)
	if tenantID != "" {
		tenant, err = r.tenants.GetTenantByID(ctx, tenantID)
	} else {
		tenant, err = r.tenants.GetTenantByDomain(ctx, user.Domain)
	}
	if err != nil {
		return nil, fmt.Errorf("policy: failed to load tenant: %w", err)
	}
	if tenant == nil {
		return nil, ErrNoMembership
	}

	membership, err := r.memberships.GetMembership(ctx, tenant.ID, user.ID)
	if err != nil {
		return nil, fmt.Errorf("policy: failed to load membership: %w", err)
	}
	if membership == nil {
		return nil, ErrNoMembership
	}
	return NewTenantPrincipal(user, membership, tenant), nil
}
