package sso

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/DecisionRecordsORG/decision-records/internal/config"
	"github.com/DecisionRecordsORG/decision-records/internal/crypto"
	"github.com/DecisionRecordsORG/decision-records/internal/db/models"
	"github.com/DecisionRecordsORG/decision-records/internal/db/repositories"
	"github.com/DecisionRecordsORG/decision-records/internal/telemetry"
)

// Flow names the sign-in handshake being driven. Each flow has its own state
// token type, so a state minted for one can never be redeemed on another's
// callback.
type Flow string

const (
	FlowGoogle Flow = "google"
	FlowSlack  Flow = "slack"
	FlowSSO    Flow = "sso"
)

// stateTTL bounds how long a redirect round-trip may take.
const stateTTL = 15 * time.Minute

// discoveryTimeout bounds the OIDC discovery request to an issuer.
const discoveryTimeout = 5 * time.Second

var flowTokenTypes = map[Flow]crypto.TokenType{
	FlowGoogle: crypto.TokenTypeGoogleOIDC,
	FlowSlack:  crypto.TokenTypeSlackOIDC,
	FlowSSO:    crypto.TokenTypeSSOOIDC,
}

// Store interfaces; satisfied by the repositories package.
type userStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByGoogleSub(ctx context.Context, sub string) (*models.User, error)
	GetUserBySlackUserID(ctx context.Context, slackUserID string) (*models.User, error)
	UpdateUser(ctx context.Context, user *models.User) error
	UpdateLastLogin(ctx context.Context, userID string) error
}

type tenantStore interface {
	CreateTenant(ctx context.Context, tenant *models.Tenant) error
	GetTenantByID(ctx context.Context, id string) (*models.Tenant, error)
	GetTenantByDomain(ctx context.Context, domain string) (*models.Tenant, error)
	StoreSlackInstall(ctx context.Context, tenantID, teamID, sealedBotToken string) error
}

type membershipStore interface {
	CreateMembership(ctx context.Context, m *models.TenantMembership) error
	GetMembership(ctx context.Context, tenantID, userID string) (*models.TenantMembership, error)
	GetRoleCounts(ctx context.Context, tenantID string) (*models.RoleCounts, error)
}

var _ userStore = (*repositories.UserRepository)(nil)
var _ tenantStore = (*repositories.TenantRepository)(nil)
var _ membershipStore = (*repositories.MembershipRepository)(nil)

// Bridge maps external identities onto local users and tenants. One instance
// serves all flows; OIDC providers are discovered lazily and cached per
// issuer/client pair.
type Bridge struct {
	users       userStore
	tenants     tenantStore
	memberships membershipStore

	authCfg    config.AuthConfig
	tenancyCfg config.TenancyConfig

	codecs map[Flow]*crypto.StateCodec

	mu        sync.Mutex
	providers map[string]*Provider
}

// NewBridge builds the identity bridge. masterSecret keys the per-flow state
// codecs.
func NewBridge(users userStore, tenants tenantStore, memberships membershipStore,
	authCfg config.AuthConfig, tenancyCfg config.TenancyConfig, masterSecret string) (*Bridge, error) {

	codecs := make(map[Flow]*crypto.StateCodec, len(flowTokenTypes))
	for flow, tokenType := range flowTokenTypes {
		codec, err := crypto.NewStateCodec(masterSecret, tokenType)
		if err != nil {
			return nil, fmt.Errorf("sso: failed to build %s state codec: %w", flow, err)
		}
		codecs[flow] = codec
	}

	return &Bridge{
		users:       users,
		tenants:     tenants,
		memberships: memberships,
		authCfg:     authCfg,
		tenancyCfg:  tenancyCfg,
		codecs:      codecs,
		providers:   make(map[string]*Provider),
	}, nil
}

// ---------------------------------------------------------------------------
// initiate

// BeginGoogle starts the Google sign-in handshake and returns the redirect URL.
func (b *Bridge) BeginGoogle(ctx context.Context, returnURL string) (string, error) {
	if !b.authCfg.Google.Enabled {
		return "", flowErr(CodeProviderDisabled, fmt.Errorf("google sign-in is not configured"))
	}
	p, err := b.provider(ctx, GoogleIssuerURL, b.authCfg.Google.ClientID,
		b.authCfg.Google.ClientSecret, b.authCfg.Google.RedirectURL, nil)
	if err != nil {
		return "", flowErr(CodeInternal, err)
	}
	return b.authURL(FlowGoogle, p, crypto.StatePayload{ReturnURL: returnURL})
}

// BeginSlack starts the Slack OIDC sign-in handshake.
func (b *Bridge) BeginSlack(ctx context.Context, returnURL string) (string, error) {
	if !b.authCfg.Slack.Enabled {
		return "", flowErr(CodeProviderDisabled, fmt.Errorf("slack sign-in is not configured"))
	}
	p, err := b.provider(ctx, SlackIssuerURL, b.authCfg.Slack.ClientID,
		b.authCfg.Slack.ClientSecret, b.authCfg.Slack.SignInRedirectURL, nil)
	if err != nil {
		return "", flowErr(CodeInternal, err)
	}
	return b.authURL(FlowSlack, p, crypto.StatePayload{ReturnURL: returnURL})
}

// BeginSSO starts the tenant's generic OIDC handshake. The tenant id rides in
// the state so the callback can recover which issuer to verify against.
func (b *Bridge) BeginSSO(ctx context.Context, tenant *models.Tenant, returnURL string) (string, error) {
	if !b.authCfg.SSO.Enabled {
		return "", flowErr(CodeProviderDisabled, fmt.Errorf("sso sign-in is not configured"))
	}
	if !tenant.SSOConfigured() {
		return "", flowErr(CodeProviderDisabled, fmt.Errorf("tenant %s has no SSO configuration", tenant.Domain))
	}
	p, err := b.tenantProvider(ctx, tenant)
	if err != nil {
		return "", flowErr(CodeInternal, err)
	}
	return b.authURL(FlowSSO, p, crypto.StatePayload{ReturnURL: returnURL, TenantID: tenant.ID})
}

func (b *Bridge) authURL(flow Flow, p *Provider, payload crypto.StatePayload) (string, error) {
	state, err := b.codecs[flow].Seal(payload, stateTTL)
	if err != nil {
		return "", flowErr(CodeInternal, err)
	}
	return p.AuthCodeURL(state), nil
}

// ---------------------------------------------------------------------------
// callback

// SignInResult is what a completed handshake hands to the session layer.
type SignInResult struct {
	User       *models.User
	Tenant     *models.Tenant
	Membership *models.TenantMembership
	ReturnURL  string
}

// Complete finishes a sign-in flow: it requires the state to decode as the
// flow's exact token type, exchanges the code, verifies the identity, and
// resolves (creating where needed) the tenant, user, and membership.
func (b *Bridge) Complete(ctx context.Context, flow Flow, state, code string) (*SignInResult, error) {
	result, err := b.complete(ctx, flow, state, code)
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	telemetry.LoginAttemptsTotal.WithLabelValues(string(flow), outcome).Inc()
	return result, err
}

func (b *Bridge) complete(ctx context.Context, flow Flow, state, code string) (*SignInResult, error) {
	payload, err := b.codecs[flow].Open(state)
	if err != nil {
		return nil, flowErr(CodeInvalidState, err)
	}

	var (
		p      *Provider
		tenant *models.Tenant
	)
	switch flow {
	case FlowGoogle:
		p, err = b.provider(ctx, GoogleIssuerURL, b.authCfg.Google.ClientID,
			b.authCfg.Google.ClientSecret, b.authCfg.Google.RedirectURL, nil)
	case FlowSlack:
		p, err = b.provider(ctx, SlackIssuerURL, b.authCfg.Slack.ClientID,
			b.authCfg.Slack.ClientSecret, b.authCfg.Slack.SignInRedirectURL, nil)
	case FlowSSO:
		tenant, err = b.tenants.GetTenantByID(ctx, payload.TenantID)
		if err == nil && tenant == nil {
			err = fmt.Errorf("tenant %s not found", payload.TenantID)
		}
		if err == nil && !tenant.SSOConfigured() {
			// The configuration can be cleared while a flow is in flight.
			return nil, flowErr(CodeProviderDisabled,
				fmt.Errorf("tenant %s has no SSO configuration", tenant.Domain))
		}
		if err == nil {
			p, err = b.tenantProvider(ctx, tenant)
		}
	default:
		err = fmt.Errorf("unknown flow %q", flow)
	}
	if err != nil {
		return nil, flowErr(CodeInternal, err)
	}

	token, err := p.Exchange(ctx, code)
	if err != nil {
		return nil, flowErr(CodeExchangeFailed, err)
	}
	identity, err := p.VerifyIdentity(ctx, token)
	if err != nil {
		if errors.Is(err, ErrMissingEmail) {
			return nil, flowErr(CodeMissingEmail, err)
		}
		return nil, flowErr(CodeExchangeFailed, err)
	}

	domain := models.EmailDomain(identity.Email)
	if b.domainBlocked(domain) {
		return nil, flowErr(CodeBlockedDomain, fmt.Errorf("public email domain %s", domain))
	}
	if tenant != nil && domain != tenant.Domain {
		// A per-tenant SSO issuer only vouches for its own domain.
		return nil, flowErr(CodeDomainMismatch,
			fmt.Errorf("identity domain %s does not match tenant %s", domain, tenant.Domain))
	}

	if tenant == nil {
		tenant, err = b.findOrCreateTenant(ctx, domain)
		if err != nil {
			return nil, flowErr(CodeInternal, err)
		}
	}

	user, err := b.findOrCreateUser(ctx, flow, identity)
	if err != nil {
		return nil, flowErr(CodeInternal, err)
	}

	membership, err := b.findOrCreateMembership(ctx, tenant, user)
	if err != nil {
		return nil, flowErr(CodeInternal, err)
	}

	if err := b.users.UpdateLastLogin(ctx, user.ID); err != nil {
		slog.Warn("failed to update last login", "user_id", user.ID, "error", err)
	}

	return &SignInResult{
		User:       user,
		Tenant:     tenant,
		Membership: membership,
		ReturnURL:  payload.ReturnURL,
	}, nil
}

// ---------------------------------------------------------------------------
// resolution

func (b *Bridge) domainBlocked(domain string) bool {
	for _, blocked := range b.tenancyCfg.BlockedEmailDomains {
		if strings.EqualFold(domain, blocked) {
			return true
		}
	}
	return false
}

func (b *Bridge) findOrCreateTenant(ctx context.Context, domain string) (*models.Tenant, error) {
	tenant, err := b.tenants.GetTenantByDomain(ctx, domain)
	if err != nil {
		return nil, err
	}
	if tenant != nil {
		return tenant, nil
	}

	tenant = &models.Tenant{
		ID:     uuid.New().String(),
		Domain: domain,
		Name:   domain,
	}
	if err := b.tenants.CreateTenant(ctx, tenant); err != nil {
		return nil, err
	}
	slog.Info("created tenant", "tenant_id", tenant.ID, "domain", domain)
	return tenant, nil
}

// findOrCreateUser resolves the local user for a verified identity, preferring
// the provider-subject link over the email. The provider subject and the
// email-derived domain are always refreshed: the email is authoritative and
// may have changed at the provider since last login.
func (b *Bridge) findOrCreateUser(ctx context.Context, flow Flow, identity *Identity) (*models.User, error) {
	user, err := b.lookupBySubject(ctx, flow, identity.Subject)
	if err != nil {
		return nil, err
	}
	if user == nil {
		user, err = b.users.GetUserByEmail(ctx, identity.Email)
		if err != nil {
			return nil, err
		}
	}

	if user == nil {
		user = &models.User{
			ID:    uuid.New().String(),
			Email: identity.Email,
			Name:  identity.Name,
		}
		setSubject(user, flow, identity.Subject)
		if err := b.users.CreateUser(ctx, user); err != nil {
			return nil, err
		}
		slog.Info("created user", "user_id", user.ID, "provider", string(flow))
		return user, nil
	}

	user.Email = identity.Email
	if identity.Name != "" {
		user.Name = identity.Name
	}
	setSubject(user, flow, identity.Subject)
	if err := b.users.UpdateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (b *Bridge) lookupBySubject(ctx context.Context, flow Flow, subject string) (*models.User, error) {
	switch flow {
	case FlowGoogle:
		return b.users.GetUserByGoogleSub(ctx, subject)
	case FlowSlack:
		return b.users.GetUserBySlackUserID(ctx, subject)
	default:
		return nil, nil // generic SSO subjects are refreshed, not used for lookup
	}
}

func setSubject(user *models.User, flow Flow, subject string) {
	switch flow {
	case FlowGoogle:
		user.GoogleSub = &subject
	case FlowSlack:
		user.SlackUserID = &subject
	case FlowSSO:
		user.SSOSub = &subject
	}
}

// findOrCreateMembership attaches the user to the tenant. The first-ever
// member becomes provisional_admin rather than admin: elevated rights are
// provisional until the tenant matures.
func (b *Bridge) findOrCreateMembership(ctx context.Context, tenant *models.Tenant, user *models.User) (*models.TenantMembership, error) {
	membership, err := b.memberships.GetMembership(ctx, tenant.ID, user.ID)
	if err != nil {
		return nil, err
	}
	if membership != nil {
		return membership, nil
	}

	counts, err := b.memberships.GetRoleCounts(ctx, tenant.ID)
	if err != nil {
		return nil, err
	}
	role := models.RoleUser
	if counts.Total == 0 {
		role = models.RoleProvisionalAdmin
	}

	membership = &models.TenantMembership{
		TenantID: tenant.ID,
		UserID:   user.ID,
		Role:     role,
	}
	err = b.memberships.CreateMembership(ctx, membership)
	if errors.Is(err, repositories.ErrDuplicateMembership) {
		// Lost a race with a concurrent first login; the existing row wins.
		return b.memberships.GetMembership(ctx, tenant.ID, user.ID)
	}
	if err != nil {
		return nil, err
	}
	return membership, nil
}

// ---------------------------------------------------------------------------
// provider cache

// provider returns a cached OIDC provider for the issuer/client pair, running
// discovery on first use.
func (b *Bridge) provider(ctx context.Context, issuerURL, clientID, clientSecret, redirectURL string, scopes []string) (*Provider, error) {
	key := issuerURL + "|" + clientID
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.providers[key]; ok {
		return p, nil
	}

	dctx, cancel := context.WithTimeout(ctx, discoveryTimeout)
	defer cancel()
	p, err := NewProvider(dctx, issuerURL, clientID, clientSecret, redirectURL, scopes)
	if err != nil {
		return nil, err
	}
	b.providers[key] = p
	return p, nil
}

func (b *Bridge) tenantProvider(ctx context.Context, tenant *models.Tenant) (*Provider, error) {
	return b.provider(ctx, *tenant.SSOIssuerURL, *tenant.SSOClientID,
		*tenant.SSOClientSecret, b.authCfg.SSO.RedirectURL, b.authCfg.SSO.Scopes)
}
