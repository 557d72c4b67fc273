package policy

import (
	"context"
	"errors"
	"testing"

	"github.com/DecisionRecordsORG/decision-records/internal/auth/bearer"
	"github.com/DecisionRecordsORG/decision-records/internal/db/models"
	"github.com/DecisionRecordsORG/decision-records/internal/session"
)

// ---------------------------------------------------------------------------
// fakes

type fakeResolverStores struct {
	master     *models.MasterAccount
	user       *models.User
	tenant     *models.Tenant
	membership *models.TenantMembership

	apiKey       *models.APIKey
	apiKeyErr    error
	bearerClaims *bearer.TokenClaims
	bearerErr    error
}

func (f *fakeResolverStores) GetMasterAccountByID(ctx context.Context, id string) (*models.MasterAccount, error) {
	if f.master != nil && f.master.ID == id {
		return f.master, nil
	}
	return nil, nil
}

func (f *fakeResolverStores) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	if f.user != nil && f.user.ID == userID {
		return f.user, nil
	}
	return nil, nil
}

func (f *fakeResolverStores) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	if f.user != nil && f.user.Email == email {
		return f.user, nil
	}
	return nil, nil
}

func (f *fakeResolverStores) GetTenantByID(ctx context.Context, id string) (*models.Tenant, error) {
	if f.tenant != nil && f.tenant.ID == id {
		return f.tenant, nil
	}
	return nil, nil
}

func (f *fakeResolverStores) GetTenantByDomain(ctx context.Context, domain string) (*models.Tenant, error) {
	if f.tenant != nil && f.tenant.Domain == domain {
		return f.tenant, nil
	}
	return nil, nil
}

func (f *fakeResolverStores) GetMembership(ctx context.Context, tenantID, userID string) (*models.TenantMembership, error) {
	if f.membership != nil && f.membership.TenantID == tenantID && f.membership.UserID == userID {
		return f.membership, nil
	}
	return nil, nil
}

func (f *fakeResolverStores) Validate(ctx context.Context, presented string) (*models.APIKey, error) {
	return f.apiKey, f.apiKeyErr
}

type fakeBots struct {
	claims *bearer.TokenClaims
	err    error
}

func (f *fakeBots) Validate(ctx context.Context, raw string) (*bearer.TokenClaims, error) {
	return f.claims, f.err
}

// ---------------------------------------------------------------------------
// helpers

func resolverFixture() (*Resolver, *fakeResolverStores, *fakeBots) {
	stores := &fakeResolverStores{
		master: &models.MasterAccount{ID: "master-1", Username: "master"},
		user:   &models.User{ID: "user-1", Email: "person@acme.com", Domain: "acme.com"},
		tenant: &models.Tenant{ID: "tenant-1", Domain: "acme.com", MaturityState: models.MaturityBootstrap},
		membership: &models.TenantMembership{
			TenantID: "tenant-1", UserID: "user-1", Role: models.RoleSteward,
		},
	}
	bots := &fakeBots{err: errors.New("no token")}
	r := NewResolver(stores, stores, stores, stores, stores, bots)
	return r, stores, bots
}

// ---------------------------------------------------------------------------
// resolution order

func TestResolveMasterSession(t *testing.T) {
	r, _, _ := resolverFixture()

	p, err := r.Resolve(context.Background(), Credentials{
		Session: &session.Data{MasterID: "master-1"},
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !p.IsMaster() || p.Master.Username != "master" {
		t.Errorf("principal = %+v, want master", p)
	}
}

func TestResolveMasterWinsOverBearer(t *testing.T) {
	r, _, bots := resolverFixture()
	bots.claims = &bearer.TokenClaims{Email: "person@acme.com"}
	bots.err = nil

	p, err := r.Resolve(context.Background(), Credentials{
		Session:             &session.Data{MasterID: "master-1"},
		AuthorizationHeader: "Bearer some.jwt.token",
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !p.IsMaster() {
		t.Error("master session should win over a bearer token")
	}
}

func TestResolveUserSession(t *testing.T) {
	r, _, _ := resolverFixture()

	p, err := r.Resolve(context.Background(), Credentials{
		Session: &session.Data{UserID: "user-1"},
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if p.Kind != KindTenantUser {
		t.Fatalf("kind = %q, want tenant_user", p.Kind)
	}
	if p.Tenant.ID != "tenant-1" || p.Role() != models.RoleSteward {
		t.Errorf("resolved tenant %q role %q", p.Tenant.ID, p.Role())
	}
	if p.APIKey != nil {
		t.Error("session principal should carry no API key")
	}
}

func TestResolveAPIKey(t *testing.T) {
	r, stores, _ := resolverFixture()
	stores.apiKey = &models.APIKey{
		ID: "key-1", UserID: "user-1", TenantID: "tenant-1",
		Scopes: []string{models.ScopeRead},
	}

	p, err := r.Resolve(context.Background(), Credentials{
		AuthorizationHeader: "Bearer drk_abcdefghijklmnop",
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if p.APIKey == nil || p.APIKey.ID != "key-1" {
		t.Error("API key not attached to principal")
	}
	if p.HasScope(models.ScopeWrite) {
		t.Error("principal claims a scope its key does not carry")
	}
}

func TestResolveRejectedAPIKey(t *testing.T) {
	r, stores, _ := resolverFixture()
	stores.apiKey = nil // validator returns no match

	_, err := r.Resolve(context.Background(), Credentials{
		AuthorizationHeader: "Bearer drk_abcdefghijklmnop",
	})
	if !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestResolveBearerToken(t *testing.T) {
	r, _, bots := resolverFixture()
	bots.claims = &bearer.TokenClaims{Email: "person@acme.com"}
	bots.err = nil

	p, err := r.Resolve(context.Background(), Credentials{
		AuthorizationHeader: "Bearer some.jwt.token",
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if p.User.ID != "user-1" {
		t.Errorf("resolved user %q, want user-1", p.User.ID)
	}
}

func TestResolveInvalidBearerToken(t *testing.T) {
	r, _, _ := resolverFixture() // fakeBots defaults to an error

	_, err := r.Resolve(context.Background(), Credentials{
		AuthorizationHeader: "Bearer some.jwt.token",
	})
	if !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestResolveNothingPresented(t *testing.T) {
	r, _, _ := resolverFixture()

	_, err := r.Resolve(context.Background(), Credentials{})
	if !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestResolveSessionUserWithoutMembership(t *testing.T) {
	r, stores, _ := resolverFixture()
	stores.membership = nil

	_, err := r.Resolve(context.Background(), Credentials{
		Session: &session.Data{UserID: "user-1"},
	})
	if !errors.Is(err, ErrNoMembership) {
		t.Errorf("expected ErrNoMembership, got %v", err)
	}
}

func TestResolveStaleMasterSession(t *testing.T) {
	r, stores, _ := resolverFixture()
	stores.master = nil

	_, err := r.Resolve(context.Background(), Credentials{
		Session: &session.Data{MasterID: "master-1"},
	})
	if !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("expected ErrUnauthenticated, got %v", err)
	}
}
