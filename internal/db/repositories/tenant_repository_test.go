package repositories

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/DecisionRecordsORG/decision-records/internal/db/models"
)

// ---------------------------------------------------------------------------
// Column definitions
// ---------------------------------------------------------------------------

var tenantCols = []string{
	"id", "domain", "name", "maturity_state",
	"mature_age_days", "mature_member_count",
	"google_enabled", "slack_enabled", "sso_enabled",
	"sso_issuer_url", "sso_client_id", "sso_client_secret",
	"slack_team_id", "slack_bot_token_sealed",
	"ai_search_enabled", "slack_queries_enabled", "external_api_enabled",
	"created_at", "updated_at",
}

func sampleTenantRow() *sqlmock.Rows {
	return sqlmock.NewRows(tenantCols).
		AddRow("tenant-1", "acme.com", "Acme", "bootstrap",
			nil, nil, true, true, false,
			nil, nil, nil, nil, nil,
			true, true, true, time.Now(), time.Now())
}

func emptyTenantRow() *sqlmock.Rows {
	return sqlmock.NewRows(tenantCols)
}

func newTenantRepo(t *testing.T) (*TenantRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewTenantRepository(sqlx.NewDb(db, "sqlmock")), mock
}

// ---------------------------------------------------------------------------
// CreateTenant
// ---------------------------------------------------------------------------

func TestCreateTenant_Success(t *testing.T) {
	repo, mock := newTenantRepo(t)
	mock.ExpectExec("INSERT INTO tenants").
		WillReturnResult(sqlmock.NewResult(1, 1))

	tenant := &models.Tenant{
		Domain:        "acme.com",
		Name:          "Acme",
		GoogleEnabled: true,
		SlackEnabled:  true,
	}
	if err := repo.CreateTenant(context.Background(), tenant); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tenant.ID == "" {
		t.Error("CreateTenant did not assign an id")
	}
	if tenant.MaturityState != models.MaturityBootstrap {
		t.Errorf("MaturityState = %q, want bootstrap", tenant.MaturityState)
	}
}

func TestCreateTenant_DBError(t *testing.T) {
	repo, mock := newTenantRepo(t)
	mock.ExpectExec("INSERT INTO tenants").
		WillReturnError(errDB)

	if err := repo.CreateTenant(context.Background(), &models.Tenant{Domain: "x.com"}); err == nil {
		t.Error("expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// Lookups
// ---------------------------------------------------------------------------

func TestGetTenantByDomain_Found(t *testing.T) {
	repo, mock := newTenantRepo(t)
	mock.ExpectQuery("SELECT.*FROM tenants.*WHERE domain").
		WithArgs("acme.com").
		WillReturnRows(sampleTenantRow())

	tenant, err := repo.GetTenantByDomain(context.Background(), "acme.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tenant == nil {
		t.Fatal("expected tenant, got nil")
	}
	if tenant.Domain != "acme.com" {
		t.Errorf("Domain = %s, want acme.com", tenant.Domain)
	}
	if tenant.MatureAgeDays != nil {
		t.Errorf("MatureAgeDays = %v, want nil (defaults apply)", *tenant.MatureAgeDays)
	}
}

func TestGetTenantByDomain_NotFound(t *testing.T) {
	repo, mock := newTenantRepo(t)
	mock.ExpectQuery("SELECT.*FROM tenants.*WHERE domain").
		WithArgs("nobody.com").
		WillReturnRows(emptyTenantRow())

	tenant, err := repo.GetTenantByDomain(context.Background(), "nobody.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tenant != nil {
		t.Errorf("expected nil tenant, got %v", tenant)
	}
}

func TestGetTenantBySlackTeamID_Found(t *testing.T) {
	repo, mock := newTenantRepo(t)
	mock.ExpectQuery("SELECT.*FROM tenants.*WHERE slack_team_id").
		WithArgs("T0001").
		WillReturnRows(sampleTenantRow())

	tenant, err := repo.GetTenantBySlackTeamID(context.Background(), "T0001")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tenant == nil {
		t.Fatal("expected tenant, got nil")
	}
}

// ---------------------------------------------------------------------------
// SetMaturityState
// ---------------------------------------------------------------------------

func TestSetMaturityState_Transition(t *testing.T) {
	repo, mock := newTenantRepo(t)
	mock.ExpectExec("UPDATE tenants.*maturity_state").
		WillReturnResult(sqlmock.NewResult(0, 1))

	changed, err := repo.SetMaturityState(context.Background(), "tenant-1", models.MaturityMature)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !changed {
		t.Error("expected changed = true when a row was updated")
	}
}

func TestSetMaturityState_NoChange(t *testing.T) {
	// Stored state already matches; the conditional WHERE clause filters the
	// row out and zero rows are affected.
	repo, mock := newTenantRepo(t)
	mock.ExpectExec("UPDATE tenants.*maturity_state").
		WillReturnResult(sqlmock.NewResult(0, 0))

	changed, err := repo.SetMaturityState(context.Background(), "tenant-1", models.MaturityMature)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if changed {
		t.Error("expected changed = false when state already matched")
	}
}

func TestSetMaturityState_DBError(t *testing.T) {
	repo, mock := newTenantRepo(t)
	mock.ExpectExec("UPDATE tenants.*maturity_state").
		WillReturnError(errDB)

	if _, err := repo.SetMaturityState(context.Background(), "tenant-1", models.MaturityMature); err == nil {
		t.Error("expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// UpdateTenantSettings / StoreSlackInstall
// ---------------------------------------------------------------------------

func TestUpdateTenantSettings(t *testing.T) {
	repo, mock := newTenantRepo(t)
	mock.ExpectExec("UPDATE tenants.*mature_age_days").
		WillReturnResult(sqlmock.NewResult(0, 1))

	days := 30
	tenant := &models.Tenant{ID: "tenant-1", Name: "Acme", MatureAgeDays: &days}
	if err := repo.UpdateTenantSettings(context.Background(), tenant); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestStoreSlackInstall(t *testing.T) {
	repo, mock := newTenantRepo(t)
	mock.ExpectExec("UPDATE tenants.*slack_team_id").
		WithArgs("tenant-1", "T0001", "sealed-token", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.StoreSlackInstall(context.Background(), "tenant-1", "T0001", "sealed-token"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
