package repositories

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/DecisionRecordsORG/decision-records/internal/db/models"
)

// ---------------------------------------------------------------------------
// Column definitions
// ---------------------------------------------------------------------------

var apiKeyCols = []string{
	"id", "user_id", "tenant_id", "name", "key_hash", "key_prefix",
	"scopes", "expires_at", "revoked_at", "last_used_at", "created_at",
}

var sampleScopes = []byte(`["read","search"]`)

func sampleAPIKeyRow() *sqlmock.Rows {
	return sqlmock.NewRows(apiKeyCols).
		AddRow("key-1", "user-1", "tenant-1", "CI Key", "hashedkey", "drk_abcd",
			sampleScopes, nil, nil, nil, time.Now())
}

func newAPIKeyRepo(t *testing.T) (*APIKeyRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewAPIKeyRepository(db), mock
}

// ---------------------------------------------------------------------------
// CreateAPIKey
// ---------------------------------------------------------------------------

func TestCreateAPIKey_Success(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	mock.ExpectExec("INSERT INTO api_keys").
		WillReturnResult(sqlmock.NewResult(1, 1))

	key := &models.APIKey{
		UserID:    "user-1",
		TenantID:  "tenant-1",
		Name:      "Test Key",
		KeyHash:   "hash",
		KeyPrefix: "drk_test",
		Scopes:    []string{models.ScopeRead},
	}
	if err := repo.CreateAPIKey(context.Background(), key); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key.ID == "" {
		t.Error("CreateAPIKey did not assign an id")
	}
}

func TestCreateAPIKey_DBError(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	mock.ExpectExec("INSERT INTO api_keys").
		WillReturnError(errDB)

	key := &models.APIKey{Scopes: []string{models.ScopeRead}}
	if err := repo.CreateAPIKey(context.Background(), key); err == nil {
		t.Error("expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// GetAPIKeysByPrefix
// ---------------------------------------------------------------------------

func TestGetAPIKeysByPrefix_Found(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	mock.ExpectQuery("SELECT.*FROM api_keys.*WHERE key_prefix").
		WithArgs("drk_abcd").
		WillReturnRows(sampleAPIKeyRow())

	keys, err := repo.GetAPIKeysByPrefix(context.Background(), "drk_abcd")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("len = %d, want 1", len(keys))
	}
	if !keys[0].HasScope(models.ScopeSearch) {
		t.Error("scopes not unmarshaled from JSONB")
	}
}

func TestGetAPIKeysByPrefix_Empty(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	mock.ExpectQuery("SELECT.*FROM api_keys.*WHERE key_prefix").
		WithArgs("drk_none").
		WillReturnRows(sqlmock.NewRows(apiKeyCols))

	keys, err := repo.GetAPIKeysByPrefix(context.Background(), "drk_none")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("len = %d, want 0", len(keys))
	}
}

// ---------------------------------------------------------------------------
// RevokeAPIKey
// ---------------------------------------------------------------------------

func TestRevokeAPIKey(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	mock.ExpectExec("UPDATE api_keys SET revoked_at.*WHERE id.*AND revoked_at IS NULL").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.RevokeAPIKey(context.Background(), "key-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// ---------------------------------------------------------------------------
// UpdateLastUsed
// ---------------------------------------------------------------------------

func TestUpdateLastUsed(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	mock.ExpectExec("UPDATE api_keys SET last_used_at").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.UpdateLastUsed(context.Background(), "key-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// ---------------------------------------------------------------------------
// DeleteExpiredBefore
// ---------------------------------------------------------------------------

func TestDeleteExpiredBefore(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	mock.ExpectExec("DELETE FROM api_keys WHERE expires_at").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.DeleteExpiredBefore(context.Background(), time.Now().Add(-30*24*time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 {
		t.Errorf("deleted = %d, want 3", n)
	}
}
