package tenantauth

import (
	"database/sql"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-soundcast/core/pkg/database"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.NewSQLitePool("file::memory:", "", zap.NewNop())
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestCreateAndValidateAPIKey(t *testing.T) {
	repo := NewRepository(openTestDB(t))

	tenant, apiKey, err := repo.Create("acme")
	if err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	if apiKey == "" {
		t.Fatal("clear api key must be returned once")
	}

	validated, err := repo.Validate(apiKey)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if validated.ID != tenant.ID {
		t.Fatalf("validated tenant %s, want %s", validated.ID, tenant.ID)
	}

	if _, err := repo.Validate(tenant.ID.String() + ".wrong-secret"); err == nil {
		t.Fatal("wrong secret must be rejected")
	}
	if _, err := repo.Validate("malformed"); err == nil {
		t.Fatal("malformed key must be rejected")
	}
}

func TestEnsureBootstrapIsIdempotent(t *testing.T) {
	repo := NewRepository(openTestDB(t))

	first, err := repo.EnsureBootstrap("default", "admin-key")
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	second, err := repo.EnsureBootstrap("default", "other-key")
	if err != nil {
		t.Fatalf("bootstrap again: %v", err)
	}
	if first.ID != second.ID {
		t.Fatal("bootstrap must be idempotent across restarts")
	}

	if _, err := repo.ValidateAdminKey("default", "admin-key"); err != nil {
		t.Fatalf("admin key must validate: %v", err)
	}
	if _, err := repo.ValidateAdminKey("default", "other-key"); err == nil {
		t.Fatal("the second key never replaced the first")
	}
}

func TestJWTRoundTrip(t *testing.T) {
	svc := NewJWTService("test-secret", 1)
	tenantID := uuid.New()

	token, err := svc.Generate(tenantID)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	claims, err := svc.Validate(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.TenantID != tenantID {
		t.Fatalf("claims tenant %s, want %s", claims.TenantID, tenantID)
	}

	other := NewJWTService("different-secret", 1)
	if _, err := other.Validate(token); err == nil {
		t.Fatal("a token signed with another secret must be rejected")
	}
}
