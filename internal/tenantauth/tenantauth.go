// Package tenantauth validates tenant API keys (shown once, stored as a
// bcrypt hash) and, for single-operator deployments, the bootstrap
// ADMIN_KEY, and issues the JWTs exchanged for them. The SFU-stats
// WebSocket is not authenticated here; it checks a shared secret.
package tenantauth

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/aura-soundcast/core/internal/models"
)

// Repository persists Tenant rows to SQLite.
type Repository struct {
	db *sql.DB
}

// NewRepository wraps a database handle.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a tenant and returns the row plus the clear API key, which
// is never stored and must be shown to the caller exactly once.
func (r *Repository) Create(name string) (*models.Tenant, string, error) {
	plainKey, hash, err := newAPIKey()
	if err != nil {
		return nil, "", err
	}
	t := &models.Tenant{
		ID:         uuid.New(),
		Name:       name,
		APIKeyHash: hash,
		CreatedAt:  time.Now(),
	}
	_, err = r.db.Exec(
		`INSERT INTO tenants (id, name, api_key_hash, created_at) VALUES (?, ?, ?, ?)`,
		t.ID.String(), t.Name, t.APIKeyHash, t.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, "", fmt.Errorf("insert tenant: %w", err)
	}
	return t, t.ID.String() + "." + plainKey, nil
}

// GetByID loads a tenant by id.
func (r *Repository) GetByID(id uuid.UUID) (*models.Tenant, error) {
	row := r.db.QueryRow(`SELECT id, name, api_key_hash, created_at FROM tenants WHERE id = ?`, id.String())
	return scanTenant(row)
}

// GetByName loads a tenant by its unique name.
func (r *Repository) GetByName(name string) (*models.Tenant, error) {
	row := r.db.QueryRow(`SELECT id, name, api_key_hash, created_at FROM tenants WHERE name = ?`, name)
	return scanTenant(row)
}

// EnsureBootstrap creates the single-operator tenant if absent, with
// adminKey as its API credential. Idempotent across restarts.
func (r *Repository) EnsureBootstrap(name, adminKey string) (*models.Tenant, error) {
	if t, err := r.GetByName(name); err == nil {
		return t, nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(adminKey), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash admin key: %w", err)
	}
	t := &models.Tenant{
		ID:         uuid.New(),
		Name:       name,
		APIKeyHash: string(hash),
		CreatedAt:  time.Now(),
	}
	_, err = r.db.Exec(
		`INSERT INTO tenants (id, name, api_key_hash, created_at) VALUES (?, ?, ?, ?)`,
		t.ID.String(), t.Name, t.APIKeyHash, t.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("insert bootstrap tenant: %w", err)
	}
	return t, nil
}

// ValidateAdminKey checks a raw credential against a tenant's stored hash
// directly, used for the bootstrap ADMIN_KEY which carries no tenant id
// prefix.
func (r *Repository) ValidateAdminKey(name, key string) (*models.Tenant, error) {
	t, err := r.GetByName(name)
	if err != nil {
		return nil, fmt.Errorf("tenantauth: unknown tenant")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(t.APIKeyHash), []byte(key)); err != nil {
		return nil, fmt.Errorf("tenantauth: invalid admin key")
	}
	return t, nil
}

// apiKey is "<tenantID>.<secret>"; the tenant id lets lookup avoid scanning
// every tenant's bcrypt hash on each request, while the secret half is the
// only part ever hashed and compared.
func newAPIKey() (plain string, hash string, err error) {
	buf := make([]byte, 24)
	if _, err = rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate api key secret: %w", err)
	}
	secret := hex.EncodeToString(buf)
	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("hash api key: %w", err)
	}
	return secret, string(hashed), nil
}

// Validate parses an API key of the form "<tenantID>.<secret>", looks up
// the tenant, and checks secret against its stored bcrypt hash.
func (r *Repository) Validate(apiKey string) (*models.Tenant, error) {
	idPart, secret, ok := strings.Cut(apiKey, ".")
	if !ok {
		return nil, fmt.Errorf("tenantauth: malformed api key")
	}
	id, err := uuid.Parse(idPart)
	if err != nil {
		return nil, fmt.Errorf("tenantauth: malformed api key")
	}
	tenant, err := r.GetByID(id)
	if err != nil {
		return nil, fmt.Errorf("tenantauth: unknown tenant")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(tenant.APIKeyHash), []byte(secret)); err != nil {
		return nil, fmt.Errorf("tenantauth: invalid api key")
	}
	return tenant, nil
}

func scanTenant(row *sql.Row) (*models.Tenant, error) {
	var (
		idStr, createdAt string
		t                models.Tenant
	)
	if err := row.Scan(&idStr, &t.Name, &t.APIKeyHash, &createdAt); err != nil {
		return nil, err
	}
	t.ID = uuid.MustParse(idStr)
	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &t, nil
}
