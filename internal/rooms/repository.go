// Package rooms implements the Room repository and the thin REST CRUD the
// browser client and provisioning tooling use to create/configure rooms.
// The core's own responsibility here is narrow: persistence, slug/name
// uniqueness, and handing a room's cleaned ICE server list to whichever
// collaborator (signaling config socket, REST) needs to advertise it.
package rooms

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aura-soundcast/core/internal/models"
)

// Repository persists Room rows to SQLite.
type Repository struct {
	db *sql.DB
}

// NewRepository wraps a database handle.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a room. slug must be globally unique; (tenantID, name)
// must be unique — both enforced by the schema's UNIQUE constraints.
func (r *Repository) Create(room *models.Room) error {
	if room.ID == uuid.Nil {
		room.ID = uuid.New()
	}
	if room.CreatedAt.IsZero() {
		room.CreatedAt = time.Now()
	}
	if room.ICEServersJSON == "" {
		room.ICEServersJSON = "[]"
	}
	_, err := r.db.Exec(
		`INSERT INTO rooms (id, tenant_id, slug, name, is_local_only, sfu_url, ice_servers_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		room.ID.String(), room.TenantID.String(), room.Slug, room.Name, boolToInt(room.IsLocalOnly),
		room.SFUURL, room.ICEServersJSON, room.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert room: %w", err)
	}
	return nil
}

// GetBySlug loads a room by its globally unique slug.
func (r *Repository) GetBySlug(slug string) (*models.Room, error) {
	row := r.db.QueryRow(
		`SELECT id, tenant_id, slug, name, is_local_only, sfu_url, ice_servers_json, created_at FROM rooms WHERE slug = ?`,
		slug,
	)
	return scanRoom(row)
}

// GetByID loads a room by id.
func (r *Repository) GetByID(id uuid.UUID) (*models.Room, error) {
	row := r.db.QueryRow(
		`SELECT id, tenant_id, slug, name, is_local_only, sfu_url, ice_servers_json, created_at FROM rooms WHERE id = ?`,
		id.String(),
	)
	return scanRoom(row)
}

// ListByTenant returns every room owned by tenantID.
func (r *Repository) ListByTenant(tenantID uuid.UUID) ([]*models.Room, error) {
	rows, err := r.db.Query(
		`SELECT id, tenant_id, slug, name, is_local_only, sfu_url, ice_servers_json, created_at FROM rooms WHERE tenant_id = ? ORDER BY created_at`,
		tenantID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer rows.Close()
	var out []*models.Room
	for rows.Next() {
		room, err := scanRoomRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, room)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRoom(row *sql.Row) (*models.Room, error) {
	return scanRoomScanner(row)
}

func scanRoomRows(rows *sql.Rows) (*models.Room, error) {
	return scanRoomScanner(rows)
}

func scanRoomScanner(s rowScanner) (*models.Room, error) {
	var (
		idStr, tenantIDStr, createdAt string
		isLocalOnly                   int
		room                          models.Room
	)
	if err := s.Scan(&idStr, &tenantIDStr, &room.Slug, &room.Name, &isLocalOnly, &room.SFUURL, &room.ICEServersJSON, &createdAt); err != nil {
		return nil, err
	}
	room.ID = uuid.MustParse(idStr)
	room.TenantID = uuid.MustParse(tenantIDStr)
	room.IsLocalOnly = isLocalOnly != 0
	room.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &room, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
