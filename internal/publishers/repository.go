// Package publishers implements the publisher records: the clear join
// token is produced once at creation and thereafter kept only as a salted
// bcrypt hash.
package publishers

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aura-soundcast/core/internal/models"
	"github.com/aura-soundcast/core/pkg/utils"
)

// Repository persists Publisher rows to SQLite.
type Repository struct {
	db *sql.DB
}

// NewRepository wraps a database handle.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a publisher, generating a random join token and storing
// only its bcrypt hash. The clear token is returned for display exactly
// once; callers must not persist it themselves.
func (r *Repository) Create(p *models.Publisher) (joinToken string, err error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	if p.SourceLanguage == "" {
		p.SourceLanguage = "en"
	}

	joinToken, err = randomToken()
	if err != nil {
		return "", err
	}
	hash, err := utils.HashPassword(joinToken)
	if err != nil {
		return "", fmt.Errorf("hash join token: %w", err)
	}
	p.JoinTokenHash = hash

	_, err = r.db.Exec(
		`INSERT INTO publishers (id, room_id, name, channel_name, source_language, join_token_hash, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID.String(), p.RoomID.String(), p.Name, p.ChannelName, p.SourceLanguage, p.JoinTokenHash,
		p.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("insert publisher: %w", err)
	}
	return joinToken, nil
}

// GetByID loads a publisher by id.
func (r *Repository) GetByID(id uuid.UUID) (*models.Publisher, error) {
	row := r.db.QueryRow(
		`SELECT id, room_id, name, channel_name, source_language, join_token_hash, created_at FROM publishers WHERE id = ?`,
		id.String(),
	)
	return scanPublisher(row)
}

// ListByRoom returns every publisher belonging to roomID.
func (r *Repository) ListByRoom(roomID uuid.UUID) ([]*models.Publisher, error) {
	rows, err := r.db.Query(
		`SELECT id, room_id, name, channel_name, source_language, join_token_hash, created_at FROM publishers WHERE room_id = ? ORDER BY created_at`,
		roomID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("list publishers: %w", err)
	}
	defer rows.Close()
	var out []*models.Publisher
	for rows.Next() {
		var (
			idStr, roomIDStr, createdAt string
			p                           models.Publisher
		)
		if err := rows.Scan(&idStr, &roomIDStr, &p.Name, &p.ChannelName, &p.SourceLanguage, &p.JoinTokenHash, &createdAt); err != nil {
			return nil, fmt.Errorf("scan publisher: %w", err)
		}
		p.ID = uuid.MustParse(idStr)
		p.RoomID = uuid.MustParse(roomIDStr)
		p.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, &p)
	}
	return out, rows.Err()
}

// Authenticate loads the publisher for id and checks token against its
// stored hash, returning the publisher only on a match.
func (r *Repository) Authenticate(id uuid.UUID, token string) (*models.Publisher, error) {
	p, err := r.GetByID(id)
	if err != nil {
		return nil, fmt.Errorf("publishers: unknown publisher")
	}
	if !utils.CheckPassword(token, p.JoinTokenHash) {
		return nil, fmt.Errorf("publishers: invalid join token")
	}
	return p, nil
}

// AuthenticateByRoomToken finds the publisher within roomID whose join
// token hash matches token. The room-scoped publish socket carries
// only a bare token, not a publisher id, so every publisher's hash in the
// room must be checked; rooms carry few publishers so this stays cheap.
func (r *Repository) AuthenticateByRoomToken(roomID uuid.UUID, token string) (*models.Publisher, error) {
	list, err := r.ListByRoom(roomID)
	if err != nil {
		return nil, err
	}
	for _, p := range list {
		if utils.CheckPassword(token, p.JoinTokenHash) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("publishers: invalid join token")
}

func scanPublisher(row *sql.Row) (*models.Publisher, error) {
	var (
		idStr, roomIDStr, createdAt string
		p                           models.Publisher
	)
	if err := row.Scan(&idStr, &roomIDStr, &p.Name, &p.ChannelName, &p.SourceLanguage, &p.JoinTokenHash, &createdAt); err != nil {
		return nil, err
	}
	p.ID = uuid.MustParse(idStr)
	p.RoomID = uuid.MustParse(roomIDStr)
	p.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &p, nil
}

func randomToken() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate join token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
