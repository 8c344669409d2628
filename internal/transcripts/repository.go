// Package transcripts implements the Transcript Store: persistence and
// time/channel-scoped queries over TranscriptSegment rows.
package transcripts

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aura-soundcast/core/internal/models"
)

// Repository persists TranscriptSegment rows to SQLite.
type Repository struct {
	db *sql.DB
}

// NewRepository wraps a database handle.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// ListOptions scopes GetByRoom queries.
type ListOptions struct {
	Limit       int
	Offset      int
	ChannelName string
	StartTime   float64
	EndTime     float64
}

// Create inserts a segment, assigning it an id if one was not already set,
// and returns the stored row.
func (r *Repository) Create(seg *models.TranscriptSegment) (*models.TranscriptSegment, error) {
	if seg.ID == uuid.Nil {
		seg.ID = uuid.New()
	}
	if seg.CreatedAt.IsZero() {
		seg.CreatedAt = time.Now()
	}
	_, err := r.db.Exec(
		`INSERT INTO transcript_segments
		 (id, room_id, channel_name, producer_id, producer_display_name, text_content, timestamp_start, timestamp_end, confidence, language, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		seg.ID.String(), seg.RoomID.String(), seg.ChannelName, seg.ProducerID, seg.ProducerDisplayName,
		seg.TextContent, seg.TimestampStart, seg.TimestampEnd, seg.Confidence, seg.Language,
		seg.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("insert transcript segment: %w", err)
	}
	return seg, nil
}

// GetByRoom returns rows ordered by timestamp_start descending.
func (r *Repository) GetByRoom(roomID uuid.UUID, opts ListOptions) ([]*models.TranscriptSegment, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, room_id, channel_name, producer_id, producer_display_name, text_content, timestamp_start, timestamp_end, confidence, language, created_at
	          FROM transcript_segments WHERE room_id = ?`
	args := []interface{}{roomID.String()}
	if opts.ChannelName != "" {
		query += ` AND channel_name = ?`
		args = append(args, opts.ChannelName)
	}
	if opts.StartTime > 0 {
		query += ` AND timestamp_start >= ?`
		args = append(args, opts.StartTime)
	}
	if opts.EndTime > 0 {
		query += ` AND timestamp_start <= ?`
		args = append(args, opts.EndTime)
	}
	query += ` ORDER BY timestamp_start DESC LIMIT ? OFFSET ?`
	args = append(args, limit, opts.Offset)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transcripts: %w", err)
	}
	defer rows.Close()
	return scanSegments(rows)
}

// GetByTimeRange returns rows within [start, end] ascending.
func (r *Repository) GetByTimeRange(roomID uuid.UUID, start, end float64, channelName string) ([]*models.TranscriptSegment, error) {
	query := `SELECT id, room_id, channel_name, producer_id, producer_display_name, text_content, timestamp_start, timestamp_end, confidence, language, created_at
	          FROM transcript_segments WHERE room_id = ? AND timestamp_start >= ? AND timestamp_start <= ?`
	args := []interface{}{roomID.String(), start, end}
	if channelName != "" {
		query += ` AND channel_name = ?`
		args = append(args, channelName)
	}
	query += ` ORDER BY timestamp_start ASC`

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transcripts by time range: %w", err)
	}
	defer rows.Close()
	return scanSegments(rows)
}

// GetRecent returns the slice [now-minutes*60, now] ascending.
func (r *Repository) GetRecent(roomID uuid.UUID, minutes int, channelName string) ([]*models.TranscriptSegment, error) {
	if minutes <= 0 {
		minutes = 60
	}
	now := float64(time.Now().UnixNano()) / 1e9
	start := now - float64(minutes*60)
	return r.GetByTimeRange(roomID, start, now, channelName)
}

// CountBy returns the total number of segments for a room, optionally
// scoped to one channel.
func (r *Repository) CountBy(roomID uuid.UUID, channelName string) (int64, error) {
	query := `SELECT COUNT(*) FROM transcript_segments WHERE room_id = ?`
	args := []interface{}{roomID.String()}
	if channelName != "" {
		query += ` AND channel_name = ?`
		args = append(args, channelName)
	}
	var n int64
	if err := r.db.QueryRow(query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count transcripts: %w", err)
	}
	return n, nil
}

func scanSegments(rows *sql.Rows) ([]*models.TranscriptSegment, error) {
	var out []*models.TranscriptSegment
	for rows.Next() {
		var (
			idStr, roomIDStr, createdAt string
		)
		seg := &models.TranscriptSegment{}
		if err := rows.Scan(&idStr, &roomIDStr, &seg.ChannelName, &seg.ProducerID, &seg.ProducerDisplayName,
			&seg.TextContent, &seg.TimestampStart, &seg.TimestampEnd, &seg.Confidence, &seg.Language, &createdAt); err != nil {
			return nil, fmt.Errorf("scan transcript segment: %w", err)
		}
		seg.ID = uuid.MustParse(idStr)
		seg.RoomID = uuid.MustParse(roomIDStr)
		seg.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, seg)
	}
	return out, rows.Err()
}
