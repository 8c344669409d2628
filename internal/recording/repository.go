// Package recording implements the Recording Sink: per-room single-active
// recordings, folder/metadata layout, and track lifecycle driven by
// producer arrival and departure.
package recording

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aura-soundcast/core/internal/models"
)

// Repository persists Recording and RecordingTrack rows to SQLite.
type Repository struct {
	db *sql.DB
}

// NewRepository wraps a database handle.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) CreateRecording(rec *models.Recording) error {
	_, err := r.db.Exec(
		`INSERT INTO recordings (id, room_id, folder_name, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		rec.ID.String(), rec.RoomID.String(), rec.FolderName, rec.Status, rec.StartedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert recording: %w", err)
	}
	return nil
}

func (r *Repository) UpdateRecordingStatus(id uuid.UUID, status models.RecordingStatus, stoppedAt *time.Time) error {
	var stopped interface{}
	if stoppedAt != nil {
		stopped = stoppedAt.UTC().Format(time.RFC3339Nano)
	}
	_, err := r.db.Exec(`UPDATE recordings SET status = ?, stopped_at = ? WHERE id = ?`, status, stopped, id.String())
	if err != nil {
		return fmt.Errorf("update recording status: %w", err)
	}
	return nil
}

// ActiveRecordingForRoom returns the recording currently in-progress for a
// room, if any.
func (r *Repository) ActiveRecordingForRoom(roomID uuid.UUID) (*models.Recording, error) {
	row := r.db.QueryRow(
		`SELECT id, room_id, folder_name, status, started_at, stopped_at FROM recordings WHERE room_id = ? AND status = ? LIMIT 1`,
		roomID.String(), models.RecordingStatusRecording,
	)
	rec, err := scanRecording(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func scanRecording(row *sql.Row) (*models.Recording, error) {
	var (
		idStr, roomIDStr, status string
		startedAt                string
		stoppedAt                sql.NullString
		folderName               string
	)
	if err := row.Scan(&idStr, &roomIDStr, &folderName, &status, &startedAt, &stoppedAt); err != nil {
		return nil, err
	}
	rec := &models.Recording{
		ID:         uuid.MustParse(idStr),
		RoomID:     uuid.MustParse(roomIDStr),
		FolderName: folderName,
		Status:     models.RecordingStatus(status),
	}
	rec.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	if stoppedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, stoppedAt.String)
		rec.StoppedAt = &t
	}
	return rec, nil
}

// RecoverCrashed flips every recording (and its tracks) left at
// status=recording to status=error; called once at startup per the
// crash-recovery contract. Content is not attempted.
func (r *Repository) RecoverCrashed() (int64, error) {
	if _, err := r.db.Exec(
		`UPDATE recording_tracks SET status = ? WHERE recording_id IN (SELECT id FROM recordings WHERE status = ?) AND status = ?`,
		models.RecordingStatusError, models.RecordingStatusRecording, models.RecordingStatusRecording,
	); err != nil {
		return 0, fmt.Errorf("recover crashed recording tracks: %w", err)
	}
	res, err := r.db.Exec(`UPDATE recordings SET status = ? WHERE status = ?`, models.RecordingStatusError, models.RecordingStatusRecording)
	if err != nil {
		return 0, fmt.Errorf("recover crashed recordings: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ListByRoom returns every recording for roomID, newest first.
func (r *Repository) ListByRoom(roomID uuid.UUID) ([]*models.Recording, error) {
	rows, err := r.db.Query(
		`SELECT id, room_id, folder_name, status, started_at, stopped_at FROM recordings WHERE room_id = ? ORDER BY started_at DESC`,
		roomID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}
	defer rows.Close()
	var out []*models.Recording
	for rows.Next() {
		var (
			idStr, roomIDStr, folderName, status, startedAt string
			stoppedAt                                       sql.NullString
		)
		if err := rows.Scan(&idStr, &roomIDStr, &folderName, &status, &startedAt, &stoppedAt); err != nil {
			return nil, fmt.Errorf("scan recording: %w", err)
		}
		rec := &models.Recording{
			ID:         uuid.MustParse(idStr),
			RoomID:     uuid.MustParse(roomIDStr),
			FolderName: folderName,
			Status:     models.RecordingStatus(status),
		}
		rec.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
		if stoppedAt.Valid {
			t, _ := time.Parse(time.RFC3339Nano, stoppedAt.String)
			rec.StoppedAt = &t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// TracksForRecording lists every track belonging to recordingID.
func (r *Repository) TracksForRecording(recordingID uuid.UUID) ([]*models.RecordingTrack, error) {
	rows, err := r.db.Query(
		`SELECT id, recording_id, channel_name, producer_id, producer_display_name, file_path, status, started_at, stopped_at
		 FROM recording_tracks WHERE recording_id = ? ORDER BY started_at`,
		recordingID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("list recording tracks: %w", err)
	}
	defer rows.Close()
	var out []*models.RecordingTrack
	for rows.Next() {
		var (
			idStr, recIDStr, startedAt string
			stoppedAt                  sql.NullString
			t                          models.RecordingTrack
		)
		if err := rows.Scan(&idStr, &recIDStr, &t.ChannelName, &t.ProducerID, &t.ProducerDisplayName, &t.FilePath, &t.Status, &startedAt, &stoppedAt); err != nil {
			return nil, fmt.Errorf("scan recording track: %w", err)
		}
		t.ID = uuid.MustParse(idStr)
		t.RecordingID = uuid.MustParse(recIDStr)
		t.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
		if stoppedAt.Valid {
			st, _ := time.Parse(time.RFC3339Nano, stoppedAt.String)
			t.StoppedAt = &st
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (r *Repository) CreateTrack(t *models.RecordingTrack) error {
	_, err := r.db.Exec(
		`INSERT INTO recording_tracks (id, recording_id, channel_name, producer_id, producer_display_name, file_path, status, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID.String(), t.RecordingID.String(), t.ChannelName, t.ProducerID, t.ProducerDisplayName, t.FilePath, t.Status, t.StartedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert recording track: %w", err)
	}
	return nil
}

func (r *Repository) UpdateTrackStatus(id uuid.UUID, status models.RecordingStatus, stoppedAt *time.Time) error {
	var stopped interface{}
	if stoppedAt != nil {
		stopped = stoppedAt.UTC().Format(time.RFC3339Nano)
	}
	_, err := r.db.Exec(`UPDATE recording_tracks SET status = ?, stopped_at = ? WHERE id = ?`, status, stopped, id.String())
	if err != nil {
		return fmt.Errorf("update recording track status: %w", err)
	}
	return nil
}

