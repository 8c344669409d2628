package models

import (
	"time"

	"github.com/google/uuid"
)

// RecordingStatus enumerates the lifecycle states of a Recording row.
type RecordingStatus string

const (
	RecordingStatusRecording RecordingStatus = "recording"
	RecordingStatusStopped   RecordingStatus = "stopped"
	RecordingStatusError     RecordingStatus = "error"
)

// Recording represents one recording session for a room. Only one row per
// room may be in RecordingStatusRecording at a time.
type Recording struct {
	ID         uuid.UUID       `json:"id"`
	RoomID     uuid.UUID       `json:"room_id"`
	FolderName string          `json:"folder_name"`
	Status     RecordingStatus `json:"status"`
	StartedAt  time.Time       `json:"started_at"`
	StoppedAt  *time.Time      `json:"stopped_at,omitempty"`
}

// RecordingTrack is one per-producer container file belonging to a Recording.
type RecordingTrack struct {
	ID                  uuid.UUID       `json:"id"`
	RecordingID         uuid.UUID       `json:"recording_id"`
	ChannelName         string          `json:"channel_name"`
	ProducerID          string          `json:"producer_id"`
	ProducerDisplayName string          `json:"producer_display_name"`
	FilePath            string          `json:"file_path"`
	Status              RecordingStatus `json:"status"`
	StartedAt           time.Time       `json:"started_at"`
	StoppedAt           *time.Time      `json:"stopped_at,omitempty"`
}
