package recording

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// metadataTrack is one track entry inside metadata.json.
type metadataTrack struct {
	ID                  string     `json:"id"`
	ChannelName          string     `json:"channel_name"`
	ProducerID           string     `json:"producer_id"`
	ProducerDisplayName  string     `json:"producer_display_name"`
	FilePath             string     `json:"file_path"`
	Status               string     `json:"status"`
	StartedAt            time.Time  `json:"started_at"`
	StoppedAt            *time.Time `json:"stopped_at,omitempty"`
}

type metadataDoc struct {
	RecordingID string          `json:"recording_id"`
	RoomSlug    string          `json:"room_slug"`
	Status      string          `json:"status"`
	StartedAt   time.Time       `json:"started_at"`
	StoppedAt   *time.Time      `json:"stopped_at,omitempty"`
	Tracks      []metadataTrack `json:"tracks"`
}

// metadataWriter serializes metadata.json writes for one recording folder.
type metadataWriter struct {
	mu   sync.Mutex
	path string
	doc  metadataDoc
}

func newMetadataWriter(folder string, recordingID uuid.UUID, roomSlug string, startedAt time.Time) *metadataWriter {
	return &metadataWriter{
		path: filepath.Join(folder, "metadata.json"),
		doc: metadataDoc{
			RecordingID: recordingID.String(),
			RoomSlug:    roomSlug,
			Status:      "recording",
			StartedAt:   startedAt,
			Tracks:      []metadataTrack{},
		},
	}
}

func (w *metadataWriter) addTrack(t metadataTrack) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.doc.Tracks = append(w.doc.Tracks, t)
	w.flushLocked()
}

func (w *metadataWriter) updateTrackStopped(trackID string, stoppedAt time.Time, status string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := range w.doc.Tracks {
		if w.doc.Tracks[i].ID == trackID {
			stopped := stoppedAt
			w.doc.Tracks[i].StoppedAt = &stopped
			w.doc.Tracks[i].Status = status
		}
	}
	w.flushLocked()
}

func (w *metadataWriter) finalize(stoppedAt time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.doc.Status = "stopped"
	w.doc.StoppedAt = &stoppedAt
	w.flushLocked()
}

func (w *metadataWriter) flushLocked() {
	data, err := json.MarshalIndent(w.doc, "", "  ")
	if err != nil {
		return
	}
	_ = os.WriteFile(w.path, data, 0o644)
}
