package models

import (
	"time"

	"github.com/google/uuid"
)

// TranscriptSegment is a single timestamped utterance produced by the
// transcription engine. Rows are append-only.
type TranscriptSegment struct {
	ID                  uuid.UUID `json:"id"`
	RoomID              uuid.UUID `json:"room_id"`
	ChannelName         string    `json:"channel_name"`
	ProducerID          string    `json:"producer_id"`
	ProducerDisplayName string    `json:"producer_display_name"`
	TextContent         string    `json:"text_content"`
	TimestampStart      float64   `json:"timestamp_start"`
	TimestampEnd        float64   `json:"timestamp_end"`
	Confidence          float64   `json:"confidence"`
	Language             string    `json:"language"`
	CreatedAt           time.Time `json:"created_at"`
}

// EmbeddingMetadata ties a vector-table row to its originating transcript
// segment. Its ID equals the row id of the corresponding vector row; the two
// storage layers share this surrogate key.
type EmbeddingMetadata struct {
	ID           int64     `json:"id"`
	TranscriptID uuid.UUID `json:"transcript_id"`
	RoomID       uuid.UUID `json:"room_id"`
}

// SimilarSegment is a TranscriptSegment annotated with its similarity score
// against a search query.
type SimilarSegment struct {
	TranscriptSegment
	Similarity float64 `json:"similarity"`
}
