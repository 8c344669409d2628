package transcripts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-soundcast/core/internal/models"
)

// jsonSegment is one entry of a finalized .json summary.
type jsonSegment struct {
	ID             uuid.UUID `json:"id"`
	TimestampStart float64   `json:"timestampStart"`
	TimestampEnd   float64   `json:"timestampEnd"`
	Text           string    `json:"text"`
	Confidence     float64   `json:"confidence"`
}

type jsonSummary struct {
	RecordingID  uuid.UUID     `json:"recordingId"`
	ProducerID   string        `json:"producerId"`
	ProducerName string        `json:"producerName"`
	ChannelName  string        `json:"channelName"`
	Language     string        `json:"language"`
	StartedAt    time.Time     `json:"startedAt"`
	StoppedAt    time.Time     `json:"stoppedAt"`
	Segments     []jsonSegment `json:"segments"`
	TotalSegments int          `json:"totalSegments"`
}

// track is the live state of one bound producer's four output files.
type track struct {
	mu           sync.Mutex
	baseName     string
	recordingID  uuid.UUID
	producerID   string
	producerName string
	channelName  string
	language     string
	startedAt    time.Time
	srtIndex     int
	segments     []jsonSegment
}

// FileWriter streams TXT/SRT/VTT writes plus a
// once-at-finalize JSON summary, for every producer bound to an active
// recording.
type FileWriter struct {
	log *zap.Logger

	mu     sync.Mutex
	tracks map[string]*track // key: recordingID:producerID
}

// NewFileWriter constructs an empty FileWriter.
func NewFileWriter(log *zap.Logger) *FileWriter {
	return &FileWriter{log: log, tracks: make(map[string]*track)}
}

func trackKey(recordingID uuid.UUID, producerID string) string {
	return recordingID.String() + ":" + producerID
}

// Bind registers a producer's output folder and base filename, matching
// the recording track's `<sanitizedProducerName>_<epoch_ms>` naming. It
// writes the VTT header immediately.
func (w *FileWriter) Bind(recordingID uuid.UUID, channelDir string, producerID, producerName, channelName, language string, baseName string, startedAt time.Time) {
	t := &track{
		baseName:     filepath.Join(channelDir, baseName),
		recordingID:  recordingID,
		producerID:   producerID,
		producerName: producerName,
		channelName:  channelName,
		language:     language,
		startedAt:    startedAt,
	}
	w.mu.Lock()
	w.tracks[trackKey(recordingID, producerID)] = t
	w.mu.Unlock()

	if err := os.WriteFile(t.baseName+".vtt", []byte("WEBVTT\n\n"), 0o640); err != nil {
		w.log.Error("transcript file writer: init vtt failed", zap.Error(err))
	}
}

// Unbind removes a producer's tracking state without writing, used when a
// producer departs without ever having produced a segment.
func (w *FileWriter) Unbind(recordingID uuid.UUID, producerID string) {
	w.mu.Lock()
	delete(w.tracks, trackKey(recordingID, producerID))
	w.mu.Unlock()
}

// Append writes seg to the TXT, SRT, and VTT files bound for (roomID is
// unused here; binding is keyed by recordingID+producerID set by Bind) the
// producer identified in seg. Append failures are logged and do not
// propagate; the .json summary stays authoritative.
func (w *FileWriter) Append(roomID uuid.UUID, channelName string, seg *models.TranscriptSegment) {
	w.mu.Lock()
	var t *track
	for _, candidate := range w.tracks {
		if candidate.producerID == seg.ProducerID && candidate.channelName == channelName {
			t = candidate
			break
		}
	}
	w.mu.Unlock()
	if t == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.segments = append(t.segments, jsonSegment{
		ID:             seg.ID,
		TimestampStart: seg.TimestampStart,
		TimestampEnd:   seg.TimestampEnd,
		Text:           seg.TextContent,
		Confidence:     seg.Confidence,
	})

	if err := appendTxt(t.baseName+".txt", seg); err != nil {
		w.log.Error("transcript file writer: append txt failed", zap.Error(err))
	}
	t.srtIndex++
	if err := appendSrt(t.baseName+".srt", t.srtIndex, seg); err != nil {
		w.log.Error("transcript file writer: append srt failed", zap.Error(err))
	}
	if err := appendVtt(t.baseName+".vtt", seg); err != nil {
		w.log.Error("transcript file writer: append vtt failed", zap.Error(err))
	}
}

// Finalize writes the authoritative .json summary for a producer's track
// and drops its tracking state.
func (w *FileWriter) Finalize(recordingID uuid.UUID, producerID string, stoppedAt time.Time) {
	key := trackKey(recordingID, producerID)
	w.mu.Lock()
	t := w.tracks[key]
	delete(w.tracks, key)
	w.mu.Unlock()
	if t == nil {
		return
	}

	t.mu.Lock()
	summary := jsonSummary{
		RecordingID:   recordingID,
		ProducerID:    t.producerID,
		ProducerName:  t.producerName,
		ChannelName:   t.channelName,
		Language:      t.language,
		StartedAt:     t.startedAt,
		StoppedAt:     stoppedAt,
		Segments:      t.segments,
		TotalSegments: len(t.segments),
	}
	baseName := t.baseName
	t.mu.Unlock()

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		w.log.Error("transcript file writer: marshal json summary failed", zap.Error(err))
		return
	}
	if err := os.WriteFile(baseName+".json", data, 0o640); err != nil {
		w.log.Error("transcript file writer: write json summary failed", zap.Error(err))
	}
}

// FinalizeAll writes the .json summary for every track still bound to
// recordingID, used when a recording stops while producers are live.
func (w *FileWriter) FinalizeAll(recordingID uuid.UUID, stoppedAt time.Time) {
	w.mu.Lock()
	var producerIDs []string
	for _, t := range w.tracks {
		if t.recordingID == recordingID {
			producerIDs = append(producerIDs, t.producerID)
		}
	}
	w.mu.Unlock()
	for _, id := range producerIDs {
		w.Finalize(recordingID, id, stoppedAt)
	}
}

func appendTxt(path string, seg *models.TranscriptSegment) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return err
	}
	defer f.Close()
	line := fmt.Sprintf("[%s] %s: %s\n", formatClockDot(seg.TimestampStart), seg.ProducerDisplayName, seg.TextContent)
	_, err = f.WriteString(line)
	return err
}

func appendSrt(path string, index int, seg *models.TranscriptSegment) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return err
	}
	defer f.Close()
	block := fmt.Sprintf("%d\n%s --> %s\n%s\n\n",
		index, formatClockComma(seg.TimestampStart), formatClockComma(seg.TimestampEnd), seg.TextContent)
	_, err = f.WriteString(block)
	return err
}

func appendVtt(path string, seg *models.TranscriptSegment) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return err
	}
	defer f.Close()
	block := fmt.Sprintf("%s --> %s\n<v %s>%s\n\n",
		formatClockDot(seg.TimestampStart), formatClockDot(seg.TimestampEnd), seg.ProducerDisplayName, seg.TextContent)
	_, err = f.WriteString(block)
	return err
}

// formatClockDot renders the wall-clock HH:MM:SS.mmm of a Unix-seconds
// timestamp, UTC.
func formatClockDot(unixSeconds float64) string {
	return unixToTime(unixSeconds).Format("15:04:05.000")
}

// formatClockComma renders HH:MM:SS,mmm, the SRT timestamp separator.
func formatClockComma(unixSeconds float64) string {
	return unixToTime(unixSeconds).Format("15:04:05,000")
}

func unixToTime(unixSeconds float64) time.Time {
	sec := int64(unixSeconds)
	nsec := int64((unixSeconds - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec).UTC()
}
