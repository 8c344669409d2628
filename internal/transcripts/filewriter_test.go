package transcripts

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-soundcast/core/internal/models"
)

func testSegment(producerID string, start, end float64, text string) *models.TranscriptSegment {
	return &models.TranscriptSegment{
		ID:                  uuid.New(),
		RoomID:              uuid.New(),
		ChannelName:         "main",
		ProducerID:          producerID,
		ProducerDisplayName: "Speaker",
		TextContent:         text,
		TimestampStart:      start,
		TimestampEnd:        end,
		Confidence:          1.0,
		Language:            "en",
	}
}

func TestFileWriterFormats(t *testing.T) {
	dir := t.TempDir()
	w := NewFileWriter(zap.NewNop())
	recID := uuid.New()
	started := time.Unix(1700000000, 0)

	w.Bind(recID, dir, "p1", "Speaker", "main", "en", "Speaker_1700000000000", started)

	// 22:13:20.000 UTC and 22:13:22.500 UTC
	seg := testSegment("p1", 1700000000.0, 1700000002.5, "hello there")
	w.Append(seg.RoomID, "main", seg)

	base := filepath.Join(dir, "Speaker_1700000000000")

	txt := readFile(t, base+".txt")
	if txt != "[22:13:20.000] Speaker: hello there\n" {
		t.Fatalf("txt line = %q", txt)
	}

	srt := readFile(t, base+".srt")
	wantSrt := "1\n22:13:20,000 --> 22:13:22,500\nhello there\n\n"
	if srt != wantSrt {
		t.Fatalf("srt block = %q, want %q", srt, wantSrt)
	}

	vtt := readFile(t, base+".vtt")
	if !strings.HasPrefix(vtt, "WEBVTT\n\n") {
		t.Fatalf("vtt must start with header, got %q", vtt)
	}
	if !strings.Contains(vtt, "22:13:20.000 --> 22:13:22.500\n<v Speaker>hello there\n\n") {
		t.Fatalf("vtt block missing, got %q", vtt)
	}
}

func TestFileWriterSRTIndexIncrements(t *testing.T) {
	dir := t.TempDir()
	w := NewFileWriter(zap.NewNop())
	recID := uuid.New()
	w.Bind(recID, dir, "p1", "Speaker", "main", "en", "base", time.Now())

	w.Append(uuid.Nil, "main", testSegment("p1", 1, 2, "first"))
	w.Append(uuid.Nil, "main", testSegment("p1", 2, 3, "second"))

	srt := readFile(t, filepath.Join(dir, "base.srt"))
	if !strings.HasPrefix(srt, "1\n") || !strings.Contains(srt, "\n\n2\n") {
		t.Fatalf("srt blocks must be numbered sequentially:\n%s", srt)
	}
}

func TestFileWriterFinalizeWritesJSONSummary(t *testing.T) {
	dir := t.TempDir()
	w := NewFileWriter(zap.NewNop())
	recID := uuid.New()
	started := time.Unix(1700000000, 0)
	stopped := started.Add(time.Minute)

	w.Bind(recID, dir, "p1", "Speaker", "main", "en", "base", started)
	seg := testSegment("p1", 1700000000, 1700000003, "the quick brown fox")
	w.Append(seg.RoomID, "main", seg)
	w.Finalize(recID, "p1", stopped)

	data := readFile(t, filepath.Join(dir, "base.json"))
	var summary struct {
		RecordingID   uuid.UUID `json:"recordingId"`
		ProducerID    string    `json:"producerId"`
		ProducerName  string    `json:"producerName"`
		ChannelName   string    `json:"channelName"`
		Language      string    `json:"language"`
		TotalSegments int       `json:"totalSegments"`
		Segments      []struct {
			Text string `json:"text"`
		} `json:"segments"`
	}
	if err := json.Unmarshal([]byte(data), &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.RecordingID != recID || summary.ProducerID != "p1" || summary.ChannelName != "main" {
		t.Fatalf("summary identity wrong: %+v", summary)
	}
	if summary.TotalSegments != 1 || len(summary.Segments) != 1 || summary.Segments[0].Text != "the quick brown fox" {
		t.Fatalf("summary segments wrong: %+v", summary)
	}

	// finalize drops the binding; further appends are ignored
	w.Append(uuid.Nil, "main", testSegment("p1", 5, 6, "late"))
	if strings.Contains(readFile(t, filepath.Join(dir, "base.txt")), "late") {
		t.Fatal("appends after finalize must be dropped")
	}
}

func TestFileWriterFinalizeAll(t *testing.T) {
	dir := t.TempDir()
	w := NewFileWriter(zap.NewNop())
	recID := uuid.New()
	w.Bind(recID, dir, "p1", "A", "main", "en", "a", time.Now())
	w.Bind(recID, dir, "p2", "B", "main", "en", "b", time.Now())

	w.FinalizeAll(recID, time.Now())

	for _, name := range []string{"a.json", "b.json"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("summary %s missing: %v", name, err)
		}
	}
}

func TestFileWriterAppendWithoutBindIsIgnored(t *testing.T) {
	w := NewFileWriter(zap.NewNop())
	// must not panic or create files anywhere
	w.Append(uuid.Nil, "main", testSegment("p1", 1, 2, "text"))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}
