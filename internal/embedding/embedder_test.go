package embedding

import (
	"context"
	"database/sql"
	"hash/fnv"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-soundcast/core/internal/models"
	"github.com/aura-soundcast/core/internal/transcripts"
	"github.com/aura-soundcast/core/pkg/database"
)

// bagGenerator is a deterministic stand-in for the real text-to-vector
// model: a hashed bag-of-words, L2-normalized, so that texts sharing words
// land near each other.
type bagGenerator struct{}

func (bagGenerator) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, VectorDimensions)
	word := ""
	flush := func() {
		if word == "" {
			return
		}
		h := fnv.New32a()
		_, _ = h.Write([]byte(word))
		vec[h.Sum32()%VectorDimensions]++
		word = ""
	}
	for _, r := range text {
		if r == ' ' {
			flush()
			continue
		}
		word += string(r)
	}
	flush()

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec, nil
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.NewSQLitePool("file::memory:", "", zap.NewNop())
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedRoom(t *testing.T, db *sql.DB) uuid.UUID {
	t.Helper()
	tenantID, roomID := uuid.New(), uuid.New()
	if _, err := db.Exec(`INSERT INTO tenants (id, name, api_key_hash) VALUES (?, ?, ?)`, tenantID.String(), "t-"+tenantID.String(), "x"); err != nil {
		t.Fatalf("seed tenant: %v", err)
	}
	if _, err := db.Exec(
		`INSERT INTO rooms (id, tenant_id, slug, name) VALUES (?, ?, ?, ?)`,
		roomID.String(), tenantID.String(), "room-"+roomID.String(), "room",
	); err != nil {
		t.Fatalf("seed room: %v", err)
	}
	return roomID
}

func seedSegment(t *testing.T, db *sql.DB, roomID uuid.UUID, text string) *models.TranscriptSegment {
	t.Helper()
	repo := transcripts.NewRepository(db)
	seg, err := repo.Create(&models.TranscriptSegment{
		RoomID:              roomID,
		ChannelName:         "main",
		ProducerID:          "p1",
		ProducerDisplayName: "Speaker",
		TextContent:         text,
		TimestampStart:      float64(time.Now().Unix()),
		TimestampEnd:        float64(time.Now().Unix()) + 2,
		Confidence:          1.0,
		Language:            "en",
	})
	if err != nil {
		t.Fatalf("seed segment: %v", err)
	}
	return seg
}

func TestEmbedSearchRoundTrip(t *testing.T) {
	db := openTestDB(t)
	roomID := seedRoom(t, db)
	seg := seedSegment(t, db, roomID, "the quick brown fox")

	e := New(db, bagGenerator{}, true, 16, zap.NewNop())
	if err := e.processOne(context.Background(), task{transcriptID: seg.ID, text: seg.TextContent, roomID: roomID}); err != nil {
		t.Fatalf("process: %v", err)
	}

	// shared-rowid invariant: metadata id equals the vector rowid
	var metaID, vecRowID int64
	if err := db.QueryRow(`SELECT id FROM embedding_metadata WHERE transcript_id = ?`, seg.ID.String()).Scan(&metaID); err != nil {
		t.Fatalf("metadata row: %v", err)
	}
	if err := db.QueryRow(`SELECT rowid FROM transcript_vectors WHERE rowid = ?`, metaID).Scan(&vecRowID); err != nil {
		t.Fatalf("vector row with metadata's id must exist: %v", err)
	}

	results, err := e.SearchSimilar(context.Background(), "fast brown fox", roomID, SearchOptions{Limit: 1, MinScore: 0.1})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].ID != seg.ID {
		t.Fatalf("round trip must return the seeded segment, got %s", results[0].ID)
	}
	if results[0].Similarity <= 0.1 {
		t.Fatalf("similarity %.3f must exceed minScore", results[0].Similarity)
	}
}

func TestSearchScopesByRoomAndChannel(t *testing.T) {
	db := openTestDB(t)
	roomA := seedRoom(t, db)
	roomB := seedRoom(t, db)
	segA := seedSegment(t, db, roomA, "alpha bravo charlie")
	segB := seedSegment(t, db, roomB, "alpha bravo charlie")

	e := New(db, bagGenerator{}, true, 16, zap.NewNop())
	for _, s := range []*models.TranscriptSegment{segA, segB} {
		if err := e.processOne(context.Background(), task{transcriptID: s.ID, text: s.TextContent, roomID: s.RoomID}); err != nil {
			t.Fatalf("process: %v", err)
		}
	}

	results, err := e.SearchSimilar(context.Background(), "alpha bravo charlie", roomA, SearchOptions{Limit: 10, MinScore: 0.1})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	for _, r := range results {
		if r.RoomID != roomA {
			t.Fatalf("search leaked a row from room %s", r.RoomID)
		}
	}

	none, err := e.SearchSimilar(context.Background(), "alpha bravo charlie", roomA, SearchOptions{Limit: 10, MinScore: 0.1, ChannelName: "absent"})
	if err != nil {
		t.Fatalf("channel-scoped search: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("channel filter must exclude everything, got %d", len(none))
	}
}

func TestLowSimilarityIsDropped(t *testing.T) {
	db := openTestDB(t)
	roomID := seedRoom(t, db)
	seg := seedSegment(t, db, roomID, "completely unrelated topic words")

	e := New(db, bagGenerator{}, true, 16, zap.NewNop())
	if err := e.processOne(context.Background(), task{transcriptID: seg.ID, text: seg.TextContent, roomID: roomID}); err != nil {
		t.Fatalf("process: %v", err)
	}

	// orthogonal bag vectors have L2 distance sqrt(2) so similarity
	// 1/(1+dist) ~ 0.41; minScore above that must drop the row
	results, err := e.SearchSimilar(context.Background(), "zz yy xx ww", roomID, SearchOptions{Limit: 5, MinScore: 0.9})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("low-similarity rows must be dropped, got %d", len(results))
	}
}

func TestWrongDimensionGeneratorFails(t *testing.T) {
	db := openTestDB(t)
	roomID := seedRoom(t, db)
	seg := seedSegment(t, db, roomID, "text")

	e := New(db, shortGenerator{}, true, 16, zap.NewNop())
	err := e.processOne(context.Background(), task{transcriptID: seg.ID, text: seg.TextContent, roomID: roomID})
	if err == nil {
		t.Fatal("a non-384 vector must be rejected")
	}
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM embedding_metadata`).Scan(&n); err != nil || n != 0 {
		t.Fatalf("no metadata row may exist after a failed generation (n=%d err=%v)", n, err)
	}
}

type shortGenerator struct{}

func (shortGenerator) Embed(context.Context, string) ([]float32, error) {
	return make([]float32, 8), nil
}

func TestDisabledEmbedderDropsEnqueue(t *testing.T) {
	e := New(nil, bagGenerator{}, false, 4, zap.NewNop())
	e.Enqueue(uuid.New(), "text", uuid.New())
	select {
	case got := <-e.queue:
		t.Fatalf("disabled embedder must not enqueue, got %+v", got)
	default:
	}
}
