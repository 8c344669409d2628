// Package embedding implements the embedder and vector index: a
// bounded-concurrency queue that generates 384-dim embeddings for freshly
// persisted transcript segments, a shared-rowid persistence scheme across
// the vector table and its metadata, and the L2-distance similarity query
// path.
package embedding

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"go.uber.org/zap"

	"github.com/aura-soundcast/core/internal/models"
)

// VectorDimensions is the fixed width every embedding must have.
const VectorDimensions = 384

// Generator turns text into a mean-pooled, L2-normalized 384-float32 dense
// vector. The concrete model lives outside the process; callers inject it.
type Generator interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// task is one unit of the bounded work queue.
type task struct {
	transcriptID uuid.UUID
	text         string
	roomID       uuid.UUID
}

// Embedder owns the queue, the worker goroutine, and persistence/query
// against the vector table.
type Embedder struct {
	db        *sql.DB
	generator Generator
	enabled   bool
	batchSize int
	log       *zap.Logger

	queue chan task
	done  chan struct{}
}

// Option configures an Embedder at construction.
type Option func(*Embedder)

// WithBatchSize overrides the default batch size of 10.
func WithBatchSize(n int) Option {
	return func(e *Embedder) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// New constructs an Embedder; it starts no goroutine itself, the caller runs
// Run. When enabled is false, Enqueue is a no-op and Run only waits for its
// context to end, matching the EMBEDDING_ENABLED feature gate.
func New(db *sql.DB, generator Generator, enabled bool, queueSize int, log *zap.Logger, opts ...Option) *Embedder {
	if queueSize <= 0 {
		queueSize = 256
	}
	e := &Embedder{
		db:        db,
		generator: generator,
		enabled:   enabled,
		batchSize: 10,
		log:       log,
		queue:     make(chan task, queueSize),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Enabled reports the EMBEDDING_ENABLED gate.
func (e *Embedder) Enabled() bool { return e.enabled }

// Run drains the queue in batches until ctx is cancelled. Intended to run
// as a single long-lived goroutine.
func (e *Embedder) Run(ctx context.Context) {
	defer close(e.done)
	if !e.enabled {
		<-ctx.Done()
		return
	}
	batch := make([]task, 0, e.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		e.processBatch(ctx, batch)
		batch = batch[:0]
	}
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case t := <-e.queue:
			batch = append(batch, t)
			if len(batch) >= e.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// Enqueue submits a freshly persisted segment for embedding generation.
// Fire-and-forget: a full queue drops the task and logs, matching the
// EmbeddingFailure policy ("logged; embedding omitted; search remains
// queryable without that row").
func (e *Embedder) Enqueue(transcriptID uuid.UUID, text string, roomID uuid.UUID) {
	if !e.enabled {
		return
	}
	select {
	case e.queue <- task{transcriptID: transcriptID, text: text, roomID: roomID}:
	default:
		e.log.Warn("embedding queue full, dropping task", zap.String("transcript_id", transcriptID.String()))
	}
}

func (e *Embedder) processBatch(ctx context.Context, batch []task) {
	for _, t := range batch {
		if err := e.processOne(ctx, t); err != nil {
			e.log.Error("embedding generation failed", zap.String("transcript_id", t.transcriptID.String()), zap.Error(err))
		}
	}
}

func (e *Embedder) processOne(ctx context.Context, t task) error {
	vec, err := e.generator.Embed(ctx, t.text)
	if err != nil {
		return fmt.Errorf("generate embedding: %w", err)
	}
	if len(vec) != VectorDimensions {
		return fmt.Errorf("generator returned %d dims, want %d", len(vec), VectorDimensions)
	}
	return e.persist(t.transcriptID, t.roomID, vec)
}

// persist inserts the vector row, takes its row id, and inserts the
// metadata row with that same id, all inside one transaction — the vector
// table and metadata table must be written together to uphold the
// shared-rowid invariant.
func (e *Embedder) persist(transcriptID, roomID uuid.UUID, vec []float32) error {
	packed, err := sqlite_vec.SerializeFloat32(vec)
	if err != nil {
		return fmt.Errorf("serialize embedding: %w", err)
	}

	tx, err := e.db.Begin()
	if err != nil {
		return fmt.Errorf("begin embedding tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`INSERT INTO transcript_vectors (embedding) VALUES (?)`, packed)
	if err != nil {
		return fmt.Errorf("insert vector row: %w", err)
	}
	rowID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("read vector row id: %w", err)
	}

	if _, err := tx.Exec(
		`INSERT INTO embedding_metadata (id, transcript_id, room_id) VALUES (?, ?, ?)`,
		rowID, transcriptID.String(), roomID.String(),
	); err != nil {
		return fmt.Errorf("insert embedding metadata: %w", err)
	}

	return tx.Commit()
}

// SearchOptions scopes a SearchSimilar call.
type SearchOptions struct {
	Limit       int
	MinScore    float64
	ChannelName string
}

// SearchSimilar generates a query vector, runs the SQL-level L2-distance
// search over the vector table, converts distance to a 1/(1+dist) similarity
// score, and drops rows below minScore.
func (e *Embedder) SearchSimilar(ctx context.Context, queryText string, roomID uuid.UUID, opts SearchOptions) ([]models.SimilarSegment, error) {
	queryVec, err := e.generator.Embed(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("generate query embedding: %w", err)
	}
	if len(queryVec) != VectorDimensions {
		return nil, fmt.Errorf("generator returned %d dims, want %d", len(queryVec), VectorDimensions)
	}
	packed, err := sqlite_vec.SerializeFloat32(queryVec)
	if err != nil {
		return nil, fmt.Errorf("serialize query embedding: %w", err)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	minScore := opts.MinScore
	if minScore <= 0 {
		minScore = 0.5
	}

	query := `
		SELECT t.id, t.room_id, t.channel_name, t.producer_id, t.producer_display_name,
		       t.text_content, t.timestamp_start, t.timestamp_end, t.confidence, t.language, t.created_at,
		       vec_distance_L2(v.embedding, ?) AS dist
		FROM transcript_vectors v
		JOIN embedding_metadata m ON m.id = v.rowid
		JOIN transcript_segments t ON t.id = m.transcript_id
		WHERE m.room_id = ? AND vec_distance_L2(v.embedding, ?) < 10.0`
	args := []interface{}{packed, roomID.String(), packed}
	if opts.ChannelName != "" {
		query += ` AND t.channel_name = ?`
		args = append(args, opts.ChannelName)
	}
	query += ` ORDER BY dist ASC LIMIT ?`
	args = append(args, limit)

	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	defer rows.Close()

	var out []models.SimilarSegment
	for rows.Next() {
		var (
			idStr, roomIDStr, createdAt string
			seg                         models.TranscriptSegment
			dist                        float64
		)
		if err := rows.Scan(&idStr, &roomIDStr, &seg.ChannelName, &seg.ProducerID, &seg.ProducerDisplayName,
			&seg.TextContent, &seg.TimestampStart, &seg.TimestampEnd, &seg.Confidence, &seg.Language, &createdAt, &dist); err != nil {
			return nil, fmt.Errorf("scan similarity row: %w", err)
		}
		seg.ID = uuid.MustParse(idStr)
		seg.RoomID = uuid.MustParse(roomIDStr)
		seg.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)

		similarity := 1.0 / (1.0 + dist)
		if similarity < minScore {
			continue
		}
		out = append(out, models.SimilarSegment{TranscriptSegment: seg, Similarity: similarity})
	}
	return out, rows.Err()
}
