package transcription

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PersistedSegment is what a Session hands to its sink after timestamping
// and the minimum-length filter.
type PersistedSegment struct {
	Text           string
	TimestampStart float64 // unix seconds
	TimestampEnd   float64 // unix seconds
}

// SegmentSink receives persisted segments from a Session. Implementations
// are expected to fan out to the Transcript Store, the Embedder, and any
// bound Transcript File Writer.
type SegmentSink interface {
	OnSegment(producerID string, seg PersistedSegment)
}

// Stats are the live counters exposed per session.
type Stats struct {
	UptimeSeconds    float64
	SegmentsProcessed int
	Errors            int
	QueueBytes        int
}

// Session is the per-producer transcription pipeline: it owns a
// TranscriberSession, rewrites model-reported offsets to wall-clock
// absolutes, and forwards accepted segments to a SegmentSink.
type Session struct {
	producerID string
	sink       SegmentSink
	underlying TranscriberSession
	log        *zap.Logger

	t0 time.Time

	mu         sync.Mutex
	stats      Stats
	queueBytes int
	failed     bool
}

// NewSession constructs and starts a transcription session for producerID,
// loading the model synchronously (per the adapter contract, loadModel is
// blocking and called once).
func NewSession(ctx context.Context, producerID string, underlying TranscriberSession, modelPath, language string, threads int, sink SegmentSink, log *zap.Logger) (*Session, error) {
	s := &Session{
		producerID: producerID,
		sink:       sink,
		underlying: underlying,
		log:        log,
		t0:         time.Now(),
	}
	if err := underlying.LoadModel(ctx, modelPath, language, threads); err != nil {
		return nil, err
	}
	underlying.OnSegment(s.handleSegment)
	return s, nil
}

// Write enqueues raw PCM bytes for inference; non-blocking per the adapter
// contract.
func (s *Session) Write(pcm []byte) {
	s.mu.Lock()
	s.queueBytes += len(pcm)
	s.mu.Unlock()
	s.underlying.Write(pcm)
}

func (s *Session) handleSegment(seg Segment) {
	s.mu.Lock()
	s.queueBytes -= len(seg.Text) // best-effort decrement; exact byte accounting lives in the adapter
	if s.queueBytes < 0 {
		s.queueBytes = 0
	}
	s.mu.Unlock()

	text := strings.TrimSpace(seg.Text)
	if len(text) < 2 {
		return
	}

	end := time.Now()
	duration := time.Duration(seg.TimestampEndMs-seg.TimestampStartMs) * time.Millisecond
	start := end.Add(-duration)

	s.mu.Lock()
	s.stats.SegmentsProcessed++
	s.mu.Unlock()

	s.sink.OnSegment(s.producerID, PersistedSegment{
		Text:           text,
		TimestampStart: float64(start.UnixNano()) / 1e9,
		TimestampEnd:   float64(end.UnixNano()) / 1e9,
	})
}

// End flushes and closes the underlying session; no further segments are
// delivered once this returns.
func (s *Session) End() error {
	return s.underlying.End()
}

// CurrentStats returns a snapshot of the session's live counters.
func (s *Session) CurrentStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.UptimeSeconds = time.Since(s.t0).Seconds()
	st.QueueBytes = s.queueBytes
	return st
}

// MarkFailed records a fatal adapter error; the manager is responsible for
// actually tearing the session down.
func (s *Session) MarkFailed() {
	s.mu.Lock()
	s.failed = true
	s.stats.Errors++
	s.mu.Unlock()
}

// Failed reports whether the session has been marked failed.
func (s *Session) Failed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed
}
