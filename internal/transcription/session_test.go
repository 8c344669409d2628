package transcription

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

// fakeTranscriber implements TranscriberSession for tests; emit delivers a
// segment to the registered callback as the engine would.
type fakeTranscriber struct {
	mu       sync.Mutex
	loaded   bool
	model    string
	language string
	written  int
	ended    bool
	cb       func(Segment)
}

func (f *fakeTranscriber) LoadModel(_ context.Context, modelPath, language string, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loaded = true
	f.model = modelPath
	f.language = language
	return nil
}

func (f *fakeTranscriber) Write(pcm []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written += len(pcm)
}

func (f *fakeTranscriber) OnSegment(cb func(Segment)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cb = cb
}

func (f *fakeTranscriber) End() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = true
	return nil
}

func (f *fakeTranscriber) emit(seg Segment) {
	f.mu.Lock()
	cb := f.cb
	f.mu.Unlock()
	if cb != nil {
		cb(seg)
	}
}

type fakeFactory struct{ last *fakeTranscriber }

func (f *fakeFactory) NewSession() TranscriberSession {
	f.last = &fakeTranscriber{}
	return f.last
}

// captureSink records every persisted segment.
type captureSink struct {
	mu   sync.Mutex
	segs []PersistedSegment
}

func (c *captureSink) OnSegment(_ string, seg PersistedSegment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.segs = append(c.segs, seg)
}

func (c *captureSink) all() []PersistedSegment {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]PersistedSegment(nil), c.segs...)
}

func TestSessionUsesWallClockTimestamps(t *testing.T) {
	underlying := &fakeTranscriber{}
	sink := &captureSink{}
	sess, err := NewSession(context.Background(), "p1", underlying, "model.bin", "en", 4, sink, zap.NewNop())
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	defer sess.End()

	before := float64(time.Now().UnixNano()) / 1e9
	underlying.emit(Segment{Text: "hello world", TimestampStartMs: 0, TimestampEndMs: 2000})
	after := float64(time.Now().UnixNano()) / 1e9

	segs := sink.all()
	if len(segs) != 1 {
		t.Fatalf("got %d segments, want 1", len(segs))
	}
	seg := segs[0]
	if seg.TimestampEnd < before || seg.TimestampEnd > after {
		t.Fatalf("end timestamp %.3f outside wall-clock window [%.3f, %.3f]", seg.TimestampEnd, before, after)
	}
	// start = end - segment duration, not the model-reported offset
	if d := seg.TimestampEnd - seg.TimestampStart; math.Abs(d-2.0) > 0.001 {
		t.Fatalf("segment duration %.3f, want 2.0", d)
	}
}

func TestSessionDropsShortSegments(t *testing.T) {
	underlying := &fakeTranscriber{}
	sink := &captureSink{}
	sess, err := NewSession(context.Background(), "p1", underlying, "model.bin", "en", 4, sink, zap.NewNop())
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	defer sess.End()

	underlying.emit(Segment{Text: "  ", TimestampEndMs: 100})
	underlying.emit(Segment{Text: "a", TimestampEndMs: 200})
	underlying.emit(Segment{Text: " ok ", TimestampEndMs: 300})

	segs := sink.all()
	if len(segs) != 1 {
		t.Fatalf("got %d segments, want only the trimmed 'ok'", len(segs))
	}
	if segs[0].Text != "ok" {
		t.Fatalf("text = %q, want trimmed %q", segs[0].Text, "ok")
	}
}

func TestSessionStats(t *testing.T) {
	underlying := &fakeTranscriber{}
	sink := &captureSink{}
	sess, err := NewSession(context.Background(), "p1", underlying, "model.bin", "en", 4, sink, zap.NewNop())
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	defer sess.End()

	sess.Write(make([]byte, 1024))
	underlying.emit(Segment{Text: "first segment", TimestampEndMs: 500})
	underlying.emit(Segment{Text: "second segment", TimestampEndMs: 900})

	stats := sess.CurrentStats()
	if stats.SegmentsProcessed != 2 {
		t.Fatalf("segments processed = %d, want 2", stats.SegmentsProcessed)
	}
	if stats.UptimeSeconds < 0 {
		t.Fatalf("uptime = %f", stats.UptimeSeconds)
	}
}

func TestManagerLifecycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir+"/ggml-base.bin")

	factory := &fakeFactory{}
	m := NewManager(factory, dir, "base", true, zap.NewNop())
	sink := &captureSink{}

	if err := m.StartSession(context.Background(), "p1", "en", 2, sink); err != nil {
		t.Fatalf("start session: %v", err)
	}
	if !m.HasSession("p1") {
		t.Fatal("session must be registered")
	}

	m.Write("p1", make([]byte, 64))
	if factory.last.written != 64 {
		t.Fatalf("written = %d, want 64", factory.last.written)
	}

	m.EndSession("p1")
	if m.HasSession("p1") {
		t.Fatal("session must be removed after end")
	}
	if !factory.last.ended {
		t.Fatal("underlying session must be ended")
	}
}

func TestManagerDisabledIsNoOp(t *testing.T) {
	m := NewManager(&fakeFactory{}, t.TempDir(), "base", false, zap.NewNop())
	if err := m.StartSession(context.Background(), "p1", "en", 2, &captureSink{}); err != nil {
		t.Fatalf("disabled manager must not fail: %v", err)
	}
	if m.HasSession("p1") {
		t.Fatal("disabled manager must not register sessions")
	}
}

func TestManagerModelMissing(t *testing.T) {
	m := NewManager(&fakeFactory{}, t.TempDir(), "base", true, zap.NewNop())
	err := m.StartSession(context.Background(), "p1", "en", 2, &captureSink{})
	if err == nil {
		t.Fatal("expected a model-missing error")
	}
	var missing *ErrModelMissing
	if !errorsAs(err, &missing) {
		t.Fatalf("error %v is not ErrModelMissing", err)
	}
	if m.HasSession("p1") {
		t.Fatal("no session may be left running after a failed start")
	}
}
