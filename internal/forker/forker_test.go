package forker

import (
	"context"
	"errors"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-soundcast/core/internal/sfuadapter"
)

type fakeRouter struct{}

func (fakeRouter) CreateWebRTCTransport(context.Context, string, string, bool, bool) (sfuadapter.Transport, error) {
	return nil, errors.New("not used")
}

func (fakeRouter) CreatePlainRTPTransport(context.Context, string, bool, bool) (sfuadapter.PlainTransport, error) {
	return &fakePlainTransport{id: uuid.NewString()}, nil
}

func (fakeRouter) CanConsume(string, sfuadapter.RTPCapabilities) bool { return true }

type fakePlainTransport struct {
	id        string
	connected bool
	closed    bool
}

func (t *fakePlainTransport) ID() string { return t.id }
func (t *fakePlainTransport) Connect(ip string, port int) error {
	t.connected = true
	return nil
}
func (t *fakePlainTransport) Consume(producerID string) (sfuadapter.PlainConsumer, error) {
	return &fakePlainConsumer{id: uuid.NewString()}, nil
}
func (t *fakePlainTransport) Close() error { t.closed = true; return nil }

type fakePlainConsumer struct {
	id      string
	resumed bool
	closed  bool
}

func (c *fakePlainConsumer) ID() string                              { return c.id }
func (c *fakePlainConsumer) RTPParameters() sfuadapter.RTPParameters { return sfuadapter.RTPParameters{} }
func (c *fakePlainConsumer) SSRC() uint32                            { return 42 }
func (c *fakePlainConsumer) PayloadType() uint8                      { return 111 }
func (c *fakePlainConsumer) Resume() error                           { c.resumed = true; return nil }
func (c *fakePlainConsumer) Close() error                            { c.closed = true; return nil }

type fakeProducer struct{ id string }

func (p *fakeProducer) ID() string                              { return p.id }
func (p *fakeProducer) RTPParameters() sfuadapter.RTPParameters { return sfuadapter.RTPParameters{} }
func (p *fakeProducer) Close() error                            { return nil }

func newTestService(t *testing.T, recPorts, transPorts [2]int) *Service {
	t.Helper()
	s := NewService(
		fakeRouter{},
		sfuadapter.NewPortArena(recPorts[0], recPorts[1]),
		sfuadapter.NewPortArena(transPorts[0], transPorts[1]),
		t.TempDir(),
		zap.NewNop(),
	)
	// cat emits the SDP file itself on stdout, standing in for the
	// converter's PCM output
	s.SetConverterCommand(func(sdpPath string, _ SinkKind) *exec.Cmd {
		return exec.Command("cat", sdpPath)
	})
	return s
}

func TestStartForkPipesConverterOutput(t *testing.T) {
	s := newTestService(t, [2]int{50000, 50009}, [2]int{51000, 51009})

	var mu sync.Mutex
	var got []byte
	fork, err := s.StartFork(context.Background(), &fakeProducer{id: "p1"}, SinkKindTranscription, func(b []byte) {
		mu.Lock()
		got = append(got, b...)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("start fork: %v", err)
	}
	defer fork.Teardown()

	deadline := time.After(3 * time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("converter stdout never reached the sink")
		case <-time.After(10 * time.Millisecond):
		}
	}

	mu.Lock()
	sdp := string(got)
	mu.Unlock()
	if sdp[:4] != "v=0\r" {
		t.Fatalf("sink received %q, want the synthesized sdp", sdp[:20])
	}
}

func TestForkTeardownReleasesPortAndIsIdempotent(t *testing.T) {
	s := newTestService(t, [2]int{50000, 50000}, [2]int{51000, 51000})

	fork, err := s.StartFork(context.Background(), &fakeProducer{id: "p1"}, SinkKindRecording, func([]byte) {})
	if err != nil {
		t.Fatalf("start fork: %v", err)
	}
	if s.recordingArena.InUseCount() != 1 {
		t.Fatalf("port not allocated, in use = %d", s.recordingArena.InUseCount())
	}

	fork.Teardown()
	fork.Teardown() // must be safe to call twice
	if s.recordingArena.InUseCount() != 0 {
		t.Fatalf("teardown must release the port, in use = %d", s.recordingArena.InUseCount())
	}
}

func TestForkPortExhaustionIsIsolated(t *testing.T) {
	// two ports: two forks succeed, a third fails without touching them
	s := newTestService(t, [2]int{50000, 50001}, [2]int{51000, 51001})

	f1, err := s.StartFork(context.Background(), &fakeProducer{id: "p1"}, SinkKindRecording, func([]byte) {})
	if err != nil {
		t.Fatalf("first fork: %v", err)
	}
	defer f1.Teardown()
	f2, err := s.StartFork(context.Background(), &fakeProducer{id: "p2"}, SinkKindRecording, func([]byte) {})
	if err != nil {
		t.Fatalf("second fork: %v", err)
	}
	defer f2.Teardown()

	if _, err := s.StartFork(context.Background(), &fakeProducer{id: "p3"}, SinkKindRecording, func([]byte) {}); !errors.Is(err, sfuadapter.ErrPortsExhausted) {
		t.Fatalf("third fork must fail with port exhaustion, got %v", err)
	}
	if s.recordingArena.InUseCount() != 2 {
		t.Fatalf("the first two forks must be unaffected, in use = %d", s.recordingArena.InUseCount())
	}
}

func TestSinkKindsUseDisjointArenas(t *testing.T) {
	s := newTestService(t, [2]int{50000, 50000}, [2]int{51000, 51000})

	f1, err := s.StartFork(context.Background(), &fakeProducer{id: "p1"}, SinkKindRecording, func([]byte) {})
	if err != nil {
		t.Fatalf("recording fork: %v", err)
	}
	defer f1.Teardown()

	// recording's range is full; transcription must still have room
	f2, err := s.StartFork(context.Background(), &fakeProducer{id: "p1"}, SinkKindTranscription, func([]byte) {})
	if err != nil {
		t.Fatalf("transcription fork must use its own range: %v", err)
	}
	defer f2.Teardown()
}
