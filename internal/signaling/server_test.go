package signaling

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-soundcast/core/internal/registry"
	"github.com/aura-soundcast/core/internal/sfuadapter"
)

// fakeRouter implements sfuadapter.Router in-memory.
type fakeRouter struct {
	mu         sync.Mutex
	producers  map[string]*fakeProducer
	canConsume func(producerID string, caps sfuadapter.RTPCapabilities) bool
}

func newFakeRouter() *fakeRouter {
	return &fakeRouter{producers: make(map[string]*fakeProducer)}
}

func (r *fakeRouter) CreateWebRTCTransport(_ context.Context, _, _ string, _, _ bool) (sfuadapter.Transport, error) {
	return &fakeTransport{id: uuid.NewString(), router: r}, nil
}

func (r *fakeRouter) CreatePlainRTPTransport(_ context.Context, _ string, _, _ bool) (sfuadapter.PlainTransport, error) {
	return nil, nil
}

func (r *fakeRouter) CanConsume(producerID string, caps sfuadapter.RTPCapabilities) bool {
	if r.canConsume != nil {
		return r.canConsume(producerID, caps)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.producers[producerID]
	return ok
}

type fakeTransport struct {
	id     string
	router *fakeRouter

	mu     sync.Mutex
	closed bool
}

func (t *fakeTransport) ID() string                        { return t.id }
func (t *fakeTransport) Params() sfuadapter.TransportParams { return sfuadapter.TransportParams{ID: t.id} }
func (t *fakeTransport) Connect(sfuadapter.DTLSParameters) error { return nil }

func (t *fakeTransport) Produce(kind string, params sfuadapter.RTPParameters) (sfuadapter.Producer, error) {
	p := &fakeProducer{id: uuid.NewString(), kind: kind, params: params}
	t.router.mu.Lock()
	t.router.producers[p.id] = p
	t.router.mu.Unlock()
	return p, nil
}

func (t *fakeTransport) Consume(producerID string, _ sfuadapter.RTPCapabilities, _ bool) (sfuadapter.Consumer, error) {
	t.router.mu.Lock()
	p, ok := t.router.producers[producerID]
	t.router.mu.Unlock()
	if !ok {
		return nil, errUnknownProducer
	}
	return &fakeConsumer{id: uuid.NewString(), kind: p.kind, params: p.params}, nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

type fakeProducer struct {
	id     string
	kind   string
	params sfuadapter.RTPParameters
	closed bool
}

func (p *fakeProducer) ID() string                              { return p.id }
func (p *fakeProducer) RTPParameters() sfuadapter.RTPParameters { return p.params }
func (p *fakeProducer) Close() error                            { p.closed = true; return nil }

type fakeConsumer struct {
	id     string
	kind   string
	params sfuadapter.RTPParameters
	closed bool
}

func (c *fakeConsumer) ID() string                              { return c.id }
func (c *fakeConsumer) Kind() string                            { return c.kind }
func (c *fakeConsumer) RTPParameters() sfuadapter.RTPParameters { return c.params }
func (c *fakeConsumer) Resume() error                           { return nil }
func (c *fakeConsumer) Close() error                            { c.closed = true; return nil }

type errString string

func (e errString) Error() string { return string(e) }

const errUnknownProducer = errString("unknown producer")

func newTestServer(t *testing.T) (*Server, *fakeRouter) {
	t.Helper()
	router := newFakeRouter()
	srv := NewServer(Config{ListenIP: "0.0.0.0", AnnouncedIP: "127.0.0.1"}, registry.New(), router, nil, nil, zap.NewNop())
	return srv, router
}

func newTestSession(srv *Server) *Session {
	s := newSession(srv, nil, zap.NewNop())
	srv.register(s)
	return s
}

// dispatch feeds an {action, data} frame through the server's handler.
func dispatch(t *testing.T, srv *Server, s *Session, action string, payload interface{}) {
	t.Helper()
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		data = b
	}
	srv.handleFrame(s, Frame{Action: action, Data: data})
}

// drainFrames collects everything queued on the session's send channel.
func drainFrames(s *Session) []Frame {
	var out []Frame
	for {
		select {
		case f := <-s.send:
			out = append(out, f)
		default:
			return out
		}
	}
}

func framesByAction(frames []Frame, action string) []Frame {
	var out []Frame
	for _, f := range frames {
		if f.Action == action {
			out = append(out, f)
		}
	}
	return out
}

func caps() sfuadapter.RTPCapabilities {
	return sfuadapter.RTPCapabilities{Codecs: []sfuadapter.RTPCodecCapability{{MimeType: "audio/opus", ClockRate: 48000, Channels: 2}}}
}

func startListener(t *testing.T, srv *Server, channelID, name string) *Session {
	t.Helper()
	s := newTestSession(srv)
	dispatch(t, srv, s, actionCreateListenerTranspt, createListenerPayload{ChannelID: channelID, DisplayName: name})
	dispatch(t, srv, s, actionConnectListenerTranspt, connectPayload{})
	dispatch(t, srv, s, actionConsumeAudio, consumePayload{RTPCapabilities: caps()})
	return s
}

func startPublisher(t *testing.T, srv *Server, channelID, name string) (*Session, string) {
	t.Helper()
	s := newTestSession(srv)
	dispatch(t, srv, s, actionCreatePublisherTranspt, createPublisherPayload{ChannelID: channelID, DisplayName: name})
	dispatch(t, srv, s, actionConnectPublisherTranspt, connectPayload{})
	dispatch(t, srv, s, actionProduceAudio, producePayload{})
	var producerID string
	for _, f := range drainFrames(s) {
		if f.Action == actionProduced {
			var p map[string]string
			if err := json.Unmarshal(f.Data, &p); err != nil {
				t.Fatalf("decode produced frame: %v", err)
			}
			producerID = p["id"]
		}
	}
	if producerID == "" {
		t.Fatal("publisher never received a produced frame")
	}
	return s, producerID
}

func TestListenerBeforePublisher(t *testing.T) {
	srv, _ := newTestServer(t)

	listener := startListener(t, srv, "demo:main", "L")
	frames := drainFrames(listener)
	if len(framesByAction(frames, actionWaitingForPublisher)) != 1 {
		t.Fatalf("expected waiting-for-publisher, got %+v", frames)
	}

	_, producerID := startPublisher(t, srv, "demo:main", "P")

	frames = drainFrames(listener)
	created := framesByAction(frames, actionConsumerCreated)
	if len(created) != 1 {
		t.Fatalf("expected exactly one consumer-created follow-up, got %d", len(created))
	}
	var entry consumerCreatedEntry
	if err := json.Unmarshal(created[0].Data, &entry); err != nil {
		t.Fatalf("decode consumer-created: %v", err)
	}
	if entry.ProducerID != producerID {
		t.Fatalf("consumer references producer %q, want %q", entry.ProducerID, producerID)
	}
}

func TestConsumeBatchAfterPublisher(t *testing.T) {
	srv, _ := newTestServer(t)

	_, producerID := startPublisher(t, srv, "demo:main", "P")
	listener := startListener(t, srv, "demo:main", "L")

	frames := framesByAction(drainFrames(listener), actionConsumerCreated)
	if len(frames) != 1 {
		t.Fatalf("expected one consumer-created batch, got %d", len(frames))
	}
	var entries []consumerCreatedEntry
	if err := json.Unmarshal(frames[0].Data, &entries); err != nil {
		t.Fatalf("batch reply must be array-valued: %v", err)
	}
	if len(entries) != 1 || entries[0].ProducerID != producerID {
		t.Fatalf("unexpected batch %+v", entries)
	}
}

func TestConsumeCapabilityMismatchEmitsZeroEntries(t *testing.T) {
	srv, router := newTestServer(t)
	router.canConsume = func(string, sfuadapter.RTPCapabilities) bool { return false }

	startPublisher(t, srv, "demo:main", "P")
	listener := startListener(t, srv, "demo:main", "L")

	frames := drainFrames(listener)
	if len(framesByAction(frames, actionError)) != 0 {
		t.Fatalf("mismatch must not be an error: %+v", frames)
	}
	created := framesByAction(frames, actionConsumerCreated)
	if len(created) != 1 {
		t.Fatalf("expected one consumer-created reply, got %d", len(created))
	}
	var entries []consumerCreatedEntry
	if err := json.Unmarshal(created[0].Data, &entries); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected zero entries, got %d", len(entries))
	}
}

func TestRoleIsStickyPerConnection(t *testing.T) {
	srv, _ := newTestServer(t)

	s := newTestSession(srv)
	dispatch(t, srv, s, actionCreateListenerTranspt, createListenerPayload{ChannelID: "demo:main"})
	drainFrames(s)

	dispatch(t, srv, s, actionCreatePublisherTranspt, createPublisherPayload{ChannelID: "demo:main"})
	if len(framesByAction(drainFrames(s), actionError)) != 1 {
		t.Fatal("a listener session must not become a publisher")
	}
}

func TestProduceWithoutConnectFails(t *testing.T) {
	srv, _ := newTestServer(t)

	s := newTestSession(srv)
	dispatch(t, srv, s, actionCreatePublisherTranspt, createPublisherPayload{ChannelID: "demo:main"})
	drainFrames(s)
	dispatch(t, srv, s, actionProduceAudio, producePayload{})
	if len(framesByAction(drainFrames(s), actionError)) != 1 {
		t.Fatal("produce-audio before connect must fail with a protocol error")
	}
}

func TestStopBroadcastingByNonPublisherIsNoOp(t *testing.T) {
	srv, _ := newTestServer(t)

	s := newTestSession(srv)
	dispatch(t, srv, s, actionStopBroadcasting, channelPayload{ChannelID: "demo:main"})
	frames := drainFrames(s)
	if len(framesByAction(frames, actionBroadcastingStopped)) != 1 {
		t.Fatalf("stop by non-publisher must still report success, got %+v", frames)
	}
	if len(framesByAction(frames, actionError)) != 0 {
		t.Fatalf("stop by non-publisher must not error, got %+v", frames)
	}
}

func TestLeaveChannelByNonListenerIsNoOp(t *testing.T) {
	srv, _ := newTestServer(t)
	s := newTestSession(srv)
	dispatch(t, srv, s, actionLeaveChannel, nil)
	if frames := drainFrames(s); len(frames) != 0 {
		t.Fatalf("leave-channel by non-listener must be silent, got %+v", frames)
	}
}

func TestStopBroadcastingClosesDerivedConsumers(t *testing.T) {
	srv, _ := newTestServer(t)

	pub, producerID := startPublisher(t, srv, "demo:main", "P")
	listener := startListener(t, srv, "demo:main", "L")
	drainFrames(listener)

	dispatch(t, srv, pub, actionStopBroadcasting, channelPayload{ChannelID: "demo:main"})

	stopped := framesByAction(drainFrames(listener), actionProducerStopped)
	if len(stopped) != 1 {
		t.Fatalf("listener must be told the producer stopped, got %d frames", len(stopped))
	}
	var p producerStoppedPayload
	if err := json.Unmarshal(stopped[0].Data, &p); err != nil {
		t.Fatalf("decode producer-stopped: %v", err)
	}
	if p.ProducerID != producerID {
		t.Fatalf("producer-stopped names %q, want %q", p.ProducerID, producerID)
	}

	key := registry.Key{RoomSlug: "demo", ChannelName: "main"}
	if counts, ok := srv.registry.CountsFor(key); ok && counts.Publishers != 0 {
		t.Fatalf("producer entry must be gone, counts=%+v", counts)
	}
	for _, k := range srv.registry.SnapshotChannelKeys() {
		srv.registry.WithChannel(k, func(c *registry.Channel) {
			for _, entry := range c.Consumers {
				if entry.SourceProducerID == producerID {
					t.Fatal("orphaned consumer entry survived producer stop")
				}
			}
		})
	}
}

func TestAdminCreateChannelIsIdempotent(t *testing.T) {
	srv, _ := newTestServer(t)
	admin := newTestSession(srv)

	dispatch(t, srv, admin, actionAdminCreateChannel, channelPayload{ChannelID: "demo:main"})
	dispatch(t, srv, admin, actionAdminCreateChannel, channelPayload{ChannelID: "demo:main"})

	if got := len(srv.registry.SnapshotChannelKeys()); got != 1 {
		t.Fatalf("channel set must be unchanged relative to a single create, got %d channels", got)
	}
}

func TestAdminChangePublisherChannel(t *testing.T) {
	srv, _ := newTestServer(t)

	_, producerID := startPublisher(t, srv, "demo:A", "P")
	listenerA := startListener(t, srv, "demo:A", "LA")
	listenerB := startListener(t, srv, "demo:B", "LB")
	drainFrames(listenerA)
	drainFrames(listenerB)

	admin := newTestSession(srv)
	dispatch(t, srv, admin, actionAdminChangePubChannel, changePublisherPayload{PublisherID: producerID, NewChannelID: "demo:B"})

	stopped := framesByAction(drainFrames(listenerA), actionProducerStopped)
	if len(stopped) != 1 {
		t.Fatalf("A-listener must get producer-stopped, got %d", len(stopped))
	}
	var ps producerStoppedPayload
	_ = json.Unmarshal(stopped[0].Data, &ps)
	if ps.ProducerID != producerID {
		t.Fatalf("producer-stopped for %q, want %q", ps.ProducerID, producerID)
	}

	created := framesByAction(drainFrames(listenerB), actionConsumerCreated)
	if len(created) != 1 {
		t.Fatalf("B-listener must get consumer-created, got %d", len(created))
	}
	var entry consumerCreatedEntry
	if err := json.Unmarshal(created[0].Data, &entry); err != nil {
		t.Fatalf("decode consumer-created: %v", err)
	}
	if entry.ProducerID != producerID {
		t.Fatalf("producer id must remain stable across the move: got %q want %q", entry.ProducerID, producerID)
	}
}

func TestListenerCountIsUniquePerClient(t *testing.T) {
	srv, _ := newTestServer(t)

	pub, _ := startPublisher(t, srv, "demo:main", "P")
	startListener(t, srv, "demo:main", "L1")
	startListener(t, srv, "demo:main", "L2")

	counts := framesByAction(drainFrames(pub), actionListenerCount)
	if len(counts) == 0 {
		t.Fatal("publisher never received a listener-count frame")
	}
	var last listenerCountPayload
	if err := json.Unmarshal(counts[len(counts)-1].Data, &last); err != nil {
		t.Fatalf("decode listener-count: %v", err)
	}
	if last.Count != 2 {
		t.Fatalf("expected 2 unique listeners, got %d", last.Count)
	}
	if last.ChannelID != "demo:main" {
		t.Fatalf("listener-count names channel %q", last.ChannelID)
	}
}

func TestSessionCloseCleansUpPublisher(t *testing.T) {
	srv, _ := newTestServer(t)

	pub, producerID := startPublisher(t, srv, "demo:main", "P")
	listener := startListener(t, srv, "demo:main", "L")
	drainFrames(listener)

	srv.closeSession(pub)

	if len(framesByAction(drainFrames(listener), actionProducerStopped)) != 1 {
		t.Fatal("listener must see producer-stopped after publisher disconnect")
	}
	for _, k := range srv.registry.SnapshotChannelKeys() {
		srv.registry.WithChannel(k, func(c *registry.Channel) {
			if _, ok := c.Producers[producerID]; ok {
				t.Fatal("producer entry survived session close")
			}
			for _, entry := range c.Consumers {
				if entry.SourceProducerID == producerID {
					t.Fatal("consumer of disconnected publisher survived")
				}
			}
		})
	}
}

func TestUnknownActionIsIgnored(t *testing.T) {
	srv, _ := newTestServer(t)
	s := newTestSession(srv)
	dispatch(t, srv, s, "no-such-action", nil)
	if frames := drainFrames(s); len(frames) != 0 {
		t.Fatalf("unknown actions are log-and-ignore, got %+v", frames)
	}
}

func TestParseChannelID(t *testing.T) {
	tests := []struct {
		in   string
		want registry.Key
	}{
		{"demo:main", registry.Key{RoomSlug: "demo", ChannelName: "main"}},
		{"demo:a:b", registry.Key{RoomSlug: "demo", ChannelName: "a:b"}},
		{"main", registry.Key{ChannelName: "main"}},
	}
	for _, tt := range tests {
		if got := parseChannelID(tt.in); got != tt.want {
			t.Errorf("parseChannelID(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}
