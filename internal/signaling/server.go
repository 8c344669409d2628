package signaling

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-soundcast/core/internal/recording"
	"github.com/aura-soundcast/core/internal/registry"
	"github.com/aura-soundcast/core/internal/sfuadapter"
)

// ProducerHooks is notified when producers start and stop, after the
// channel registry reflects the change. The recording and transcription
// pipeline implements this; a nil hooks value disables both.
type ProducerHooks interface {
	OnProducerStarted(key registry.Key, producerID, displayName, language string, producer sfuadapter.Producer)
	OnProducerStopped(key registry.Key, producerID string)
}

// StatsNotifier receives channel count changes for the admin stats
// aggregator. A nil notifier disables pushes.
type StatsNotifier interface {
	LocalChanged(key registry.Key, counts registry.ChannelCounts)
}

// Config is the subset of server configuration the signaling layer needs to
// create SFU transports.
type Config struct {
	ListenIP    string
	AnnouncedIP string
}

// Server coordinates every signaling session against the Channel Registry
// and the SFU adapter. All global mutable state lives here, injected in
// main(); there are no package-level mutables.
type Server struct {
	cfg      Config
	registry *registry.Registry
	router   sfuadapter.Router
	hooks    ProducerHooks
	stats    StatsNotifier
	log      *zap.Logger

	mu      sync.RWMutex
	clients map[string]*Session

	// serializes admin-change-publisher-channel; concurrent moves of the
	// same publisher would otherwise interleave their old/new channel
	// mutations.
	moveMu sync.Mutex
}

// NewServer constructs a signaling Server. hooks and stats may be nil.
func NewServer(cfg Config, reg *registry.Registry, router sfuadapter.Router, hooks ProducerHooks, stats StatsNotifier, log *zap.Logger) *Server {
	return &Server{
		cfg:      cfg,
		registry: reg,
		router:   router,
		hooks:    hooks,
		stats:    stats,
		log:      log,
		clients:  make(map[string]*Session),
	}
}

func (srv *Server) register(s *Session) {
	srv.mu.Lock()
	srv.clients[s.ID] = s
	srv.mu.Unlock()
}

func (srv *Server) sessionByID(id string) (*Session, bool) {
	srv.mu.RLock()
	defer srv.mu.RUnlock()
	s, ok := srv.clients[id]
	return s, ok
}

func (srv *Server) allSessions() []*Session {
	srv.mu.RLock()
	defer srv.mu.RUnlock()
	out := make([]*Session, 0, len(srv.clients))
	for _, s := range srv.clients {
		out = append(out, s)
	}
	return out
}

// serverCapabilities is what get-rtpCapabilities replies; the server
// forwards Opus only.
func serverCapabilities() sfuadapter.RTPCapabilities {
	return sfuadapter.RTPCapabilities{
		Codecs: []sfuadapter.RTPCodecCapability{
			{MimeType: "audio/opus", ClockRate: 48000, Channels: 2, PreferredPayloadType: 111},
		},
	}
}

// handleFrame dispatches one decoded frame. Handling is serial per session:
// the read loop calls this to completion before reading the next frame.
// Unknown actions are logged and ignored.
func (srv *Server) handleFrame(s *Session, frame Frame) {
	switch frame.Action {
	case actionGetRTPCapabilities:
		s.sendFrame(mustFrame(actionRTPCapabilities, serverCapabilities()))
	case actionGetChannels:
		s.sendFrame(mustFrame(actionChannelList, srv.channelKeyStrings()))
	case actionCreatePublisherTranspt:
		srv.handleCreatePublisherTransport(s, frame.Data)
	case actionConnectPublisherTranspt:
		srv.handleConnectTransport(s, frame.Data, RolePublisher, actionPublisherTransptConn)
	case actionProduceAudio:
		srv.handleProduceAudio(s, frame.Data)
	case actionCreateListenerTranspt:
		srv.handleCreateListenerTransport(s, frame.Data)
	case actionConnectListenerTranspt:
		srv.handleConnectTransport(s, frame.Data, RoleListener, actionListenerTransptConn)
	case actionConsumeAudio:
		srv.handleConsumeAudio(s, frame.Data)
	case actionStopBroadcasting:
		srv.handleStopBroadcasting(s)
	case actionLeaveChannel:
		srv.handleLeaveChannel(s)
	case actionAdminCreateChannel:
		srv.handleAdminCreateChannel(s, frame.Data)
	case actionAdminDeleteChannel:
		srv.handleAdminDeleteChannel(s, frame.Data)
	case actionAdminGetSubscribers:
		srv.handleAdminGetSubscribers(s)
	case actionAdminRemoveSubscriber:
		srv.handleAdminRemoveSubscriber(s, frame.Data)
	case actionAdminChangePubChannel:
		srv.handleAdminChangePublisherChannel(s, frame.Data)
	default:
		srv.log.Debug("unknown signaling action", zap.String("action", frame.Action))
	}
}

func (srv *Server) channelKeyStrings() []string {
	keys := srv.registry.SnapshotChannelKeys()
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k.String())
	}
	return out
}

type createPublisherPayload struct {
	ChannelID      string `json:"channelId"`
	DisplayName    string `json:"displayName"`
	SourceLanguage string `json:"sourceLanguage"`
}

func (srv *Server) handleCreatePublisherTransport(s *Session, data json.RawMessage) {
	var p createPublisherPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ChannelID == "" {
		s.sendError("create-publisher-transport requires channelId")
		return
	}
	if !s.electRole(RolePublisher) {
		s.sendError("session already holds a different role")
		return
	}
	key := parseChannelID(p.ChannelID)
	srv.registry.WithChannel(key, func(*registry.Channel) {})

	transport, err := srv.router.CreateWebRTCTransport(context.Background(), srv.cfg.ListenIP, srv.cfg.AnnouncedIP, true, false)
	if err != nil {
		srv.log.Error("create publisher transport failed", zap.Error(err))
		s.sendError("failed to create transport")
		return
	}

	s.mu.Lock()
	s.channelKey = key
	s.transport = transport
	if p.DisplayName != "" {
		s.displayName = p.DisplayName
	}
	if p.SourceLanguage != "" {
		s.sourceLanguage = p.SourceLanguage
	}
	s.mu.Unlock()

	s.sendFrame(mustFrame(actionPublisherTransptCreated, transport.Params()))
}

func (srv *Server) handleCreateListenerTransport(s *Session, data json.RawMessage) {
	var p createListenerPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ChannelID == "" {
		s.sendError("create-listener-transport requires channelId")
		return
	}
	if !s.electRole(RoleListener) {
		s.sendError("session already holds a different role")
		return
	}
	key := parseChannelID(p.ChannelID)
	srv.registry.WithChannel(key, func(*registry.Channel) {})

	transport, err := srv.router.CreateWebRTCTransport(context.Background(), srv.cfg.ListenIP, srv.cfg.AnnouncedIP, true, false)
	if err != nil {
		srv.log.Error("create listener transport failed", zap.Error(err))
		s.sendError("failed to create transport")
		return
	}

	s.mu.Lock()
	s.channelKey = key
	s.transport = transport
	s.displayName = p.DisplayName
	s.mu.Unlock()

	s.sendFrame(mustFrame(actionListenerTransptCreated, transport.Params()))
}

func (srv *Server) handleConnectTransport(s *Session, data json.RawMessage, want Role, replyAction string) {
	var p connectPayload
	if err := json.Unmarshal(data, &p); err != nil {
		s.sendError("malformed dtlsParameters")
		return
	}
	s.mu.Lock()
	role, transport := s.role, s.transport
	s.mu.Unlock()
	if role != want || transport == nil {
		s.sendError("no transport to connect")
		return
	}
	if err := transport.Connect(p.DTLSParameters); err != nil {
		srv.log.Error("transport connect failed", zap.Error(err))
		s.sendError("transport connect failed")
		return
	}
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	s.sendFrame(mustFrame(replyAction, map[string]string{"id": transport.ID()}))
}

func (srv *Server) handleProduceAudio(s *Session, data json.RawMessage) {
	var p producePayload
	if err := json.Unmarshal(data, &p); err != nil {
		s.sendError("malformed rtpParameters")
		return
	}
	s.mu.Lock()
	role, transport, connected := s.role, s.transport, s.connected
	key, displayName, language := s.channelKey, s.displayName, s.sourceLanguage
	s.mu.Unlock()
	if role != RolePublisher || transport == nil || !connected {
		s.sendError("produce-audio requires a connected publisher transport")
		return
	}
	if language == "" {
		language = "en"
	}

	producer, err := transport.Produce("audio", p.RTPParameters)
	if err != nil {
		srv.log.Error("produce failed", zap.Error(err))
		s.sendError("produce failed")
		return
	}

	// The internal producer id is the server's own, never the SFU's.
	internalID := uuid.NewString()
	srv.registry.WithChannel(key, func(c *registry.Channel) {
		c.Producers[internalID] = &registry.ProducerEntry{
			SFUTransport:         transport,
			SFUProducer:          producer,
			OwningClientID:       s.ID,
			PublisherDisplayName: displayName,
			SourceLanguage:       language,
		}
	})

	s.mu.Lock()
	s.producerID = internalID
	s.mu.Unlock()

	s.sendFrame(mustFrame(actionProduced, map[string]string{"id": internalID}))

	srv.fanOutNewProducer(key, internalID, producer)
	srv.broadcastChannelList()
	srv.notifyPublishersListenerCount(key)
	srv.notifyStats(key)
	if srv.hooks != nil {
		srv.hooks.OnProducerStarted(key, internalID, displayName, language, producer)
	}
}

func (srv *Server) handleConsumeAudio(s *Session, data json.RawMessage) {
	var p consumePayload
	if err := json.Unmarshal(data, &p); err != nil {
		s.sendError("malformed rtpCapabilities")
		return
	}
	s.mu.Lock()
	role, transport := s.role, s.transport
	key, displayName := s.channelKey, s.displayName
	s.receiverCaps = &p.RTPCapabilities
	s.mu.Unlock()
	if role != RoleListener || transport == nil {
		s.sendError("consume-audio requires a listener transport")
		return
	}

	type producerRef struct {
		internalID string
		sfuID      string
	}
	var producers []producerRef
	srv.registry.WithChannel(key, func(c *registry.Channel) {
		for id, entry := range c.Producers {
			producers = append(producers, producerRef{internalID: id, sfuID: entry.SFUProducer.ID()})
		}
	})

	if len(producers) == 0 {
		s.sendFrame(mustFrame(actionWaitingForPublisher, map[string]string{"channelId": key.String()}))
		return
	}

	entries := make([]consumerCreatedEntry, 0, len(producers))
	for _, ref := range producers {
		// producer-caps mismatches are skipped silently
		if !srv.router.CanConsume(ref.sfuID, p.RTPCapabilities) {
			continue
		}
		consumer, err := transport.Consume(ref.sfuID, p.RTPCapabilities, false)
		if err != nil {
			srv.log.Warn("consume failed", zap.String("producer_id", ref.internalID), zap.Error(err))
			continue
		}
		if srv.commitConsumer(key, consumer, s.ID, displayName, ref.internalID, transport) {
			s.trackConsumer(consumer.ID())
			entries = append(entries, consumerCreatedEntry{
				ID:            consumer.ID(),
				ProducerID:    ref.internalID,
				Kind:          consumer.Kind(),
				RTPParameters: consumer.RTPParameters(),
			})
		}
	}
	s.sendFrame(mustFrame(actionConsumerCreated, entries))
	srv.notifyPublishersListenerCount(key)
	srv.notifyStats(key)
}

// commitConsumer inserts a ConsumerEntry provided its source producer still
// exists; a producer that vanished between the SFU call and re-acquiring
// the channel lock gets the freshly created consumer closed instead — the
// compensating remove that keeps registry and SFU state reconciled.
func (srv *Server) commitConsumer(key registry.Key, consumer sfuadapter.Consumer, clientID, displayName, sourceProducerID string, transport sfuadapter.Transport) bool {
	committed := false
	srv.registry.WithChannel(key, func(c *registry.Channel) {
		if _, ok := c.Producers[sourceProducerID]; !ok {
			return
		}
		c.Consumers[consumer.ID()] = &registry.ConsumerEntry{
			SFUTransport:        transport,
			SFUConsumer:         consumer,
			SubscribingClientID: clientID,
			DisplayName:         displayName,
			SourceProducerID:    sourceProducerID,
		}
		committed = true
	})
	if !committed {
		_ = consumer.Close()
	}
	return committed
}

// handleStopBroadcasting performs publisher cleanup. Stopping when nothing
// is being broadcast is a no-op that still reports success.
func (srv *Server) handleStopBroadcasting(s *Session) {
	srv.stopBroadcast(s)
	s.sendFrame(mustFrame(actionBroadcastingStopped, map[string]string{}))
}

func (srv *Server) stopBroadcast(s *Session) {
	s.mu.Lock()
	role, producerID, transport, key := s.role, s.producerID, s.transport, s.channelKey
	s.producerID = ""
	s.mu.Unlock()
	if role != RolePublisher || producerID == "" {
		return
	}

	var entry *registry.ProducerEntry
	srv.registry.WithChannel(key, func(c *registry.Channel) {
		entry = c.Producers[producerID]
		delete(c.Producers, producerID)
	})

	srv.closeConsumersOfProducer(key, producerID)

	if entry != nil {
		_ = entry.SFUProducer.Close()
	}
	if transport != nil {
		_ = transport.Close()
	}
	if srv.hooks != nil {
		srv.hooks.OnProducerStopped(key, producerID)
	}
	srv.registry.RemoveIfEmpty(key)
	srv.broadcastChannelList()
	srv.notifyPublishersListenerCount(key)
	srv.notifyStats(key)
}

// handleLeaveChannel performs listener cleanup; leaving while not a
// listener is a no-op. The channel itself is not closed.
func (srv *Server) handleLeaveChannel(s *Session) {
	srv.leaveChannel(s)
}

func (srv *Server) leaveChannel(s *Session) {
	s.mu.Lock()
	role, key := s.role, s.channelKey
	ids := make([]string, 0, len(s.consumerIDs))
	for id := range s.consumerIDs {
		ids = append(ids, id)
	}
	s.consumerIDs = make(map[string]struct{})
	s.receiverCaps = nil
	if role == RoleListener {
		s.role = RoleNone
	}
	s.mu.Unlock()
	if role != RoleListener {
		return
	}

	var closed []*registry.ConsumerEntry
	srv.registry.WithChannel(key, func(c *registry.Channel) {
		for _, id := range ids {
			if entry, ok := c.Consumers[id]; ok {
				closed = append(closed, entry)
				delete(c.Consumers, id)
			}
		}
	})
	for _, entry := range closed {
		_ = entry.SFUConsumer.Close()
	}
	srv.registry.RemoveIfEmpty(key)
	srv.notifyPublishersListenerCount(key)
	srv.notifyStats(key)
}

// closeSession runs the teardown equivalent to stop-broadcasting and/or
// leave-channel for whichever role the session held, plus transport close.
func (srv *Server) closeSession(s *Session) {
	srv.mu.Lock()
	delete(srv.clients, s.ID)
	srv.mu.Unlock()

	switch s.currentRole() {
	case RolePublisher:
		srv.stopBroadcast(s)
	case RoleListener:
		srv.leaveChannel(s)
	}

	s.mu.Lock()
	transport := s.transport
	s.transport = nil
	s.mu.Unlock()
	if transport != nil {
		_ = transport.Close()
	}
}

// LiveChannelNames returns the short channel names currently live in a
// room, for the listener config payload.
func (srv *Server) LiveChannelNames(roomSlug string) []string {
	var out []string
	for _, key := range srv.registry.SnapshotChannelKeys() {
		if key.RoomSlug == roomSlug {
			out = append(out, key.ChannelName)
		}
	}
	return out
}

// LiveProducersForRoom snapshots every live producer in every channel of a
// room, in the shape the recording service seeds tracks from.
func (srv *Server) LiveProducersForRoom(roomSlug string) []recording.LiveProducer {
	var out []recording.LiveProducer
	for _, key := range srv.registry.SnapshotChannelKeys() {
		if key.RoomSlug != roomSlug {
			continue
		}
		srv.registry.WithChannel(key, func(c *registry.Channel) {
			for id, entry := range c.Producers {
				out = append(out, recording.LiveProducer{
					ChannelName:    key.ChannelName,
					ProducerID:     id,
					DisplayName:    entry.PublisherDisplayName,
					SourceLanguage: entry.SourceLanguage,
					Producer:       entry.SFUProducer,
				})
			}
		})
	}
	return out
}
