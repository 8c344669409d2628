package sfuadapter

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// rtpBufferSize is MTU-friendly; pooled to keep the forwarding hot path
// allocation-free.
const rtpBufferSize = 1500

var rtpBufferPool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, rtpBufferSize)
		return &b
	},
}

// PionRouter is the Router implementation backed by pion/webrtc. It tracks
// every Producer it has created so CanConsume and plain-RTP forking can find
// the underlying remote track without the Channel Registry leaking SFU
// internals.
type PionRouter struct {
	log        *zap.Logger
	iceServers []webrtc.ICEServer

	mu        sync.RWMutex
	producers map[string]*pionProducer
}

// NewPionRouter constructs a router advertising the given ICE servers to
// every transport it creates.
func NewPionRouter(log *zap.Logger, iceServers []webrtc.ICEServer) *PionRouter {
	if len(iceServers) == 0 {
		iceServers = []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
	}
	return &PionRouter{
		log:        log,
		iceServers: iceServers,
		producers:  make(map[string]*pionProducer),
	}
}

func (r *PionRouter) CreateWebRTCTransport(_ context.Context, listenIP, announcedIP string, udp, tcp bool) (Transport, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine))
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: r.iceServers})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	t := &pionTransport{
		id:          uuid.NewString(),
		pc:          pc,
		router:      r,
		announcedIP: announcedIP,
		log:         r.log.With(zap.String("transport_id", "pending")),
	}
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		t.onRemoteTrack(track)
	})
	return t, nil
}

func (r *PionRouter) CreatePlainRTPTransport(_ context.Context, listenIP string, rtcpMux, comedia bool) (PlainTransport, error) {
	return &pionPlainTransport{
		id:      uuid.NewString(),
		router:  r,
		rtcpMux: rtcpMux,
		log:     r.log,
	}, nil
}

// CanConsume reports whether the given capability set advertises a codec
// matching the producer's negotiated mime type. The media engine proper
// (jitter buffering, simulcast layer selection, etc.) is out of scope here;
// this is the minimal check the facade promises.
func (r *PionRouter) CanConsume(producerID string, caps RTPCapabilities) bool {
	r.mu.RLock()
	p, ok := r.producers[producerID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	want := p.RTPParameters()
	if len(want.Codecs) == 0 {
		return true
	}
	for _, c := range caps.Codecs {
		for _, pc := range want.Codecs {
			if c.MimeType == pc.MimeType {
				return true
			}
		}
	}
	return false
}

func (r *PionRouter) registerProducer(p *pionProducer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.producers[p.ID()] = p
}

func (r *PionRouter) unregisterProducer(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.producers, id)
}

func (r *PionRouter) lookupProducer(id string) (*pionProducer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.producers[id]
	return p, ok
}
