package sfuadapter

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

type pionTransport struct {
	id          string
	pc          *webrtc.PeerConnection
	router      *PionRouter
	announcedIP string
	log         *zap.Logger

	mu        sync.Mutex
	producer  *pionProducer
	consumers map[string]*pionConsumer
}

func (t *pionTransport) ID() string { return t.id }

func (t *pionTransport) Params() TransportParams {
	params := TransportParams{ID: t.id}
	if fp := firstFingerprint(t.pc); fp.Value != "" {
		params.DTLSParameters = DTLSParameters{
			Role:         "auto",
			Fingerprints: []DTLSFingerprint{fp},
		}
	}
	params.ICECandidates = []ICECandidate{{
		Foundation: "udpcandidate",
		Priority:   1,
		IP:         t.announcedIP,
		Protocol:   "udp",
		Port:       0,
		Type:       "host",
	}}
	return params
}

func firstFingerprint(pc *webrtc.PeerConnection) DTLSFingerprint {
	certs := pc.GetConfiguration().Certificates
	if len(certs) == 0 {
		return DTLSFingerprint{}
	}
	fps, err := certs[0].GetFingerprints()
	if err != nil || len(fps) == 0 {
		return DTLSFingerprint{}
	}
	return DTLSFingerprint{Algorithm: fps[0].Algorithm, Value: fps[0].Value}
}

// Connect accepts the remote peer's dtlsParameters record. With pion the
// offer/answer is carried inside rtpParameters on produce/consume, so by
// the time a client connects, ICE/DTLS are already driven by
// SetRemoteDescription and this acknowledgement is a no-op.
func (t *pionTransport) Connect(_ DTLSParameters) error {
	return nil
}

func (t *pionTransport) Produce(kind string, rtpParameters RTPParameters) (Producer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.producer != nil {
		return t.producer, nil
	}
	p := &pionProducer{
		id:         uuid.NewString(),
		kind:       kind,
		parameters: rtpParameters,
		transport:  t,
		subs:       make(map[string]chan []byte),
	}
	t.producer = p
	t.router.registerProducer(p)
	return p, nil
}

func (t *pionTransport) onRemoteTrack(track *webrtc.TrackRemote) {
	t.mu.Lock()
	p := t.producer
	t.mu.Unlock()
	if p == nil {
		return
	}
	p.parameters.SSRC = uint32(track.SSRC())
	if len(p.parameters.Codecs) == 0 {
		c := track.Codec()
		p.parameters.Codecs = []RTPCodecCapability{{MimeType: c.MimeType, ClockRate: c.ClockRate, Channels: int(c.Channels)}}
		p.parameters.PayloadType = uint8(track.PayloadType())
	}
	go p.readLoop(track)
}

func (t *pionTransport) Consume(producerID string, rtpCapabilities RTPCapabilities, paused bool) (Consumer, error) {
	p, ok := t.router.lookupProducer(producerID)
	if !ok {
		return nil, fmt.Errorf("sfuadapter: unknown producer %s", producerID)
	}
	local, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", "soundcast-"+producerID,
	)
	if err != nil {
		return nil, fmt.Errorf("create local track: %w", err)
	}
	sender, err := t.pc.AddTrack(local)
	if err != nil {
		return nil, fmt.Errorf("add track: %w", err)
	}
	go t.drainRTCP(sender)

	c := &pionConsumer{
		id:         uuid.NewString(),
		kind:       p.kind,
		parameters: p.parameters,
		local:      local,
		paused:     paused,
	}
	ch := p.subscribe(c.id)
	go c.forward(ch)

	t.mu.Lock()
	if t.consumers == nil {
		t.consumers = make(map[string]*pionConsumer)
	}
	t.consumers[c.id] = c
	t.mu.Unlock()
	return c, nil
}

// drainRTCP reads receiver reports off the sender so interceptors keep
// flowing; malformed packets are dropped without tearing the sender down.
func (t *pionTransport) drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, rtpBufferSize)
	for {
		n, _, err := sender.Read(buf)
		if err != nil {
			return
		}
		if _, err := rtcp.Unmarshal(buf[:n]); err != nil {
			t.log.Debug("discard malformed rtcp", zap.Error(err))
		}
	}
}

func (t *pionTransport) Close() error {
	t.mu.Lock()
	p := t.producer
	t.producer = nil
	t.mu.Unlock()
	if p != nil {
		t.router.unregisterProducer(p.ID())
		p.close()
	}
	return t.pc.Close()
}
