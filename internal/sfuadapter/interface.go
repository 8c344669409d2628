package sfuadapter

import "context"

// Transport is a bidirectional WebRTC media transport belonging to exactly
// one signaling session (publisher or listener side).
type Transport interface {
	ID() string
	Params() TransportParams
	Connect(dtlsParameters DTLSParameters) error
	Produce(kind string, rtpParameters RTPParameters) (Producer, error)
	Consume(producerID string, rtpCapabilities RTPCapabilities, paused bool) (Consumer, error)
	Close() error
}

// Producer is the SFU's handle on one inbound media stream.
type Producer interface {
	ID() string
	RTPParameters() RTPParameters
	Close() error
}

// Consumer is the SFU's handle on one outbound media stream derived from a
// Producer.
type Consumer interface {
	ID() string
	Kind() string
	RTPParameters() RTPParameters
	Resume() error
	Close() error
}

// PlainTransport is a non-WebRTC transport that emits raw RTP to a fixed
// loopback UDP destination, used exclusively by the RTP Forker.
type PlainTransport interface {
	ID() string
	Connect(ip string, port int) error
	Consume(producerID string) (PlainConsumer, error)
	Close() error
}

// PlainConsumer is the plain-RTP analogue of Consumer; it additionally
// exposes the SSRC and payload type so the forker can synthesize an SDP file
// matching what it actually negotiated.
type PlainConsumer interface {
	ID() string
	RTPParameters() RTPParameters
	SSRC() uint32
	PayloadType() uint8
	Resume() error
	Close() error
}

// Router is the per-deployment entry point for transport creation and
// cross-producer capability checks. A Router is deliberately stateless with
// respect to rooms/channels — the Channel Registry above it owns that
// bookkeeping; the Router only knows about producers it was asked to create
// consumers for.
type Router interface {
	CreateWebRTCTransport(ctx context.Context, listenIP, announcedIP string, udp, tcp bool) (Transport, error)
	CreatePlainRTPTransport(ctx context.Context, listenIP string, rtcpMux, comedia bool) (PlainTransport, error)
	CanConsume(producerID string, rtpCapabilities RTPCapabilities) bool
}
