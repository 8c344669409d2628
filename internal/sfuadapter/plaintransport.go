package sfuadapter

import (
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"go.uber.org/zap"
)

type pionPlainTransport struct {
	id      string
	router  *PionRouter
	rtcpMux bool
	log     *zap.Logger

	mu   sync.Mutex
	conn *net.UDPConn
	cons *plainConsumer
}

func (t *pionPlainTransport) ID() string { return t.id }

// Connect dials a UDP socket toward the destination the external converter
// process will be listening on (normally loopback:port).
func (t *pionPlainTransport) Connect(ip string, port int) error {
	addr := &net.UDPAddr{IP: net.ParseIP(ip), Port: port}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return fmt.Errorf("dial plain rtp destination: %w", err)
	}
	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	return nil
}

func (t *pionPlainTransport) Consume(producerID string) (PlainConsumer, error) {
	p, ok := t.router.lookupProducer(producerID)
	if !ok {
		return nil, fmt.Errorf("sfuadapter: unknown producer %s", producerID)
	}
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return nil, fmt.Errorf("sfuadapter: plain transport %s not connected", t.id)
	}

	c := &plainConsumer{
		id:         uuid.NewString(),
		parameters: p.RTPParameters(),
		conn:       conn,
	}
	ch := p.subscribe(c.id)
	t.mu.Lock()
	t.cons = c
	t.mu.Unlock()
	go c.forward(ch)
	return c, nil
}

func (t *pionPlainTransport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// plainConsumer writes raw RTP packets verbatim to the connected UDP
// socket; the external converter is expected to parse RTP/AVP itself per
// the SDP the forker wrote. The first packet's header backfills the SSRC
// and payload type when negotiation did not surface them.
type plainConsumer struct {
	id         string
	parameters RTPParameters
	conn       *net.UDPConn
	paused     bool
	sniffed    bool
}

func (c *plainConsumer) ID() string                   { return c.id }
func (c *plainConsumer) RTPParameters() RTPParameters { return c.parameters }
func (c *plainConsumer) SSRC() uint32                 { return c.parameters.SSRC }
func (c *plainConsumer) PayloadType() uint8           { return c.parameters.PayloadType }

func (c *plainConsumer) Resume() error {
	c.paused = false
	return nil
}

func (c *plainConsumer) Close() error {
	return nil
}

func (c *plainConsumer) forward(ch chan []byte) {
	for packet := range ch {
		if c.paused {
			continue
		}
		if !c.sniffed {
			var hdr rtp.Header
			if _, err := hdr.Unmarshal(packet); err == nil {
				if c.parameters.SSRC == 0 {
					c.parameters.SSRC = hdr.SSRC
				}
				if c.parameters.PayloadType == 0 {
					c.parameters.PayloadType = hdr.PayloadType
				}
				c.sniffed = true
			}
		}
		_, _ = c.conn.Write(packet)
	}
}
