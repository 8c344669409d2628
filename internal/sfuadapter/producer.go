package sfuadapter

import (
	"sync"

	"github.com/pion/webrtc/v3"
)

// pionProducer owns the remote track read loop and fans raw RTP bytes out
// to every subscribed Consumer (WebRTC-local or plain-RTP). Fan-out is by
// byte-slice copy so one slow subscriber never blocks another.
type pionProducer struct {
	id         string
	kind       string
	parameters RTPParameters
	transport  *pionTransport

	mu     sync.Mutex
	subs   map[string]chan []byte
	closed bool
}

func (p *pionProducer) ID() string                   { return p.id }
func (p *pionProducer) RTPParameters() RTPParameters { return p.parameters }

func (p *pionProducer) Close() error {
	p.close()
	return nil
}

func (p *pionProducer) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for id, ch := range p.subs {
		close(ch)
		delete(p.subs, id)
	}
}

func (p *pionProducer) subscribe(id string) chan []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan []byte, 64)
	if p.closed {
		close(ch)
		return ch
	}
	p.subs[id] = ch
	return ch
}

func (p *pionProducer) unsubscribe(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ch, ok := p.subs[id]; ok {
		delete(p.subs, id)
		close(ch)
	}
}

func (p *pionProducer) readLoop(track *webrtc.TrackRemote) {
	for {
		ptr := rtpBufferPool.Get().(*[]byte)
		buf := *ptr
		n, _, err := track.Read(buf)
		if err != nil {
			rtpBufferPool.Put(ptr)
			return
		}

		p.mu.Lock()
		subs := make([]chan []byte, 0, len(p.subs))
		for _, ch := range p.subs {
			subs = append(subs, ch)
		}
		p.mu.Unlock()

		for _, ch := range subs {
			packetCopy := make([]byte, n)
			copy(packetCopy, buf[:n])
			select {
			case ch <- packetCopy:
			default:
				// subscriber is backed up; drop rather than block the producer
			}
		}
		rtpBufferPool.Put(ptr)
	}
}
