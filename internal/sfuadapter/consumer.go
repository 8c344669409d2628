package sfuadapter

import "github.com/pion/webrtc/v3"

type pionConsumer struct {
	id         string
	kind       string
	parameters RTPParameters
	local      *webrtc.TrackLocalStaticRTP
	paused     bool
}

func (c *pionConsumer) ID() string                   { return c.id }
func (c *pionConsumer) Kind() string                 { return c.kind }
func (c *pionConsumer) RTPParameters() RTPParameters { return c.parameters }

func (c *pionConsumer) Resume() error {
	c.paused = false
	return nil
}

func (c *pionConsumer) Close() error {
	return nil
}

func (c *pionConsumer) forward(ch chan []byte) {
	for packet := range ch {
		if c.paused {
			continue
		}
		_, _ = c.local.Write(packet)
	}
}
