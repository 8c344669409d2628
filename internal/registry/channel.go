// Package registry is the authoritative in-memory map of active channels,
// their producers and their consumers. All mutation happens under a
// per-channel lock; no lock here is ever held across an SFU or network
// call.
package registry

import "github.com/aura-soundcast/core/internal/sfuadapter"

// Key identifies a channel by its owning room slug and channel name.
type Key struct {
	RoomSlug    string
	ChannelName string
}

func (k Key) String() string {
	return k.RoomSlug + ":" + k.ChannelName
}

// ProducerEntry is one live publisher inside a Channel.
type ProducerEntry struct {
	SFUTransport         sfuadapter.Transport
	SFUProducer          sfuadapter.Producer
	OwningClientID       string
	PublisherDisplayName string
	SourceLanguage       string
}

// ConsumerEntry is one live subscription inside a Channel, bound to the
// ProducerEntry it was created against.
type ConsumerEntry struct {
	SFUTransport        sfuadapter.Transport
	SFUConsumer         sfuadapter.Consumer
	SubscribingClientID string
	DisplayName         string
	SourceProducerID    string
}

// Channel is the authoritative state for one (roomSlug, channelName) pair.
// Callers must only mutate Producers/Consumers while holding the lock
// obtained via Registry.WithChannel.
type Channel struct {
	Key       Key
	Producers map[string]*ProducerEntry
	Consumers map[string]*ConsumerEntry
}

func newChannel(key Key) *Channel {
	return &Channel{
		Key:       key,
		Producers: make(map[string]*ProducerEntry),
		Consumers: make(map[string]*ConsumerEntry),
	}
}

// IsEmpty reports whether the channel has no producers and no consumers.
func (c *Channel) IsEmpty() bool {
	return len(c.Producers) == 0 && len(c.Consumers) == 0
}
