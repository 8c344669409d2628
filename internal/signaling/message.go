// Package signaling implements the per-WebSocket session state machine and
// the fan-out engine: role election, SFU transport/producer/consumer
// lifecycle, admin channel management, and push of producer arrivals and
// departures to already-subscribed listeners.
package signaling

import (
	"encoding/json"
	"strings"

	"github.com/aura-soundcast/core/internal/registry"
	"github.com/aura-soundcast/core/internal/sfuadapter"
)

// Frame is the wire envelope in both directions: {action, data}.
type Frame struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Client-initiated actions.
const (
	actionGetRTPCapabilities      = "get-rtpCapabilities"
	actionGetChannels             = "get-channels"
	actionAdminCreateChannel      = "admin-create-channel"
	actionAdminDeleteChannel      = "admin-delete-channel"
	actionAdminGetSubscribers     = "admin-get-channels-subscribers"
	actionAdminRemoveSubscriber   = "admin-remove-subscriber"
	actionAdminChangePubChannel   = "admin-change-publisher-channel"
	actionCreatePublisherTranspt  = "create-publisher-transport"
	actionConnectPublisherTranspt = "connect-publisher-transport"
	actionProduceAudio            = "produce-audio"
	actionCreateListenerTranspt   = "create-listener-transport"
	actionConnectListenerTranspt  = "connect-listener-transport"
	actionConsumeAudio            = "consume-audio"
	actionStopBroadcasting        = "stop-broadcasting"
	actionLeaveChannel            = "leave-channel"
)

// Server-initiated actions.
const (
	actionRTPCapabilities         = "rtpCapabilities"
	actionChannelList             = "channel-list"
	actionPublisherTransptCreated = "publisher-transport-created"
	actionPublisherTransptConn    = "publisher-transport-connected"
	actionProduced                = "produced"
	actionListenerTransptCreated  = "listener-transport-created"
	actionListenerTransptConn     = "listener-transport-connected"
	actionConsumerCreated         = "consumer-created"
	actionProducerStopped         = "producer-stopped"
	actionWaitingForPublisher     = "waiting-for-publisher"
	actionBroadcastingStopped     = "broadcasting-stopped"
	actionForcedDisconnect        = "forced-disconnect"
	actionListenerCount           = "listener-count"
	actionChannelsSubscribers     = "channels-subscribers"
	actionChannelCreated          = "channel-created"
	actionChannelDeleted          = "channel-deleted"
	actionSubscriberRemoved       = "subscriber-removed"
	actionAdminChannelChanged     = "admin-channel-changed"
	actionError                   = "error"
)

type channelPayload struct {
	ChannelID string `json:"channelId"`
}

type createListenerPayload struct {
	ChannelID   string `json:"channelId"`
	DisplayName string `json:"displayName"`
}

type connectPayload struct {
	DTLSParameters sfuadapter.DTLSParameters `json:"dtlsParameters"`
}

type producePayload struct {
	RTPParameters sfuadapter.RTPParameters `json:"rtpParameters"`
}

type consumePayload struct {
	RTPCapabilities sfuadapter.RTPCapabilities `json:"rtpCapabilities"`
}

type removeSubscriberPayload struct {
	ChannelID  string `json:"channelId"`
	ConsumerID string `json:"consumerId"`
}

type changePublisherPayload struct {
	PublisherID  string `json:"publisherId"`
	NewChannelID string `json:"newChannelId"`
}

type consumerCreatedEntry struct {
	ID            string                   `json:"id"`
	ProducerID    string                   `json:"producerId"`
	Kind          string                   `json:"kind"`
	RTPParameters sfuadapter.RTPParameters `json:"rtpParameters"`
}

type producerStoppedPayload struct {
	ProducerID string `json:"producerId"`
}

type listenerCountPayload struct {
	Count     int    `json:"count"`
	ChannelID string `json:"channelId"`
}

type subscriberInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// parseChannelID splits a full channel key "<roomSlug>:<channelName>" into a
// registry key. An id without a room prefix maps to an empty room slug.
func parseChannelID(id string) registry.Key {
	room, channel, ok := strings.Cut(id, ":")
	if !ok {
		return registry.Key{ChannelName: id}
	}
	return registry.Key{RoomSlug: room, ChannelName: channel}
}

func mustFrame(action string, v interface{}) Frame {
	return Frame{Action: action, Data: sfuadapter.Raw(v)}
}
