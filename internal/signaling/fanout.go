package signaling

import (
	"go.uber.org/zap"

	"github.com/aura-soundcast/core/internal/registry"
	"github.com/aura-soundcast/core/internal/sfuadapter"
)

// fanOutNewProducer creates a consumer for every already-subscribed
// listener of the producer's channel and pushes a single-object
// consumer-created frame to each. A failure on one listener never aborts
// the loop.
func (srv *Server) fanOutNewProducer(key registry.Key, internalID string, producer sfuadapter.Producer) {
	for _, listener := range srv.allSessions() {
		caps, transport, displayName, ok := listener.listenerView(key)
		if !ok {
			continue
		}
		if !srv.router.CanConsume(producer.ID(), caps) {
			continue
		}
		consumer, err := transport.Consume(producer.ID(), caps, false)
		if err != nil {
			srv.log.Warn("fan-out consume failed",
				zap.String("listener_id", listener.ID),
				zap.String("producer_id", internalID),
				zap.Error(err))
			continue
		}
		if !srv.commitConsumer(key, consumer, listener.ID, displayName, internalID, transport) {
			continue
		}
		listener.trackConsumer(consumer.ID())
		listener.sendFrame(mustFrame(actionConsumerCreated, consumerCreatedEntry{
			ID:            consumer.ID(),
			ProducerID:    internalID,
			Kind:          consumer.Kind(),
			RTPParameters: consumer.RTPParameters(),
		}))
	}
}

// closeConsumersOfProducer removes every ConsumerEntry derived from
// internalID, closes each, and pushes producer-stopped to the affected
// listeners. Orphaned consumers are removed atomically with respect to the
// channel lock.
func (srv *Server) closeConsumersOfProducer(key registry.Key, internalID string) {
	type victim struct {
		consumerID string
		entry      *registry.ConsumerEntry
	}
	var victims []victim
	srv.registry.WithChannel(key, func(c *registry.Channel) {
		for id, entry := range c.Consumers {
			if entry.SourceProducerID == internalID {
				victims = append(victims, victim{consumerID: id, entry: entry})
				delete(c.Consumers, id)
			}
		}
	})

	for _, v := range victims {
		_ = v.entry.SFUConsumer.Close()
		if listener, ok := srv.sessionByID(v.entry.SubscribingClientID); ok {
			listener.untrackConsumer(v.consumerID)
			listener.sendFrame(mustFrame(actionProducerStopped, producerStoppedPayload{ProducerID: internalID}))
		}
	}
}

// broadcastChannelList pushes the live channel key list to every connected
// session; called after every channel-set change.
func (srv *Server) broadcastChannelList() {
	frame := mustFrame(actionChannelList, srv.channelKeyStrings())
	for _, s := range srv.allSessions() {
		s.sendFrame(frame)
	}
}

// notifyPublishersListenerCount pushes {count, channelId} to every publisher
// in the channel, where count is the number of unique subscribing clients
// across all consumer entries.
func (srv *Server) notifyPublishersListenerCount(key registry.Key) {
	count := 0
	srv.registry.WithChannel(key, func(c *registry.Channel) {
		seen := make(map[string]struct{}, len(c.Consumers))
		for _, entry := range c.Consumers {
			seen[entry.SubscribingClientID] = struct{}{}
		}
		count = len(seen)
	})

	frame := mustFrame(actionListenerCount, listenerCountPayload{Count: count, ChannelID: key.String()})
	for _, s := range srv.allSessions() {
		s.mu.Lock()
		isPublisherHere := s.role == RolePublisher && s.channelKey == key
		s.mu.Unlock()
		if isPublisherHere {
			s.sendFrame(frame)
		}
	}
}

// notifyStats forwards the channel's current counts to the stats
// aggregator; a deleted channel reports zeros.
func (srv *Server) notifyStats(key registry.Key) {
	if srv.stats == nil {
		return
	}
	counts, _ := srv.registry.CountsFor(key)
	srv.stats.LocalChanged(key, counts)
}
