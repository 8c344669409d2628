package signaling

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/aura-soundcast/core/internal/registry"
)

// requireAdmin elects the admin role (sticky) or rejects the action when the
// session already holds a non-admin role.
func (srv *Server) requireAdmin(s *Session) bool {
	if !s.electRole(RoleAdmin) {
		s.sendError("admin actions require an admin session")
		return false
	}
	return true
}

// handleAdminCreateChannel creates an empty channel if absent; idempotent.
func (srv *Server) handleAdminCreateChannel(s *Session, data json.RawMessage) {
	if !srv.requireAdmin(s) {
		return
	}
	var p channelPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ChannelID == "" {
		s.sendError("admin-create-channel requires channelId")
		return
	}
	key := parseChannelID(p.ChannelID)
	srv.registry.WithChannel(key, func(*registry.Channel) {})
	s.sendFrame(mustFrame(actionChannelCreated, channelPayload{ChannelID: key.String()}))
	srv.broadcastChannelList()
	srv.notifyStats(key)
}

// handleAdminDeleteChannel closes every transport in the channel, sends
// forced-disconnect to every affected listener, and removes the channel.
func (srv *Server) handleAdminDeleteChannel(s *Session, data json.RawMessage) {
	if !srv.requireAdmin(s) {
		return
	}
	var p channelPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ChannelID == "" {
		s.sendError("admin-delete-channel requires channelId")
		return
	}
	key := parseChannelID(p.ChannelID)

	var producers map[string]*registry.ProducerEntry
	var consumers map[string]*registry.ConsumerEntry
	srv.registry.WithChannel(key, func(c *registry.Channel) {
		producers = c.Producers
		consumers = c.Consumers
		c.Producers = make(map[string]*registry.ProducerEntry)
		c.Consumers = make(map[string]*registry.ConsumerEntry)
	})

	disconnect := mustFrame(actionForcedDisconnect, channelPayload{ChannelID: key.String()})
	for consumerID, entry := range consumers {
		_ = entry.SFUConsumer.Close()
		_ = entry.SFUTransport.Close()
		if listener, ok := srv.sessionByID(entry.SubscribingClientID); ok {
			listener.untrackConsumer(consumerID)
			listener.sendFrame(disconnect)
		}
	}
	for producerID, entry := range producers {
		_ = entry.SFUProducer.Close()
		_ = entry.SFUTransport.Close()
		if owner, ok := srv.sessionByID(entry.OwningClientID); ok {
			owner.mu.Lock()
			if owner.producerID == producerID {
				owner.producerID = ""
			}
			owner.mu.Unlock()
		}
		if srv.hooks != nil {
			srv.hooks.OnProducerStopped(key, producerID)
		}
	}

	srv.registry.RemoveIfEmpty(key)
	s.sendFrame(mustFrame(actionChannelDeleted, channelPayload{ChannelID: key.String()}))
	srv.broadcastChannelList()
	srv.notifyStats(key)
}

// handleAdminGetSubscribers replies the mapping channelKey -> subscriber
// list for every live channel.
func (srv *Server) handleAdminGetSubscribers(s *Session) {
	if !srv.requireAdmin(s) {
		return
	}
	out := make(map[string][]subscriberInfo)
	for _, key := range srv.registry.SnapshotChannelKeys() {
		var subs []subscriberInfo
		srv.registry.WithChannel(key, func(c *registry.Channel) {
			for id, entry := range c.Consumers {
				subs = append(subs, subscriberInfo{ID: id, DisplayName: entry.DisplayName})
			}
		})
		out[key.String()] = subs
	}
	s.sendFrame(mustFrame(actionChannelsSubscribers, out))
}

// handleAdminRemoveSubscriber closes the matched consumer's transport,
// notifies its client with forced-disconnect, and removes the entry.
func (srv *Server) handleAdminRemoveSubscriber(s *Session, data json.RawMessage) {
	if !srv.requireAdmin(s) {
		return
	}
	var p removeSubscriberPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ChannelID == "" || p.ConsumerID == "" {
		s.sendError("admin-remove-subscriber requires channelId and consumerId")
		return
	}
	key := parseChannelID(p.ChannelID)

	var entry *registry.ConsumerEntry
	srv.registry.WithChannel(key, func(c *registry.Channel) {
		entry = c.Consumers[p.ConsumerID]
		delete(c.Consumers, p.ConsumerID)
	})
	if entry == nil {
		s.sendError("unknown consumer")
		return
	}
	_ = entry.SFUConsumer.Close()
	_ = entry.SFUTransport.Close()
	if listener, ok := srv.sessionByID(entry.SubscribingClientID); ok {
		listener.untrackConsumer(p.ConsumerID)
		listener.sendFrame(mustFrame(actionForcedDisconnect, channelPayload{ChannelID: key.String()}))
	}

	srv.registry.RemoveIfEmpty(key)
	s.sendFrame(mustFrame(actionSubscriberRemoved, removeSubscriberPayload{ChannelID: key.String(), ConsumerID: p.ConsumerID}))
	srv.notifyPublishersListenerCount(key)
	srv.notifyStats(key)
}

// handleAdminChangePublisherChannel moves a producer entry between
// channels: consumers of the producer in the old channel are closed and
// notified, the entry moves with its producer id unchanged, and listeners
// already in the new channel get a synthesized consumer each. Moves are
// serialized so two concurrent moves of the same publisher cannot
// interleave their old/new channel mutations.
func (srv *Server) handleAdminChangePublisherChannel(s *Session, data json.RawMessage) {
	if !srv.requireAdmin(s) {
		return
	}
	var p changePublisherPayload
	if err := json.Unmarshal(data, &p); err != nil || p.PublisherID == "" || p.NewChannelID == "" {
		s.sendError("admin-change-publisher-channel requires publisherId and newChannelId")
		return
	}

	srv.moveMu.Lock()
	defer srv.moveMu.Unlock()

	newKey := parseChannelID(p.NewChannelID)
	oldKey, entry := srv.findProducer(p.PublisherID)
	if entry == nil {
		s.sendError("unknown publisher")
		return
	}
	if oldKey == newKey {
		s.sendFrame(mustFrame(actionAdminChannelChanged, changePublisherPayload{PublisherID: p.PublisherID, NewChannelID: newKey.String()}))
		return
	}

	// (a) consumers of this producer in the old channel end first
	srv.closeConsumersOfProducer(oldKey, p.PublisherID)

	// (b) the entry moves, producer id stable across the move
	srv.registry.WithChannel(oldKey, func(c *registry.Channel) {
		delete(c.Producers, p.PublisherID)
	})
	srv.registry.WithChannel(newKey, func(c *registry.Channel) {
		c.Producers[p.PublisherID] = entry
	})
	if owner, ok := srv.sessionByID(entry.OwningClientID); ok {
		owner.mu.Lock()
		owner.channelKey = newKey
		owner.mu.Unlock()
	}

	// (c) listeners already in the new channel with known capabilities get
	// a synthesized consumer each
	srv.fanOutNewProducer(newKey, p.PublisherID, entry.SFUProducer)

	srv.registry.RemoveIfEmpty(oldKey)
	s.sendFrame(mustFrame(actionAdminChannelChanged, changePublisherPayload{PublisherID: p.PublisherID, NewChannelID: newKey.String()}))
	srv.broadcastChannelList()
	srv.notifyPublishersListenerCount(oldKey)
	srv.notifyPublishersListenerCount(newKey)
	srv.notifyStats(oldKey)
	srv.notifyStats(newKey)
	srv.log.Info("publisher moved between channels",
		zap.String("producer_id", p.PublisherID),
		zap.String("from", oldKey.String()),
		zap.String("to", newKey.String()))
}

// findProducer locates the channel currently holding producerID.
func (srv *Server) findProducer(producerID string) (registry.Key, *registry.ProducerEntry) {
	for _, key := range srv.registry.SnapshotChannelKeys() {
		var found *registry.ProducerEntry
		srv.registry.WithChannel(key, func(c *registry.Channel) {
			found = c.Producers[producerID]
		})
		if found != nil {
			return key, found
		}
	}
	return registry.Key{}, nil
}
