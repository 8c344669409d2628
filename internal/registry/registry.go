package registry

import "sync"

// Registry is the concurrent map from channel key to Channel described in
// the Channel Registry design: getOrCreate, snapshotChannelKeys, withChannel
// and removeIfEmpty are the only mutation paths any caller should use.
type Registry struct {
	mu       sync.Mutex
	channels map[Key]*entry
}

type entry struct {
	mu      sync.Mutex
	channel *Channel
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{channels: make(map[Key]*entry)}
}

// getOrCreate returns the entry for key, creating it if absent. Holding
// r.mu only for the map lookup/insert keeps this call cheap even while
// another goroutine holds a channel's own lock via WithChannel.
func (r *Registry) getOrCreate(key Key) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.channels[key]
	if !ok {
		e = &entry{channel: newChannel(key)}
		r.channels[key] = e
	}
	return e
}

// SnapshotChannelKeys returns a consistent point-in-time list of live
// channel keys.
func (r *Registry) SnapshotChannelKeys() []Key {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]Key, 0, len(r.channels))
	for k := range r.channels {
		keys = append(keys, k)
	}
	return keys
}

// WithChannel runs fn holding the channel-scoped lock for key, creating the
// channel lazily if it does not already exist. fn must not perform I/O or
// call back into the registry; the lock is released as soon as fn returns,
// with no suspension in between.
func (r *Registry) WithChannel(key Key, fn func(c *Channel)) {
	e := r.getOrCreate(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.channel)
}

// RemoveIfEmpty deletes the channel for key only if it currently has no
// producers and no consumers. Safe to call unconditionally after any
// producer-end or consumer-end path.
func (r *Registry) RemoveIfEmpty(key Key) {
	e := r.getOrCreate(key)
	e.mu.Lock()
	empty := e.channel.IsEmpty()
	e.mu.Unlock()
	if !empty {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.channels[key]; ok && cur == e {
		cur.mu.Lock()
		stillEmpty := cur.channel.IsEmpty()
		cur.mu.Unlock()
		if stillEmpty {
			delete(r.channels, key)
		}
	}
}

// Exists reports whether a channel currently exists for key without
// creating one.
func (r *Registry) Exists(key Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.channels[key]
	return ok
}

// Snapshot returns a shallow copy of channel counts (producers, consumers)
// for every live channel, used by the stats aggregator.
func (r *Registry) Snapshot() map[Key]ChannelCounts {
	keys := r.SnapshotChannelKeys()
	out := make(map[Key]ChannelCounts, len(keys))
	for _, k := range keys {
		r.WithChannel(k, func(c *Channel) {
			out[k] = ChannelCounts{
				Publishers:  len(c.Producers),
				Subscribers: uniqueSubscribers(c),
			}
		})
	}
	return out
}

// CountsFor returns the tally for a single channel without creating it;
// ok is false when no channel exists for key.
func (r *Registry) CountsFor(key Key) (ChannelCounts, bool) {
	r.mu.Lock()
	e, ok := r.channels[key]
	r.mu.Unlock()
	if !ok {
		return ChannelCounts{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return ChannelCounts{
		Publishers:  len(e.channel.Producers),
		Subscribers: uniqueSubscribers(e.channel),
	}, true
}

// ChannelCounts is the publisher/subscriber tally for one channel.
type ChannelCounts struct {
	Publishers  int
	Subscribers int
}

func uniqueSubscribers(c *Channel) int {
	seen := make(map[string]struct{}, len(c.Consumers))
	for _, ce := range c.Consumers {
		seen[ce.SubscribingClientID] = struct{}{}
	}
	return len(seen)
}
