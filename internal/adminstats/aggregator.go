// Package adminstats merges in-process channel stats with stats pushed by
// remote SFUs and streams the result to authenticated admin WebSockets:
// a full snapshot on connect, then per-channel diffs.
package adminstats

import (
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-soundcast/core/internal/registry"
)

// Counts is the publisher/subscriber tally for one channel.
type Counts struct {
	Publishers  int `json:"publishers"`
	Subscribers int `json:"subscribers"`
}

// TenantResolver maps a room slug to its owning tenant, scoping which admin
// connections see a channel's stats.
type TenantResolver interface {
	TenantForRoom(roomSlug string) (uuid.UUID, bool)
}

// channelUpdate is the incremental frame pushed after any change. The
// channelName field always carries the short name; roomSlug disambiguates.
type channelUpdate struct {
	RoomSlug    string `json:"roomSlug"`
	ChannelName string `json:"channelName"`
	Publishers  int    `json:"publishers"`
	Subscribers int    `json:"subscribers"`
}

// Aggregator holds the last known stats per source (local plus one map per
// remote SFU connection) and fans diffs out to admin connections.
type Aggregator struct {
	resolver TenantResolver
	log      *zap.Logger

	mu     sync.Mutex
	local  map[string]Counts            // full channel key -> counts
	remote map[string]map[string]Counts // sfu connection id -> channel key -> counts
	admins map[*AdminConn]struct{}
}

// NewAggregator constructs an empty Aggregator.
func NewAggregator(resolver TenantResolver, log *zap.Logger) *Aggregator {
	return &Aggregator{
		resolver: resolver,
		log:      log,
		local:    make(map[string]Counts),
		remote:   make(map[string]map[string]Counts),
		admins:   make(map[*AdminConn]struct{}),
	}
}

// LocalChanged records an in-process channel's new counts and pushes the
// diff. A channel at zero/zero is dropped from the snapshot but the zero
// update is still pushed so admin views clear the row.
func (a *Aggregator) LocalChanged(key registry.Key, counts registry.ChannelCounts) {
	a.mu.Lock()
	keyStr := key.String()
	next := Counts{Publishers: counts.Publishers, Subscribers: counts.Subscribers}
	prev, existed := a.local[keyStr]
	if existed && prev == next {
		a.mu.Unlock()
		return
	}
	if next == (Counts{}) {
		delete(a.local, keyStr)
	} else {
		a.local[keyStr] = next
	}
	targets := a.adminsForLocked(key.RoomSlug)
	a.mu.Unlock()

	a.push(targets, key.RoomSlug, key.ChannelName, next)
}

// RemoteStats ingests one stats-update message from a remote SFU
// connection, pushing a diff for every channel whose counts changed.
func (a *Aggregator) RemoteStats(connID string, channels map[string]Counts) {
	type pending struct {
		roomSlug, channelName string
		counts                Counts
	}
	var updates []pending

	a.mu.Lock()
	last := a.remote[connID]
	if last == nil {
		last = make(map[string]Counts)
	}
	for keyStr, counts := range channels {
		if last[keyStr] != counts {
			slug, name := splitKey(keyStr)
			updates = append(updates, pending{roomSlug: slug, channelName: name, counts: counts})
		}
	}
	for keyStr := range last {
		if _, still := channels[keyStr]; !still {
			slug, name := splitKey(keyStr)
			updates = append(updates, pending{roomSlug: slug, channelName: name})
		}
	}
	a.remote[connID] = channels
	a.mu.Unlock()

	for _, u := range updates {
		a.mu.Lock()
		targets := a.adminsForLocked(u.roomSlug)
		a.mu.Unlock()
		a.push(targets, u.roomSlug, u.channelName, u.counts)
	}
}

// RemoteDisconnected re-pushes every channel the departed SFU had reported
// as zero/zero, then forgets the connection.
func (a *Aggregator) RemoteDisconnected(connID string) {
	a.mu.Lock()
	last := a.remote[connID]
	delete(a.remote, connID)
	a.mu.Unlock()

	for keyStr := range last {
		slug, name := splitKey(keyStr)
		a.mu.Lock()
		targets := a.adminsForLocked(slug)
		a.mu.Unlock()
		a.push(targets, slug, name, Counts{})
	}
}

// snapshotFor builds the full roomSlug -> channelName -> counts mapping an
// admin receives on connect, restricted to rooms its tenant owns.
func (a *Aggregator) snapshotFor(tenantID uuid.UUID) map[string]map[string]Counts {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[string]map[string]Counts)
	add := func(keyStr string, counts Counts) {
		slug, name := splitKey(keyStr)
		owner, ok := a.resolver.TenantForRoom(slug)
		if !ok || owner != tenantID {
			return
		}
		if out[slug] == nil {
			out[slug] = make(map[string]Counts)
		}
		out[slug][name] = counts
	}
	for keyStr, counts := range a.local {
		add(keyStr, counts)
	}
	for _, channels := range a.remote {
		for keyStr, counts := range channels {
			add(keyStr, counts)
		}
	}
	return out
}

func (a *Aggregator) adminsForLocked(roomSlug string) []*AdminConn {
	owner, ok := a.resolver.TenantForRoom(roomSlug)
	if !ok {
		return nil
	}
	var out []*AdminConn
	for conn := range a.admins {
		if conn.tenantID == owner {
			out = append(out, conn)
		}
	}
	return out
}

func (a *Aggregator) push(targets []*AdminConn, roomSlug, channelName string, counts Counts) {
	if len(targets) == 0 {
		return
	}
	update := channelUpdate{
		RoomSlug:    roomSlug,
		ChannelName: channelName,
		Publishers:  counts.Publishers,
		Subscribers: counts.Subscribers,
	}
	for _, conn := range targets {
		conn.send("channel-update", update)
	}
}

func (a *Aggregator) registerAdmin(c *AdminConn) {
	a.mu.Lock()
	a.admins[c] = struct{}{}
	a.mu.Unlock()
}

func (a *Aggregator) unregisterAdmin(c *AdminConn) {
	a.mu.Lock()
	delete(a.admins, c)
	a.mu.Unlock()
}

// splitKey breaks a full channel key "<roomSlug>:<channelName>" apart; a
// bare name maps to an empty room slug.
func splitKey(keyStr string) (roomSlug, channelName string) {
	slug, name, ok := strings.Cut(keyStr, ":")
	if !ok {
		return "", keyStr
	}
	return slug, name
}
