package adminstats

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aura-soundcast/core/internal/rooms"
)

// RoomTenantResolver resolves room ownership from the rooms repository,
// caching lookups briefly; stats changes arrive far more often than room
// ownership does.
type RoomTenantResolver struct {
	repo *rooms.Repository
	ttl  time.Duration

	mu    sync.Mutex
	cache map[string]cachedTenant
}

type cachedTenant struct {
	tenantID uuid.UUID
	ok       bool
	fetched  time.Time
}

// NewRoomTenantResolver constructs a resolver over repo.
func NewRoomTenantResolver(repo *rooms.Repository) *RoomTenantResolver {
	return &RoomTenantResolver{
		repo:  repo,
		ttl:   30 * time.Second,
		cache: make(map[string]cachedTenant),
	}
}

// TenantForRoom implements TenantResolver.
func (r *RoomTenantResolver) TenantForRoom(roomSlug string) (uuid.UUID, bool) {
	r.mu.Lock()
	entry, hit := r.cache[roomSlug]
	r.mu.Unlock()
	if hit && time.Since(entry.fetched) < r.ttl {
		return entry.tenantID, entry.ok
	}

	room, err := r.repo.GetBySlug(roomSlug)
	entry = cachedTenant{fetched: time.Now()}
	if err == nil {
		entry.tenantID = room.TenantID
		entry.ok = true
	}
	r.mu.Lock()
	r.cache[roomSlug] = entry
	r.mu.Unlock()
	return entry.tenantID, entry.ok
}
