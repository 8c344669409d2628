package models

import (
	"time"

	"github.com/google/uuid"
)

// Room is a tenant-owned broadcast space identified by a globally unique slug.
type Room struct {
	ID             uuid.UUID `json:"id"`
	TenantID       uuid.UUID `json:"tenant_id"`
	Slug           string    `json:"slug"`
	Name           string    `json:"name"`
	IsLocalOnly    bool      `json:"is_local_only"`
	SFUURL         string    `json:"sfu_url"`
	ICEServersJSON string    `json:"ice_servers_json"`
	CreatedAt      time.Time `json:"created_at"`
}

// Publisher is a per-room broadcast identity whose join token is shown once
// and thereafter retained only as a bcrypt hash.
type Publisher struct {
	ID             uuid.UUID `json:"id"`
	RoomID         uuid.UUID `json:"room_id"`
	Name           string    `json:"name"`
	ChannelName    string    `json:"channel_name"`
	SourceLanguage string    `json:"source_language"`
	JoinTokenHash  string    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
}
