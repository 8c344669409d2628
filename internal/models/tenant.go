package models

import (
	"time"

	"github.com/google/uuid"
)

// Tenant represents an authenticated organization owning rooms, publishers,
// recordings, and their transcripts.
type Tenant struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	APIKeyHash string    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}
