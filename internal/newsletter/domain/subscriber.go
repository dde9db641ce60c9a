package domain

import (
	"time"

	"github.com/google/uuid"
)

// Subscriber is one entry on a tenant's recipient list.
type Subscriber struct {
	ID             uuid.UUID  `json:"id"`
	TenantID       string     `json:"tenant_id"`
	Email          string     `json:"email"`
	UnsubscribedAt *time.Time `json:"unsubscribed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}
