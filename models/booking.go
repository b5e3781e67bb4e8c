package models

import (
	"github.com/google/uuid"
)

// Booking is owned by the booking service. Conversations only
// reference it to scope a thread to a specific job.
type Booking struct {
	Model
	ClientID   uuid.UUID `gorm:"type:uuid;not null" json:"client_id"`
	ProviderID uuid.UUID `gorm:"type:uuid;not null" json:"provider_id"`
	Status     string    `json:"status"`
}
