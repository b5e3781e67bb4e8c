package models

import (
	"time"

	"github.com/google/uuid"
)

// Conversation is a two-party message thread, optionally scoped to a
// booking. LastMessage/LastMessageAt are denormalized for list views
// and updated inside the same transaction that inserts a message.
type Conversation struct {
	Model
	BookingID     *uuid.UUID                `gorm:"type:uuid;index" json:"booking_id,omitempty"`
	LastMessage   string                    `json:"last_message"`
	LastMessageAt *time.Time                `json:"last_message_at,omitempty"`
	Participants  []ConversationParticipant `gorm:"foreignKey:ConversationID" json:"participants,omitempty"`
}

// ConversationParticipant carries the per-user state of a
// conversation. Exactly two rows exist per conversation.
type ConversationParticipant struct {
	Model
	ConversationID uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_conversation_user" json:"conversation_id"`
	UserID         uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_conversation_user" json:"user_id"`
	User           User       `gorm:"foreignKey:UserID" json:"user,omitempty"`
	UnreadCount    int        `gorm:"default:0" json:"unread_count"`
	IsMuted        bool       `gorm:"default:false" json:"is_muted"`
	IsArchived     bool       `gorm:"default:false" json:"is_archived"`
	LastReadAt     *time.Time `json:"last_read_at,omitempty"`
}

// ConversationSummary is one entry in a user's conversation list,
// annotated with the caller-specific participant state and the other
// user's public profile.
type ConversationSummary struct {
	ID            uuid.UUID  `json:"id"`
	BookingID     *uuid.UUID `json:"booking_id,omitempty"`
	LastMessage   *Message   `json:"last_message,omitempty"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	UnreadCount   int        `json:"unread_count"`
	IsMuted       bool       `json:"is_muted"`
	IsArchived    bool       `json:"is_archived"`
	OtherUser     PublicUser `json:"other_user"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// CreateConversationRequest is the body of POST /conversations
type CreateConversationRequest struct {
	ParticipantID  uuid.UUID  `json:"participant_id" binding:"required"`
	BookingID      *uuid.UUID `json:"booking_id"`
	InitialMessage string     `json:"initial_message"`
}
