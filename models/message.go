package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeImage  MessageType = "image"
	MessageTypeFile   MessageType = "file"
	MessageTypeSystem MessageType = "system"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile, MessageTypeSystem:
		return true
	}
	return false
}

// Message belongs to exactly one conversation. The sequential ID is
// the pagination cursor, so insertion order and ID order must agree.
// Rows are immutable after creation except for the read-state fields
// and the soft-delete flag.
type Message struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	ConversationID uuid.UUID      `gorm:"type:uuid;not null;index" json:"conversation_id"`
	SenderID       uuid.UUID      `gorm:"type:uuid;not null" json:"sender_id"`
	Sender         User           `gorm:"foreignKey:SenderID" json:"sender,omitempty"`
	ReceiverID     uuid.UUID      `gorm:"type:uuid;not null" json:"receiver_id"`
	Content        string         `json:"content"`
	Type           MessageType    `gorm:"type:varchar(16);default:text" json:"type"`
	Attachments    datatypes.JSON `json:"attachments,omitempty"`
	IsRead         bool           `gorm:"default:false" json:"is_read"`
	ReadAt         *time.Time     `json:"read_at,omitempty"`
	IsDeleted      bool           `gorm:"default:false" json:"is_deleted"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Attachment describes a file already uploaded to blob storage; this
// service stores only the reference.
type Attachment struct {
	URL  string `json:"url"`
	Type string `json:"type"`
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// SendMessageRequest is the body of POST /conversations/:id/messages
// and of the sendMessage socket event
type SendMessageRequest struct {
	ConversationID uuid.UUID    `json:"conversation_id"`
	Content        string       `json:"content" binding:"required"`
	Type           MessageType  `json:"type"`
	Attachments    []Attachment `json:"attachments"`
}

// Pagination describes one page of a message history response
type Pagination struct {
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	TotalPages int   `json:"total_pages"`
	HasMore    bool  `json:"has_more"`
	NextCursor uint  `json:"next_cursor,omitempty"`
}

// MessagePage is a chronologically ordered slice of history plus the
// cursor needed to scroll further back
type MessagePage struct {
	Data       []Message  `json:"data"`
	Pagination Pagination `json:"pagination"`
}
