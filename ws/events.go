package ws

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/techagentng/servicelink/models"
)

// Inbound event names
const (
	EventSendMessage = "sendMessage"
	EventJoinRoom    = "joinRoom"
	EventLeaveRoom   = "leaveRoom"
	EventTyping      = "typing"
	EventMarkAsRead  = "markAsRead"
)

// Outbound event names
const (
	EventConnected           = "connected"
	EventNewMessage          = "newMessage"
	EventMessageSent         = "messageSent"
	EventJoinedRoom          = "joinedRoom"
	EventLeftRoom            = "leftRoom"
	EventConversationUpdated = "conversationUpdated"
	EventMessagesRead        = "messagesRead"
	EventMarkedAsRead        = "markedAsRead"
	EventUserTyping          = "userTyping"
	EventError               = "error"
)

// Envelope is the wire frame for every event in both directions
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func encodeEvent(event string, data interface{}) ([]byte, error) {
	var raw json.RawMessage
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		raw = encoded
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

type ConnectedPayload struct {
	UserID  uuid.UUID `json:"user_id"`
	Message string    `json:"message"`
}

type RoomPayload struct {
	ConversationID uuid.UUID `json:"conversation_id"`
}

type TypingPayload struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	IsTyping       bool      `json:"is_typing"`
}

type UserTypingPayload struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	UserID         uuid.UUID `json:"user_id"`
	IsTyping       bool      `json:"is_typing"`
}

type ConversationUpdatedPayload struct {
	ConversationID uuid.UUID       `json:"conversation_id"`
	LastMessage    *models.Message `json:"last_message"`
}

type MessagesReadPayload struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	UserID         uuid.UUID `json:"user_id"`
	ReadAt         time.Time `json:"read_at"`
}

// ErrorPayload names the inbound event that failed; it is only ever
// sent to the offending connection.
type ErrorPayload struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}
