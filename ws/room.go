package ws

import (
	"github.com/google/uuid"
)

type RoomKind int

const (
	RoomKindUser RoomKind = iota + 1
	RoomKindConversation
)

// RoomID identifies a broadcast group. Using a value type instead of
// concatenated strings keeps user and conversation rooms in separate
// namespaces.
type RoomID struct {
	Kind RoomKind
	ID   uuid.UUID
}

// UserRoom is the personal room every connection of a user joins on
// connect; events addressed to the user (not a conversation) land
// here.
func UserRoom(userID uuid.UUID) RoomID {
	return RoomID{Kind: RoomKindUser, ID: userID}
}

// ConversationRoom is joined explicitly by authorized participants.
func ConversationRoom(conversationID uuid.UUID) RoomID {
	return RoomID{Kind: RoomKindConversation, ID: conversationID}
}

func (r RoomID) String() string {
	switch r.Kind {
	case RoomKindUser:
		return "user:" + r.ID.String()
	case RoomKindConversation:
		return "conversation:" + r.ID.String()
	}
	return "unknown:" + r.ID.String()
}
