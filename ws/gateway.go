package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/techagentng/servicelink/config"
	"github.com/techagentng/servicelink/models"
	"github.com/techagentng/servicelink/services"
	jwtPackage "github.com/techagentng/servicelink/services/jwt"
)

// Gateway is the per-connection protocol handler: it authenticates
// the handshake, relays client events into the chat service and fans
// resulting state changes out to the hub's rooms.
type Gateway struct {
	hub         *Hub
	chatService services.ChatService
	config      *config.Config
	upgrader    websocket.Upgrader
}

func NewGateway(hub *Hub, chatService services.ChatService, conf *config.Config) *Gateway {
	return &Gateway{
		hub:         hub,
		chatService: chatService,
		config:      conf,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (g *Gateway) Hub() *Hub {
	return g.hub
}

// ServeWS upgrades the request and runs the connection. A connection
// that fails authentication gets an error event and is closed; it is
// the only case where a failure terminates the transport.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	socket, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v", err)
		return
	}

	userID, err := g.authenticate(r)
	if err != nil {
		log.Printf("websocket authentication failed: %v", err)
		if payload, encErr := encodeEvent(EventError, ErrorPayload{
			Event:   EventConnected,
			Message: "authentication failed",
		}); encErr == nil {
			socket.WriteMessage(websocket.TextMessage, payload)
		}
		socket.Close()
		return
	}

	client := newClient(userID, socket)
	g.hub.Register(client)

	go client.writePump()
	g.emit(client, EventConnected, ConnectedPayload{
		UserID:  userID,
		Message: "connected to chat",
	})
	go client.readPump(g)
}

// authenticate pulls the bearer credential from the handshake, trying
// the Authorization header first and the token query parameter as a
// fallback.
func (g *Gateway) authenticate(r *http.Request) (uuid.UUID, error) {
	token := ""
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		token = strings.TrimPrefix(authHeader, "Bearer ")
	}
	if token == "" {
		token = r.URL.Query().Get("token")
	}

	claims, err := jwtPackage.ValidateAndGetClaims(token, g.config.JWTSecret)
	if err != nil {
		return uuid.Nil, err
	}
	return jwtPackage.UserIDFromClaims(claims)
}

// dispatch routes one inbound frame. Handler failures stay scoped to
// the offending connection as error events; they never tear down the
// transport.
func (g *Gateway) dispatch(c *Client, raw []byte) {
	var envelope Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		g.emitError(c, "", "invalid payload")
		return
	}

	switch envelope.Event {
	case EventSendMessage:
		g.handleSendMessage(c, envelope.Data)
	case EventJoinRoom:
		g.handleJoinRoom(c, envelope.Data)
	case EventLeaveRoom:
		g.handleLeaveRoom(c, envelope.Data)
	case EventTyping:
		g.handleTyping(c, envelope.Data)
	case EventMarkAsRead:
		g.handleMarkAsRead(c, envelope.Data)
	default:
		g.emitError(c, envelope.Event, "unknown event")
	}
}

func (g *Gateway) handleSendMessage(c *Client, data json.RawMessage) {
	var req models.SendMessageRequest
	if err := json.Unmarshal(data, &req); err != nil || req.ConversationID == uuid.Nil {
		g.emitError(c, EventSendMessage, "invalid payload")
		return
	}

	message, apiErr := g.chatService.SendMessage(c.UserID, &req)
	if apiErr != nil {
		g.emitError(c, EventSendMessage, apiErr.Message)
		return
	}

	// the whole conversation room sees the message; the receiver's
	// personal room gets a list-refresh nudge even if they never
	// joined this conversation's room
	g.broadcast(ConversationRoom(message.ConversationID), EventNewMessage, message)
	g.broadcast(UserRoom(message.ReceiverID), EventConversationUpdated, ConversationUpdatedPayload{
		ConversationID: message.ConversationID,
		LastMessage:    message,
	})
	g.emit(c, EventMessageSent, message)
}

func (g *Gateway) handleJoinRoom(c *Client, data json.RawMessage) {
	var req RoomPayload
	if err := json.Unmarshal(data, &req); err != nil || req.ConversationID == uuid.Nil {
		g.emitError(c, EventJoinRoom, "invalid payload")
		return
	}

	isParticipant, apiErr := g.chatService.IsParticipant(req.ConversationID, c.UserID)
	if apiErr != nil {
		g.emitError(c, EventJoinRoom, apiErr.Message)
		return
	}
	if !isParticipant {
		g.emitError(c, EventJoinRoom, "you are not a participant of this conversation")
		return
	}

	g.hub.Join(c, ConversationRoom(req.ConversationID))
	g.emit(c, EventJoinedRoom, req)
}

func (g *Gateway) handleLeaveRoom(c *Client, data json.RawMessage) {
	var req RoomPayload
	if err := json.Unmarshal(data, &req); err != nil || req.ConversationID == uuid.Nil {
		g.emitError(c, EventLeaveRoom, "invalid payload")
		return
	}

	g.hub.Leave(c, ConversationRoom(req.ConversationID))
	g.emit(c, EventLeftRoom, req)
}

// handleTyping relays a best-effort signal to the other side of the
// room; nothing is persisted and delivery is not guaranteed.
func (g *Gateway) handleTyping(c *Client, data json.RawMessage) {
	var req TypingPayload
	if err := json.Unmarshal(data, &req); err != nil || req.ConversationID == uuid.Nil {
		return
	}

	g.broadcastExcept(ConversationRoom(req.ConversationID), c, EventUserTyping, UserTypingPayload{
		ConversationID: req.ConversationID,
		UserID:         c.UserID,
		IsTyping:       req.IsTyping,
	})
}

func (g *Gateway) handleMarkAsRead(c *Client, data json.RawMessage) {
	var req RoomPayload
	if err := json.Unmarshal(data, &req); err != nil || req.ConversationID == uuid.Nil {
		g.emitError(c, EventMarkAsRead, "invalid payload")
		return
	}

	readAt, apiErr := g.chatService.MarkAsRead(req.ConversationID, c.UserID)
	if apiErr != nil {
		g.emitError(c, EventMarkAsRead, apiErr.Message)
		return
	}

	g.broadcastExcept(ConversationRoom(req.ConversationID), c, EventMessagesRead, MessagesReadPayload{
		ConversationID: req.ConversationID,
		UserID:         c.UserID,
		ReadAt:         readAt,
	})
	g.emit(c, EventMarkedAsRead, req)
}

func (g *Gateway) emit(c *Client, event string, data interface{}) {
	payload, err := encodeEvent(event, data)
	if err != nil {
		log.Printf("encode %s event: %v", event, err)
		return
	}
	g.hub.Send(c, payload)
}

func (g *Gateway) emitError(c *Client, event, message string) {
	g.emit(c, EventError, ErrorPayload{Event: event, Message: message})
}

func (g *Gateway) broadcast(room RoomID, event string, data interface{}) {
	payload, err := encodeEvent(event, data)
	if err != nil {
		log.Printf("encode %s event: %v", event, err)
		return
	}
	g.hub.Broadcast(room, payload)
}

func (g *Gateway) broadcastExcept(room RoomID, except *Client, event string, data interface{}) {
	payload, err := encodeEvent(event, data)
	if err != nil {
		log.Printf("encode %s event: %v", event, err)
		return
	}
	g.hub.BroadcastExcept(room, except, payload)
}
