package ws

import (
	"log"
	"sync"

	"github.com/google/uuid"
)

// Hub is the process-local connection registry: which users are live,
// over which connections, and which rooms each connection joined.
// All methods are safe for concurrent use from connection handlers.
// Presence is best effort and vanishes with the process.
type Hub struct {
	mu          sync.RWMutex
	connections map[uuid.UUID]map[*Client]struct{}
	rooms       map[RoomID]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{
		connections: make(map[uuid.UUID]map[*Client]struct{}),
		rooms:       make(map[RoomID]map[*Client]struct{}),
	}
}

// Register adds an authenticated connection and joins it to the
// user's personal room.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.connections[c.UserID] == nil {
		h.connections[c.UserID] = make(map[*Client]struct{})
	}
	h.connections[c.UserID][c] = struct{}{}
	h.joinLocked(c, UserRoom(c.UserID))
	log.Printf("user %s connected (%d connections)", c.UserID, len(h.connections[c.UserID]))
}

// Unregister removes the connection from the registry and every room
// it joined. Dropping the last connection drops the user entry.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(c)
}

func (h *Hub) Join(c *Client, room RoomID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.joinLocked(c, room)
}

func (h *Hub) Leave(c *Client, room RoomID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, room)
}

func (h *Hub) IsOnline(userID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[userID]) > 0
}

// ConnectionsOf returns the live connections of a user; a user may be
// connected from several devices at once.
func (h *Hub) ConnectionsOf(userID uuid.UUID) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients := make([]*Client, 0, len(h.connections[userID]))
	for c := range h.connections[userID] {
		clients = append(clients, c)
	}
	return clients
}

// Broadcast delivers the payload to every connection in the room.
func (h *Hub) Broadcast(room RoomID, payload []byte) {
	h.BroadcastExcept(room, nil, payload)
}

// BroadcastExcept delivers to every connection in the room but the
// given one. A connection that cannot keep up, or that is racing a
// disconnect, is dropped rather than blocked on; losing delivery to a
// dying socket is expected, not an error.
func (h *Hub) BroadcastExcept(room RoomID, except *Client, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.rooms[room] {
		if c == except {
			continue
		}
		h.sendLocked(c, payload)
	}
}

// Send delivers the payload to a single connection.
func (h *Hub) Send(c *Client, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sendLocked(c, payload)
}

func (h *Hub) joinLocked(c *Client, room RoomID) {
	if c.closed {
		return
	}
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Client]struct{})
	}
	h.rooms[room][c] = struct{}{}
	c.rooms[room] = struct{}{}
}

func (h *Hub) leaveLocked(c *Client, room RoomID) {
	delete(c.rooms, room)
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

func (h *Hub) sendLocked(c *Client, payload []byte) {
	if c.closed {
		return
	}
	select {
	case c.send <- payload:
	default:
		log.Printf("dropping slow connection of user %s", c.UserID)
		h.dropLocked(c)
	}
}

func (h *Hub) dropLocked(c *Client) {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)

	for room := range c.rooms {
		h.leaveLocked(c, room)
	}

	if conns, ok := h.connections[c.UserID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.connections, c.UserID)
		}
	}
	log.Printf("user %s disconnected", c.UserID)
}
