package ws

import (
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// send pings to peer with this period; must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// maximum inbound message size
	maxMessageSize = 64 * 1024

	// outbound buffer per connection
	sendBufferSize = 256
)

// Client is one live websocket connection of an authenticated user.
type Client struct {
	UserID uuid.UUID

	socket *websocket.Conn
	send   chan []byte

	// rooms and closed are guarded by the hub mutex
	rooms  map[RoomID]struct{}
	closed bool
}

func newClient(userID uuid.UUID, socket *websocket.Conn) *Client {
	return &Client{
		UserID: userID,
		socket: socket,
		send:   make(chan []byte, sendBufferSize),
		rooms:  make(map[RoomID]struct{}),
	}
}

// readPump reads inbound frames and hands them to the gateway until
// the connection dies, then unregisters the client.
func (c *Client) readPump(g *Gateway) {
	defer func() {
		g.hub.Unregister(c)
		c.socket.Close()
	}()

	c.socket.SetReadLimit(maxMessageSize)
	c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		c.socket.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Printf("read error for user %s: %v", c.UserID, err)
			}
			break
		}
		g.dispatch(c, raw)
	}
}

// writePump drains the send channel onto the socket and keeps the
// connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.socket.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.socket.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

			// flush whatever else is already queued
			n := len(c.send)
			for i := 0; i < n; i++ {
				payload, ok := <-c.send
				if !ok {
					return
				}
				if err := c.socket.WriteMessage(websocket.TextMessage, payload); err != nil {
					return
				}
			}
		case <-ticker.C:
			c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
