package devserver

import (
	"errors"
	"log"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"go-chat-lobby/internal/chat"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Send pings to peer with this period. Must be less than pongWait.
	maxMessageSize = 8192                // Maximum message size allowed from peer.
)

// Client is a middleman between one websocket connection and the hub.
type Client struct {
	ID     string
	RoomID string
	// Username is owned by the hub's Run loop once the client is registered.
	Username string

	joined uint64
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger *log.Logger
}

func newClient(hub *Hub, conn *websocket.Conn, id, username, roomID string, logger *log.Logger) *Client {
	return &Client{
		ID:       id,
		RoomID:   roomID,
		Username: username,
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, 256),
		logger:   logger,
	}
}

// readPump decodes frames from the peer and hands them to the hub.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Printf("❌ Read error (%s): %v", c.ID, err)
			}
			return
		}

		env, err := chat.Decode(message)
		if err != nil {
			var derr *chat.DecodeError
			if errors.As(err, &derr) {
				c.logger.Printf("⚠️ Dropping frame from %s: %v", c.ID, err)
				continue
			}
			return
		}

		switch p := env.Payload.(type) {
		case chat.ChatPayload:
			if text := strings.TrimSpace(p.Text); text != "" {
				c.hub.Chat(c, text)
			}
		case chat.UsernameUpdatePayload:
			if name := strings.TrimSpace(p.Username); name != "" {
				c.hub.Rename(c, name)
			}
		default:
			c.logger.Printf("⚠️ Unsupported message type %q from %s", env.Type, c.ID)
		}
	}
}

// writePump sends one frame per hub message and pings the peer.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
