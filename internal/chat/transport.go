package chat

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second // Time allowed to write a message to the hub.
	pongWait       = 60 * time.Second // Time allowed between pings from the hub.
	maxMessageSize = 1 << 20          // Userlists grow with the room; the hub only caps what clients send it.
	dialTimeout    = 10 * time.Second // Default handshake timeout.
	roomParam      = "room_id"
)

// Transport opens realtime connections bound to a room.
type Transport interface {
	Dial(ctx context.Context, roomID string) (Conn, error)
}

// Conn is one open realtime connection. ReadMessage is called from a single
// goroutine; WriteMessage and Close may be called concurrently with it.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close(code int, reason string) error
}

// WSTransport dials the hub's websocket endpoint. The session cookies in Jar
// authenticate the upgrade request.
type WSTransport struct {
	HubURL string // e.g. ws://localhost:8080/ws
	Jar    http.CookieJar
	// HandshakeTimeout defaults to 10s.
	HandshakeTimeout time.Duration
}

func (t *WSTransport) Dial(ctx context.Context, roomID string) (Conn, error) {
	u, err := url.Parse(t.HubURL)
	if err != nil {
		return nil, fmt.Errorf("parse hub url: %w", err)
	}
	q := u.Query()
	q.Set(roomParam, roomID)
	u.RawQuery = q.Encode()

	timeout := t.HandshakeTimeout
	if timeout == 0 {
		timeout = dialTimeout
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
		Jar:              t.Jar,
	}

	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("handshake failed (%s): %w", resp.Status, err)
		}
		return nil, err
	}
	return newWSConn(conn), nil
}

type wsConn struct {
	conn *websocket.Conn
	// gorilla allows one concurrent writer.
	writeMu sync.Mutex
}

func newWSConn(conn *websocket.Conn) *wsConn {
	c := &wsConn{conn: conn}

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	// The hub pings every ~54s. Each ping extends the read deadline and is
	// answered with a pong.
	c.conn.SetPingHandler(func(appData string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		err := c.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})
	return c
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, message, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	return message, nil
}

func (c *wsConn) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close frame with code, then drops the socket. The frame is
// best effort: a broken connection is closed all the same.
func (c *wsConn) Close(code int, reason string) error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
	c.writeMu.Unlock()
	return c.conn.Close()
}

// isNormalClosure separates intentional closes from failures for logging.
func isNormalClosure(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
