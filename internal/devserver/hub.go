package devserver

import (
	"context"
	"fmt"
	"log"
	"slices"
	"time"

	"go-chat-lobby/internal/chat"
)

// Hub is the central router. Its Run loop is the only goroutine that touches
// rooms or a client's Username, so neither needs a lock.
type Hub struct {
	rooms map[string]map[*Client]struct{}
	seq   uint64

	register   chan *Client
	unregister chan *Client
	publish    chan chatRequest
	rename     chan renameRequest
	done       chan struct{}

	relay  Relay
	now    func() time.Time
	logger *log.Logger
}

type chatRequest struct {
	client *Client
	text   string
}

type renameRequest struct {
	client   *Client
	username string
}

type HubOption func(*Hub)

// WithRelay routes room frames through r instead of delivering them locally.
func WithRelay(r Relay) HubOption {
	return func(h *Hub) { h.relay = r }
}

func WithHubLogger(l *log.Logger) HubOption {
	return func(h *Hub) { h.logger = l }
}

func WithHubClock(now func() time.Time) HubOption {
	return func(h *Hub) { h.now = now }
}

func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		rooms:      make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		publish:    make(chan chatRequest),
		rename:     make(chan renameRequest),
		done:       make(chan struct{}),
		now:        time.Now,
		logger:     log.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run serves the hub until ctx ends. Clients still connected at that point
// have their send channels closed, which ends their write pumps.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	var inbound <-chan RoomMessage
	if h.relay != nil {
		inbound = h.relay.Subscribe(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			for _, room := range h.rooms {
				for c := range room {
					close(c.send)
				}
			}
			h.rooms = nil
			return

		case c := <-h.register:
			h.handleRegister(ctx, c)

		case c := <-h.unregister:
			h.handleUnregister(ctx, c)

		case req := <-h.publish:
			h.handleChat(ctx, req)

		case req := <-h.rename:
			h.handleRename(ctx, req)

		case msg, ok := <-inbound:
			if !ok {
				inbound = nil
				continue
			}
			h.broadcastData(msg.Room, msg.Data)
		}
	}
}

// Register, Unregister, Chat and Rename give up once Run has returned.

func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) Chat(c *Client, text string) {
	select {
	case h.publish <- chatRequest{client: c, text: text}:
	case <-h.done:
	}
}

func (h *Hub) Rename(c *Client, username string) {
	select {
	case h.rename <- renameRequest{client: c, username: username}:
	case <-h.done:
	}
}

func (h *Hub) handleRegister(ctx context.Context, c *Client) {
	if h.rooms[c.RoomID] == nil {
		h.rooms[c.RoomID] = make(map[*Client]struct{})
	}
	h.seq++
	c.joined = h.seq
	h.rooms[c.RoomID][c] = struct{}{}

	h.broadcastUserList(ctx, c.RoomID)
	h.notify(ctx, c.RoomID, fmt.Sprintf("%s has joined Room %s", c.Username, c.RoomID))
	h.logger.Printf("👋 %s has joined Room %s", c.Username, c.RoomID)
}

func (h *Hub) handleUnregister(ctx context.Context, c *Client) {
	room := h.rooms[c.RoomID]
	if _, ok := room[c]; !ok {
		// Already dropped as a slow consumer.
		return
	}
	delete(room, c)
	close(c.send)

	if len(room) == 0 {
		delete(h.rooms, c.RoomID)
		h.logger.Printf("🧹 Deleted empty Room %s", c.RoomID)
		return
	}
	h.notify(ctx, c.RoomID, fmt.Sprintf("%s has left Room %s", c.Username, c.RoomID))
	h.broadcastUserList(ctx, c.RoomID)
}

func (h *Hub) handleChat(ctx context.Context, req chatRequest) {
	c := req.client
	if _, ok := h.rooms[c.RoomID][c]; !ok {
		return
	}
	h.logger.Printf("(Room %s) %s: %s", c.RoomID, c.Username, req.text)
	h.publishPayload(ctx, c.RoomID, chat.ChatPayload{
		SenderID:       c.ID,
		SenderUsername: c.Username,
		Text:           req.text,
		Time:           h.now().UTC(),
	})
}

// handleRename only changes what the room sees; storing the name is the
// update-username endpoint's job.
func (h *Hub) handleRename(ctx context.Context, req renameRequest) {
	c := req.client
	if _, ok := h.rooms[c.RoomID][c]; !ok {
		return
	}
	c.Username = req.username
	h.broadcastUserList(ctx, c.RoomID)
}

func (h *Hub) notify(ctx context.Context, roomID, text string) {
	h.publishPayload(ctx, roomID, chat.ChatPayload{
		SenderID:       chat.NotificationSender,
		SenderUsername: chat.NotificationSender,
		Text:           text,
		Time:           h.now().UTC(),
	})
}

// broadcastUserList sends the room's members in join order.
func (h *Hub) broadcastUserList(ctx context.Context, roomID string) {
	room := h.rooms[roomID]
	members := make([]*Client, 0, len(room))
	for c := range room {
		members = append(members, c)
	}
	slices.SortFunc(members, func(a, b *Client) int {
		switch {
		case a.joined < b.joined:
			return -1
		case a.joined > b.joined:
			return 1
		}
		return 0
	})

	users := make([]chat.User, 0, len(members))
	for _, c := range members {
		users = append(users, chat.User{ID: c.ID, Username: c.Username})
	}
	h.publishPayload(ctx, roomID, chat.UserListPayload{Users: users})
}

func (h *Hub) publishPayload(ctx context.Context, roomID string, p chat.Payload) {
	data, err := chat.Encode(chat.NewEnvelope(p))
	if err != nil {
		h.logger.Printf("❌ Encode %s: %v", p.MessageType(), err)
		return
	}
	if h.relay == nil {
		h.broadcastData(roomID, data)
		return
	}
	if err := h.relay.Publish(ctx, RoomMessage{Room: roomID, Data: data}); err != nil {
		h.logger.Printf("❌ Relay publish error: %v", err)
	}
}

// broadcastData pushes data to every client in the room. A client whose
// buffer is full is dropped.
func (h *Hub) broadcastData(roomID string, data []byte) {
	room := h.rooms[roomID]
	for c := range room {
		select {
		case c.send <- data:
		default:
			close(c.send)
			delete(room, c)
		}
	}
}
