package chat

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/gorilla/websocket"
)

// HandlerFunc receives decoded envelopes of a single type.
type HandlerFunc func(Envelope)

// Hooks are the manager's external observers. Both are optional and are
// never called with the manager's lock held.
type Hooks struct {
	// OnRoomChange fires when Connect binds to a new room.
	OnRoomChange func(roomID string)
	// OnStateChange fires on every connection state transition.
	OnStateChange func(StateChange)
}

type Option func(*Manager)

func WithLogger(l *log.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

func WithHooks(h Hooks) Option {
	return func(m *Manager) { m.hooks = h }
}

type connection struct {
	room   string
	state  State
	epoch  uint64
	conn   Conn // nil while dialing
	cancel context.CancelFunc
}

// Manager owns the single live room connection and routes inbound frames
// to the handler registered for their type.
type Manager struct {
	transport Transport
	hooks     Hooks
	logger    *log.Logger

	// mu guards current, last and epoch. current is nil or a live
	// connection. epoch counts Connect and Disconnect calls.
	mu      sync.Mutex
	current *connection
	last    State
	epoch   uint64

	handlersMu sync.RWMutex
	handlers   map[MessageType]HandlerFunc

	// dispatchMu runs handlers one at a time.
	dispatchMu sync.Mutex
}

func NewManager(t Transport, opts ...Option) *Manager {
	m := &Manager{
		transport: t,
		logger:    log.Default(),
		handlers:  make(map[MessageType]HandlerFunc),
		last:      Idle,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the state of the current connection, or of the last one
// once it is gone.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		return m.current.state
	}
	return m.last
}

// Room returns the room of the live connection, or "" when there is none.
func (m *Manager) Room() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		return m.current.room
	}
	return ""
}

// Connect closes any live connection with a normal closure and then opens
// one to roomID. It blocks until the new connection is open or has failed.
// A Connect or Disconnect issued while this one is dialing cancels the dial
// and makes it return ErrSuperseded.
func (m *Manager) Connect(ctx context.Context, roomID string) error {
	m.mu.Lock()
	m.epoch++
	return m.connectLocked(ctx, roomID)
}

// Redial is Connect on behalf of a reconnect policy. It returns
// ErrSuperseded without touching the channel when Connect or Disconnect has
// been called since the connection of the given epoch was opened.
func (m *Manager) Redial(ctx context.Context, roomID string, epoch uint64) error {
	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		return ErrSuperseded
	}
	return m.connectLocked(ctx, roomID)
}

// connectLocked is called with m.mu held and releases it.
func (m *Manager) connectLocked(ctx context.Context, roomID string) error {
	old := m.detachLocked()
	dctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c := &connection{room: roomID, state: Connecting, epoch: m.epoch, cancel: cancel}
	m.current = c
	m.mu.Unlock()

	m.emit(append(m.shut(old), StateChange{Room: roomID, State: Connecting, Epoch: c.epoch})...)
	if m.hooks.OnRoomChange != nil {
		m.hooks.OnRoomChange(roomID)
	}

	conn, err := m.transport.Dial(dctx, roomID)

	m.mu.Lock()
	if m.current != c {
		m.mu.Unlock()
		if err == nil {
			conn.Close(websocket.CloseNormalClosure, "")
		}
		return ErrSuperseded
	}
	if err != nil {
		c.state = Closed
		m.current = nil
		m.last = Closed
		m.mu.Unlock()

		terr := &TransportError{Op: "connect", Room: roomID, Err: err}
		m.logger.Printf("websocket error: %v", terr)
		m.emit(
			StateChange{Room: roomID, State: Error, Err: terr, Epoch: c.epoch},
			StateChange{Room: roomID, State: Closed, Epoch: c.epoch},
		)
		return terr
	}
	c.conn = conn
	c.state = Open
	m.mu.Unlock()

	m.logger.Printf("websocket connected to room %s", roomID)
	m.emit(StateChange{Room: roomID, State: Open, Epoch: c.epoch})

	go m.readLoop(c)
	return nil
}

// Disconnect closes the live connection, if any, with a normal closure.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.epoch++
	old := m.detachLocked()
	m.mu.Unlock()
	m.emit(m.shut(old)...)
}

// detachLocked discards the live connection and cancels its dial if one is
// pending. Frames read from it afterwards are dropped by the read loop. The
// caller closes the socket with shut once m.mu is released.
func (m *Manager) detachLocked() *connection {
	c := m.current
	if c == nil {
		return nil
	}
	m.current = nil
	m.last = Closed
	c.state = Closed
	c.cancel()
	return c
}

// shut closes the socket of a detached connection. A connection detached
// while dialing has no socket yet; its Connect closes it when the dial
// returns.
func (m *Manager) shut(c *connection) []StateChange {
	if c == nil {
		return nil
	}
	if c.conn != nil {
		if err := c.conn.Close(websocket.CloseNormalClosure, ""); err != nil {
			m.logger.Printf("close room %s: %v", c.room, err)
		}
	}
	return []StateChange{
		{Room: c.room, State: Closing, Epoch: c.epoch},
		{Room: c.room, State: Closed, Epoch: c.epoch},
	}
}

// Send transmits p on the open connection. While not open the message is
// dropped and ErrNotOpen returned; nothing is queued.
func (m *Manager) Send(p Payload) error {
	if p == nil {
		return ErrUnsupportedType
	}
	data, err := Encode(NewEnvelope(p))
	if err != nil {
		return err
	}

	m.mu.Lock()
	var (
		conn  Conn
		room  string
		state = m.last
	)
	if c := m.current; c != nil {
		state = c.state
		if c.state == Open {
			conn, room = c.conn, c.room
		}
	}
	m.mu.Unlock()

	if conn == nil {
		m.logger.Printf("websocket not ready to send (%s), dropping %s message", state, p.MessageType())
		return ErrNotOpen
	}
	if err := conn.WriteMessage(data); err != nil {
		return &TransportError{Op: "send", Room: room, Err: err}
	}
	return nil
}

func (m *Manager) SendChat(text string) error {
	return m.Send(ChatPayload{Text: text})
}

func (m *Manager) SendUsernameUpdate(username string) error {
	return m.Send(UsernameUpdatePayload{Username: username})
}

// Handle registers h for t. A later registration for the same type
// replaces the earlier one; a nil h removes it.
func (m *Manager) Handle(t MessageType, h HandlerFunc) error {
	if !t.Known() {
		return fmt.Errorf("%w: %q", ErrUnsupportedType, t)
	}
	m.handlersMu.Lock()
	defer m.handlersMu.Unlock()
	if h == nil {
		delete(m.handlers, t)
		return nil
	}
	m.handlers[t] = h
	return nil
}

func (m *Manager) OnChat(fn func(ChatPayload)) {
	m.Handle(Chat, func(env Envelope) { fn(env.Payload.(ChatPayload)) })
}

func (m *Manager) OnUserList(fn func(UserListPayload)) {
	m.Handle(UserList, func(env Envelope) { fn(env.Payload.(UserListPayload)) })
}

func (m *Manager) OnUsernameUpdate(fn func(UsernameUpdatePayload)) {
	m.Handle(UsernameUpdate, func(env Envelope) { fn(env.Payload.(UsernameUpdatePayload)) })
}

func (m *Manager) readLoop(c *connection) {
	for {
		data, err := c.conn.ReadMessage()
		if err != nil {
			m.handleReadError(c, err)
			return
		}
		if !m.isCurrent(c) {
			return
		}
		m.dispatch(data)
	}
}

func (m *Manager) isCurrent(c *connection) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current == c
}

func (m *Manager) handleReadError(c *connection, err error) {
	m.mu.Lock()
	if m.current != c {
		// Closed locally by Connect or Disconnect.
		m.mu.Unlock()
		return
	}
	m.current = nil
	m.last = Closed
	c.state = Closed
	m.mu.Unlock()

	c.conn.Close(websocket.CloseNormalClosure, "")

	if isNormalClosure(err) {
		m.logger.Printf("websocket closed (room %s): %v", c.room, err)
		m.emit(StateChange{Room: c.room, State: Closed, Epoch: c.epoch})
		return
	}
	terr := &TransportError{Op: "read", Room: c.room, Err: err}
	m.logger.Printf("websocket error: %v", terr)
	m.emit(
		StateChange{Room: c.room, State: Error, Err: terr, Epoch: c.epoch},
		StateChange{Room: c.room, State: Closed, Epoch: c.epoch},
	)
}

// dispatch decodes one frame and hands it to its handler. Nothing here
// escapes to the read loop: bad frames, unsupported types and handler
// panics are logged and dropped.
func (m *Manager) dispatch(data []byte) {
	env, err := Decode(data)
	if err != nil {
		m.logger.Printf("discarding websocket frame: %v", err)
		return
	}
	if !env.Type.Known() {
		m.logger.Printf("websocket message type not supported: %q", env.Type)
		return
	}

	m.handlersMu.RLock()
	h := m.handlers[env.Type]
	m.handlersMu.RUnlock()
	if h == nil {
		m.logger.Printf("no handler for %s message", env.Type)
		return
	}

	m.dispatchMu.Lock()
	defer m.dispatchMu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			m.logger.Printf("%s handler panicked: %v", env.Type, r)
		}
	}()
	h(env)
}

func (m *Manager) emit(changes ...StateChange) {
	if m.hooks.OnStateChange == nil {
		return
	}
	for _, sc := range changes {
		m.hooks.OnStateChange(sc)
	}
}
