package chat

import (
	"context"
	"io"
	"log"
	"sync"
)

// fakeTransport records every dial and how many earlier connections were
// still live at that moment.
type fakeTransport struct {
	mu         sync.Mutex
	conns      []*fakeConn
	dials      []string
	liveAtDial []int
	dialErr    error
	// hold, when set, blocks Dial until it is closed.
	hold chan struct{}
	// closeHold, when set, blocks every conn's Close until it is closed.
	closeHold chan struct{}
	// cancelled counts dials that ended because their ctx was cancelled.
	cancelled int
}

func (t *fakeTransport) Dial(ctx context.Context, roomID string) (Conn, error) {
	t.mu.Lock()
	live := 0
	for _, c := range t.conns {
		if !c.isClosed() {
			live++
		}
	}
	t.dials = append(t.dials, roomID)
	t.liveAtDial = append(t.liveAtDial, live)
	hold, dialErr := t.hold, t.dialErr
	t.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			t.mu.Lock()
			t.cancelled++
			t.mu.Unlock()
			return nil, ctx.Err()
		}
	}
	if dialErr != nil {
		return nil, dialErr
	}

	c := newFakeConn(roomID)
	c.closeHold = t.closeHold
	t.mu.Lock()
	t.conns = append(t.conns, c)
	t.mu.Unlock()
	return c, nil
}

func (t *fakeTransport) dialCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.dials)
}

func (t *fakeTransport) cancelledDials() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

func (t *fakeTransport) conn(i int) *fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conns[i]
}

func (t *fakeTransport) last() *fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conns[len(t.conns)-1]
}

func (t *fakeTransport) openConns() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, c := range t.conns {
		if !c.isClosed() {
			n++
		}
	}
	return n
}

// fakeConn delivers whatever the test pushes on in. Closing it does not
// unblock a pending read, which lets tests deliver frames on a connection
// the manager has already discarded.
type fakeConn struct {
	room    string
	in      chan []byte
	readErr chan error
	done    chan struct{}

	closeHold chan struct{}

	mu        sync.Mutex
	written   [][]byte
	closed    bool
	closeCode int
}

func newFakeConn(room string) *fakeConn {
	return &fakeConn{
		room:    room,
		in:      make(chan []byte),
		readErr: make(chan error, 1),
		done:    make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.in:
		return data, nil
	case err := <-c.readErr:
		return nil, err
	case <-c.done:
		return nil, io.EOF
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return io.ErrClosedPipe
	}
	c.written = append(c.written, data)
	return nil
}

func (c *fakeConn) Close(code int, reason string) error {
	if c.closeHold != nil {
		<-c.closeHold
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.closeCode = code
	}
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) writes() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.written...)
}

// stop ends the read loop blocked on this connection.
func (c *fakeConn) stop() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}
