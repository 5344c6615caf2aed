// Package reconnect retries a room connection after the channel reports an
// error. The channel manager never does this on its own.
package reconnect

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/cenkalti/backoff/v5"

	"go-chat-lobby/internal/chat"
)

// Connector is the part of chat.Manager the policy drives. Redial must
// return chat.ErrSuperseded once the user has connected elsewhere or
// disconnected since epoch.
type Connector interface {
	Redial(ctx context.Context, roomID string, epoch uint64) error
}

type Policy struct {
	conn     Connector
	maxTries uint
	initial  time.Duration
	max      time.Duration
	logger   *log.Logger
}

type Option func(*Policy)

func WithMaxTries(n uint) Option {
	return func(p *Policy) { p.maxTries = n }
}

// WithIntervals sets the first retry delay and the cap the delay grows to.
func WithIntervals(initial, max time.Duration) Option {
	return func(p *Policy) {
		p.initial = initial
		p.max = max
	}
}

func WithLogger(l *log.Logger) Option {
	return func(p *Policy) { p.logger = l }
}

func New(conn Connector, opts ...Option) *Policy {
	p := &Policy{
		conn:     conn,
		maxTries: 5,
		initial:  500 * time.Millisecond,
		max:      30 * time.Second,
		logger:   log.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Reconnect redials roomID until it succeeds, the tries run out or ctx ends.
// epoch is that of the lost connection. A Connect or Disconnect made after
// it stops the retries with chat.ErrSuperseded.
func (p *Policy) Reconnect(ctx context.Context, roomID string, epoch uint64) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.initial
	b.MaxInterval = p.max

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := p.conn.Redial(ctx, roomID, epoch)
		if err == nil {
			return struct{}{}, nil
		}
		if errors.Is(err, chat.ErrSuperseded) {
			return struct{}{}, backoff.Permanent(err)
		}
		p.logger.Printf("reconnect to room %s failed (attempt %d): %v", roomID, attempt, err)
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(p.maxTries),
	)
	if err != nil {
		return err
	}
	p.logger.Printf("reconnected to room %s after %d attempt(s)", roomID, attempt)
	return nil
}

// OnStateChange returns a chat hook that starts Reconnect in the background
// when an open connection is lost. Failed dials are left alone; they are
// either the caller's to handle or part of a reconnect already running.
func (p *Policy) OnStateChange(ctx context.Context) func(chat.StateChange) {
	return func(sc chat.StateChange) {
		var terr *chat.TransportError
		if sc.State != chat.Error || !errors.As(sc.Err, &terr) || terr.Op != "read" {
			return
		}
		go func() {
			err := p.Reconnect(ctx, sc.Room, sc.Epoch)
			switch {
			case errors.Is(err, chat.ErrSuperseded):
				p.logger.Printf("stopped reconnecting to room %s: channel moved on", sc.Room)
			case err != nil:
				p.logger.Printf("giving up on room %s: %v", sc.Room, err)
			}
		}()
	}
}
