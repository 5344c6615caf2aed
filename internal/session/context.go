// Package session holds the client-side view of who the user is and who is
// online in the current room.
package session

import (
	"sync"

	"go-chat-lobby/internal/chat"
)

// Context is created once per lobby and shared by reference. Every setter
// replaces whole fields; nothing is merged.
type Context struct {
	mu       sync.RWMutex
	userID   string
	username string
	presence []chat.User
}

func New() *Context {
	return &Context{}
}

// SetIdentity records the result of a successful identity fetch.
func (c *Context) SetIdentity(userID, username string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
	c.username = username
}

// SetUsername applies a local rename without waiting for the server.
func (c *Context) SetUsername(username string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.username = username
}

// ReplacePresence swaps in a new userlist snapshot.
func (c *Context) ReplacePresence(users []chat.User) {
	snapshot := make([]chat.User, len(users))
	copy(snapshot, users)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.presence = snapshot
}

func (c *Context) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

func (c *Context) Username() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.username
}

// Presence returns a copy of the last snapshot.
func (c *Context) Presence() []chat.User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]chat.User, len(c.presence))
	copy(out, c.presence)
	return out
}

// PresenceName looks up the listed username for id, which may lag behind a
// local rename until the hub broadcasts again.
func (c *Context) PresenceName(id string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, u := range c.presence {
		if u.ID == id {
			return u.Username, true
		}
	}
	return "", false
}
