// Package lobby ties the account API, the room channel and the session
// state together the way the chat lobby page uses them.
package lobby

import (
	"context"
	"fmt"
	"log"
	"strings"

	"go-chat-lobby/internal/chat"
	"go-chat-lobby/internal/session"
	"go-chat-lobby/internal/user"
)

// View renders lobby state. Implementations must not block.
type View interface {
	RenderChat(msg chat.ChatPayload)
	RenderPresence(users []chat.User)
	RenderUsername(username string)
	// ClearChat drops the chat history shown for the previous room.
	ClearChat()
}

// Channel is the slice of chat.Manager the lobby needs.
type Channel interface {
	Connect(ctx context.Context, roomID string) error
	Disconnect()
	SendChat(text string) error
	SendUsernameUpdate(username string) error
	OnChat(fn func(chat.ChatPayload))
	OnUserList(fn func(chat.UserListPayload))
}

// Accounts is the slice of user.Service the lobby needs.
type Accounts interface {
	Info(ctx context.Context) (*user.Info, error)
	UpdateUsername(ctx context.Context, username string) error
	Logout(ctx context.Context) error
}

type Lobby struct {
	accounts Accounts
	channel  Channel
	session  *session.Context
	view     View
	logger   *log.Logger
}

func New(accounts Accounts, channel Channel, sess *session.Context, view View, logger *log.Logger) *Lobby {
	if logger == nil {
		logger = log.Default()
	}
	l := &Lobby{
		accounts: accounts,
		channel:  channel,
		session:  sess,
		view:     view,
		logger:   logger,
	}
	channel.OnChat(view.RenderChat)
	channel.OnUserList(func(p chat.UserListPayload) {
		sess.ReplacePresence(p.Users)
		view.RenderPresence(sess.Presence())
	})
	return l
}

// Start loads the user's identity and joins room. Nothing is connected if
// the identity cannot be fetched.
func (l *Lobby) Start(ctx context.Context, room string) error {
	info, err := l.accounts.Info(ctx)
	if err != nil {
		return err
	}
	l.session.SetIdentity(info.ID, info.Username)
	l.view.RenderUsername(info.Username)
	return l.channel.Connect(ctx, room)
}

// SendChat sends trimmed text; blank input is ignored.
func (l *Lobby) SendChat(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	return l.channel.SendChat(text)
}

// Rename stores the new username, then updates local state and tells the
// hub regardless of whether the store succeeded. The store error, if any,
// is returned.
func (l *Lobby) Rename(ctx context.Context, username string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil
	}
	updateErr := l.accounts.UpdateUsername(ctx, username)
	if updateErr != nil {
		l.logger.Printf("rename to %q not saved: %v", username, updateErr)
	}

	l.session.SetUsername(username)
	if err := l.channel.SendUsernameUpdate(username); err != nil {
		l.logger.Printf("username update not sent: %v", err)
	}
	l.view.RenderUsername(username)
	return updateErr
}

// JoinRoom switches the channel to room; blank input is ignored. The chat
// view is cleared first, so messages from the new room are never wiped.
func (l *Lobby) JoinRoom(ctx context.Context, room string) error {
	room = strings.TrimSpace(room)
	if room == "" {
		return nil
	}
	l.view.ClearChat()
	if err := l.channel.Connect(ctx, room); err != nil {
		return fmt.Errorf("join room %s: %w", room, err)
	}
	return nil
}

func (l *Lobby) Logout(ctx context.Context) error {
	err := l.accounts.Logout(ctx)
	l.channel.Disconnect()
	return err
}

func (l *Lobby) Session() *session.Context { return l.session }
