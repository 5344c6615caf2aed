package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go-chat-lobby/internal/chat"
)

// terminalView prints lobby updates as lines of text.
type terminalView struct {
	mu  sync.Mutex
	out io.Writer
}

func newTerminalView(out io.Writer) *terminalView {
	return &terminalView{out: out}
}

func (v *terminalView) Printf(format string, args ...any) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintf(v.out, format+"\n", args...)
}

func (v *terminalView) RenderChat(msg chat.ChatPayload) {
	ts := msg.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	stamp := ts.Local().Format("15:04")
	if msg.IsNotification() {
		v.Printf("%s * %s", stamp, msg.Text)
		return
	}
	v.Printf("%s <%s> %s", stamp, msg.SenderUsername, msg.Text)
}

func (v *terminalView) RenderPresence(users []chat.User) {
	names := make([]string, 0, len(users))
	for _, u := range users {
		names = append(names, u.Username)
	}
	v.Printf("👥 %d online: %s", len(users), strings.Join(names, ", "))
}

func (v *terminalView) RenderUsername(username string) {
	v.Printf("🙂 You are %s", username)
}

// ClearChat wipes the terminal, the closest it gets to dropping old lines.
func (v *terminalView) ClearChat() {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprint(v.out, "\033[H\033[2J")
}

func (v *terminalView) RenderRoom(roomID string) {
	v.Printf("🚪 Room %s", roomID)
}

func (v *terminalView) RenderState(sc chat.StateChange) {
	switch sc.State {
	case chat.Open:
		v.Printf("✅ Connected to %s", sc.Room)
	case chat.Error:
		v.Printf("❌ Connection to %s failed: %v", sc.Room, sc.Err)
	}
}
