package chat

import (
	"encoding/json"
	"time"
)

// ---------------------------------------------
// 📦 Wire Models
// ---------------------------------------------

type MessageType string

const (
	Chat           MessageType = "chat"
	UsernameUpdate MessageType = "username_update"
	UserList       MessageType = "userlist"
)

// NotificationSender is the sender_id the hub uses for join/leave notices.
const NotificationSender = "notification"

// Known reports whether t is one of the tags this client understands.
func (t MessageType) Known() bool {
	switch t {
	case Chat, UsernameUpdate, UserList:
		return true
	}
	return false
}

// Payload is the closed set of envelope bodies. Only types in this package
// can satisfy it.
type Payload interface {
	MessageType() MessageType
	payload()
}

// Envelope is the {type, payload} wrapper every realtime frame uses.
type Envelope struct {
	Type    MessageType
	Payload Payload
}

// NewEnvelope wraps p, taking the tag from the payload itself.
func NewEnvelope(p Payload) Envelope {
	return Envelope{Type: p.MessageType(), Payload: p}
}

// wireEnvelope defers decoding of the payload until the type is known.
type wireEnvelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ChatPayload is bidirectional. Outbound frames only carry Text; the hub
// stamps the sender and time before fan-out.
type ChatPayload struct {
	SenderID       string    `json:"sender_id,omitempty"`
	SenderUsername string    `json:"sender_username,omitempty"`
	Text           string    `json:"text"`
	Time           time.Time `json:"time,omitzero"`
}

func (ChatPayload) MessageType() MessageType { return Chat }
func (ChatPayload) payload()                 {}

// IsNotification reports whether the hub generated this message itself.
func (p ChatPayload) IsNotification() bool {
	return p.SenderID == NotificationSender
}

// UsernameUpdatePayload is outbound only. The server echoes the canonical
// state back through a later userlist.
type UsernameUpdatePayload struct {
	Username string `json:"username"`
}

func (UsernameUpdatePayload) MessageType() MessageType { return UsernameUpdate }
func (UsernameUpdatePayload) payload()                 {}

type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// UserListPayload is a full presence snapshot in server order.
type UserListPayload struct {
	Users []User `json:"users"`
}

func (UserListPayload) MessageType() MessageType { return UserList }
func (UserListPayload) payload()                 {}

// UnsupportedPayload holds a well-formed frame whose tag is not known.
// Dispatch ignores it.
type UnsupportedPayload struct {
	Kind MessageType
	Raw  json.RawMessage
}

func (p UnsupportedPayload) MessageType() MessageType { return p.Kind }
func (UnsupportedPayload) payload()                   {}
