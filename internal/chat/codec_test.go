package chat

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	sent := time.Date(2025, 3, 1, 12, 30, 0, 0, time.UTC)

	tests := []struct {
		name    string
		frame   string
		want    Envelope
		wantErr bool
	}{
		{
			name:  "chat",
			frame: `{"type":"chat","payload":{"sender_id":"7","sender_username":"sam","text":"hi","time":"2025-03-01T12:30:00Z"}}`,
			want: Envelope{Type: Chat, Payload: ChatPayload{
				SenderID: "7", SenderUsername: "sam", Text: "hi", Time: sent,
			}},
		},
		{
			name:  "userlist",
			frame: `{"type":"userlist","payload":{"users":[{"id":"1","username":"alice"},{"id":"2","username":"bob"}]}}`,
			want: Envelope{Type: UserList, Payload: UserListPayload{Users: []User{
				{ID: "1", Username: "alice"}, {ID: "2", Username: "bob"},
			}}},
		},
		{
			name:  "username update",
			frame: `{"type":"username_update","payload":{"username":"sammy"}}`,
			want:  Envelope{Type: UsernameUpdate, Payload: UsernameUpdatePayload{Username: "sammy"}},
		},
		{
			name:  "unknown type is not an error",
			frame: `{"type":"typing","payload":{"user":"sam"}}`,
			want: Envelope{Type: "typing", Payload: UnsupportedPayload{
				Kind: "typing", Raw: []byte(`{"user":"sam"}`),
			}},
		},
		{
			name:  "unknown type without payload",
			frame: `{"type":"ping"}`,
			want:  Envelope{Type: "ping", Payload: UnsupportedPayload{Kind: "ping"}},
		},
		{name: "not json", frame: `hello`, wantErr: true},
		{name: "empty frame", frame: ``, wantErr: true},
		{name: "json array", frame: `[1,2]`, wantErr: true},
		{name: "missing type", frame: `{"payload":{}}`, wantErr: true},
		{name: "type is not a string", frame: `{"type":3,"payload":{}}`, wantErr: true},
		{name: "truncated", frame: `{"type":"chat","payload":{"text":`, wantErr: true},
		{name: "known type with mismatched payload", frame: `{"type":"userlist","payload":{"users":"alice"}}`, wantErr: true},
		{name: "known type without payload", frame: `{"type":"chat"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.frame))
			if tt.wantErr {
				var decodeErr *DecodeError
				require.ErrorAs(t, err, &decodeErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.Type, got.Type)
			if want, ok := tt.want.Payload.(UnsupportedPayload); ok {
				gotPayload, ok := got.Payload.(UnsupportedPayload)
				require.True(t, ok, "payload is %T", got.Payload)
				assert.Equal(t, want.Kind, gotPayload.Kind)
				if want.Raw != nil {
					assert.JSONEq(t, string(want.Raw), string(gotPayload.Raw))
				}
				return
			}
			assert.Equal(t, tt.want.Payload, got.Payload)
		})
	}
}

func TestEncode(t *testing.T) {
	tests := []struct {
		name    string
		env     Envelope
		want    string
		wantErr error
	}{
		{
			name: "outbound chat carries only text",
			env:  NewEnvelope(ChatPayload{Text: "hi"}),
			want: `{"type":"chat","payload":{"text":"hi"}}`,
		},
		{
			name: "username update",
			env:  NewEnvelope(UsernameUpdatePayload{Username: "sam"}),
			want: `{"type":"username_update","payload":{"username":"sam"}}`,
		},
		{
			name: "userlist",
			env:  NewEnvelope(UserListPayload{Users: []User{{ID: "1", Username: "alice"}}}),
			want: `{"type":"userlist","payload":{"users":[{"id":"1","username":"alice"}]}}`,
		},
		{
			name:    "unsupported payload",
			env:     NewEnvelope(UnsupportedPayload{Kind: "typing"}),
			wantErr: ErrUnsupportedType,
		},
		{
			name:    "nil payload",
			env:     Envelope{Type: Chat},
			wantErr: ErrUnsupportedType,
		},
		{
			name:    "type does not match payload",
			env:     Envelope{Type: UserList, Payload: ChatPayload{Text: "hi"}},
			wantErr: ErrUnsupportedType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.env)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestEncodeDecodeChatKeepsServerFields(t *testing.T) {
	in := ChatPayload{
		SenderID:       NotificationSender,
		SenderUsername: "",
		Text:           "sam has joined Room general",
		Time:           time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	data, err := Encode(NewEnvelope(in))
	require.NoError(t, err)

	env, err := Decode(data)
	require.NoError(t, err)
	got := env.Payload.(ChatPayload)
	assert.Equal(t, in, got)
	assert.True(t, got.IsNotification())
}
