package chat

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrUnsupportedType = errors.New("unsupported message type")
	ErrNotOpen         = errors.New("connection not open")
	ErrSuperseded      = errors.New("connection superseded")
)

// DecodeError reports a frame that is not a valid envelope.
type DecodeError struct {
	Type MessageType
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("decode %s frame: %v", e.Type, e.Err)
	}
	return fmt.Sprintf("decode frame: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// TransportError is a connection-level failure on the realtime channel.
type TransportError struct {
	Op   string
	Room string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s room %q: %v", e.Op, e.Room, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Encode renders an envelope in its wire form. Every known payload encodes;
// unsupported or missing payloads are not valid outbound frames.
func Encode(env Envelope) ([]byte, error) {
	if env.Payload == nil || !env.Payload.MessageType().Known() {
		return nil, ErrUnsupportedType
	}
	if env.Type != env.Payload.MessageType() {
		return nil, fmt.Errorf("envelope type %q does not match payload %q: %w",
			env.Type, env.Payload.MessageType(), ErrUnsupportedType)
	}
	payload, err := json.Marshal(env.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %T: %w", env.Payload, err)
	}
	return json.Marshal(wireEnvelope{Type: env.Type, Payload: payload})
}

// Decode parses a frame. Unknown tags decode into UnsupportedPayload
// without error.
func Decode(data []byte) (Envelope, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Envelope{}, &DecodeError{Err: errors.New("frame is not a JSON object")}
	}

	var w wireEnvelope
	if err := json.Unmarshal(trimmed, &w); err != nil {
		return Envelope{}, &DecodeError{Err: err}
	}
	if w.Type == "" {
		return Envelope{}, &DecodeError{Err: errors.New("missing type")}
	}

	var (
		p   Payload
		err error
	)
	switch w.Type {
	case Chat:
		p, err = decodePayload[ChatPayload](w.Payload)
	case UsernameUpdate:
		p, err = decodePayload[UsernameUpdatePayload](w.Payload)
	case UserList:
		p, err = decodePayload[UserListPayload](w.Payload)
	default:
		p = UnsupportedPayload{Kind: w.Type, Raw: w.Payload}
	}
	if err != nil {
		return Envelope{}, &DecodeError{Type: w.Type, Err: err}
	}
	return Envelope{Type: w.Type, Payload: p}, nil
}

func decodePayload[T Payload](raw json.RawMessage) (Payload, error) {
	var out T
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, errors.New("missing payload")
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
