package chat

// State is the lifecycle of one room connection.
//
//	Idle -> Connecting -> Open -> Closing -> Closed
//	           \           /
//	            +-> Error +-> Closed
type State int

const (
	Idle State = iota
	Connecting
	Open
	Closing
	Closed
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	case Error:
		return "error"
	}
	return "unknown"
}

// Live reports whether a connection in state s counts against the
// one-connection limit.
func (s State) Live() bool {
	return s == Connecting || s == Open
}

// StateChange is reported to Hooks.OnStateChange. Err is set for Error.
// Epoch identifies the Connect or Disconnect call the connection belongs to;
// pass it to Manager.Redial.
type StateChange struct {
	Room  string
	State State
	Err   error
	Epoch uint64
}
