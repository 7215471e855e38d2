package network

// ConnectionState is the lifecycle state of a Session.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateAuthenticating
	StateSynced
	StateReconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateSynced:
		return "synced"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// StateChange is emitted on every state transition.
type StateChange struct {
	State ConnectionState
	// Generation counts successful handshakes; it changes only on entering StateSynced.
	Generation uint64
	SeedName   string
	Slot       int
	Err        error
}
