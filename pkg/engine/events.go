package engine

import "fmt"

type ConnectionEventType int

const (
	ConnectionEventConnected ConnectionEventType = iota
	ConnectionEventDisconnected
	ConnectionEventRefused
)

func (t ConnectionEventType) String() string {
	switch t {
	case ConnectionEventConnected:
		return "connected"
	case ConnectionEventDisconnected:
		return "disconnected"
	case ConnectionEventRefused:
		return "refused"
	default:
		return fmt.Sprintf("ConnectionEventType(%d)", int(t))
	}
}

// ConnectionEvent is a transport transition, queued for the next tick.
type ConnectionEvent struct {
	Type ConnectionEventType
	// Generation identifies the connection; it changes on every successful handshake.
	Generation uint64
	SeedName   string
	Err        error
}
