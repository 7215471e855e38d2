package state

import "github.com/cbodonnell/apsync/pkg/catalog"

// CheckEvent reports that a location became satisfied in the game.
// ObservedAt is a monotonic sequence assigned by the producer.
type CheckEvent struct {
	Location   catalog.LocationID
	ObservedAt uint64
}

// ReceiveEvent is an item routed to this player by the server.
// Sequence is the server's position for the item, starting at 1, and is the
// durable replay cursor.
type ReceiveEvent struct {
	Item         catalog.NormalizedID `json:"item"`
	SourcePlayer int                  `json:"source_player"`
	Location     catalog.NormalizedID `json:"location"`
	Sequence     int64                `json:"sequence"`
}
