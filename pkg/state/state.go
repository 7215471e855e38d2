package state

import (
	"context"
)

// StateManager provides shared read access to the latest published sync state.
// Implementations must be thread-safe.
type StateManager interface {
	// Get returns a copy of the last published snapshot.
	Get(ctx context.Context) (*Snapshot, error)
	// Set publishes a snapshot.
	Set(ctx context.Context, snapshot *Snapshot) error
}
