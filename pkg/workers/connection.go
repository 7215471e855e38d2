package workers

import (
	"context"

	"github.com/cbodonnell/apsync/pkg/client/network"
	"github.com/cbodonnell/apsync/pkg/engine"
	"github.com/cbodonnell/apsync/pkg/log"
	"github.com/cbodonnell/apsync/pkg/queue"
)

type ConnectionEventWorker struct {
	stateChanges         <-chan network.StateChange
	connectionEventQueue queue.Queue[engine.ConnectionEvent]
}

type NewConnectionEventWorkerOptions struct {
	StateChanges         <-chan network.StateChange
	ConnectionEventQueue queue.Queue[engine.ConnectionEvent]
}

// NewConnectionEventWorker creates a new ConnectionEventWorker.
// The worker turns transport state changes into connection events
// and writes them to a queue for the sync loop to process.
func NewConnectionEventWorker(opts NewConnectionEventWorkerOptions) *ConnectionEventWorker {
	return &ConnectionEventWorker{
		stateChanges:         opts.StateChanges,
		connectionEventQueue: opts.ConnectionEventQueue,
	}
}

func (w *ConnectionEventWorker) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-w.stateChanges:
			if !ok {
				return
			}
			w.handleStateChange(change)
		}
	}
}

func (w *ConnectionEventWorker) handleStateChange(change network.StateChange) {
	var event engine.ConnectionEvent
	switch change.State {
	case network.StateSynced:
		event = engine.ConnectionEvent{
			Type:       engine.ConnectionEventConnected,
			Generation: change.Generation,
			SeedName:   change.SeedName,
		}
	case network.StateDisconnected:
		if network.IsAuthRejected(change.Err) {
			event = engine.ConnectionEvent{Type: engine.ConnectionEventRefused, Err: change.Err}
			break
		}
		event = engine.ConnectionEvent{Type: engine.ConnectionEventDisconnected, Err: change.Err}
	case network.StateReconnecting:
		event = engine.ConnectionEvent{Type: engine.ConnectionEventDisconnected, Err: change.Err}
	case network.StateConnecting, network.StateAuthenticating:
		log.Trace("Connection %s", change.State)
		return
	default:
		log.Error("Unknown connection state: %v", change.State)
		return
	}

	if err := w.connectionEventQueue.Enqueue(event); err != nil {
		log.Error("Failed to enqueue %s event: %v", event.Type, err)
	}
}
