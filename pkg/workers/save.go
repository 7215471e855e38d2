package workers

import (
	"context"
	"slices"
	"time"

	"github.com/cbodonnell/apsync/pkg/log"
	"github.com/cbodonnell/apsync/pkg/repositories"
	"github.com/cbodonnell/apsync/pkg/state"
)

// SaveBackupWorker periodically writes the published sync state to a
// compressed backup file. The repository stays the source of truth; the
// backup can be inspected or restored with the state commands.
type SaveBackupWorker struct {
	stateManager state.StateManager
	path         string
	interval     time.Duration

	last *state.Snapshot
}

const DefaultBackupInterval = 30 * time.Second

type NewSaveBackupWorkerOptions struct {
	StateManager state.StateManager
	Path         string
	// Interval defaults to DefaultBackupInterval when not positive.
	Interval time.Duration
}

func NewSaveBackupWorker(opts NewSaveBackupWorkerOptions) *SaveBackupWorker {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultBackupInterval
	}
	return &SaveBackupWorker{
		stateManager: opts.StateManager,
		path:         opts.Path,
		interval:     interval,
	}
}

func (w *SaveBackupWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.save(context.Background())
			return
		case <-ticker.C:
			w.save(ctx)
		}
	}
}

// save writes a backup unless nothing changed since the last one.
func (w *SaveBackupWorker) save(ctx context.Context) {
	snapshot, err := w.stateManager.Get(ctx)
	if err != nil {
		log.Error("Failed to get current sync state: %v", err)
		return
	}
	if snapshot.Key.Validate() != nil || unchanged(w.last, snapshot) {
		return
	}
	if err := repositories.WriteArchive(w.path, snapshot); err != nil {
		log.Error("Failed to save backup to %s: %v", w.path, err)
		return
	}
	log.Trace("Saved backup to %s", w.path)
	w.last = snapshot
}

func unchanged(a, b *state.Snapshot) bool {
	return a != nil &&
		a.Key == b.Key &&
		a.LastAppliedServerSequence == b.LastAppliedServerSequence &&
		slices.Equal(a.CheckedLocations, b.CheckedLocations) &&
		slices.Equal(a.PendingApply, b.PendingApply)
}
