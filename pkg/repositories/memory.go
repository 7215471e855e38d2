package repositories

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cbodonnell/apsync/pkg/state"
)

// MemoryRepository keeps sync state in process memory. Nothing survives a restart.
type MemoryRepository struct {
	lock     sync.Mutex
	sessions map[state.SessionKey]*state.Snapshot
	archives map[state.SessionKey][]Archive
	nextID   int64
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		sessions: make(map[state.SessionKey]*state.Snapshot),
		archives: make(map[state.SessionKey][]Archive),
	}
}

func (r *MemoryRepository) Close(ctx context.Context) error {
	return nil
}

func (r *MemoryRepository) LoadSyncState(ctx context.Context, key state.SessionKey) (*state.SyncState, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	snapshot, ok := r.sessions[key]
	if !ok {
		return nil, &ErrNotFound{}
	}
	s, err := state.FromSnapshot(snapshot.Copy())
	if err != nil {
		return nil, fail("load", err)
	}
	return s, nil
}

func (r *MemoryRepository) SaveSyncState(ctx context.Context, s *state.SyncState) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if stored, ok := r.sessions[s.Key()]; ok && stored.LastAppliedServerSequence > s.LastAppliedServerSequence() {
		return fail("save", fmt.Errorf("%w: stored %d, saving %d", ErrWatermarkRegression, stored.LastAppliedServerSequence, s.LastAppliedServerSequence()))
	}
	r.sessions[s.Key()] = s.Snapshot()
	return nil
}

func (r *MemoryRepository) ArchiveSyncState(ctx context.Context, key state.SessionKey) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	snapshot, ok := r.sessions[key]
	if !ok {
		return &ErrNotFound{}
	}
	r.nextID++
	r.archives[key] = append(r.archives[key], Archive{ID: r.nextID, ArchivedAt: time.Now(), Snapshot: snapshot})
	delete(r.sessions, key)
	return nil
}

func (r *MemoryRepository) ListArchives(ctx context.Context, key state.SessionKey) ([]Archive, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	out := make([]Archive, 0, len(r.archives[key]))
	for _, a := range r.archives[key] {
		out = append(out, Archive{ID: a.ID, ArchivedAt: a.ArchivedAt, Snapshot: a.Snapshot.Copy()})
	}
	return out, nil
}
