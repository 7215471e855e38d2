package state

import (
	"fmt"
	"sort"

	"github.com/cbodonnell/apsync/pkg/catalog"
)

// SessionKey identifies one multiworld session: a generated seed played as one slot.
type SessionKey struct {
	Seed string `json:"seed"`
	Slot string `json:"slot"`
}

func (k SessionKey) String() string {
	return k.Seed + "/" + k.Slot
}

func (k SessionKey) Validate() error {
	if k.Seed == "" {
		return fmt.Errorf("session seed is empty")
	}
	if k.Slot == "" {
		return fmt.Errorf("session slot is empty")
	}
	return nil
}

// SyncState is the reconnect-safe record of one session.
// The checked set only grows, the watermark never decreases, and every pending
// event has a sequence above the watermark, in ascending order without repeats.
// It is not safe for concurrent use; a single owner mutates it.
type SyncState struct {
	key          SessionKey
	checked      map[catalog.NormalizedID]struct{}
	checkedOrder []catalog.NormalizedID
	lastApplied  int64
	pending      []ReceiveEvent
}

func NewSyncState(key SessionKey) *SyncState {
	return &SyncState{
		key:     key,
		checked: make(map[catalog.NormalizedID]struct{}),
	}
}

func (s *SyncState) Key() SessionKey {
	return s.key
}

// MarkChecked adds a location to the checked set. It reports whether the
// location was newly added.
func (s *SyncState) MarkChecked(id catalog.NormalizedID) bool {
	if _, ok := s.checked[id]; ok {
		return false
	}
	s.checked[id] = struct{}{}
	s.checkedOrder = append(s.checkedOrder, id)
	return true
}

// Checked returns the checked locations in the order they were added.
func (s *SyncState) Checked() []catalog.NormalizedID {
	out := make([]catalog.NormalizedID, len(s.checkedOrder))
	copy(out, s.checkedOrder)
	return out
}

func (s *SyncState) CheckedCount() int {
	return len(s.checkedOrder)
}

// LastAppliedServerSequence is the highest server sequence whose effect is
// known to be in the game, or intentionally dropped.
func (s *SyncState) LastAppliedServerSequence() int64 {
	return s.lastApplied
}

// EnqueuePending inserts an event in sequence order. Events at or below the
// watermark and events already pending are ignored; the return value reports
// whether the event was inserted.
func (s *SyncState) EnqueuePending(e ReceiveEvent) bool {
	if e.Sequence <= s.lastApplied {
		return false
	}
	i := sort.Search(len(s.pending), func(i int) bool {
		return s.pending[i].Sequence >= e.Sequence
	})
	if i < len(s.pending) && s.pending[i].Sequence == e.Sequence {
		return false
	}
	s.pending = append(s.pending, ReceiveEvent{})
	copy(s.pending[i+1:], s.pending[i:])
	s.pending[i] = e
	return true
}

// Head returns the lowest-sequence pending event.
func (s *SyncState) Head() (ReceiveEvent, bool) {
	if len(s.pending) == 0 {
		return ReceiveEvent{}, false
	}
	return s.pending[0], true
}

// PopHead removes the head of the pending list and advances the watermark to its sequence.
func (s *SyncState) PopHead() (ReceiveEvent, bool) {
	head, ok := s.Head()
	if !ok {
		return ReceiveEvent{}, false
	}
	s.pending[0] = ReceiveEvent{}
	s.pending = s.pending[1:]
	s.lastApplied = head.Sequence
	return head, true
}

func (s *SyncState) Pending() []ReceiveEvent {
	out := make([]ReceiveEvent, len(s.pending))
	copy(out, s.pending)
	return out
}

func (s *SyncState) PendingLen() int {
	return len(s.pending)
}

// Snapshot is the serializable form of a SyncState.
type Snapshot struct {
	Key                       SessionKey             `json:"key"`
	CheckedLocations          []catalog.NormalizedID `json:"checked_locations"`
	LastAppliedServerSequence int64                  `json:"last_applied_server_sequence"`
	PendingApply              []ReceiveEvent         `json:"pending_apply"`
}

func (s *SyncState) Snapshot() *Snapshot {
	return &Snapshot{
		Key:                       s.key,
		CheckedLocations:          s.Checked(),
		LastAppliedServerSequence: s.lastApplied,
		PendingApply:              s.Pending(),
	}
}

func (s *Snapshot) Copy() *Snapshot {
	out := &Snapshot{
		Key:                       s.Key,
		LastAppliedServerSequence: s.LastAppliedServerSequence,
		CheckedLocations:          make([]catalog.NormalizedID, len(s.CheckedLocations)),
		PendingApply:              make([]ReceiveEvent, len(s.PendingApply)),
	}
	copy(out.CheckedLocations, s.CheckedLocations)
	copy(out.PendingApply, s.PendingApply)
	return out
}

// FromSnapshot rebuilds a SyncState, rejecting snapshots that break its invariants.
func FromSnapshot(snapshot *Snapshot) (*SyncState, error) {
	if snapshot.LastAppliedServerSequence < 0 {
		return nil, fmt.Errorf("negative watermark %d", snapshot.LastAppliedServerSequence)
	}
	s := NewSyncState(snapshot.Key)
	for _, id := range snapshot.CheckedLocations {
		s.MarkChecked(id)
	}
	s.lastApplied = snapshot.LastAppliedServerSequence
	prev := snapshot.LastAppliedServerSequence
	for _, e := range snapshot.PendingApply {
		if e.Sequence <= prev {
			return nil, fmt.Errorf("pending sequence %d is not above %d", e.Sequence, prev)
		}
		prev = e.Sequence
		s.pending = append(s.pending, e)
	}
	return s, nil
}
