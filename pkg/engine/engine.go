package engine

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/cbodonnell/apsync/pkg/bridge"
	"github.com/cbodonnell/apsync/pkg/catalog"
	"github.com/cbodonnell/apsync/pkg/log"
	"github.com/cbodonnell/apsync/pkg/queue"
	"github.com/cbodonnell/apsync/pkg/repositories"
	"github.com/cbodonnell/apsync/pkg/state"
)

const (
	DefaultTickInterval  = 100 * time.Millisecond
	DefaultApplyInterval = time.Second
)

// Transport is the network side of the sync loop.
type Transport interface {
	SendChecked(ctx context.Context, locations ...catalog.NormalizedID) error
	SendGoal(ctx context.Context) error
	Events() iter.Seq[state.ReceiveEvent]
	SetResumeCursor(sequence int64)
}

// GameBridge is the game side of the sync loop.
type GameBridge interface {
	PollChecked() iter.Seq[state.CheckEvent]
	TryApply(item catalog.ItemID, quantity uint32) bridge.ApplyResult
	GoalReached() bool
}

// Stats are counters since the manager was created.
type Stats struct {
	Connected                 bool   `json:"connected"`
	Generation                uint64 `json:"generation"`
	Checked                   int    `json:"checked"`
	Pending                   int    `json:"pending"`
	LastAppliedServerSequence int64  `json:"last_applied_server_sequence"`
	ChecksSent                uint64 `json:"checks_sent"`
	Applied                   uint64 `json:"applied"`
	Rejected                  uint64 `json:"rejected"`
	Duplicates                uint64 `json:"duplicates"`
	CatalogMisses             uint64 `json:"catalog_misses"`
	PersistenceFailures       uint64 `json:"persistence_failures"`
	GoalSent                  bool   `json:"goal_sent"`
}

// SyncManager owns the SyncState and moves checks and items between the game
// and the server one tick at a time.
type SyncManager struct {
	// lock serializes ticks with Archive and Stats
	lock sync.Mutex

	catalog              *catalog.Catalog
	transport            Transport
	bridge               GameBridge
	repository           repositories.Repository
	stateManager         state.StateManager
	connectionEventQueue queue.Queue[ConnectionEvent]
	tickInterval         time.Duration
	applyInterval        time.Duration
	clock                func() time.Time

	state      *state.SyncState
	connected  bool
	generation uint64
	// sent holds the ids reported during the current connection
	sent      map[catalog.NormalizedID]struct{}
	goalSent  bool
	dirty     bool
	lastApply time.Time
	fatal     error
	stats     Stats
}

// NewSyncManagerOptions contains options for creating a new SyncManager.
type NewSyncManagerOptions struct {
	Key                  state.SessionKey
	Catalog              *catalog.Catalog
	Transport            Transport
	Bridge               GameBridge
	Repository           repositories.Repository
	StateManager         state.StateManager
	ConnectionEventQueue queue.Queue[ConnectionEvent]
	TickInterval         time.Duration
	// ApplyInterval is the minimum time between two item grants. Zero applies
	// every ready item in a single tick.
	ApplyInterval time.Duration
	Clock         func() time.Time
}

// NewSyncManager loads the state for the session key, or starts an empty one
// when none was stored.
func NewSyncManager(ctx context.Context, opts NewSyncManagerOptions) (*SyncManager, error) {
	if err := opts.Key.Validate(); err != nil {
		return nil, err
	}
	m := &SyncManager{
		catalog:              opts.Catalog,
		transport:            opts.Transport,
		bridge:               opts.Bridge,
		repository:           opts.Repository,
		stateManager:         opts.StateManager,
		connectionEventQueue: opts.ConnectionEventQueue,
		tickInterval:         opts.TickInterval,
		applyInterval:        opts.ApplyInterval,
		clock:                opts.Clock,
		sent:                 make(map[catalog.NormalizedID]struct{}),
	}
	if m.tickInterval <= 0 {
		m.tickInterval = DefaultTickInterval
	}
	if m.clock == nil {
		m.clock = time.Now
	}
	if m.connectionEventQueue == nil {
		m.connectionEventQueue = queue.NewInMemoryQueue[ConnectionEvent](0)
	}
	if m.stateManager == nil {
		m.stateManager = state.NewInMemoryStateManager()
	}

	s, err := m.repository.LoadSyncState(ctx, opts.Key)
	switch {
	case err == nil:
		log.Info("Loaded session %s: %d checked, %d pending, last applied %d",
			opts.Key, s.CheckedCount(), s.PendingLen(), s.LastAppliedServerSequence())
	case repositories.IsNotFound(err):
		log.Info("Starting new session %s", opts.Key)
		s = state.NewSyncState(opts.Key)
	default:
		return nil, fmt.Errorf("failed to load sync state: %w", err)
	}
	m.state = s
	m.transport.SetResumeCursor(s.LastAppliedServerSequence())
	m.updateStats()
	if err := m.stateManager.Set(ctx, s.Snapshot()); err != nil {
		log.Warn("Failed to publish state: %v", err)
	}
	return m, nil
}

// ConnectionEvents is the queue the connection worker writes to.
func (m *SyncManager) ConnectionEvents() queue.Queue[ConnectionEvent] {
	return m.connectionEventQueue
}

// Start runs ticks until ctx is done or a tick fails fatally.
func (m *SyncManager) Start(ctx context.Context) error {
	ticker := time.NewTicker(m.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := m.Tick(ctx); err != nil {
				if m.Err() != nil {
					return err
				}
				log.Warn("Tick incomplete: %v", err)
			}
		}
	}
}

// Err returns the error that stopped the manager, if any.
func (m *SyncManager) Err() error {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.fatal
}

// Resume clears a fatal connection error, such as a refusal or a seed
// mismatch, so ticks run again. A recovered panic stays fatal.
func (m *SyncManager) Resume() bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	var panicErr *ErrPanic
	if m.fatal == nil || errors.As(m.fatal, &panicErr) {
		return m.fatal == nil
	}
	log.Info("Resuming after %v", m.fatal)
	m.fatal = nil
	return true
}

// Tick runs one iteration of the sync loop. A fatal error is returned on
// every later call; persistence failures are returned but retried next tick.
func (m *SyncManager) Tick(ctx context.Context) (err error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.fatal != nil {
		return m.fatal
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("Recovered from panic during tick: %v", r)
			m.fatal = &ErrPanic{Value: r}
			err = m.fatal
		}
	}()

	if err := m.processConnectionEvents(ctx); err != nil {
		m.fatal = err
		return err
	}
	defer m.publish(ctx)

	if m.dirty {
		if err := m.persist(ctx); err != nil {
			return err
		}
		m.sendChecked(ctx, m.state.Checked())
	}
	if err := m.processChecks(ctx); err != nil {
		return err
	}
	if err := m.processReceived(ctx); err != nil {
		return err
	}
	if err := m.applyPending(ctx); err != nil {
		return err
	}
	m.reportGoal(ctx)
	return nil
}

// processConnectionEvents drains the connection event queue. It returns an
// error only for fatal events.
func (m *SyncManager) processConnectionEvents(ctx context.Context) error {
	events, err := m.connectionEventQueue.ReadAllMessages()
	if err != nil {
		log.Error("Failed to read connection events: %v", err)
		return nil
	}
	for _, event := range events {
		switch event.Type {
		case ConnectionEventConnected:
			if expected := m.state.Key().Seed; event.SeedName != expected {
				return &ErrSeedMismatch{Expected: expected, Actual: event.SeedName}
			}
			m.connected = true
			m.generation = event.Generation
			m.sent = make(map[catalog.NormalizedID]struct{})
			m.goalSent = false
			log.Debug("Connection %d established", event.Generation)
			m.sendChecked(ctx, m.state.Checked())
		case ConnectionEventDisconnected:
			if m.connected {
				log.Debug("Connection %d lost: %v", m.generation, event.Err)
			}
			m.connected = false
		case ConnectionEventRefused:
			m.connected = false
			if event.Err == nil {
				return fmt.Errorf("connection refused")
			}
			return event.Err
		default:
			log.Error("Unknown connection event type: %v", event.Type)
		}
	}
	return nil
}

// processChecks records newly checked locations, persists them, and reports
// them to the server.
func (m *SyncManager) processChecks(ctx context.Context) error {
	var added []catalog.NormalizedID
	for e := range m.bridge.PollChecked() {
		id, err := m.catalog.NormalizeLocation(e.Location)
		if err != nil {
			m.stats.CatalogMisses++
			log.Warn("Dropping check %d: %v", e.ObservedAt, err)
			continue
		}
		if !m.state.MarkChecked(id) {
			m.stats.Duplicates++
			continue
		}
		if entry, ok := m.catalog.Location(id); ok {
			log.Debug("Location checked: %s (%d)", entry.Name, id)
		}
		added = append(added, id)
	}
	if len(added) == 0 {
		return nil
	}
	if err := m.persist(ctx); err != nil {
		return err
	}
	m.sendChecked(ctx, added)
	return nil
}

// sendChecked reports ids not yet sent on this connection. Failures are left
// for the resend on the next connection.
func (m *SyncManager) sendChecked(ctx context.Context, ids []catalog.NormalizedID) {
	if !m.connected {
		return
	}
	var unsent []catalog.NormalizedID
	for _, id := range ids {
		if _, ok := m.sent[id]; !ok {
			unsent = append(unsent, id)
		}
	}
	if len(unsent) == 0 {
		return
	}
	if err := m.transport.SendChecked(ctx, unsent...); err != nil {
		log.Warn("Failed to send %d checked locations: %v", len(unsent), err)
		return
	}
	for _, id := range unsent {
		m.sent[id] = struct{}{}
	}
	m.stats.ChecksSent += uint64(len(unsent))
}

// processReceived queues received items in sequence order. Items missing
// from the catalog are queued too so the watermark can move past them.
func (m *SyncManager) processReceived(ctx context.Context) error {
	changed := false
	for e := range m.transport.Events() {
		if !m.state.EnqueuePending(e) {
			m.stats.Duplicates++
			log.Trace("Ignoring duplicate received item %d", e.Sequence)
			continue
		}
		changed = true
	}
	if !changed {
		return nil
	}
	return m.persist(ctx)
}

// applyPending grants pending items in sequence order until the game is not
// ready or the next sequence has not arrived. With an apply interval, at most
// one item is granted per interval.
func (m *SyncManager) applyPending(ctx context.Context) error {
	for {
		head, ok := m.state.Head()
		if !ok {
			return nil
		}
		if next := m.state.LastAppliedServerSequence() + 1; head.Sequence != next {
			log.Debug("Waiting for received item %d before %d", next, head.Sequence)
			return nil
		}

		item, err := m.catalog.DenormalizeItem(head.Item)
		if err != nil {
			m.stats.CatalogMisses++
			log.Warn("Dropping received item %d from player %d: %v", head.Sequence, head.SourcePlayer, err)
			m.state.PopHead()
			if err := m.persist(ctx); err != nil {
				return err
			}
			continue
		}

		now := m.clock()
		if m.applyInterval > 0 && !m.lastApply.IsZero() && now.Sub(m.lastApply) < m.applyInterval {
			return nil
		}

		quantity := uint32(1)
		if entry, ok := m.catalog.Item(head.Item); ok {
			quantity = entry.Quantity
		}
		result := m.bridge.TryApply(item, quantity)
		switch result.Outcome {
		case bridge.NotSafeNow:
			return nil
		case bridge.Rejected:
			m.stats.Rejected++
			log.Error("Item %d rejected: id %d, local %d, name %q, from player %d: %v",
				head.Sequence, head.Item, entry.Local, entry.Name, head.SourcePlayer, result.Err)
		case bridge.Applied:
			m.stats.Applied++
			log.User("Received %s from player %d", entry.Name, head.SourcePlayer)
		}

		m.state.PopHead()
		m.lastApply = now
		if err := m.persist(ctx); err != nil {
			return err
		}
		if m.applyInterval > 0 {
			return nil
		}
	}
}

// reportGoal sends the goal status once per connection.
func (m *SyncManager) reportGoal(ctx context.Context) {
	if !m.connected || m.goalSent || !m.bridge.GoalReached() {
		return
	}
	if err := m.transport.SendGoal(ctx); err != nil {
		log.Warn("Failed to send goal: %v", err)
		return
	}
	if !m.stats.GoalSent {
		log.User("Goal complete")
	}
	m.goalSent = true
	m.stats.GoalSent = true
}

// persist saves the state and moves the transport cursor to the durable
// watermark. On failure the state stays dirty and is saved again next tick.
func (m *SyncManager) persist(ctx context.Context) error {
	if err := m.repository.SaveSyncState(ctx, m.state); err != nil {
		m.dirty = true
		m.stats.PersistenceFailures++
		log.Error("Failed to save sync state: %v", err)
		return err
	}
	m.dirty = false
	m.transport.SetResumeCursor(m.state.LastAppliedServerSequence())
	return nil
}

func (m *SyncManager) publish(ctx context.Context) {
	m.updateStats()
	if err := m.stateManager.Set(ctx, m.state.Snapshot()); err != nil {
		log.Warn("Failed to publish state: %v", err)
	}
}

func (m *SyncManager) updateStats() {
	m.stats.Connected = m.connected
	m.stats.Generation = m.generation
	m.stats.Checked = m.state.CheckedCount()
	m.stats.Pending = m.state.PendingLen()
	m.stats.LastAppliedServerSequence = m.state.LastAppliedServerSequence()
}

func (m *SyncManager) Stats() Stats {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.stats
}

// Archive moves the current state to the archive and starts an empty one
// under the same key.
func (m *SyncManager) Archive(ctx context.Context) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if err := m.repository.SaveSyncState(ctx, m.state); err != nil {
		return fmt.Errorf("failed to save sync state before archiving: %w", err)
	}
	key := m.state.Key()
	if err := m.repository.ArchiveSyncState(ctx, key); err != nil {
		return fmt.Errorf("failed to archive sync state: %w", err)
	}
	log.Info("Archived session %s", key)

	m.state = state.NewSyncState(key)
	m.sent = make(map[catalog.NormalizedID]struct{})
	m.goalSent = false
	m.dirty = false
	m.stats = Stats{}
	if err := m.persist(ctx); err != nil {
		return err
	}
	m.publish(ctx)
	return nil
}
