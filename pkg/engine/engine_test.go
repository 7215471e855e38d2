package engine

import (
	"context"
	"errors"
	"iter"
	"slices"
	"sync"
	"testing"
	"time"

	mocks "github.com/cbodonnell/apsync/mocks/github.com/cbodonnell/apsync/pkg/engine"
	repomocks "github.com/cbodonnell/apsync/mocks/github.com/cbodonnell/apsync/pkg/repositories"
	"github.com/cbodonnell/apsync/pkg/bridge"
	"github.com/cbodonnell/apsync/pkg/catalog"
	"github.com/cbodonnell/apsync/pkg/repositories"
	"github.com/cbodonnell/apsync/pkg/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testKey = state.SessionKey{Seed: "83712", Slot: "Player 1"}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.New("Ashen Kingdoms",
		catalog.Entry{Kind: catalog.KindLocation, Local: 1001, Normalized: 3780001, Name: "Firelink Shrine"},
		catalog.Entry{Kind: catalog.KindLocation, Local: 1002, Normalized: 3780002, Name: "Undead Burg"},
		catalog.Entry{Kind: catalog.KindLocation, Local: 1003, Normalized: 3780003, Name: "Sen's Fortress"},
		catalog.Entry{Kind: catalog.KindItem, Local: 4000010, Normalized: 3790001, Name: "Estus Flask"},
		catalog.Entry{Kind: catalog.KindItem, Local: 4000020, Normalized: 3790002, Name: "Titanite Shard", Quantity: 3},
		catalog.Entry{Kind: catalog.KindItem, Local: 4000030, Normalized: 3790003, Name: "Homeward Bone"},
		catalog.Entry{Kind: catalog.KindItem, Local: 4000040, Normalized: 3790004, Name: "Ember"},
	)
	require.NoError(t, err)
	return c
}

// fakeTransport records sends and hands out queued events as-is.
type fakeTransport struct {
	lock    sync.Mutex
	batches [][]catalog.NormalizedID
	goals   int
	events  []state.ReceiveEvent
	cursor  int64
	err     error
}

func (f *fakeTransport) SendChecked(ctx context.Context, locations ...catalog.NormalizedID) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, slices.Clone(locations))
	return nil
}

func (f *fakeTransport) SendGoal(ctx context.Context) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	if f.err != nil {
		return f.err
	}
	f.goals++
	return nil
}

func (f *fakeTransport) Events() iter.Seq[state.ReceiveEvent] {
	return func(yield func(state.ReceiveEvent) bool) {
		f.lock.Lock()
		events := f.events
		f.events = nil
		f.lock.Unlock()
		for _, e := range events {
			if !yield(e) {
				return
			}
		}
	}
}

func (f *fakeTransport) SetResumeCursor(sequence int64) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.cursor = sequence
}

func (f *fakeTransport) push(events ...state.ReceiveEvent) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.events = append(f.events, events...)
}

func (f *fakeTransport) sent() []catalog.NormalizedID {
	f.lock.Lock()
	defer f.lock.Unlock()
	var out []catalog.NormalizedID
	for _, b := range f.batches {
		out = append(out, b...)
	}
	return out
}

func received(seq int64, item catalog.NormalizedID) state.ReceiveEvent {
	return state.ReceiveEvent{Item: item, SourcePlayer: 2, Location: catalog.NormalizedID(100 + seq), Sequence: seq}
}

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

type testManager struct {
	*SyncManager
	host      *bridge.MemoryHost
	transport *fakeTransport
	repo      repositories.Repository
	clock     *testClock
}

func newTestManager(t *testing.T, repo repositories.Repository, applyInterval time.Duration) *testManager {
	t.Helper()
	if repo == nil {
		repo = repositories.NewMemoryRepository()
	}
	host := bridge.NewMemoryHost()
	transport := &fakeTransport{}
	clock := &testClock{now: time.Unix(1700000000, 0)}
	m, err := NewSyncManager(context.Background(), NewSyncManagerOptions{
		Key:           testKey,
		Catalog:       testCatalog(t),
		Transport:     transport,
		Bridge:        bridge.NewBridge(bridge.NewBridgeOptions{Host: host, Clock: clock.Now}),
		Repository:    repo,
		ApplyInterval: applyInterval,
		Clock:         clock.Now,
	})
	require.NoError(t, err)
	return &testManager{SyncManager: m, host: host, transport: transport, repo: repo, clock: clock}
}

func (m *testManager) connect(t *testing.T, generation uint64) {
	t.Helper()
	require.NoError(t, m.ConnectionEvents().Enqueue(ConnectionEvent{
		Type:       ConnectionEventConnected,
		Generation: generation,
		SeedName:   testKey.Seed,
	}))
}

func (m *testManager) disconnect(t *testing.T) {
	t.Helper()
	require.NoError(t, m.ConnectionEvents().Enqueue(ConnectionEvent{Type: ConnectionEventDisconnected}))
}

func (m *testManager) tick(t *testing.T) {
	t.Helper()
	require.NoError(t, m.Tick(context.Background()))
}

func checkEvents(locations ...catalog.LocationID) iter.Seq[state.CheckEvent] {
	return func(yield func(state.CheckEvent) bool) {
		for i, l := range locations {
			if !yield(state.CheckEvent{Location: l, ObservedAt: uint64(i + 1)}) {
				return
			}
		}
	}
}

func noReceived(yield func(state.ReceiveEvent) bool) {}

func TestSyncManager_duplicateChecks(t *testing.T) {
	transport := mocks.NewTransport(t)
	gameBridge := mocks.NewGameBridge(t)

	transport.On("SetResumeCursor", int64(0)).Maybe()
	transport.On("Events").Return(iter.Seq[state.ReceiveEvent](noReceived)).Maybe()
	gameBridge.On("GoalReached").Return(false).Maybe()

	// the same location reported twice in one poll, and again in the next
	gameBridge.On("PollChecked").Return(checkEvents(1001, 1001, 1002)).Once()
	gameBridge.On("PollChecked").Return(checkEvents(1001)).Once()
	gameBridge.On("PollChecked").Return(checkEvents()).Once()

	transport.On("SendChecked", mock.Anything, catalog.NormalizedID(3780001), catalog.NormalizedID(3780002)).
		Return(nil).Twice()

	m, err := NewSyncManager(context.Background(), NewSyncManagerOptions{
		Key:        testKey,
		Catalog:    testCatalog(t),
		Transport:  transport,
		Bridge:     gameBridge,
		Repository: repositories.NewMemoryRepository(),
	})
	require.NoError(t, err)
	require.NoError(t, m.ConnectionEvents().Enqueue(ConnectionEvent{Type: ConnectionEventConnected, Generation: 1, SeedName: testKey.Seed}))

	require.NoError(t, m.Tick(context.Background()))
	require.NoError(t, m.Tick(context.Background()))

	stats := m.Stats()
	assert.Equal(t, 2, stats.Checked)
	assert.Equal(t, uint64(2), stats.Duplicates)

	// a new connection resends the whole set exactly once
	require.NoError(t, m.ConnectionEvents().Enqueue(ConnectionEvent{Type: ConnectionEventConnected, Generation: 2, SeedName: testKey.Seed}))
	require.NoError(t, m.Tick(context.Background()))
}

func TestSyncManager_unknownLocation(t *testing.T) {
	m := newTestManager(t, nil, 0)
	m.connect(t, 1)

	m.host.Check(1001)
	m.host.Check(9999)
	m.host.Check(1002)
	m.tick(t)

	assert.Equal(t, []catalog.NormalizedID{3780001, 3780002}, m.transport.sent())
	assert.Equal(t, uint64(1), m.Stats().CatalogMisses)
	assert.Equal(t, 2, m.Stats().Checked)
}

func TestSyncManager_checksWhileOffline(t *testing.T) {
	m := newTestManager(t, nil, 0)

	m.host.Check(1001)
	m.tick(t)
	assert.Empty(t, m.transport.sent(), "not connected")

	m.connect(t, 1)
	m.tick(t)
	assert.Equal(t, []catalog.NormalizedID{3780001}, m.transport.sent())

	m.disconnect(t)
	m.host.Check(1002)
	m.tick(t)
	m.connect(t, 2)
	m.tick(t)
	assert.Equal(t, []catalog.NormalizedID{3780001, 3780001, 3780002}, m.transport.sent())
}

func TestSyncManager_outOfOrderAcrossReconnect(t *testing.T) {
	m := newTestManager(t, nil, 0)
	m.connect(t, 1)

	m.transport.push(received(3, 3790003), received(1, 3790001), received(2, 3790002), received(2, 3790002))
	m.tick(t)

	m.disconnect(t)
	m.connect(t, 2)
	m.transport.push(received(1, 3790001), received(2, 3790002), received(3, 3790003), received(4, 3790004))
	m.tick(t)

	assert.Equal(t, []bridge.Grant{
		{Item: 4000010, Quantity: 1},
		{Item: 4000020, Quantity: 3},
		{Item: 4000030, Quantity: 1},
		{Item: 4000040, Quantity: 1},
	}, m.host.Grants())
	assert.Equal(t, int64(4), m.Stats().LastAppliedServerSequence)
	assert.Equal(t, int64(4), m.transport.cursor)
}

func TestSyncManager_notSafeThenApplied(t *testing.T) {
	m := newTestManager(t, nil, 0)
	m.host.SetBusy(true)
	m.transport.push(received(1, 3790001), received(2, 3790002))

	for range 5 {
		m.tick(t)
		assert.Empty(t, m.host.Grants())
		assert.Equal(t, int64(0), m.Stats().LastAppliedServerSequence)
		assert.Equal(t, 2, m.Stats().Pending)
	}

	m.host.SetBusy(false)
	m.tick(t)
	assert.Equal(t, []bridge.Grant{{Item: 4000010, Quantity: 1}, {Item: 4000020, Quantity: 3}}, m.host.Grants())
	m.tick(t)
	assert.Len(t, m.host.Grants(), 2, "applied exactly once")
}

func TestSyncManager_restartReplay(t *testing.T) {
	repo := repositories.NewMemoryRepository()

	first := newTestManager(t, repo, 0)
	first.transport.push(received(1, 3790001))
	first.tick(t)
	require.Len(t, first.host.Grants(), 1)

	restarted := newTestManager(t, repo, 0)
	assert.Equal(t, int64(1), restarted.transport.cursor, "resume cursor restored from the store")
	restarted.transport.push(received(1, 3790001))
	restarted.tick(t)

	assert.Empty(t, restarted.host.Grants(), "replayed item is discarded")
	assert.Equal(t, uint64(1), restarted.Stats().Duplicates)
}

func TestSyncManager_watermarkMonotonic(t *testing.T) {
	repo := repositories.NewMemoryRepository()
	m := newTestManager(t, repo, 0)

	var last int64
	batches := [][]state.ReceiveEvent{
		{received(2, 3790002)},
		{received(1, 3790001), received(1, 3790001)},
		{received(4, 3790004), received(3, 3790003)},
		{received(2, 3790002)},
	}
	for i, batch := range batches {
		if i == 1 {
			m.host.SetBusy(true)
		}
		if i == 2 {
			m.host.SetBusy(false)
		}
		m.transport.push(batch...)
		m.tick(t)
		watermark := m.Stats().LastAppliedServerSequence
		assert.GreaterOrEqual(t, watermark, last)
		last = watermark
	}
	assert.Equal(t, int64(4), last)

	loaded, err := repo.LoadSyncState(context.Background(), testKey)
	require.NoError(t, err)
	assert.Equal(t, last, loaded.LastAppliedServerSequence())
}

func TestSyncManager_rejected(t *testing.T) {
	m := newTestManager(t, nil, 0)
	m.host.Reject(4000010)
	m.transport.push(received(1, 3790001), received(2, 3790003))
	m.tick(t)

	assert.Equal(t, []bridge.Grant{{Item: 4000030, Quantity: 1}}, m.host.Grants())
	stats := m.Stats()
	assert.Equal(t, uint64(1), stats.Rejected)
	assert.Equal(t, uint64(1), stats.Applied)
	assert.Equal(t, int64(2), stats.LastAppliedServerSequence)
}

func TestSyncManager_unknownItem(t *testing.T) {
	m := newTestManager(t, nil, 0)
	m.transport.push(received(1, 999), received(2, 3790001))
	m.tick(t)

	assert.Equal(t, []bridge.Grant{{Item: 4000010, Quantity: 1}}, m.host.Grants())
	assert.Equal(t, uint64(1), m.Stats().CatalogMisses)
	assert.Equal(t, int64(2), m.Stats().LastAppliedServerSequence)
}

func TestSyncManager_applyInterval(t *testing.T) {
	m := newTestManager(t, nil, time.Second)
	m.transport.push(received(1, 3790001), received(2, 3790003), received(3, 3790004))

	m.tick(t)
	assert.Len(t, m.host.Grants(), 1)
	m.clock.now = m.clock.now.Add(500 * time.Millisecond)
	m.tick(t)
	assert.Len(t, m.host.Grants(), 1)
	m.clock.now = m.clock.now.Add(500 * time.Millisecond)
	m.tick(t)
	assert.Len(t, m.host.Grants(), 2)
}

func TestSyncManager_persistenceFailure(t *testing.T) {
	repo := repomocks.NewRepository(t)
	repo.On("LoadSyncState", mock.Anything, testKey).Return(nil, &repositories.ErrNotFound{}).Once()
	repo.On("SaveSyncState", mock.Anything, mock.Anything).
		Return(&repositories.ErrPersistenceFailure{Op: "commit", Err: errors.New("disk full")}).Twice()
	repo.On("SaveSyncState", mock.Anything, mock.Anything).Return(nil)

	m := newTestManager(t, repo, 0)
	m.transport.push(received(1, 3790001))

	err := m.Tick(context.Background())
	assert.True(t, repositories.IsPersistenceFailure(err))
	assert.Empty(t, m.host.Grants(), "nothing is applied before the queue is durable")

	err = m.Tick(context.Background())
	assert.True(t, repositories.IsPersistenceFailure(err), "retried first on the next tick")
	assert.Empty(t, m.host.Grants())
	assert.NoError(t, m.Err(), "persistence failures are not fatal")

	m.tick(t)
	assert.Len(t, m.host.Grants(), 1)
	assert.Equal(t, int64(1), m.transport.cursor)
	assert.Equal(t, uint64(2), m.Stats().PersistenceFailures)
}

func TestSyncManager_fatalConnectionEvents(t *testing.T) {
	tests := []struct {
		name  string
		event ConnectionEvent
		check func(t *testing.T, err error)
	}{
		{
			name:  "seed mismatch",
			event: ConnectionEvent{Type: ConnectionEventConnected, Generation: 1, SeedName: "99999"},
			check: func(t *testing.T, err error) {
				assert.True(t, IsSeedMismatch(err))
			},
		},
		{
			name:  "refused",
			event: ConnectionEvent{Type: ConnectionEventRefused, Err: errors.New("InvalidPassword")},
			check: func(t *testing.T, err error) {
				assert.EqualError(t, err, "InvalidPassword")
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager(t, nil, 0)
			require.NoError(t, m.ConnectionEvents().Enqueue(tt.event))
			m.transport.push(received(1, 3790001))

			err := m.Tick(context.Background())
			tt.check(t, err)
			assert.Equal(t, err, m.Err())
			assert.Equal(t, err, m.Tick(context.Background()), "fatal errors stick")
			assert.Empty(t, m.host.Grants())
		})
	}
}

func TestSyncManager_goal(t *testing.T) {
	m := newTestManager(t, nil, 0)
	m.host.SetGoal(true)
	m.tick(t)
	assert.Equal(t, 0, m.transport.goals, "not connected")

	m.connect(t, 1)
	m.tick(t)
	m.tick(t)
	assert.Equal(t, 1, m.transport.goals)

	m.connect(t, 2)
	m.tick(t)
	assert.Equal(t, 2, m.transport.goals, "resent on a new connection")
	assert.True(t, m.Stats().GoalSent)
}

func TestSyncManager_panic(t *testing.T) {
	transport := mocks.NewTransport(t)
	gameBridge := mocks.NewGameBridge(t)
	transport.On("SetResumeCursor", int64(0))
	gameBridge.On("PollChecked").Run(func(args mock.Arguments) {
		panic("null pointer in host")
	}).Return(checkEvents())

	m, err := NewSyncManager(context.Background(), NewSyncManagerOptions{
		Key:        testKey,
		Catalog:    testCatalog(t),
		Transport:  transport,
		Bridge:     gameBridge,
		Repository: repositories.NewMemoryRepository(),
	})
	require.NoError(t, err)

	err = m.Tick(context.Background())
	var panicErr *ErrPanic
	require.ErrorAs(t, err, &panicErr)
	assert.Equal(t, "null pointer in host", panicErr.Value)
	assert.Equal(t, err, m.Err())
}

func TestSyncManager_Archive(t *testing.T) {
	repo := repositories.NewMemoryRepository()
	m := newTestManager(t, repo, 0)
	m.host.Check(1001)
	m.transport.push(received(1, 3790001))
	m.tick(t)

	require.NoError(t, m.Archive(context.Background()))
	assert.Equal(t, 0, m.Stats().Checked)
	assert.Equal(t, int64(0), m.transport.cursor)

	archives, err := repo.ListArchives(context.Background(), testKey)
	require.NoError(t, err)
	require.Len(t, archives, 1)
	assert.Equal(t, int64(1), archives[0].Snapshot.LastAppliedServerSequence)

	loaded, err := repo.LoadSyncState(context.Background(), testKey)
	require.NoError(t, err)
	assert.Equal(t, 0, loaded.CheckedCount())
}

func TestSyncManager_publishesSnapshot(t *testing.T) {
	stateManager := state.NewInMemoryStateManager()
	host := bridge.NewMemoryHost()
	m, err := NewSyncManager(context.Background(), NewSyncManagerOptions{
		Key:          testKey,
		Catalog:      testCatalog(t),
		Transport:    &fakeTransport{},
		Bridge:       bridge.NewBridge(bridge.NewBridgeOptions{Host: host}),
		Repository:   repositories.NewMemoryRepository(),
		StateManager: stateManager,
	})
	require.NoError(t, err)

	host.Check(1003)
	require.NoError(t, m.Tick(context.Background()))

	snapshot, err := stateManager.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testKey, snapshot.Key)
	assert.Equal(t, []catalog.NormalizedID{3780003}, snapshot.CheckedLocations)
}

func TestSyncManager_waitsForMissingSequence(t *testing.T) {
	m := newTestManager(t, nil, 0)
	m.transport.push(received(2, 3790002))
	m.tick(t)
	assert.Empty(t, m.host.Grants(), "item 1 has not arrived")

	m.transport.push(received(1, 3790001))
	m.tick(t)
	assert.Equal(t, []bridge.Grant{{Item: 4000010, Quantity: 1}, {Item: 4000020, Quantity: 3}}, m.host.Grants())
}

func TestSyncManager_Resume(t *testing.T) {
	m := newTestManager(t, nil, 0)
	require.NoError(t, m.ConnectionEvents().Enqueue(ConnectionEvent{Type: ConnectionEventRefused, Err: errors.New("InvalidPassword")}))
	require.Error(t, m.Tick(context.Background()))

	assert.True(t, m.Resume())
	assert.NoError(t, m.Err())
	m.connect(t, 2)
	m.transport.push(received(1, 3790001))
	m.tick(t)
	assert.Len(t, m.host.Grants(), 1)
}
