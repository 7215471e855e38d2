package network

import (
	"context"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cbodonnell/apsync/pkg/catalog"
	"github.com/cbodonnell/apsync/pkg/messages"
	"github.com/cbodonnell/apsync/pkg/network"
	"github.com/cbodonnell/apsync/pkg/state"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testGame = "Ashen Kingdoms"

func newTestRoomServer(t *testing.T) (*network.WSServer, *network.Room, string) {
	t.Helper()
	room, err := network.NewRoom(network.RoomConfig{
		SeedName: "83712",
		Password: "hunter2",
		Slots: []network.SlotConfig{
			{Name: "Player 1", Game: testGame},
			{Name: "Player 2", Game: "Clique"},
		},
		Placements: []network.PlacementConfig{
			{Finder: "Player 1", Location: 3780001, Receiver: "Player 2", Item: 1},
		},
	})
	require.NoError(t, err)
	server := network.NewWSServer(network.NewWSServerOptions{Room: room})
	ts := httptest.NewServer(server)
	t.Cleanup(func() {
		server.DisconnectAll()
		ts.Close()
	})
	return server, room, strings.TrimPrefix(ts.URL, "http://")
}

func newTestSession(t *testing.T, addr, slot, token string) *Session {
	t.Helper()
	s := NewSession(NewSessionOptions{
		Credentials:    Credentials{ServerAddress: addr, Slot: slot, Token: token},
		Game:           testGame,
		BackoffInitial: 10 * time.Millisecond,
		BackoffMax:     50 * time.Millisecond,
	})
	t.Cleanup(s.Close)
	return s
}

func waitForState(t *testing.T, s *Session, want ConnectionState) StateChange {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case change := <-s.StateChanges():
			if change.State == want {
				return change
			}
		case <-timeout:
			t.Fatalf("timed out waiting for state %s, currently %s", want, s.State())
		}
	}
}

func collectEvents(t *testing.T, s *Session, n int) []state.ReceiveEvent {
	t.Helper()
	var events []state.ReceiveEvent
	require.Eventually(t, func() bool {
		events = append(events, slices.Collect(s.Events())...)
		return len(events) >= n
	}, 5*time.Second, 5*time.Millisecond)
	return events
}

func TestCredentials_URL(t *testing.T) {
	assert.Equal(t, "ws://archipelago.gg:38281", Credentials{ServerAddress: "archipelago.gg:38281"}.URL())
	assert.Equal(t, "wss://archipelago.gg:38281", Credentials{ServerAddress: " wss://archipelago.gg:38281 "}.URL())
}

func TestSession_connectAndReceive(t *testing.T) {
	server, _, addr := newTestRoomServer(t)
	s := newTestSession(t, addr, "Player 1", "hunter2")

	require.NoError(t, s.Start(context.Background()))
	change := waitForState(t, s, StateSynced)
	assert.Equal(t, uint64(1), change.Generation)
	assert.Equal(t, "83712", change.SeedName)
	assert.Equal(t, 1, change.Slot)

	require.NoError(t, server.SendItem(context.Background(), "Player 1", messages.NetworkItem{Item: 3790001, Location: 42, Player: 2}))
	require.NoError(t, server.SendItem(context.Background(), "Player 1", messages.NetworkItem{Item: 3790002, Location: 43, Player: 2}))

	events := collectEvents(t, s, 2)
	assert.Equal(t, []state.ReceiveEvent{
		{Item: 3790001, SourcePlayer: 2, Location: 42, Sequence: 1},
		{Item: 3790002, SourcePlayer: 2, Location: 43, Sequence: 2},
	}, events)
}

func TestSession_resumeCursor(t *testing.T) {
	server, _, addr := newTestRoomServer(t)
	for i := int64(1); i <= 3; i++ {
		require.NoError(t, server.SendItem(context.Background(), "Player 1", messages.NetworkItem{Item: 3790000 + i, Player: 2}))
	}

	s := newTestSession(t, addr, "Player 1", "hunter2")
	s.SetResumeCursor(2)
	require.NoError(t, s.Start(context.Background()))
	waitForState(t, s, StateSynced)

	events := collectEvents(t, s, 1)
	require.Len(t, events, 1)
	assert.Equal(t, int64(3), events[0].Sequence)
}

func TestSession_authRejected(t *testing.T) {
	_, _, addr := newTestRoomServer(t)
	s := newTestSession(t, addr, "Player 1", "wrong")

	require.NoError(t, s.Start(context.Background()))
	change := waitForState(t, s, StateDisconnected)
	assert.True(t, IsAuthRejected(change.Err))
	assert.True(t, IsAuthRejected(s.Err()))

	var rejected *ErrAuthRejected
	require.ErrorAs(t, s.Err(), &rejected)
	assert.Equal(t, []string{messages.RefusedInvalidPassword}, rejected.Reasons)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, StateDisconnected, s.State(), "refusals are not retried")
	assert.Equal(t, uint64(0), s.Generation())
}

func TestSession_reconnectAfterDrop(t *testing.T) {
	server, _, addr := newTestRoomServer(t)
	s := newTestSession(t, addr, "Player 1", "hunter2")

	require.NoError(t, s.Start(context.Background()))
	waitForState(t, s, StateSynced)

	server.DisconnectAll()
	change := waitForState(t, s, StateReconnecting)
	assert.True(t, IsNetworkUnavailable(change.Err))

	change = waitForState(t, s, StateSynced)
	assert.Equal(t, uint64(2), change.Generation)
}

func TestSession_Reconnect_afterRefusal(t *testing.T) {
	_, _, addr := newTestRoomServer(t)
	s := newTestSession(t, addr, "Player 1", "wrong")

	require.NoError(t, s.Start(context.Background()))
	waitForState(t, s, StateDisconnected)

	s.SetCredentials(Credentials{ServerAddress: addr, Slot: "Player 1", Token: "hunter2"})
	require.NoError(t, s.Reconnect())
	waitForState(t, s, StateSynced)
	assert.NoError(t, s.Err())
}

func TestSession_gapRequestsResync(t *testing.T) {
	server, _, addr := newTestRoomServer(t)
	require.NoError(t, server.SendItem(context.Background(), "Player 1", messages.NetworkItem{Item: 3790001, Player: 2}))

	s := newTestSession(t, addr, "Player 1", "hunter2")
	require.NoError(t, s.Start(context.Background()))
	waitForState(t, s, StateSynced)
	require.Len(t, collectEvents(t, s, 1), 1)

	// the room now holds two items but the client is told about index 5
	require.NoError(t, server.SendItem(context.Background(), "Player 1", messages.NetworkItem{Item: 3790002, Player: 2}))
	collectEvents(t, s, 1)
	require.NoError(t, server.Broadcast(context.Background(), "Player 1", messages.ReceivedItems{
		Index: 5,
		Items: []messages.NetworkItem{{Item: 999, Player: 2}},
	}))

	// the Sync reply replays the whole list; no event carries the bogus item
	events := collectEvents(t, s, 2)
	for _, e := range events {
		assert.NotEqual(t, catalog.NormalizedID(999), e.Item)
	}
	assert.Equal(t, int64(1), events[0].Sequence)
	assert.Equal(t, int64(2), events[1].Sequence)
}

func TestSession_SendChecked(t *testing.T) {
	_, room, addr := newTestRoomServer(t)
	s := newTestSession(t, addr, "Player 1", "hunter2")

	err := s.SendChecked(context.Background(), 3780001)
	assert.True(t, IsNetworkUnavailable(err))
	assert.ErrorIs(t, err, ErrNotConnected)

	require.NoError(t, s.Start(context.Background()))
	waitForState(t, s, StateSynced)

	require.NoError(t, s.SendChecked(context.Background(), 3780001, 3780002))
	require.NoError(t, s.SendGoal(context.Background()))
	require.Eventually(t, func() bool {
		return len(room.Checked("Player 1")) == 2 && room.GoalReached("Player 1")
	}, 5*time.Second, 5*time.Millisecond)
	assert.Len(t, room.Received("Player 2"), 1)
}

// silentServer completes the handshake and then stops reading, so pings go unanswered.
func silentServer(t *testing.T) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	var wg sync.WaitGroup
	done := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		wg.Add(1)
		defer wg.Done()
		defer conn.Close()

		write := func(packets ...messages.Packet) {
			b, err := messages.SerializeMessages(packets...)
			require.NoError(t, err)
			conn.WriteMessage(websocket.TextMessage, b)
		}
		write(messages.RoomInfo{SeedName: "83712"})
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		write(messages.Connected{Slot: 1}, messages.ReceivedItems{Index: 0, Items: []messages.NetworkItem{}})
		<-done
	}))
	t.Cleanup(func() {
		close(done)
		wg.Wait()
		ts.Close()
	})
	return strings.TrimPrefix(ts.URL, "http://")
}

func TestSession_keepaliveTimeout(t *testing.T) {
	addr := silentServer(t)
	s := NewSession(NewSessionOptions{
		Credentials:       Credentials{ServerAddress: addr, Slot: "Player 1"},
		Game:              testGame,
		KeepaliveInterval: 20 * time.Millisecond,
		KeepaliveTimeout:  100 * time.Millisecond,
		BackoffInitial:    time.Second,
	})
	t.Cleanup(s.Close)

	require.NoError(t, s.Start(context.Background()))
	waitForState(t, s, StateSynced)
	change := waitForState(t, s, StateReconnecting)
	assert.True(t, IsNetworkUnavailable(change.Err))
}

func TestSession_Close(t *testing.T) {
	_, _, addr := newTestRoomServer(t)
	s := newTestSession(t, addr, "Player 1", "hunter2")

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()), "already started")
	waitForState(t, s, StateSynced)

	s.Close()
	assert.Equal(t, StateDisconnected, s.State())
	assert.True(t, IsNetworkUnavailable(s.SendGoal(context.Background())))
}

func TestRTTWindow(t *testing.T) {
	var w rttWindow
	for _, rtt := range []int64{10, 12, 11, 13, 500} {
		w.add(rtt)
	}
	assert.InDelta(t, 11.5, w.average(), 0.001, "the outlier is ignored")

	for range 20 {
		w.add(30)
	}
	assert.Len(t, w.samples, rttWindowSize)
	assert.Equal(t, 30.0, w.average())
}

func TestSession_Connect(t *testing.T) {
	_, _, addr := newTestRoomServer(t)

	rejected := newTestSession(t, addr, "Player 1", "wrong")
	assert.True(t, IsAuthRejected(rejected.Connect(context.Background())))

	s := newTestSession(t, addr, "Player 1", "hunter2")
	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, StateSynced, s.State())
	assert.Equal(t, "83712", s.SeedName())

	unreachable := newTestSession(t, "127.0.0.1:1", "Player 1", "hunter2")
	assert.True(t, IsNetworkUnavailable(unreachable.Connect(context.Background())))
}
