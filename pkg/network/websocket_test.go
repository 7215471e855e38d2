package network

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cbodonnell/apsync/pkg/messages"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
)

type testClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dialTestServer(t *testing.T, url string) *testClient {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(url, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return &testClient{t: t, conn: conn}
}

func (c *testClient) read() []*messages.Message {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := c.conn.Read(ctx)
	require.NoError(c.t, err)
	msgs, err := messages.DeserializeMessages(data)
	require.NoError(c.t, err)
	return msgs
}

func (c *testClient) send(packets ...messages.Packet) {
	c.t.Helper()
	b, err := messages.SerializeMessages(packets...)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.Write(context.Background(), websocket.MessageText, b))
}

func (c *testClient) connect(name, game string) []*messages.Message {
	c.t.Helper()
	msgs := c.read()
	require.Len(c.t, msgs, 1)
	require.Equal(c.t, messages.CmdRoomInfo, msgs[0].Cmd)

	c.send(messages.Connect{
		Password:      "hunter2",
		Game:          game,
		Name:          name,
		Version:       messages.NewVersion(0, 5, 1),
		ItemsHandling: 0b101,
		Tags:          []string{},
	})
	return c.read()
}

func newTestServer(t *testing.T) (*WSServer, *httptest.Server) {
	t.Helper()
	server := NewWSServer(NewWSServerOptions{Room: newTestRoom(t)})
	ts := httptest.NewServer(server)
	t.Cleanup(func() {
		server.DisconnectAll()
		ts.Close()
	})
	return server, ts
}

func TestWSServer_connect(t *testing.T) {
	_, ts := newTestServer(t)
	c := dialTestServer(t, ts.URL)

	msgs := c.connect("Player 1", "Ashen Kingdoms")
	require.Len(t, msgs, 2)
	assert.Equal(t, messages.CmdConnected, msgs[0].Cmd)
	assert.Equal(t, messages.CmdReceivedItems, msgs[1].Cmd)

	connected := &messages.Connected{}
	require.NoError(t, msgs[0].Decode(connected))
	assert.Equal(t, 1, connected.Slot)

	received := &messages.ReceivedItems{}
	require.NoError(t, msgs[1].Decode(received))
	assert.Equal(t, 0, received.Index)
	assert.Empty(t, received.Items)
}

func TestWSServer_connectRefused(t *testing.T) {
	_, ts := newTestServer(t)
	c := dialTestServer(t, ts.URL)

	msgs := c.connect("Player 1", "Clique")
	require.Len(t, msgs, 1)
	refused := &messages.ConnectionRefused{}
	require.NoError(t, msgs[0].Decode(refused))
	assert.Equal(t, []string{messages.RefusedInvalidGame}, refused.Errors)
}

func TestWSServer_itemRouting(t *testing.T) {
	server, ts := newTestServer(t)
	p1 := dialTestServer(t, ts.URL)
	p1.connect("Player 1", "Ashen Kingdoms")
	p2 := dialTestServer(t, ts.URL)
	p2.connect("Player 2", "Clique")

	p2.send(messages.LocationChecks{Locations: []int64{69696969}})

	msgs := p1.read()
	require.Len(t, msgs, 1)
	received := &messages.ReceivedItems{}
	require.NoError(t, msgs[0].Decode(received))
	assert.Equal(t, 0, received.Index)
	assert.Equal(t, []messages.NetworkItem{{Item: 3790001, Location: 69696969, Player: 2, Flags: 1}}, received.Items)

	msgs = p2.read()
	require.Len(t, msgs, 1)
	assert.Equal(t, messages.CmdPrintJSON, msgs[0].Cmd, "finder is told where the item went")

	require.NoError(t, server.SendItem(context.Background(), "Player 1", messages.NetworkItem{Item: 3790002, Player: 0}))
	msgs = p1.read()
	require.NoError(t, msgs[0].Decode(received))
	assert.Equal(t, 1, received.Index)

	p1.send(messages.Sync{})
	msgs = p1.read()
	require.NoError(t, msgs[0].Decode(received))
	assert.Equal(t, 0, received.Index)
	assert.Len(t, received.Items, 2)
}

func TestWSServer_goal(t *testing.T) {
	server, ts := newTestServer(t)
	p1 := dialTestServer(t, ts.URL)
	p1.connect("Player 1", "Ashen Kingdoms")

	p1.send(messages.StatusUpdate{Status: messages.ClientStatusGoal})
	msgs := p1.read()
	require.Len(t, msgs, 1)
	assert.Equal(t, messages.CmdPrintJSON, msgs[0].Cmd)
	assert.True(t, server.room.GoalReached("Player 1"))
}
