package network

import (
	"testing"

	"github.com/cbodonnell/apsync/pkg/messages"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRoom(t *testing.T) *Room {
	t.Helper()
	cfg, err := LoadRoomConfig("testdata/room.yaml")
	require.NoError(t, err)
	room, err := NewRoom(*cfg)
	require.NoError(t, err)
	return room
}

func TestNewRoom_invalid(t *testing.T) {
	tests := []struct {
		name string
		cfg  RoomConfig
	}{
		{
			name: "missing seed",
			cfg:  RoomConfig{Slots: []SlotConfig{{Name: "a", Game: "g"}}},
		},
		{
			name: "duplicate slot",
			cfg:  RoomConfig{SeedName: "1", Slots: []SlotConfig{{Name: "a"}, {Name: "a"}}},
		},
		{
			name: "unknown receiver",
			cfg: RoomConfig{
				SeedName:   "1",
				Slots:      []SlotConfig{{Name: "a"}},
				Placements: []PlacementConfig{{Finder: "a", Receiver: "b", Location: 1}},
			},
		},
		{
			name: "location placed twice",
			cfg: RoomConfig{
				SeedName: "1",
				Slots:    []SlotConfig{{Name: "a"}},
				Placements: []PlacementConfig{
					{Finder: "a", Receiver: "a", Location: 1, Item: 1},
					{Finder: "a", Receiver: "a", Location: 1, Item: 2},
				},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRoom(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestRoom_authenticate(t *testing.T) {
	valid := messages.Connect{
		Password:      "hunter2",
		Game:          "Ashen Kingdoms",
		Name:          "Player 1",
		Version:       messages.NewVersion(0, 5, 1),
		ItemsHandling: 0b101,
	}
	tests := []struct {
		name   string
		modify func(c *messages.Connect)
		want   []string
	}{
		{name: "valid", modify: func(c *messages.Connect) {}},
		{
			name:   "unknown slot",
			modify: func(c *messages.Connect) { c.Name = "Nobody" },
			want:   []string{messages.RefusedInvalidSlot},
		},
		{
			name:   "wrong game",
			modify: func(c *messages.Connect) { c.Game = "Clique" },
			want:   []string{messages.RefusedInvalidGame},
		},
		{
			name: "wrong password and version",
			modify: func(c *messages.Connect) {
				c.Password = ""
				c.Version = messages.Version{}
			},
			want: []string{messages.RefusedInvalidPassword, messages.RefusedIncompatibleVersion},
		},
		{
			name:   "items handling out of range",
			modify: func(c *messages.Connect) { c.ItemsHandling = 8 },
			want:   []string{messages.RefusedInvalidItemsHandling},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			room := newTestRoom(t)
			c := valid
			tt.modify(&c)
			number, reasons := room.authenticate(&c)
			assert.Equal(t, tt.want, reasons)
			if tt.want == nil {
				assert.Equal(t, 1, number)
			}
		})
	}
}

func TestRoom_checkLocations(t *testing.T) {
	room := newTestRoom(t)

	deliveries := room.checkLocations(2, []int64{69696969, 69696970, 12345})
	require.Len(t, deliveries, 1)
	assert.Equal(t, 1, deliveries[0].receiver)
	assert.Equal(t, 0, deliveries[0].index)
	assert.Equal(t, []messages.NetworkItem{
		{Item: 3790001, Location: 69696969, Player: 2, Flags: 1},
		{Item: 3790003, Location: 69696970, Player: 2},
	}, deliveries[0].items)

	assert.Empty(t, room.checkLocations(2, []int64{69696969}), "already checked")

	deliveries = room.checkLocations(1, []int64{3780001, 3780002})
	require.Len(t, deliveries, 2)
	assert.Equal(t, delivery{receiver: 2, index: 0, items: []messages.NetworkItem{{Item: 1, Location: 3780001, Player: 1}}}, deliveries[0])
	assert.Equal(t, 2, deliveries[1].index, "appended after the earlier items")

	assert.Equal(t, []int64{12345, 69696969, 69696970}, room.Checked("Player 2"))
	assert.Len(t, room.Received("Player 1"), 3)
}

func TestRoom_connected(t *testing.T) {
	room := newTestRoom(t)
	room.checkLocations(1, []int64{3780001})
	room.checkLocations(2, []int64{69696969})

	connected, received := room.connected(1)
	assert.Equal(t, 1, connected.Slot)
	assert.Len(t, connected.Players, 2)
	assert.Equal(t, []int64{3780001}, connected.CheckedLocations)
	assert.Equal(t, []int64{3780002}, connected.MissingLocations)
	assert.Equal(t, 0, received.Index)
	assert.Equal(t, []messages.NetworkItem{{Item: 3790001, Location: 69696969, Player: 2, Flags: 1}}, received.Items)
}
