package messages

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Packet commands
const (
	CmdRoomInfo          = "RoomInfo"
	CmdConnect           = "Connect"
	CmdConnected         = "Connected"
	CmdConnectionRefused = "ConnectionRefused"
	CmdReceivedItems     = "ReceivedItems"
	CmdLocationChecks    = "LocationChecks"
	CmdSync              = "Sync"
	CmdStatusUpdate      = "StatusUpdate"
	CmdPrintJSON         = "PrintJSON"
	CmdRoomUpdate        = "RoomUpdate"
	CmdSay               = "Say"
)

// Reasons carried by ConnectionRefused
const (
	RefusedInvalidSlot          = "InvalidSlot"
	RefusedInvalidGame          = "InvalidGame"
	RefusedIncompatibleVersion  = "IncompatibleVersion"
	RefusedInvalidPassword      = "InvalidPassword"
	RefusedInvalidItemsHandling = "InvalidItemsHandling"
)

// Client statuses sent with StatusUpdate
const (
	ClientStatusUnknown   = 0
	ClientStatusConnected = 5
	ClientStatusReady     = 10
	ClientStatusPlaying   = 20
	ClientStatusGoal      = 30
)

// Items handling flags sent with Connect
const (
	ItemsHandlingRemote            = 0b001
	ItemsHandlingOwnWorld          = 0b010
	ItemsHandlingStartingInventory = 0b100
)

// Packet is a command object that can be written to the wire.
type Packet interface {
	Command() string
}

// Message is one decoded command object whose body has not been interpreted yet.
type Message struct {
	Cmd     string          `json:"cmd"`
	Payload json.RawMessage `json:"-"`
}

type Version struct {
	Major int    `json:"major"`
	Minor int    `json:"minor"`
	Build int    `json:"build"`
	Class string `json:"class"`
}

func NewVersion(major, minor, build int) Version {
	return Version{Major: major, Minor: minor, Build: build, Class: "Version"}
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Build)
}

type NetworkItem struct {
	Item     int64 `json:"item"`
	Location int64 `json:"location"`
	Player   int   `json:"player"`
	Flags    int   `json:"flags"`
}

type NetworkPlayer struct {
	Team  int    `json:"team"`
	Slot  int    `json:"slot"`
	Alias string `json:"alias"`
	Name  string `json:"name"`
}

type RoomInfo struct {
	Version          Version  `json:"version"`
	GeneratorVersion Version  `json:"generator_version"`
	Tags             []string `json:"tags"`
	Password         bool     `json:"password"`
	Games            []string `json:"games"`
	SeedName         string   `json:"seed_name"`
	Time             float64  `json:"time"`
}

func (RoomInfo) Command() string { return CmdRoomInfo }

type Connect struct {
	Password      string   `json:"password"`
	Game          string   `json:"game"`
	Name          string   `json:"name"`
	UUID          string   `json:"uuid"`
	Version       Version  `json:"version"`
	ItemsHandling int      `json:"items_handling"`
	Tags          []string `json:"tags"`
	SlotData      bool     `json:"slot_data"`
}

func (Connect) Command() string { return CmdConnect }

type Connected struct {
	Team             int             `json:"team"`
	Slot             int             `json:"slot"`
	Players          []NetworkPlayer `json:"players"`
	MissingLocations []int64         `json:"missing_locations"`
	CheckedLocations []int64         `json:"checked_locations"`
	SlotData         json.RawMessage `json:"slot_data,omitempty"`
	HintPoints       int             `json:"hint_points"`
}

func (Connected) Command() string { return CmdConnected }

type ConnectionRefused struct {
	Errors []string `json:"errors"`
}

func (ConnectionRefused) Command() string { return CmdConnectionRefused }

// ReceivedItems carries items starting at position Index of the slot's received list.
// Index 0 means the list is being sent from the start.
type ReceivedItems struct {
	Index int           `json:"index"`
	Items []NetworkItem `json:"items"`
}

func (ReceivedItems) Command() string { return CmdReceivedItems }

type LocationChecks struct {
	Locations []int64 `json:"locations"`
}

func (LocationChecks) Command() string { return CmdLocationChecks }

type Sync struct{}

func (Sync) Command() string { return CmdSync }

type StatusUpdate struct {
	Status int `json:"status"`
}

func (StatusUpdate) Command() string { return CmdStatusUpdate }

type JSONMessagePart struct {
	Type   string `json:"type,omitempty"`
	Text   string `json:"text,omitempty"`
	Color  string `json:"color,omitempty"`
	Player int    `json:"player,omitempty"`
	Flags  int    `json:"flags,omitempty"`
}

type PrintJSON struct {
	Data []JSONMessagePart `json:"data"`
	Type string            `json:"type,omitempty"`
}

func (PrintJSON) Command() string { return CmdPrintJSON }

// PlainText joins the text of every part.
func (p PrintJSON) PlainText() string {
	var sb strings.Builder
	for _, part := range p.Data {
		sb.WriteString(part.Text)
	}
	return sb.String()
}

type RoomUpdate struct {
	CheckedLocations []int64 `json:"checked_locations,omitempty"`
	HintPoints       *int    `json:"hint_points,omitempty"`
}

func (RoomUpdate) Command() string { return CmdRoomUpdate }

type Say struct {
	Text string `json:"text"`
}

func (Say) Command() string { return CmdSay }
