package network

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/cbodonnell/apsync/pkg/messages"
)

// ServerVersion is reported in RoomInfo.
var ServerVersion = messages.NewVersion(0, 5, 1)

type slot struct {
	number   int
	name     string
	game     string
	received []messages.NetworkItem
	checked  map[int64]struct{}
	goal     bool
}

type placementKey struct {
	finder   int
	location int64
}

type placement struct {
	receiver int
	item     int64
	flags    int
}

// delivery is a batch of items appended to a receiver's list starting at index.
type delivery struct {
	receiver int
	index    int
	items    []messages.NetworkItem
}

// Room holds the multiworld state served to clients: per-slot received item
// lists, checked locations, and goal status.
type Room struct {
	lock       sync.Mutex
	seedName   string
	password   string
	createdAt  time.Time
	slots      []*slot
	byName     map[string]*slot
	placements map[placementKey]placement
}

func NewRoom(cfg RoomConfig) (*Room, error) {
	if cfg.SeedName == "" {
		return nil, fmt.Errorf("room requires a seed name")
	}
	r := &Room{
		seedName:   cfg.SeedName,
		password:   cfg.Password,
		createdAt:  time.Now(),
		byName:     make(map[string]*slot),
		placements: make(map[placementKey]placement),
	}
	for i, sc := range cfg.Slots {
		if _, ok := r.byName[sc.Name]; ok {
			return nil, fmt.Errorf("duplicate slot %q", sc.Name)
		}
		s := &slot{
			number:  i + 1,
			name:    sc.Name,
			game:    sc.Game,
			checked: make(map[int64]struct{}),
		}
		r.slots = append(r.slots, s)
		r.byName[sc.Name] = s
	}
	for _, pc := range cfg.Placements {
		finder, ok := r.byName[pc.Finder]
		if !ok {
			return nil, fmt.Errorf("placement at location %d: unknown finder %q", pc.Location, pc.Finder)
		}
		receiver, ok := r.byName[pc.Receiver]
		if !ok {
			return nil, fmt.Errorf("placement at location %d: unknown receiver %q", pc.Location, pc.Receiver)
		}
		key := placementKey{finder: finder.number, location: pc.Location}
		if _, ok := r.placements[key]; ok {
			return nil, fmt.Errorf("location %d of %q placed twice", pc.Location, pc.Finder)
		}
		r.placements[key] = placement{receiver: receiver.number, item: pc.Item, flags: pc.Flags}
	}
	return r, nil
}

func (r *Room) SeedName() string {
	return r.seedName
}

func (r *Room) roomInfo() messages.RoomInfo {
	r.lock.Lock()
	defer r.lock.Unlock()
	games := make([]string, 0, len(r.slots))
	for _, s := range r.slots {
		if !slices.Contains(games, s.game) {
			games = append(games, s.game)
		}
	}
	return messages.RoomInfo{
		Version:          ServerVersion,
		GeneratorVersion: ServerVersion,
		Tags:             []string{"apsync"},
		Password:         r.password != "",
		Games:            games,
		SeedName:         r.seedName,
		Time:             float64(r.createdAt.UnixMilli()) / 1000,
	}
}

// authenticate validates a Connect packet. On success it returns the slot
// number; otherwise the refusal reasons.
// The caller must hold the lock.
func (r *Room) authenticate(c *messages.Connect) (int, []string) {
	var reasons []string
	s, ok := r.byName[c.Name]
	switch {
	case !ok:
		reasons = append(reasons, messages.RefusedInvalidSlot)
	case s.game != c.Game:
		reasons = append(reasons, messages.RefusedInvalidGame)
	}
	if r.password != "" && c.Password != r.password {
		reasons = append(reasons, messages.RefusedInvalidPassword)
	}
	if c.Version.Class != "Version" {
		reasons = append(reasons, messages.RefusedIncompatibleVersion)
	}
	if c.ItemsHandling < 0 || c.ItemsHandling > 0b111 {
		reasons = append(reasons, messages.RefusedInvalidItemsHandling)
	}
	if len(reasons) > 0 {
		return 0, reasons
	}
	return s.number, nil
}

// connected builds the Connected reply and a full ReceivedItems resend.
// The caller must hold the lock.
func (r *Room) connected(number int) (messages.Connected, messages.ReceivedItems) {
	s := r.slots[number-1]
	players := make([]messages.NetworkPlayer, 0, len(r.slots))
	for _, p := range r.slots {
		players = append(players, messages.NetworkPlayer{Slot: p.number, Alias: p.name, Name: p.name})
	}
	checked := r.checkedLocked(s)
	missing := []int64{}
	for key := range r.placements {
		if key.finder != number {
			continue
		}
		if _, ok := s.checked[key.location]; !ok {
			missing = append(missing, key.location)
		}
	}
	slices.Sort(missing)
	return messages.Connected{
			Slot:             number,
			Players:          players,
			CheckedLocations: checked,
			MissingLocations: missing,
		}, messages.ReceivedItems{
			Index: 0,
			Items: slices.Clone(s.received),
		}
}

// resend returns the slot's whole received list.
// The caller must hold the lock.
func (r *Room) resend(number int) messages.ReceivedItems {
	return messages.ReceivedItems{Index: 0, Items: slices.Clone(r.slots[number-1].received)}
}

// checkLocations marks locations checked for the finder and appends the items
// placed there to the receivers' lists. Locations already checked are ignored.
// The caller must hold the lock.
func (r *Room) checkLocations(finder int, locations []int64) []delivery {
	f := r.slots[finder-1]
	var deliveries []delivery
	for _, location := range locations {
		if _, ok := f.checked[location]; ok {
			continue
		}
		f.checked[location] = struct{}{}
		p, ok := r.placements[placementKey{finder: finder, location: location}]
		if !ok {
			continue
		}
		deliveries = r.appendItem(deliveries, p.receiver, messages.NetworkItem{
			Item:     p.item,
			Location: location,
			Player:   finder,
			Flags:    p.flags,
		})
	}
	return deliveries
}

// The caller must hold the lock.
func (r *Room) appendItem(deliveries []delivery, receiver int, item messages.NetworkItem) []delivery {
	s := r.slots[receiver-1]
	index := len(s.received)
	s.received = append(s.received, item)
	for i := range deliveries {
		d := &deliveries[i]
		if d.receiver == receiver && d.index+len(d.items) == index {
			d.items = append(d.items, item)
			return deliveries
		}
	}
	return append(deliveries, delivery{receiver: receiver, index: index, items: []messages.NetworkItem{item}})
}

// The caller must hold the lock.
func (r *Room) checkedLocked(s *slot) []int64 {
	checked := make([]int64, 0, len(s.checked))
	for location := range s.checked {
		checked = append(checked, location)
	}
	slices.Sort(checked)
	return checked
}

// The caller must hold the lock.
func (r *Room) slotName(number int) string {
	if number < 1 || number > len(r.slots) {
		return fmt.Sprintf("Player %d", number)
	}
	return r.slots[number-1].name
}

// Received returns a copy of the items received by the named slot.
func (r *Room) Received(name string) []messages.NetworkItem {
	r.lock.Lock()
	defer r.lock.Unlock()
	s, ok := r.byName[name]
	if !ok {
		return nil
	}
	return slices.Clone(s.received)
}

// Checked returns the named slot's checked locations in ascending order.
func (r *Room) Checked(name string) []int64 {
	r.lock.Lock()
	defer r.lock.Unlock()
	s, ok := r.byName[name]
	if !ok {
		return nil
	}
	return r.checkedLocked(s)
}

// GoalReached reports whether the named slot has sent its goal status.
func (r *Room) GoalReached(name string) bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	s, ok := r.byName[name]
	return ok && s.goal
}
