package bridge

import (
	"fmt"
	"sync"

	"github.com/cbodonnell/apsync/pkg/catalog"
)

// Grant records one item grant made through a MemoryHost.
type Grant struct {
	Item     catalog.ItemID
	Quantity uint32
}

// MemoryHost is an in-process stand-in for a game. It is used by tests and by
// the simulated client. Its setters may be called from any goroutine.
type MemoryHost struct {
	lock      sync.Mutex
	mainMenu  bool
	busy      bool
	held      bool
	goal      bool
	checked   []catalog.LocationID
	isChecked map[catalog.LocationID]bool
	inventory map[catalog.ItemID]uint32
	rejected  map[catalog.ItemID]bool
	grants    []Grant
}

func NewMemoryHost() *MemoryHost {
	return &MemoryHost{
		isChecked: make(map[catalog.LocationID]bool),
		inventory: make(map[catalog.ItemID]uint32),
		rejected:  make(map[catalog.ItemID]bool),
	}
}

func (h *MemoryHost) SetMainMenu(mainMenu bool) {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.mainMenu = mainMenu
}

// SetBusy puts the host in or out of a transitional state.
func (h *MemoryHost) SetBusy(busy bool) {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.busy = busy
}

func (h *MemoryHost) SetGoal(goal bool) {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.goal = goal
}

// Check marks a location as satisfied, as if the player had reached it.
func (h *MemoryHost) Check(location catalog.LocationID) {
	h.lock.Lock()
	defer h.lock.Unlock()
	if h.isChecked[location] {
		return
	}
	h.isChecked[location] = true
	h.checked = append(h.checked, location)
}

// Reject makes every future grant of item fail with ErrNoEffect.
func (h *MemoryHost) Reject(item catalog.ItemID) {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.rejected[item] = true
}

func (h *MemoryHost) Count(item catalog.ItemID) uint32 {
	h.lock.Lock()
	defer h.lock.Unlock()
	return h.inventory[item]
}

func (h *MemoryHost) Inventory() map[catalog.ItemID]uint32 {
	h.lock.Lock()
	defer h.lock.Unlock()
	out := make(map[catalog.ItemID]uint32, len(h.inventory))
	for k, v := range h.inventory {
		out[k] = v
	}
	return out
}

func (h *MemoryHost) Grants() []Grant {
	h.lock.Lock()
	defer h.lock.Unlock()
	out := make([]Grant, len(h.grants))
	copy(out, h.grants)
	return out
}

func (h *MemoryHost) IsMainMenu() bool {
	h.lock.Lock()
	defer h.lock.Unlock()
	return h.mainMenu
}

func (h *MemoryHost) Acquire() (Window, error) {
	h.lock.Lock()
	defer h.lock.Unlock()
	if h.busy || h.mainMenu {
		return nil, ErrNotSafe
	}
	if h.held {
		return nil, fmt.Errorf("window already held: %w", ErrNotSafe)
	}
	h.held = true
	return &memoryWindow{host: h}, nil
}

type memoryWindow struct {
	host     *MemoryHost
	released bool
}

func (w *memoryWindow) CheckedLocations() ([]catalog.LocationID, error) {
	h := w.host
	h.lock.Lock()
	defer h.lock.Unlock()
	out := make([]catalog.LocationID, len(h.checked))
	copy(out, h.checked)
	return out, nil
}

func (w *memoryWindow) Grant(item catalog.ItemID, quantity uint32) error {
	h := w.host
	h.lock.Lock()
	defer h.lock.Unlock()
	if w.released {
		return fmt.Errorf("grant after release: %w", ErrNotSafe)
	}
	if h.rejected[item] {
		return fmt.Errorf("item %d: %w", item, ErrNoEffect)
	}
	h.inventory[item] += quantity
	h.grants = append(h.grants, Grant{Item: item, Quantity: quantity})
	return nil
}

func (w *memoryWindow) GoalReached() (bool, error) {
	h := w.host
	h.lock.Lock()
	defer h.lock.Unlock()
	return h.goal, nil
}

func (w *memoryWindow) Release() {
	h := w.host
	h.lock.Lock()
	defer h.lock.Unlock()
	if w.released {
		return
	}
	w.released = true
	h.held = false
}
