package bridge

import (
	"errors"

	"github.com/cbodonnell/apsync/pkg/catalog"
)

var (
	// ErrNotSafe is returned by a host when it is in a transitional state
	// (loading, saving, cutscene) and cannot be touched right now.
	ErrNotSafe = errors.New("host is not in a stable state")
	// ErrNoEffect is returned by a host when a grant can never take effect.
	ErrNoEffect = errors.New("grant cannot take effect")
)

// Host is the running game as seen by the bridge.
type Host interface {
	// IsMainMenu reports whether no save is loaded.
	IsMainMenu() bool
	// Acquire enters a stable window in which the game may be read and mutated.
	// It fails with ErrNotSafe while the game is transitioning.
	Acquire() (Window, error)
}

// Window is the capability to touch the game. It must be released exactly once.
type Window interface {
	// CheckedLocations returns every location currently satisfied in the game.
	CheckedLocations() ([]catalog.LocationID, error)
	// Grant adds quantity instances of an item to the game.
	Grant(item catalog.ItemID, quantity uint32) error
	Release()
}

// GoalWindow is implemented by windows that can tell whether the game's goal is complete.
type GoalWindow interface {
	Window
	GoalReached() (bool, error)
}
