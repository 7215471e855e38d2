package bridge

import (
	"errors"
	"iter"
	"time"

	"github.com/cbodonnell/apsync/pkg/catalog"
	"github.com/cbodonnell/apsync/pkg/log"
	"github.com/cbodonnell/apsync/pkg/state"
)

// DefaultGracePeriod is how long the bridge waits after a save loads before touching it.
const DefaultGracePeriod = 10 * time.Second

type Outcome int

const (
	Applied Outcome = iota
	NotSafeNow
	Rejected
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case NotSafeNow:
		return "not safe now"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

type ApplyResult struct {
	Outcome Outcome
	// Err explains a NotSafeNow or Rejected outcome when the host gave a reason.
	Err error
}

// Bridge mediates every read and write of the host game. Each access acquires
// the host's window, does one thing, and releases it.
// A Bridge is driven by a single goroutine and is not safe for concurrent use.
type Bridge struct {
	host        Host
	gracePeriod time.Duration
	now         func() time.Time

	seen     map[catalog.LocationID]struct{}
	observed uint64
	inMenu   bool
	loadedAt time.Time
}

type NewBridgeOptions struct {
	Host        Host
	GracePeriod time.Duration
	// Clock defaults to time.Now.
	Clock func() time.Time
}

func NewBridge(opts NewBridgeOptions) *Bridge {
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Bridge{
		host:        opts.Host,
		gracePeriod: opts.GracePeriod,
		now:         now,
		seen:        make(map[catalog.LocationID]struct{}),
		inMenu:      true,
	}
}

// Ready reports whether a save has been loaded for at least the grace period.
func (b *Bridge) Ready() bool {
	if b.host.IsMainMenu() {
		if !b.inMenu {
			log.Debug("Game returned to the main menu")
			// a different save may be loaded next
			b.seen = make(map[catalog.LocationID]struct{})
		}
		b.inMenu = true
		return false
	}
	if b.inMenu {
		b.inMenu = false
		b.loadedAt = b.now()
		log.Debug("Save loaded, waiting %s before syncing", b.gracePeriod)
	}
	return b.now().Sub(b.loadedAt) >= b.gracePeriod
}

// Reset forgets which locations were reported so the next poll yields
// every satisfied location again.
func (b *Bridge) Reset() {
	b.seen = make(map[catalog.LocationID]struct{})
}

// PollChecked returns a sequence that reads the game's satisfied locations
// when iterated and yields one CheckEvent for each location not reported by
// an earlier poll. A location counts as reported only once it has been yielded.
func (b *Bridge) PollChecked() iter.Seq[state.CheckEvent] {
	return func(yield func(state.CheckEvent) bool) {
		locations, err := b.readChecked()
		if err != nil {
			if !errors.Is(err, ErrNotSafe) {
				log.Warn("Failed to read checked locations: %v", err)
			}
			return
		}
		for _, location := range locations {
			if _, ok := b.seen[location]; ok {
				continue
			}
			b.seen[location] = struct{}{}
			b.observed++
			if !yield(state.CheckEvent{Location: location, ObservedAt: b.observed}) {
				return
			}
		}
	}
}

func (b *Bridge) readChecked() ([]catalog.LocationID, error) {
	if !b.Ready() {
		return nil, ErrNotSafe
	}
	w, err := b.host.Acquire()
	if err != nil {
		return nil, err
	}
	defer w.Release()
	return w.CheckedLocations()
}

// TryApply grants an item if the game can safely take it right now.
// A host error other than ErrNoEffect is treated as retryable.
func (b *Bridge) TryApply(item catalog.ItemID, quantity uint32) ApplyResult {
	if !b.Ready() {
		return ApplyResult{Outcome: NotSafeNow}
	}
	w, err := b.host.Acquire()
	if err != nil {
		return ApplyResult{Outcome: NotSafeNow, Err: err}
	}
	defer w.Release()

	if err := w.Grant(item, quantity); err != nil {
		if errors.Is(err, ErrNoEffect) {
			return ApplyResult{Outcome: Rejected, Err: err}
		}
		if !errors.Is(err, ErrNotSafe) {
			log.Warn("Grant of item %d failed, will retry: %v", item, err)
		}
		return ApplyResult{Outcome: NotSafeNow, Err: err}
	}
	return ApplyResult{Outcome: Applied}
}

// GoalReached reports whether the host says the game's goal is complete.
// Hosts whose windows do not implement GoalWindow never report a goal.
func (b *Bridge) GoalReached() bool {
	if !b.Ready() {
		return false
	}
	w, err := b.host.Acquire()
	if err != nil {
		return false
	}
	defer w.Release()

	gw, ok := w.(GoalWindow)
	if !ok {
		return false
	}
	reached, err := gw.GoalReached()
	if err != nil {
		log.Warn("Failed to read goal state: %v", err)
		return false
	}
	return reached
}
