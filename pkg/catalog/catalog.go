package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// LocationID identifies a check site inside one game.
type LocationID int64

// ItemID identifies an item or effect grantable inside one game.
type ItemID int64

// NormalizedID is an identifier in the multiworld server's id space.
type NormalizedID int64

type Kind string

const (
	KindLocation Kind = "location"
	KindItem     Kind = "item"
)

// Entry maps one game-native identifier to its multiworld counterpart.
type Entry struct {
	Kind       Kind         `yaml:"-" json:"kind"`
	Local      int64        `yaml:"local" json:"local"`
	Normalized NormalizedID `yaml:"id" json:"id"`
	Name       string       `yaml:"name" json:"name"`
	// Quantity is the number of instances a grant of this item yields.
	Quantity uint32 `yaml:"quantity,omitempty" json:"quantity,omitempty"`
}

type file struct {
	Game      string  `yaml:"game"`
	Locations []Entry `yaml:"locations"`
	Items     []Entry `yaml:"items"`
}

type table struct {
	toNormalized map[int64]NormalizedID
	toLocal      map[NormalizedID]int64
	entries      map[NormalizedID]Entry
}

func newTable(kind Kind, entries []Entry) (*table, error) {
	t := &table{
		toNormalized: make(map[int64]NormalizedID, len(entries)),
		toLocal:      make(map[NormalizedID]int64, len(entries)),
		entries:      make(map[NormalizedID]Entry, len(entries)),
	}
	for _, e := range entries {
		e.Kind = kind
		if e.Quantity == 0 {
			e.Quantity = 1
		}
		if _, ok := t.toNormalized[e.Local]; ok {
			return nil, fmt.Errorf("duplicate %s local id %d", kind, e.Local)
		}
		if _, ok := t.toLocal[e.Normalized]; ok {
			return nil, fmt.Errorf("duplicate %s id %d", kind, e.Normalized)
		}
		t.toNormalized[e.Local] = e.Normalized
		t.toLocal[e.Normalized] = e.Local
		t.entries[e.Normalized] = e
	}
	return t, nil
}

// Catalog is the static bidirectional mapping between one game's identifiers
// and the multiworld identifiers. It is read-only after construction and safe
// for concurrent use.
type Catalog struct {
	game      string
	digest    string
	locations *table
	items     *table
}

// Load reads a YAML catalog file.
func Load(path string) (*Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	return Parse(b)
}

// Parse builds a catalog from YAML bytes.
func Parse(b []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if f.Game == "" {
		return nil, fmt.Errorf("catalog is missing the game name")
	}
	c, err := build(f.Game, f.Locations, f.Items)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(b)
	c.digest = hex.EncodeToString(sum[:])
	return c, nil
}

// New builds a catalog in code. Entries are sorted into locations and items by Kind.
func New(game string, entries ...Entry) (*Catalog, error) {
	var locations, items []Entry
	for _, e := range entries {
		switch e.Kind {
		case KindLocation:
			locations = append(locations, e)
		case KindItem:
			items = append(items, e)
		default:
			return nil, fmt.Errorf("entry %q has unknown kind %q", e.Name, e.Kind)
		}
	}
	return build(game, locations, items)
}

func build(game string, locations, items []Entry) (*Catalog, error) {
	lt, err := newTable(KindLocation, locations)
	if err != nil {
		return nil, err
	}
	it, err := newTable(KindItem, items)
	if err != nil {
		return nil, err
	}
	return &Catalog{
		game:      game,
		locations: lt,
		items:     it,
	}, nil
}

func (c *Catalog) Game() string {
	return c.game
}

// Digest is the sha256 of the source file, empty for catalogs built in code.
func (c *Catalog) Digest() string {
	return c.digest
}

func (c *Catalog) NormalizeLocation(id LocationID) (NormalizedID, error) {
	n, ok := c.locations.toNormalized[int64(id)]
	if !ok {
		return 0, &ErrUnknownIdentifier{Kind: KindLocation, ID: int64(id)}
	}
	return n, nil
}

func (c *Catalog) DenormalizeLocation(id NormalizedID) (LocationID, error) {
	l, ok := c.locations.toLocal[id]
	if !ok {
		return 0, &ErrUnknownIdentifier{Kind: KindLocation, ID: int64(id), Normalized: true}
	}
	return LocationID(l), nil
}

func (c *Catalog) DenormalizeItem(id NormalizedID) (ItemID, error) {
	l, ok := c.items.toLocal[id]
	if !ok {
		return 0, &ErrUnknownIdentifier{Kind: KindItem, ID: int64(id), Normalized: true}
	}
	return ItemID(l), nil
}

// Item returns the metadata of a multiworld item id.
func (c *Catalog) Item(id NormalizedID) (Entry, bool) {
	e, ok := c.items.entries[id]
	return e, ok
}

// Location returns the metadata of a multiworld location id.
func (c *Catalog) Location(id NormalizedID) (Entry, bool) {
	e, ok := c.locations.entries[id]
	return e, ok
}

// Locations returns every location entry ordered by multiworld id.
func (c *Catalog) Locations() []Entry {
	return sorted(c.locations)
}

// Items returns every item entry ordered by multiworld id.
func (c *Catalog) Items() []Entry {
	return sorted(c.items)
}

func sorted(t *table) []Entry {
	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Normalized < out[j].Normalized })
	return out
}
