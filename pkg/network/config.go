package network

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RoomConfig describes a room: its slots and where every item is placed.
type RoomConfig struct {
	SeedName   string            `yaml:"seed_name"`
	Password   string            `yaml:"password"`
	Slots      []SlotConfig      `yaml:"slots"`
	Placements []PlacementConfig `yaml:"placements"`
}

type SlotConfig struct {
	Name string `yaml:"name"`
	Game string `yaml:"game"`
}

// PlacementConfig puts Item for Receiver at Location in Finder's world.
type PlacementConfig struct {
	Finder   string `yaml:"finder"`
	Location int64  `yaml:"location"`
	Receiver string `yaml:"receiver"`
	Item     int64  `yaml:"item"`
	Flags    int    `yaml:"flags"`
}

func LoadRoomConfig(path string) (*RoomConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read room config: %w", err)
	}
	cfg := &RoomConfig{}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse room config: %w", err)
	}
	return cfg, nil
}
