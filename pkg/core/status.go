package core

import (
	"github.com/cbodonnell/apsync/pkg/engine"
	"github.com/cbodonnell/apsync/pkg/version"
)

// Status is a point-in-time view of the client for display.
type Status struct {
	Version    string       `json:"version"`
	URL        string       `json:"url"`
	Slot       string       `json:"slot"`
	Seed       string       `json:"seed"`
	State      string       `json:"state"`
	Generation uint64       `json:"generation"`
	PingMillis float64      `json:"ping_ms"`
	Error      string       `json:"error,omitempty"`
	LastError  string       `json:"last_error,omitempty"`
	Sync       engine.Stats `json:"sync"`
}

func (c *Core) Status() *Status {
	status := &Status{
		Version:    version.Version,
		URL:        c.session.Credentials().ServerAddress,
		Slot:       c.config.Slot,
		Seed:       c.config.Seed,
		State:      c.session.State().String(),
		Generation: c.session.Generation(),
		PingMillis: c.session.Ping(),
		Sync:       c.manager.Stats(),
	}
	if err := c.Err(); err != nil {
		status.Error = err.Error()
	}
	if err := c.session.LastError(); err != nil {
		status.LastError = err.Error()
	}
	return status
}
