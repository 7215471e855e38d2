package core

import (
	"errors"
	"fmt"
)

// ErrVersionMismatch is returned when the config was generated by a
// different client version than the one running.
type ErrVersionMismatch struct {
	ConfigVersion string
	ClientVersion string
}

func (e *ErrVersionMismatch) Error() string {
	return fmt.Sprintf("config was generated for client v%s but this client is v%s; regenerate it with the current version",
		e.ConfigVersion, e.ClientVersion)
}

func IsVersionMismatch(err error) bool {
	var target *ErrVersionMismatch
	return errors.As(err, &target)
}

// ErrShutdown is returned by Tick after Shutdown.
var ErrShutdown = errors.New("core is shut down")
