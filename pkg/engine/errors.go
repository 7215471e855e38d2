package engine

import (
	"errors"
	"fmt"
)

// ErrSeedMismatch is returned when the server hosts a different multiworld
// than the one the session state belongs to.
type ErrSeedMismatch struct {
	Expected string
	Actual   string
}

func (e *ErrSeedMismatch) Error() string {
	return fmt.Sprintf("connected to seed %s, expected %s", e.Actual, e.Expected)
}

func IsSeedMismatch(err error) bool {
	var target *ErrSeedMismatch
	return errors.As(err, &target)
}

// ErrPanic wraps a panic recovered during a tick.
type ErrPanic struct {
	Value any
}

func (e *ErrPanic) Error() string {
	return fmt.Sprintf("panic during tick: %v", e.Value)
}
