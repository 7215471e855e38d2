package repositories

import (
	"errors"
	"fmt"
)

type ErrNotFound struct {
}

func (e *ErrNotFound) Error() string {
	return "not found"
}

func IsNotFound(err error) bool {
	var target *ErrNotFound
	return errors.As(err, &target)
}

// ErrWatermarkRegression is returned when a save would move the stored
// watermark backwards.
var ErrWatermarkRegression = errors.New("watermark would move backwards")

// ErrPersistenceFailure wraps any failure to durably read or write sync state.
type ErrPersistenceFailure struct {
	Op  string
	Err error
}

func (e *ErrPersistenceFailure) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *ErrPersistenceFailure) Unwrap() error {
	return e.Err
}

func IsPersistenceFailure(err error) bool {
	var target *ErrPersistenceFailure
	return errors.As(err, &target)
}

func fail(op string, err error) error {
	return &ErrPersistenceFailure{Op: op, Err: err}
}
