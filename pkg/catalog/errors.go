package catalog

import (
	"errors"
	"fmt"
)

// ErrUnknownIdentifier is returned when an id has no catalog entry.
type ErrUnknownIdentifier struct {
	Kind Kind
	ID   int64
	// Normalized is set when ID is a multiworld id rather than a game-native one.
	Normalized bool
}

func (e *ErrUnknownIdentifier) Error() string {
	if e.Normalized {
		return fmt.Sprintf("unknown multiworld %s id %d", e.Kind, e.ID)
	}
	return fmt.Sprintf("unknown game %s id %d", e.Kind, e.ID)
}

func IsUnknownIdentifier(err error) bool {
	var target *ErrUnknownIdentifier
	return errors.As(err, &target)
}
