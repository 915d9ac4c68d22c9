package state

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a record id does not exist in the backing store.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when inserting a record whose id already exists.
	ErrConflict = errors.New("record already exists")

	// ErrNotInitialized is returned by cache-touching operations called
	// before Initialize.
	ErrNotInitialized = errors.New("state manager not initialized")

	// ErrTransport is the category of network and remote store failures.
	ErrTransport = errors.New("transport failure")
)

// canceled reports whether err came from the caller abandoning the operation.
func canceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
