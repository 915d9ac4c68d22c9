package state

import (
	"context"

	"statesync/internal/query"
)

// Backend is the authoritative store behind a Manager: the local record
// store on the client tier, a database table on the server tier, or the
// REST surface of a remote server. Backends persist what they are given;
// stamping metadata is the manager's job.
type Backend[T any] interface {
	// Get returns ErrNotFound when id is absent.
	Get(ctx context.Context, id string) (T, error)
	// Insert returns ErrConflict when the id already exists.
	Insert(ctx context.Context, v T) (T, error)
	InsertAll(ctx context.Context, vs []T) ([]T, error)
	// Update returns ErrNotFound when the id is absent.
	Update(ctx context.Context, v T) (T, error)
	// Delete returns ErrNotFound when the id is absent.
	Delete(ctx context.Context, id string) error
	// List returns every record matching filter. A nil filter matches all.
	List(ctx context.Context, filter *query.Filter[T]) ([]T, error)
	// First returns the first record List would return.
	First(ctx context.Context, filter *query.Filter[T]) (T, bool, error)
}
