// Package vault stores point-in-time snapshots of entity collections
// outside the server's database.
package vault

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrSnapshotNotFound is returned by GetSnapshot when no snapshot has been
// stored for an entity.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// Vault holds at most one snapshot per entity, replaced on every put.
// Implementations must be safe for concurrent use.
type Vault interface {
	// PutSnapshot stores size bytes from r as the entity's snapshot.
	PutSnapshot(entity string, r io.Reader, size int64, version int64) error
	GetSnapshot(entity string, w io.Writer) error
	// GetSnapshotVersion returns 0 if no snapshot exists.
	GetSnapshotVersion(entity string) (int64, error)
	ValidateSetup() error
}

func checkEntity(entity string) error {
	if entity == "" || strings.ContainsAny(entity, `/\`) || strings.Contains(entity, "..") {
		return fmt.Errorf("invalid entity name %q", entity)
	}
	return nil
}

func sizeMismatch(want int64, got int) error {
	return fmt.Errorf("size mismatch: expected %d bytes, got %d", want, got)
}
