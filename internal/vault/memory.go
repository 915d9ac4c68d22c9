package vault

import (
	"bytes"
	"fmt"
	"io"
	"sync"
)

type memorySnapshot struct {
	data    []byte
	version int64
}

// MemoryVault keeps snapshots in memory. It is safe for concurrent use.
type MemoryVault struct {
	name      string
	mu        sync.RWMutex
	snapshots map[string]memorySnapshot
}

var _ Vault = (*MemoryVault)(nil)

// NewMemoryVault creates an empty in-memory vault.
func NewMemoryVault(name string) *MemoryVault {
	return &MemoryVault{name: name, snapshots: make(map[string]memorySnapshot)}
}

func (m *MemoryVault) PutSnapshot(entity string, r io.Reader, size int64, version int64) error {
	if err := checkEntity(entity); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading snapshot: %w", err)
	}
	if int64(len(data)) != size {
		return sizeMismatch(size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[entity] = memorySnapshot{data: data, version: version}
	return nil
}

func (m *MemoryVault) GetSnapshot(entity string, w io.Writer) error {
	m.mu.RLock()
	snap, ok := m.snapshots[entity]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%s: %w", entity, ErrSnapshotNotFound)
	}
	if _, err := io.Copy(w, bytes.NewReader(snap.data)); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	return nil
}

func (m *MemoryVault) GetSnapshotVersion(entity string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshots[entity].version, nil
}

// ValidateSetup always succeeds.
func (m *MemoryVault) ValidateSetup() error {
	return nil
}
