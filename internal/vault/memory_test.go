package vault

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
)

// exerciseVault runs the behaviour every Vault implementation shares.
func exerciseVault(t *testing.T, v Vault) {
	t.Helper()

	if err := v.ValidateSetup(); err != nil {
		t.Fatalf("ValidateSetup() error = %v", err)
	}

	version, err := v.GetSnapshotVersion("order")
	if err != nil || version != 0 {
		t.Fatalf("GetSnapshotVersion() before put = %d, %v; want 0, nil", version, err)
	}
	var buf bytes.Buffer
	if err := v.GetSnapshot("order", &buf); !errors.Is(err, ErrSnapshotNotFound) {
		t.Fatalf("GetSnapshot() before put error = %v, want ErrSnapshotNotFound", err)
	}

	first := `[{"id":"o-1"}]`
	if err := v.PutSnapshot("order", strings.NewReader(first), int64(len(first)), 100); err != nil {
		t.Fatalf("PutSnapshot() error = %v", err)
	}
	second := `[{"id":"o-1"},{"id":"o-2"}]`
	if err := v.PutSnapshot("order", strings.NewReader(second), int64(len(second)), 200); err != nil {
		t.Fatalf("PutSnapshot() second error = %v", err)
	}

	buf.Reset()
	if err := v.GetSnapshot("order", &buf); err != nil {
		t.Fatalf("GetSnapshot() error = %v", err)
	}
	if buf.String() != second {
		t.Errorf("GetSnapshot() = %q, want %q", buf.String(), second)
	}
	if version, _ := v.GetSnapshotVersion("order"); version != 200 {
		t.Errorf("GetSnapshotVersion() = %d, want 200", version)
	}
	if version, _ := v.GetSnapshotVersion("contact"); version != 0 {
		t.Errorf("GetSnapshotVersion(contact) = %d, want 0", version)
	}

	if err := v.PutSnapshot("order", strings.NewReader("short"), 99, 300); err == nil {
		t.Error("PutSnapshot() with wrong size should fail")
	}
	if version, _ := v.GetSnapshotVersion("order"); version != 200 {
		t.Errorf("failed put changed version to %d", version)
	}

	if err := v.PutSnapshot("../etc", strings.NewReader("x"), 1, 1); err == nil {
		t.Error("PutSnapshot() with path traversal should fail")
	}
}

func TestMemoryVault(t *testing.T) {
	exerciseVault(t, NewMemoryVault("test"))
}

func TestMemoryVault_Concurrent(t *testing.T) {
	v := NewMemoryVault("test")
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			data := strings.Repeat("x", i)
			if err := v.PutSnapshot("order", strings.NewReader(data), int64(i), int64(i)); err != nil {
				t.Errorf("PutSnapshot() error = %v", err)
			}
			var buf bytes.Buffer
			_ = v.GetSnapshot("order", &buf)
		}(i)
	}
	wg.Wait()

	// Data and version are replaced together.
	version, _ := v.GetSnapshotVersion("order")
	var buf bytes.Buffer
	if err := v.GetSnapshot("order", &buf); err != nil {
		t.Fatalf("GetSnapshot() error = %v", err)
	}
	if int64(buf.Len()) != version {
		t.Errorf("snapshot length %d does not match version %d", buf.Len(), version)
	}
}
