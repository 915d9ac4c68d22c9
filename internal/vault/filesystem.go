package vault

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// FileSystemVault stores snapshots as files:
//
//	<root>/
//	  snapshots/
//	    <entity>.json      (latest snapshot)
//	    <entity>.version   (its version marker)
type FileSystemVault struct {
	name string
	root string
	dir  string
}

var _ Vault = (*FileSystemVault)(nil)

// NewFileSystemVault creates a vault rooted at root, creating the directory
// structure if needed.
func NewFileSystemVault(name, root string) (*FileSystemVault, error) {
	dir := filepath.Join(root, "snapshots")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating snapshot directory: %w", err)
	}
	return &FileSystemVault{name: name, root: root, dir: dir}, nil
}

// PutSnapshot writes the snapshot via temp file and rename, then the
// version marker. A crash between the two leaves the previous version number
// next to the new data, which only causes an extra export next time.
func (v *FileSystemVault) PutSnapshot(entity string, r io.Reader, size int64, version int64) error {
	if err := checkEntity(entity); err != nil {
		return err
	}
	if err := writeAtomic(v.snapshotPath(entity), r, size); err != nil {
		return err
	}
	versionData := strconv.FormatInt(version, 10)
	return writeAtomic(v.versionPath(entity), strings.NewReader(versionData), int64(len(versionData)))
}

func (v *FileSystemVault) GetSnapshot(entity string, w io.Writer) error {
	if err := checkEntity(entity); err != nil {
		return err
	}
	f, err := os.Open(v.snapshotPath(entity))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%s: %w", entity, ErrSnapshotNotFound)
		}
		return fmt.Errorf("opening snapshot: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("reading snapshot: %w", err)
	}
	return nil
}

func (v *FileSystemVault) GetSnapshotVersion(entity string) (int64, error) {
	if err := checkEntity(entity); err != nil {
		return 0, err
	}
	data, err := os.ReadFile(v.versionPath(entity))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading version file: %w", err)
	}
	version, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing version: %w", err)
	}
	return version, nil
}

// ValidateSetup checks that the snapshot directory exists and is writable.
func (v *FileSystemVault) ValidateSetup() error {
	info, err := os.Stat(v.dir)
	if err != nil {
		return fmt.Errorf("vault directory not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("vault path is not a directory: %s", v.dir)
	}
	probe, err := os.CreateTemp(v.dir, ".probe-*")
	if err != nil {
		return fmt.Errorf("vault directory not writable: %w", err)
	}
	probe.Close()
	return os.Remove(probe.Name())
}

func (v *FileSystemVault) snapshotPath(entity string) string {
	return filepath.Join(v.dir, entity+".json")
}

func (v *FileSystemVault) versionPath(entity string) string {
	return filepath.Join(v.dir, entity+".version")
}

// writeAtomic copies r into a temp file next to dest and renames it into
// place once the byte count matches size.
func writeAtomic(dest string, r io.Reader, size int64) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	done := false
	defer func() {
		if !done {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("writing data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if written != size {
		return sizeMismatch(size, int(written))
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}
	done = true
	return nil
}
