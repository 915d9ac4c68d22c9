package kv

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const tempPrefix = ".tmp-"

// FilesystemStore implements Store with one file per key under a root
// directory. Keys are path-escaped so they never create subdirectories.
type FilesystemStore struct {
	root   string
	sealer Sealer
}

// NewFilesystemStore creates a store rooted at root, creating the directory
// if needed. sealer may be nil to store values in the clear.
func NewFilesystemStore(root string, sealer Sealer) (*FilesystemStore, error) {
	if root == "" {
		return nil, errors.New("filesystem store root is required")
	}
	if err := os.MkdirAll(root, 0700); err != nil {
		return nil, fmt.Errorf("creating store root: %w", err)
	}
	return &FilesystemStore{root: root, sealer: sealer}, nil
}

func (s *FilesystemStore) path(key string) string {
	return filepath.Join(s.root, url.PathEscape(key))
}

func (s *FilesystemStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("reading %q: %w", key, err)
	}
	if s.sealer != nil {
		data, err = s.sealer.Open(data)
		if err != nil {
			return nil, false, fmt.Errorf("opening %q: %w", key, err)
		}
	}
	return data, true, nil
}

func (s *FilesystemStore) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data := value
	if s.sealer != nil {
		sealed, err := s.sealer.Seal(value)
		if err != nil {
			return fmt.Errorf("sealing %q: %w", key, err)
		}
		data = sealed
	}

	tmp, err := os.CreateTemp(s.root, tempPrefix+"*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing %q: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path(key)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("storing %q: %w", key, err)
	}
	return nil
}

func (s *FilesystemStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("deleting %q: %w", key, err)
	}
	return nil
}

func (s *FilesystemStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("listing store root: %w", err)
	}
	var keys []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), tempPrefix) {
			continue
		}
		key, err := url.PathUnescape(e.Name())
		if err != nil {
			continue // not ours
		}
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}
