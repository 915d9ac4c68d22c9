package kv_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"statesync/internal/config"
	"statesync/internal/kv"
	"statesync/internal/testutil"
)

func storeImplementations(t *testing.T) map[string]kv.Store {
	t.Helper()
	fsStore, err := kv.NewFilesystemStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewFilesystemStore() error = %v", err)
	}
	return map[string]kv.Store{
		"memory":     kv.NewMemoryStore(),
		"filesystem": fsStore,
		"sqlite":     kv.NewSQLiteStore(testutil.NewTestDB(t)),
	}
}

func TestStore_Contract(t *testing.T) {
	for name, store := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if _, ok, err := store.Get(ctx, "missing"); err != nil || ok {
				t.Fatalf("Get(missing) = ok %v, err %v; want miss", ok, err)
			}

			keys := []string{"order/rec/b", "order/rec/a", "order/list/alice|", "contact/rec/a/b"}
			for i, k := range keys {
				if err := store.Put(ctx, k, []byte{byte(i)}); err != nil {
					t.Fatalf("Put(%q) error = %v", k, err)
				}
			}

			got, ok, err := store.Get(ctx, "contact/rec/a/b")
			if err != nil || !ok {
				t.Fatalf("Get() = ok %v, err %v", ok, err)
			}
			if !bytes.Equal(got, []byte{3}) {
				t.Errorf("Get() = %v, want [3]", got)
			}

			if err := store.Put(ctx, "order/rec/a", []byte("overwritten")); err != nil {
				t.Fatalf("Put() overwrite error = %v", err)
			}
			got, _, _ = store.Get(ctx, "order/rec/a")
			if string(got) != "overwritten" {
				t.Errorf("Get() after overwrite = %q", got)
			}

			list, err := store.Keys(ctx, "order/rec/")
			if err != nil {
				t.Fatalf("Keys() error = %v", err)
			}
			if want := []string{"order/rec/a", "order/rec/b"}; !reflect.DeepEqual(list, want) {
				t.Errorf("Keys(order/rec/) = %v, want %v", list, want)
			}

			all, err := store.Keys(ctx, "")
			if err != nil {
				t.Fatalf("Keys(\"\") error = %v", err)
			}
			if len(all) != 4 {
				t.Errorf("len(Keys(\"\")) = %d, want 4", len(all))
			}

			if err := store.Delete(ctx, "order/rec/a"); err != nil {
				t.Fatalf("Delete() error = %v", err)
			}
			if err := store.Delete(ctx, "order/rec/a"); err != nil {
				t.Errorf("Delete() of absent key error = %v", err)
			}
			if _, ok, _ := store.Get(ctx, "order/rec/a"); ok {
				t.Error("Get() after Delete() should miss")
			}
		})
	}
}

func TestStore_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for name, store := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			if err := store.Put(ctx, "k", []byte("v")); err == nil {
				t.Error("Put() with canceled context should fail")
			}
		})
	}
}

// xorSealer is a reversible stand-in for the age sealer.
type xorSealer struct{ fail bool }

func (s xorSealer) Seal(p []byte) ([]byte, error) {
	out := make([]byte, len(p))
	for i, b := range p {
		out[i] = b ^ 0x5a
	}
	return out, nil
}

func (s xorSealer) Open(c []byte) ([]byte, error) {
	if s.fail {
		return nil, errors.New("bad key")
	}
	return s.Seal(c)
}

func TestFilesystemStore_Sealer(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store, err := kv.NewFilesystemStore(root, xorSealer{})
	if err != nil {
		t.Fatalf("NewFilesystemStore() error = %v", err)
	}

	if err := store.Put(ctx, "secret/key", []byte("plaintext")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(root, "secret%2Fkey"))
	if err != nil {
		t.Fatalf("reading raw file: %v", err)
	}
	if bytes.Contains(raw, []byte("plaintext")) {
		t.Error("value stored in the clear")
	}

	got, ok, err := store.Get(ctx, "secret/key")
	if err != nil || !ok {
		t.Fatalf("Get() = ok %v, err %v", ok, err)
	}
	if string(got) != "plaintext" {
		t.Errorf("Get() = %q, want %q", got, "plaintext")
	}

	broken, _ := kv.NewFilesystemStore(root, xorSealer{fail: true})
	if _, _, err := broken.Get(ctx, "secret/key"); err == nil {
		t.Error("Get() with failing sealer should return error")
	}
}

func TestFilesystemStore_IgnoresTempFiles(t *testing.T) {
	root := t.TempDir()
	store, _ := kv.NewFilesystemStore(root, nil)
	if err := os.WriteFile(filepath.Join(root, ".tmp-123"), []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	keys, err := store.Keys(context.Background(), "")
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("Keys() = %v, want none", keys)
	}
}

func TestNewStoreFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.StoreConfig
		sealer  kv.Sealer
		wantErr bool
		wantT   string
	}{
		{name: "memory", cfg: config.StoreConfig{Type: "memory"}, wantT: "*kv.MemoryStore"},
		{name: "filesystem", cfg: config.StoreConfig{Type: "filesystem", Dir: t.TempDir()}, wantT: "*kv.FilesystemStore"},
		{name: "filesystem missing dir", cfg: config.StoreConfig{Type: "filesystem"}, wantErr: true},
		{name: "encrypted without sealer", cfg: config.StoreConfig{Type: "filesystem", Dir: t.TempDir(), Encrypted: true}, wantErr: true},
		{name: "encrypted", cfg: config.StoreConfig{Type: "filesystem", Dir: t.TempDir(), Encrypted: true}, sealer: xorSealer{}, wantT: "*kv.FilesystemStore"},
		{name: "sqlite without db", cfg: config.StoreConfig{Type: "sqlite"}, wantErr: true},
		{name: "unknown", cfg: config.StoreConfig{Type: "redis"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := kv.NewStoreFromConfig(tt.cfg, nil, tt.sealer)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewStoreFromConfig() error = %v", err)
			}
			if typ := reflect.TypeOf(got).String(); typ != tt.wantT {
				t.Errorf("type = %s, want %s", typ, tt.wantT)
			}
		})
	}
}

func TestFilesystemStore_EncryptionSealer(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store, err := kv.NewFilesystemStore(root, testutil.NewTestSealer())
	if err != nil {
		t.Fatalf("NewFilesystemStore() error = %v", err)
	}
	if err := store.Put(ctx, "order/rec/a", []byte("payload")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(root, "order%2Frec%2Fa"))
	if err != nil {
		t.Fatalf("reading raw file: %v", err)
	}
	if !bytes.HasPrefix(raw, []byte("SSENC")) {
		t.Errorf("raw file = %q, want sealed header", raw)
	}

	got, ok, err := store.Get(ctx, "order/rec/a")
	if err != nil || !ok {
		t.Fatalf("Get() = ok %v, err %v", ok, err)
	}
	if string(got) != "payload" {
		t.Errorf("Get() = %q, want %q", got, "payload")
	}
}
