package database

import (
	"os"
	"path/filepath"
	"testing"

	"statesync/internal/config"
)

func TestNewDatabaseFromConfig(t *testing.T) {
	t.Run("memory database", func(t *testing.T) {
		cfg := config.DatabaseConfig{Type: "memory"}
		got, err := NewDatabaseFromConfig(cfg)

		if err != nil {
			t.Errorf("NewDatabaseFromConfig() unexpected error: %v", err)
			return
		}

		if got == nil {
			t.Error("NewDatabaseFromConfig() returned nil")
		}

		if got != nil {
			got.Close()
		}
	})

	t.Run("sqlite database", func(t *testing.T) {
		dir := t.TempDir()
		cfg := config.DatabaseConfig{
			Type:    "sqlite",
			DataDir: dir,
		}
		got, err := NewDatabaseFromConfig(cfg)

		if err != nil {
			t.Errorf("NewDatabaseFromConfig() unexpected error: %v", err)
			return
		}
		defer got.Close()

		want := filepath.Join(dir, "statesync.db")
		if got.Path() != want {
			t.Errorf("Path() = %q, want %q", got.Path(), want)
		}
		if _, err := os.Stat(want); err != nil {
			t.Errorf("database file not created: %v", err)
		}
	})

	t.Run("sqlite database without data_dir", func(t *testing.T) {
		cfg := config.DatabaseConfig{Type: "sqlite"}
		got, err := NewDatabaseFromConfig(cfg)

		if err == nil {
			t.Error("NewDatabaseFromConfig() expected error for missing data_dir, got nil")
		}

		if got != nil {
			t.Error("NewDatabaseFromConfig() should return nil on error")
			got.Close()
		}
	})

	t.Run("postgres database without dsn", func(t *testing.T) {
		cfg := config.DatabaseConfig{Type: "postgres"}
		got, err := NewDatabaseFromConfig(cfg)

		if err == nil {
			t.Error("NewDatabaseFromConfig() expected error for missing dsn, got nil")
		}

		if got != nil {
			t.Error("NewDatabaseFromConfig() should return nil on error")
			got.Close()
		}
	})

	t.Run("unknown database type", func(t *testing.T) {
		cfg := config.DatabaseConfig{Type: "unknown"}
		got, err := NewDatabaseFromConfig(cfg)

		if err == nil {
			t.Error("NewDatabaseFromConfig() expected error for unknown type, got nil")
		}

		if got != nil {
			t.Error("NewDatabaseFromConfig() should return nil on error")
			got.Close()
		}
	})
}

type otherDatabase struct{ Database }

func TestNewTable(t *testing.T) {
	db := newTestDB(t)

	tbl, err := NewTable[note](db, "note")
	if err != nil {
		t.Fatalf("NewTable() error = %v", err)
	}
	if _, ok := tbl.(*Table[note]); !ok {
		t.Errorf("NewTable() = %T, want *Table[note]", tbl)
	}

	if _, err := NewTable[note](otherDatabase{}, "note"); err == nil {
		t.Error("NewTable() expected error for unsupported database")
	}
}
