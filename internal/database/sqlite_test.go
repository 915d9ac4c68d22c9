package database

import (
	"context"
	"path/filepath"
	"testing"

	"statesync/internal/model"
)

// newTestDB creates a new in-memory database with every migration applied.
func newTestDB(t *testing.T) *SQLiteDatabase {
	t.Helper()

	db, err := NewSQLiteDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func TestOpenConnection(t *testing.T) {
	t.Run("file database enables foreign keys and WAL", func(t *testing.T) {
		db, err := OpenConnection(filepath.Join(t.TempDir(), "test.db"))
		if err != nil {
			t.Fatalf("OpenConnection() error = %v", err)
		}
		defer db.Close()

		var fk int
		if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
			t.Fatalf("reading foreign_keys: %v", err)
		}
		if fk != 1 {
			t.Errorf("foreign_keys = %d, want 1", fk)
		}

		var mode string
		if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
			t.Fatalf("reading journal_mode: %v", err)
		}
		if mode != "wal" {
			t.Errorf("journal_mode = %q, want wal", mode)
		}
	})

	t.Run("memory database keeps one connection", func(t *testing.T) {
		db, err := OpenConnection(":memory:")
		if err != nil {
			t.Fatalf("OpenConnection() error = %v", err)
		}
		defer db.Close()

		if _, err := db.Exec("CREATE TABLE t (x INTEGER)"); err != nil {
			t.Fatalf("create table: %v", err)
		}
		// a second connection would not see the table
		var n int
		if err := db.QueryRow("SELECT COUNT(*) FROM t").Scan(&n); err != nil {
			t.Fatalf("table not visible: %v", err)
		}
	})
}

func TestSQLiteDatabase_Operations(t *testing.T) {
	ctx := context.Background()

	t.Run("start and list operations", func(t *testing.T) {
		db := newTestDB(t)

		op1, err := db.StartOperation(ctx, "export", "order")
		if err != nil {
			t.Fatalf("StartOperation() error = %v", err)
		}
		if op1.ID == 0 {
			t.Error("operation ID should be non-zero")
		}
		if op1.Status != model.OperationRunning {
			t.Errorf("Status = %q, want %q", op1.Status, model.OperationRunning)
		}

		op2, err := db.StartOperation(ctx, "import", "contact")
		if err != nil {
			t.Fatalf("StartOperation() error = %v", err)
		}

		ops, err := db.ListOperations(ctx, 10)
		if err != nil {
			t.Fatalf("ListOperations() error = %v", err)
		}
		if len(ops) != 2 {
			t.Fatalf("got %d operations, want 2", len(ops))
		}

		// Newest first
		if ops[0].ID != op2.ID {
			t.Errorf("expected newest first: got ID %d, want %d", ops[0].ID, op2.ID)
		}
		if ops[1].Parameters != "order" {
			t.Errorf("Parameters = %q, want %q", ops[1].Parameters, "order")
		}
	})

	t.Run("finish operation sets status and time", func(t *testing.T) {
		db := newTestDB(t)

		op, _ := db.StartOperation(ctx, "export", "order")
		if err := db.FinishOperation(ctx, op.ID, model.OperationSuccess); err != nil {
			t.Fatalf("FinishOperation() error = %v", err)
		}

		ops, _ := db.ListOperations(ctx, 1)
		if ops[0].Status != model.OperationSuccess {
			t.Errorf("Status = %q, want %q", ops[0].Status, model.OperationSuccess)
		}
		if !ops[0].Finished() {
			t.Error("FinishedAt should be set")
		}
	})

	t.Run("finish unknown operation fails", func(t *testing.T) {
		db := newTestDB(t)

		if err := db.FinishOperation(ctx, 42, model.OperationError); err == nil {
			t.Error("FinishOperation() expected error for unknown id")
		}
	})

	t.Run("limit", func(t *testing.T) {
		db := newTestDB(t)

		for i := 0; i < 3; i++ {
			db.StartOperation(ctx, "serve", "")
		}
		ops, err := db.ListOperations(ctx, 2)
		if err != nil {
			t.Fatalf("ListOperations() error = %v", err)
		}
		if len(ops) != 2 {
			t.Errorf("got %d operations, want 2", len(ops))
		}
	})
}

func TestSQLiteDatabase_BackupTo(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	db.StartOperation(ctx, "export", "order")

	destPath := filepath.Join(t.TempDir(), "backup.db")
	if err := db.BackupTo(destPath); err != nil {
		t.Fatalf("BackupTo() error = %v", err)
	}

	// Open the backup and verify it has the data
	backup, err := NewSQLiteDatabase(destPath)
	if err != nil {
		t.Fatalf("opening backup: %v", err)
	}
	defer backup.Close()

	ops, err := backup.ListOperations(ctx, 10)
	if err != nil {
		t.Fatalf("ListOperations() error = %v", err)
	}
	if len(ops) != 1 || ops[0].Operation != "export" {
		t.Errorf("backup operations = %v, want one export", ops)
	}
}

func TestSQLiteDatabase_CheckMigrations(t *testing.T) {
	t.Run("fails on DB without migrations applied", func(t *testing.T) {
		conn, err := OpenConnection(":memory:")
		if err != nil {
			t.Fatalf("OpenConnection() error = %v", err)
		}
		db := NewSQLiteDatabaseFromDB(conn)
		defer db.Close()

		// DB has no schema at all, should fail
		if err := db.CheckMigrations(); err == nil {
			t.Error("CheckMigrations() expected error for missing schema")
		}
	})

	t.Run("passes after NewSQLiteDatabase", func(t *testing.T) {
		db := newTestDB(t)
		if err := db.CheckMigrations(); err != nil {
			t.Errorf("CheckMigrations() error = %v", err)
		}
	})
}
