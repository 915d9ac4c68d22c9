package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"statesync/internal/database/migrations"
	"statesync/internal/model"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteDatabase is the server-tier SQLite store: the records table, the
// kv_entries table used by the SQLite cache store, and the operations
// journal.
type SQLiteDatabase struct {
	db   *sql.DB
	path string
}

// NewSQLiteDatabase opens the database at path and applies pending
// migrations. path can be a file path or ":memory:".
func NewSQLiteDatabase(path string) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating %s: %w", path, err)
	}
	return &SQLiteDatabase{db: db, path: path}, nil
}

// NewSQLiteDatabaseFromDB wraps an existing, already migrated connection.
func NewSQLiteDatabaseFromDB(db *sql.DB) *SQLiteDatabase {
	return &SQLiteDatabase{db: db}
}

// OpenConnection opens and configures a SQLite connection.
// path can be a file path or ":memory:" for an in-memory database.
func OpenConnection(path string) (*sql.DB, error) {
	if path == ":memory:" {
		db, err := sql.Open("sqlite3", path)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		// every new connection to :memory: is a separate, empty database
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
		}
		return db, nil
	}

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	dsn := path + sep + "_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// DB returns the underlying connection.
func (s *SQLiteDatabase) DB() *sql.DB {
	return s.db
}

// Path returns the database file path (or ":memory:" for in-memory databases).
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.Check(s.db)
}

// BackupTo creates a complete copy of the database at destPath using VACUUM INTO.
func (s *SQLiteDatabase) BackupTo(destPath string) error {
	_, err := s.db.Exec("VACUUM INTO ?", destPath)
	if err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Operations journal

func (s *SQLiteDatabase) StartOperation(ctx context.Context, operation, parameters string) (*model.Operation, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO operations (operation, parameters, status, started_at) VALUES (?, ?, ?, ?)`,
		operation, parameters, model.OperationRunning, now.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("creating operation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("creating operation: %w", err)
	}
	return &model.Operation{
		ID:         id,
		Operation:  operation,
		Parameters: parameters,
		Status:     model.OperationRunning,
		StartedAt:  now,
	}, nil
}

func (s *SQLiteDatabase) FinishOperation(ctx context.Context, id int64, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE operations SET status = ?, finished_at = ? WHERE id = ?`,
		status, time.Now().UTC().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("finishing operation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finishing operation: no operation with id %d", id)
	}
	return nil
}

// ListOperations returns the most recent operations first.
func (s *SQLiteDatabase) ListOperations(ctx context.Context, limit int) ([]*model.Operation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, operation, parameters, status, started_at, finished_at
		FROM operations ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	defer rows.Close()

	var ops []*model.Operation
	for rows.Next() {
		var (
			op       model.Operation
			started  int64
			finished sql.NullInt64
		)
		if err := rows.Scan(&op.ID, &op.Operation, &op.Parameters, &op.Status, &started, &finished); err != nil {
			return nil, fmt.Errorf("scanning operation: %w", err)
		}
		op.StartedAt = time.Unix(0, started).UTC()
		if finished.Valid {
			t := time.Unix(0, finished.Int64).UTC()
			op.FinishedAt = &t
		}
		ops = append(ops, &op)
	}
	return ops, rows.Err()
}

var _ Database = (*SQLiteDatabase)(nil)
