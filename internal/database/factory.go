package database

import (
	"context"
	"fmt"
	"path/filepath"

	"statesync/internal/config"
	"statesync/internal/database/postgres"
	"statesync/internal/model"
	"statesync/internal/state"
)

// Database is a server-tier store: it hosts record tables for every
// registered entity and the operations journal.
type Database interface {
	StartOperation(ctx context.Context, operation, parameters string) (*model.Operation, error)
	FinishOperation(ctx context.Context, id int64, status string) error
	ListOperations(ctx context.Context, limit int) ([]*model.Operation, error)
	Path() string
	Close() error
}

// NewDatabaseFromConfig opens the database named by the config type.
func NewDatabaseFromConfig(cfg config.DatabaseConfig) (Database, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		return NewSQLiteDatabase(filepath.Join(cfg.DataDir, "statesync.db"))
	case "memory":
		return NewSQLiteDatabase(":memory:")
	case "postgres":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("dsn required for postgres database")
		}
		return postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}

// NewTable returns the record table for entity on db.
func NewTable[T model.Record[T]](db Database, entity string) (state.Backend[T], error) {
	switch d := db.(type) {
	case *SQLiteDatabase:
		return NewSQLiteTable[T](d.DB(), entity), nil
	case *postgres.Database:
		return postgres.NewTable[T](d, entity), nil
	default:
		return nil, fmt.Errorf("no record table for database %T", db)
	}
}
