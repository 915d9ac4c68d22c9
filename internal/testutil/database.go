package testutil

import (
	"database/sql"
	"testing"

	"statesync/internal/database"
	"statesync/internal/database/migrations"
)

// NewTestDB creates a new in-memory SQLite connection with every migration
// applied. The connection is automatically closed when the test completes.
func NewTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.OpenConnection(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		t.Fatalf("failed to apply migrations: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}
