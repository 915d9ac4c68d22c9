// Package migrations embeds the SQLite schema shared by the record table,
// the kv store and the operations journal.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed files/*.sql
var migrationFiles embed.FS

var (
	// ErrNoSchema is returned by Check for a database that was never migrated.
	ErrNoSchema = errors.New("database has no schema version")
	// ErrDirty is returned by Check when a previous migration failed midway.
	ErrDirty = errors.New("database schema is dirty")
	// ErrVersionMismatch is returned by Check when the schema is behind or
	// ahead of the embedded migrations.
	ErrVersionMismatch = errors.New("database schema version mismatch")
)

// Status describes the schema version of a database relative to the
// migrations compiled into this binary.
type Status struct {
	Current uint
	Latest  uint
	Dirty   bool
	// Pristine is set when no migration has ever run.
	Pristine bool
}

// UpToDate reports whether the schema can be used as is.
func (s Status) UpToDate() bool {
	return !s.Pristine && !s.Dirty && s.Current == s.Latest
}

// ReadStatus reports the schema version of db without changing it.
func ReadStatus(db *sql.DB) (Status, error) {
	latest, err := LatestVersion()
	if err != nil {
		return Status{}, err
	}
	m, err := newMigrate(db)
	if err != nil {
		return Status{}, err
	}
	// m is not closed: closing it closes db, which the caller owns.

	st := Status{Latest: latest}
	current, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		st.Pristine = true
	case err != nil:
		return Status{}, fmt.Errorf("reading schema version: %w", err)
	default:
		st.Current, st.Dirty = current, dirty
	}
	return st, nil
}

// Check returns nil when db is at the latest embedded version.
func Check(db *sql.DB) error {
	st, err := ReadStatus(db)
	if err != nil {
		return err
	}
	switch {
	case st.Pristine:
		return fmt.Errorf("%w (needs migration)", ErrNoSchema)
	case st.Dirty:
		return fmt.Errorf("%w at version %d", ErrDirty, st.Current)
	case st.Current < st.Latest:
		return fmt.Errorf("%w: at %d, latest is %d", ErrVersionMismatch, st.Current, st.Latest)
	case st.Current > st.Latest:
		return fmt.Errorf("%w: at %d, binary only knows %d", ErrVersionMismatch, st.Current, st.Latest)
	}
	return nil
}

// MigrateUp applies every pending migration. An up-to-date database is not
// an error.
func MigrateUp(db *sql.DB) error {
	m, err := newMigrate(db)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// LatestVersion returns the highest version among the embedded migrations.
func LatestVersion() (uint, error) {
	entries, err := fs.ReadDir(migrationFiles, "files")
	if err != nil {
		return 0, fmt.Errorf("listing migrations: %w", err)
	}
	var latest uint
	for _, e := range entries {
		prefix, _, ok := strings.Cut(e.Name(), "_")
		if !ok {
			continue
		}
		v, err := strconv.ParseUint(prefix, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("migration %q: bad version prefix", e.Name())
		}
		latest = max(latest, uint(v))
	}
	if latest == 0 {
		return 0, errors.New("no migrations embedded")
	}
	return latest, nil
}

func newMigrate(db *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationFiles, "files")
	if err != nil {
		return nil, fmt.Errorf("opening embedded migrations: %w", err)
	}
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("creating sqlite migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("creating migrator: %w", err)
	}
	return m, nil
}
