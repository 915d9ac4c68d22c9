package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"statesync/internal/model"
	"statesync/internal/query"
	"statesync/internal/state"
)

// Table implements state.Backend on the records table. All entity types
// share the table; rows are partitioned by the entity column.
type Table[T model.Record[T]] struct {
	db     *sql.DB
	entity string
}

// NewSQLiteTable returns the backend for entity on a migrated connection.
func NewSQLiteTable[T model.Record[T]](db *sql.DB, entity string) *Table[T] {
	return &Table[T]{db: db, entity: entity}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (t *Table[T]) Get(ctx context.Context, id string) (T, error) {
	var (
		v    T
		data string
	)
	err := t.db.QueryRowContext(ctx,
		`SELECT data FROM records WHERE entity = ? AND id = ?`, t.entity, id).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return v, fmt.Errorf("%s %q: %w", t.entity, id, state.ErrNotFound)
		}
		return v, fmt.Errorf("reading %s %q: %w", t.entity, id, err)
	}
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		return v, fmt.Errorf("decoding %s %q: %w", t.entity, id, err)
	}
	return v, nil
}

func (t *Table[T]) Insert(ctx context.Context, v T) (T, error) {
	var zero T
	if err := t.insert(ctx, t.db, v); err != nil {
		return zero, err
	}
	return v, nil
}

// InsertAll inserts vs in one transaction; any conflict rolls back the batch.
func (t *Table[T]) InsertAll(ctx context.Context, vs []T) ([]T, error) {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	for _, v := range vs {
		if err := t.insert(ctx, tx, v); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return append([]T(nil), vs...), nil
}

func (t *Table[T]) Update(ctx context.Context, v T) (T, error) {
	var zero T
	m := v.RecordMeta()
	data, err := json.Marshal(v)
	if err != nil {
		return zero, fmt.Errorf("encoding %s %q: %w", t.entity, m.ID, err)
	}
	res, err := t.db.ExecContext(ctx, `
		UPDATE records SET creator_id = ?, data = ?, updated_at = ?, saved_at = ?
		WHERE entity = ? AND id = ?`,
		m.CreatorID, string(data), m.LastUpdatedAt.UnixNano(), savedAt(m), t.entity, m.ID)
	if err != nil {
		return zero, fmt.Errorf("updating %s %q: %w", t.entity, m.ID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return zero, fmt.Errorf("updating %s %q: %w", t.entity, m.ID, err)
	} else if n == 0 {
		return zero, fmt.Errorf("%s %q: %w", t.entity, m.ID, state.ErrNotFound)
	}
	return v, nil
}

func (t *Table[T]) Delete(ctx context.Context, id string) error {
	res, err := t.db.ExecContext(ctx, `DELETE FROM records WHERE entity = ? AND id = ?`, t.entity, id)
	if err != nil {
		return fmt.Errorf("deleting %s %q: %w", t.entity, id, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("deleting %s %q: %w", t.entity, id, err)
	} else if n == 0 {
		return fmt.Errorf("%s %q: %w", t.entity, id, state.ErrNotFound)
	}
	return nil
}

// List scans every row of the entity in creation order and keeps the
// ones filter matches.
func (t *Table[T]) List(ctx context.Context, filter *query.Filter[T]) ([]T, error) {
	out := []T{}
	err := t.scan(ctx, func(v T) bool {
		if filter.Match(v) {
			out = append(out, v)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (t *Table[T]) First(ctx context.Context, filter *query.Filter[T]) (T, bool, error) {
	var (
		found T
		ok    bool
	)
	err := t.scan(ctx, func(v T) bool {
		if filter.Match(v) {
			found, ok = v, true
			return false
		}
		return true
	})
	return found, ok, err
}

// Count returns the number of rows stored for the entity.
func (t *Table[T]) Count(ctx context.Context) (int, error) {
	var n int
	if err := t.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM records WHERE entity = ?`, t.entity).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting %s: %w", t.entity, err)
	}
	return n, nil
}

func (t *Table[T]) scan(ctx context.Context, fn func(T) bool) error {
	rows, err := t.db.QueryContext(ctx,
		`SELECT id, data FROM records WHERE entity = ? ORDER BY created_at, id`, t.entity)
	if err != nil {
		return fmt.Errorf("listing %s: %w", t.entity, err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return fmt.Errorf("scanning %s: %w", t.entity, err)
		}
		var v T
		if err := json.Unmarshal([]byte(data), &v); err != nil {
			return fmt.Errorf("decoding %s %q: %w", t.entity, id, err)
		}
		if !fn(v) {
			return nil
		}
	}
	return rows.Err()
}

func (t *Table[T]) insert(ctx context.Context, ex execer, v T) error {
	m := v.RecordMeta()
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s %q: %w", t.entity, m.ID, err)
	}
	_, err = ex.ExecContext(ctx, `
		INSERT INTO records (entity, id, creator_id, data, created_at, updated_at, saved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.entity, m.ID, m.CreatorID, string(data),
		m.CreatedAt.UnixNano(), m.LastUpdatedAt.UnixNano(), savedAt(m))
	if err != nil {
		if isConflict(err) {
			return fmt.Errorf("%s %q: %w", t.entity, m.ID, state.ErrConflict)
		}
		return fmt.Errorf("inserting %s %q: %w", t.entity, m.ID, err)
	}
	return nil
}

func savedAt(m model.Meta) *int64 {
	if m.LastSavedAt == nil {
		return nil
	}
	n := m.LastSavedAt.UnixNano()
	return &n
}

func isConflict(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		se.ExtendedCode == sqlite3.ErrConstraintUnique
}
