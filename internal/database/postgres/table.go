package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"statesync/internal/model"
	"statesync/internal/query"
	"statesync/internal/state"
)

// Table implements state.Backend on the state_records table.
type Table[T model.Record[T]] struct {
	db     *gorm.DB
	entity string
}

// NewTable returns the backend for entity.
func NewTable[T model.Record[T]](d *Database, entity string) *Table[T] {
	return &Table[T]{db: d.db, entity: entity}
}

func (t *Table[T]) Get(ctx context.Context, id string) (T, error) {
	var (
		v   T
		row recordRow
	)
	err := t.db.WithContext(ctx).Where("entity = ? AND id = ?", t.entity, id).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return v, fmt.Errorf("%s %q: %w", t.entity, id, state.ErrNotFound)
		}
		return v, fmt.Errorf("reading %s %q: %w", t.entity, id, err)
	}
	return fromRow[T](row)
}

func (t *Table[T]) Insert(ctx context.Context, v T) (T, error) {
	var zero T
	row, err := toRow(t.entity, v)
	if err != nil {
		return zero, err
	}
	if err := t.db.WithContext(ctx).Create(&row).Error; err != nil {
		return zero, t.writeError("inserting", row.ID, err)
	}
	return v, nil
}

// InsertAll inserts vs in one transaction; any conflict rolls back the batch.
func (t *Table[T]) InsertAll(ctx context.Context, vs []T) ([]T, error) {
	if len(vs) == 0 {
		return []T{}, nil
	}
	rows := make([]recordRow, len(vs))
	for i, v := range vs {
		row, err := toRow(t.entity, v)
		if err != nil {
			return nil, err
		}
		rows[i] = row
	}
	err := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&rows).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("%s batch: %w", t.entity, state.ErrConflict)
		}
		return nil, fmt.Errorf("inserting %d %s records: %w", len(rows), t.entity, err)
	}
	return append([]T(nil), vs...), nil
}

func (t *Table[T]) Update(ctx context.Context, v T) (T, error) {
	var zero T
	row, err := toRow(t.entity, v)
	if err != nil {
		return zero, err
	}
	res := t.db.WithContext(ctx).Model(&recordRow{}).
		Where("entity = ? AND id = ?", t.entity, row.ID).
		Updates(map[string]any{
			"creator_id": row.CreatorID,
			"data":       row.Data,
			"updated_at": row.UpdatedNanos,
			"saved_at":   row.SavedNanos,
		})
	if res.Error != nil {
		return zero, t.writeError("updating", row.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return zero, fmt.Errorf("%s %q: %w", t.entity, row.ID, state.ErrNotFound)
	}
	return v, nil
}

func (t *Table[T]) Delete(ctx context.Context, id string) error {
	res := t.db.WithContext(ctx).Where("entity = ? AND id = ?", t.entity, id).Delete(&recordRow{})
	if res.Error != nil {
		return fmt.Errorf("deleting %s %q: %w", t.entity, id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%s %q: %w", t.entity, id, state.ErrNotFound)
	}
	return nil
}

// List loads every row of the entity in creation order and keeps the ones
// filter matches.
func (t *Table[T]) List(ctx context.Context, filter *query.Filter[T]) ([]T, error) {
	var rows []recordRow
	err := t.db.WithContext(ctx).Where("entity = ?", t.entity).
		Order("created_at, id").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", t.entity, err)
	}
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		v, err := fromRow[T](row)
		if err != nil {
			return nil, err
		}
		if filter.Match(v) {
			out = append(out, v)
		}
	}
	return out, nil
}

func (t *Table[T]) First(ctx context.Context, filter *query.Filter[T]) (T, bool, error) {
	var zero T
	list, err := t.List(ctx, filter)
	if err != nil || len(list) == 0 {
		return zero, false, err
	}
	return list[0], true, nil
}

func (t *Table[T]) writeError(action, id string, err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%s %q: %w", t.entity, id, state.ErrConflict)
	}
	return fmt.Errorf("%s %s %q: %w", action, t.entity, id, err)
}

func toRow[T model.Record[T]](entity string, v T) (recordRow, error) {
	m := v.RecordMeta()
	data, err := json.Marshal(v)
	if err != nil {
		return recordRow{}, fmt.Errorf("encoding %s %q: %w", entity, m.ID, err)
	}
	row := recordRow{
		Entity:       entity,
		ID:           m.ID,
		CreatorID:    m.CreatorID,
		Data:         string(data),
		CreatedNanos: m.CreatedAt.UnixNano(),
		UpdatedNanos: m.LastUpdatedAt.UnixNano(),
	}
	if m.LastSavedAt != nil {
		n := m.LastSavedAt.UnixNano()
		row.SavedNanos = &n
	}
	return row, nil
}

func fromRow[T any](row recordRow) (T, error) {
	var v T
	if err := json.Unmarshal([]byte(row.Data), &v); err != nil {
		return v, fmt.Errorf("decoding %s %q: %w", row.Entity, row.ID, err)
	}
	return v, nil
}
