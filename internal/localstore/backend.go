// Package localstore keeps a record collection in a kv.Store. It is the
// backing store of the client tier when no server is involved.
package localstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"statesync/internal/kv"
	"statesync/internal/model"
	"statesync/internal/query"
	"statesync/internal/state"
)

// Backend implements state.Backend on a kv.Store. Records live under
// records/<entity>/v<version>/<id>; bumping the version hides records
// written in an older shape.
type Backend[T model.Record[T]] struct {
	store  kv.Store
	entity string
	prefix string

	// serializes check-then-write sequences
	mu sync.Mutex
}

// New creates a backend for entity at the given schema version.
func New[T model.Record[T]](store kv.Store, entity string, version int) *Backend[T] {
	return &Backend[T]{
		store:  store,
		entity: entity,
		prefix: fmt.Sprintf("records/%s/v%d/", entity, version),
	}
}

func (b *Backend[T]) key(id string) string { return b.prefix + id }

func (b *Backend[T]) Get(ctx context.Context, id string) (T, error) {
	v, ok, err := b.read(ctx, b.key(id))
	if err != nil {
		return v, err
	}
	if !ok {
		return v, state.ErrNotFound
	}
	return v, nil
}

func (b *Backend[T]) Insert(ctx context.Context, v T) (T, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var zero T
	id := v.RecordMeta().ID
	if err := b.absent(ctx, id); err != nil {
		return zero, err
	}
	if err := b.write(ctx, v); err != nil {
		return zero, err
	}
	return v, nil
}

// InsertAll inserts every record or none: a conflict on any id, including
// a duplicate within vs, fails the whole batch before anything is written.
func (b *Backend[T]) InsertAll(ctx context.Context, vs []T) ([]T, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	seen := make(map[string]struct{}, len(vs))
	for _, v := range vs {
		id := v.RecordMeta().ID
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%s %q repeated in batch: %w", b.entity, id, state.ErrConflict)
		}
		seen[id] = struct{}{}
		if err := b.absent(ctx, id); err != nil {
			return nil, err
		}
	}
	for _, v := range vs {
		if err := b.write(ctx, v); err != nil {
			return nil, err
		}
	}
	return append([]T(nil), vs...), nil
}

func (b *Backend[T]) Update(ctx context.Context, v T) (T, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var zero T
	if _, err := b.Get(ctx, v.RecordMeta().ID); err != nil {
		return zero, err
	}
	if err := b.write(ctx, v); err != nil {
		return zero, err
	}
	return v, nil
}

func (b *Backend[T]) Delete(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.Get(ctx, id); err != nil {
		return err
	}
	if err := b.store.Delete(ctx, b.key(id)); err != nil {
		return fmt.Errorf("deleting %s %q: %w", b.entity, id, err)
	}
	return nil
}

// List returns matching records ordered by creation time, then id.
func (b *Backend[T]) List(ctx context.Context, filter *query.Filter[T]) ([]T, error) {
	keys, err := b.store.Keys(ctx, b.prefix)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", b.entity, err)
	}
	out := make([]T, 0, len(keys))
	for _, k := range keys {
		v, ok, err := b.read(ctx, k)
		if err != nil {
			return nil, err
		}
		if ok && filter.Match(v) {
			out = append(out, v)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, c := out[i].RecordMeta(), out[j].RecordMeta()
		if !a.CreatedAt.Equal(c.CreatedAt) {
			return a.CreatedAt.Before(c.CreatedAt)
		}
		return a.ID < c.ID
	})
	return out, nil
}

func (b *Backend[T]) First(ctx context.Context, filter *query.Filter[T]) (T, bool, error) {
	var zero T
	list, err := b.List(ctx, filter)
	if err != nil || len(list) == 0 {
		return zero, false, err
	}
	return list[0], true, nil
}

// Prune deletes records of this entity stored under any other version and
// returns how many were removed.
func (b *Backend[T]) Prune(ctx context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	keys, err := b.store.Keys(ctx, "records/"+b.entity+"/")
	if err != nil {
		return 0, fmt.Errorf("listing %s versions: %w", b.entity, err)
	}
	n := 0
	for _, k := range keys {
		if strings.HasPrefix(k, b.prefix) {
			continue
		}
		if err := b.store.Delete(ctx, k); err != nil {
			return n, fmt.Errorf("pruning %q: %w", k, err)
		}
		n++
	}
	return n, nil
}

func (b *Backend[T]) absent(ctx context.Context, id string) error {
	_, ok, err := b.store.Get(ctx, b.key(id))
	if err != nil {
		return fmt.Errorf("reading %s %q: %w", b.entity, id, err)
	}
	if ok {
		return fmt.Errorf("%s %q: %w", b.entity, id, state.ErrConflict)
	}
	return nil
}

func (b *Backend[T]) read(ctx context.Context, key string) (T, bool, error) {
	var v T
	data, ok, err := b.store.Get(ctx, key)
	if err != nil {
		return v, false, fmt.Errorf("reading %q: %w", key, err)
	}
	if !ok {
		return v, false, nil
	}
	if err := kv.Unmarshal(data, &v); err != nil {
		return v, false, fmt.Errorf("decoding %q: %w", key, err)
	}
	return v, true, nil
}

func (b *Backend[T]) write(ctx context.Context, v T) error {
	data, err := kv.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", b.entity, err)
	}
	id := v.RecordMeta().ID
	if err := b.store.Put(ctx, b.key(id), data); err != nil {
		return fmt.Errorf("writing %s %q: %w", b.entity, id, err)
	}
	return nil
}
