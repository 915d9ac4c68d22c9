package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"statesync/internal/catalog"
	"statesync/internal/database"
	"statesync/internal/endpoint"
	"statesync/internal/model"
	"statesync/internal/query"
	"statesync/internal/state"
)

// registerCatalog binds every entity type shipped with statesync.
func (a *App) registerCatalog() error {
	if err := registerEntity(a, catalog.OrderEntity, catalog.OrderSchema); err != nil {
		return err
	}
	return registerEntity(a, catalog.ContactEntity, catalog.ContactSchema)
}

// registerEntity creates the backing table for name, registers it with the
// dispatcher and makes it available to Export and Import.
func registerEntity[T model.Record[T]](a *App, name string, schema *query.Schema[T]) error {
	table, err := database.NewTable[T](a.db, name)
	if err != nil {
		return fmt.Errorf("creating %s table: %w", name, err)
	}

	factory := func() *state.Manager[T] {
		return state.NewManager[T](name, table, schema,
			state.WithCacheStore(a.cacheStore),
			state.WithFreshness(a.cfg.Cache.Freshness.Duration),
			state.WithClock(a.clock),
			state.WithIDGenerator(a.ids),
			state.WithLogger(a.logger),
		)
	}

	var regOpts []endpoint.RegisterOption
	if a.readOnly(name) {
		regOpts = append(regOpts, endpoint.ReadOnly())
	}
	if err := endpoint.Register(a.registry, name, factory, regOpts...); err != nil {
		return err
	}

	a.snapshots[name] = snapshotter{
		export: func(ctx context.Context) ([]byte, int, error) {
			all, err := table.List(ctx, nil)
			if err != nil {
				return nil, 0, err
			}
			var buf bytes.Buffer
			enc := json.NewEncoder(&buf)
			enc.SetIndent("", "  ")
			if err := enc.Encode(all); err != nil {
				return nil, 0, fmt.Errorf("encoding snapshot: %w", err)
			}
			return buf.Bytes(), len(all), nil
		},
		restore: func(ctx context.Context, data []byte) (int, int, error) {
			var records []T
			if err := json.Unmarshal(data, &records); err != nil {
				return 0, 0, fmt.Errorf("decoding snapshot: %w", err)
			}

			seen := make(map[string]bool, len(records))
			var missing []T
			for _, v := range records {
				id := v.RecordMeta().ID
				if id == "" || seen[id] {
					continue
				}
				seen[id] = true
				_, err := table.Get(ctx, id)
				switch {
				case errors.Is(err, state.ErrNotFound):
					missing = append(missing, v)
				case err != nil:
					return 0, 0, err
				}
			}

			m := factory()
			if err := m.Initialize(ctx, a.systemOwner()); err != nil {
				return 0, 0, err
			}
			saved, err := m.SaveAll(ctx, missing)
			if err != nil {
				return 0, 0, err
			}
			return len(saved), len(records) - len(saved), nil
		},
	}
	return nil
}
