package localstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statesync/internal/kv"
	"statesync/internal/localstore"
	"statesync/internal/model"
	"statesync/internal/query"
	"statesync/internal/state"
)

type item struct {
	model.Meta
	Name string `json:"name"`
	Qty  int    `json:"qty"`
}

func (i item) WithMeta(m model.Meta) item { i.Meta = m; return i }

var itemSchema = query.MustSchema[item](
	query.StringField("name", func(i item) string { return i.Name }),
	query.IntField("qty", func(i item) int { return i.Qty }),
)

var epoch = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

func newItem(id string, offset time.Duration, name string, qty int) item {
	return item{Meta: model.NewMeta(id, epoch.Add(offset), "alice"), Name: name, Qty: qty}
}

func itemIDs(items []item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func TestBackend_CRUD(t *testing.T) {
	ctx := context.Background()
	b := localstore.New[item](kv.NewMemoryStore(), "item", 1)

	_, err := b.Insert(ctx, newItem("a", 0, "apple", 3))
	require.NoError(t, err)

	got, err := b.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "apple", got.Name)
	assert.True(t, got.CreatedAt.Equal(epoch))

	_, err = b.Insert(ctx, newItem("a", 0, "again", 1))
	assert.ErrorIs(t, err, state.ErrConflict)

	got.Qty = 7
	_, err = b.Update(ctx, got)
	require.NoError(t, err)
	got, _ = b.Get(ctx, "a")
	assert.Equal(t, 7, got.Qty)

	_, err = b.Update(ctx, newItem("ghost", 0, "", 0))
	assert.ErrorIs(t, err, state.ErrNotFound)

	require.NoError(t, b.Delete(ctx, "a"))
	assert.ErrorIs(t, b.Delete(ctx, "a"), state.ErrNotFound)
	_, err = b.Get(ctx, "a")
	assert.ErrorIs(t, err, state.ErrNotFound)
}

func TestBackend_InsertAllIsAtomic(t *testing.T) {
	ctx := context.Background()

	t.Run("existing id", func(t *testing.T) {
		store := kv.NewMemoryStore()
		b := localstore.New[item](store, "item", 1)
		_, err := b.Insert(ctx, newItem("b", 0, "existing", 0))
		require.NoError(t, err)

		_, err = b.InsertAll(ctx, []item{newItem("a", 0, "a", 1), newItem("b", 0, "b", 1)})
		assert.ErrorIs(t, err, state.ErrConflict)
		assert.Equal(t, 1, store.Len())
	})

	t.Run("duplicate within batch", func(t *testing.T) {
		store := kv.NewMemoryStore()
		b := localstore.New[item](store, "item", 1)

		_, err := b.InsertAll(ctx, []item{newItem("a", 0, "a", 1), newItem("a", 0, "a", 2)})
		assert.ErrorIs(t, err, state.ErrConflict)
		assert.Zero(t, store.Len())
	})

	t.Run("success", func(t *testing.T) {
		b := localstore.New[item](kv.NewMemoryStore(), "item", 1)
		got, err := b.InsertAll(ctx, []item{newItem("a", 0, "a", 1), newItem("b", 0, "b", 2)})
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, itemIDs(got))
	})
}

func TestBackend_ListOrderAndFilter(t *testing.T) {
	ctx := context.Background()
	b := localstore.New[item](kv.NewMemoryStore(), "item", 1)
	for _, it := range []item{
		newItem("z", 0, "zucchini", 1),
		newItem("m", -time.Hour, "melon", 5),
		newItem("a", 0, "apple", 9),
	} {
		_, err := b.Insert(ctx, it)
		require.NoError(t, err)
	}

	all, err := b.List(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"m", "a", "z"}, itemIDs(all))

	filter, diags := query.Compile(itemSchema, []query.Predicate{query.P("qty", query.GreaterThan, "2")})
	require.Empty(t, diags)
	matched, err := b.List(ctx, filter)
	require.NoError(t, err)
	assert.Equal(t, []string{"m", "a"}, itemIDs(matched))

	first, ok, err := b.First(ctx, filter)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "m", first.ID)
}

func TestBackend_VersionsArePartitioned(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	v1 := localstore.New[item](store, "item", 1)
	v2 := localstore.New[item](store, "item", 2)
	other := localstore.New[item](store, "other", 1)

	_, err := v1.Insert(ctx, newItem("a", 0, "old", 1))
	require.NoError(t, err)
	_, err = other.Insert(ctx, newItem("a", 0, "other", 1))
	require.NoError(t, err)

	_, err = v2.Get(ctx, "a")
	assert.ErrorIs(t, err, state.ErrNotFound, "older version is hidden")

	_, err = v2.Insert(ctx, newItem("a", 0, "new", 2))
	require.NoError(t, err)

	n, err := v2.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = v1.Get(ctx, "a")
	assert.ErrorIs(t, err, state.ErrNotFound)
	_, err = other.Get(ctx, "a")
	assert.NoError(t, err, "other entities are not pruned")
	got, err := v2.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "new", got.Name)
}

func TestBackend_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := localstore.New[item](kv.NewMemoryStore(), "item", 1)

	_, err := b.Insert(ctx, newItem("a", 0, "a", 1))
	assert.ErrorIs(t, err, context.Canceled)
	_, err = b.List(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
