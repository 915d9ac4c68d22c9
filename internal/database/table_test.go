package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"statesync/internal/model"
	"statesync/internal/query"
	"statesync/internal/state"
)

type note struct {
	model.Meta
	Title string `json:"title"`
	Stars int    `json:"stars"`
}

func (n note) WithMeta(m model.Meta) note { n.Meta = m; return n }

var noteSchema = query.MustSchema[note](
	query.StringField("title", func(n note) string { return n.Title }),
	query.IntField("stars", func(n note) int { return n.Stars }),
)

var epoch = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

func newNote(id string, offset time.Duration, title string, stars int) note {
	return note{Meta: model.NewMeta(id, epoch.Add(offset), "alice"), Title: title, Stars: stars}
}

func newTestTable(t *testing.T) *Table[note] {
	t.Helper()
	return NewSQLiteTable[note](newTestDB(t).DB(), "note")
}

func ids(notes []note) []string {
	out := make([]string, len(notes))
	for i, n := range notes {
		out[i] = n.ID
	}
	return out
}

func TestTable_InsertGet(t *testing.T) {
	ctx := context.Background()
	tbl := newTestTable(t)

	n := newNote("n1", 0, "groceries", 3)
	if _, err := tbl.Insert(ctx, n); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	got, err := tbl.Get(ctx, "n1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Title != "groceries" || got.Stars != 3 {
		t.Errorf("Get() = %+v, want groceries/3", got)
	}
	if !got.CreatedAt.Equal(n.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, n.CreatedAt)
	}
	if got.Creator() != "alice" {
		t.Errorf("Creator() = %q, want alice", got.Creator())
	}

	t.Run("duplicate id conflicts", func(t *testing.T) {
		_, err := tbl.Insert(ctx, n)
		if !errors.Is(err, state.ErrConflict) {
			t.Errorf("Insert() error = %v, want ErrConflict", err)
		}
	})

	t.Run("missing id", func(t *testing.T) {
		_, err := tbl.Get(ctx, "nope")
		if !errors.Is(err, state.ErrNotFound) {
			t.Errorf("Get() error = %v, want ErrNotFound", err)
		}
	})
}

func TestTable_EntitiesArePartitioned(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t).DB()
	notes := NewSQLiteTable[note](db, "note")
	drafts := NewSQLiteTable[note](db, "draft")

	if _, err := notes.Insert(ctx, newNote("x", 0, "a", 1)); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if _, err := drafts.Insert(ctx, newNote("x", 0, "b", 2)); err != nil {
		t.Fatalf("same id under another entity should insert: %v", err)
	}
	if _, err := drafts.Get(ctx, "x"); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	n, _ := notes.Count(ctx)
	if n != 1 {
		t.Errorf("Count() = %d, want 1", n)
	}
}

func TestTable_InsertAll(t *testing.T) {
	ctx := context.Background()

	t.Run("inserts every record", func(t *testing.T) {
		tbl := newTestTable(t)
		got, err := tbl.InsertAll(ctx, []note{newNote("a", 0, "a", 1), newNote("b", time.Second, "b", 2)})
		if err != nil {
			t.Fatalf("InsertAll() error = %v", err)
		}
		if len(got) != 2 {
			t.Errorf("InsertAll() returned %d records, want 2", len(got))
		}
	})

	t.Run("conflict rolls back the batch", func(t *testing.T) {
		tbl := newTestTable(t)
		tbl.Insert(ctx, newNote("b", 0, "existing", 0))

		_, err := tbl.InsertAll(ctx, []note{newNote("a", 0, "a", 1), newNote("b", 0, "b", 2)})
		if !errors.Is(err, state.ErrConflict) {
			t.Fatalf("InsertAll() error = %v, want ErrConflict", err)
		}
		if _, err := tbl.Get(ctx, "a"); !errors.Is(err, state.ErrNotFound) {
			t.Errorf("record a should have been rolled back, Get() error = %v", err)
		}
	})
}

func TestTable_UpdateDelete(t *testing.T) {
	ctx := context.Background()
	tbl := newTestTable(t)
	n := newNote("n1", 0, "draft", 1)
	tbl.Insert(ctx, n)

	n.Title = "final"
	saved := epoch.Add(time.Hour)
	n.LastSavedAt = &saved
	if _, err := tbl.Update(ctx, n); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	got, _ := tbl.Get(ctx, "n1")
	if got.Title != "final" {
		t.Errorf("Title = %q, want final", got.Title)
	}
	if got.LastSavedAt == nil || !got.LastSavedAt.Equal(saved) {
		t.Errorf("LastSavedAt = %v, want %v", got.LastSavedAt, saved)
	}

	if _, err := tbl.Update(ctx, newNote("ghost", 0, "", 0)); !errors.Is(err, state.ErrNotFound) {
		t.Errorf("Update() on missing id error = %v, want ErrNotFound", err)
	}

	if err := tbl.Delete(ctx, "n1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := tbl.Delete(ctx, "n1"); !errors.Is(err, state.ErrNotFound) {
		t.Errorf("second Delete() error = %v, want ErrNotFound", err)
	}
}

func TestTable_ListFirst(t *testing.T) {
	ctx := context.Background()
	tbl := newTestTable(t)
	// inserted out of creation order
	tbl.Insert(ctx, newNote("c", 2*time.Second, "gamma", 5))
	tbl.Insert(ctx, newNote("b", 0, "beta", 2))
	tbl.Insert(ctx, newNote("a", 0, "alpha", 4))

	all, err := tbl.List(ctx, nil)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	want := []string{"a", "b", "c"}
	if got := ids(all); len(got) != 3 || got[0] != want[0] || got[1] != want[1] || got[2] != want[2] {
		t.Errorf("List() order = %v, want %v", got, want)
	}

	filter, diags := query.Compile(noteSchema, []query.Predicate{query.P("stars", query.GreaterThanOrEqual, "4")})
	if len(diags) != 0 {
		t.Fatalf("Compile() diagnostics = %v", diags)
	}
	matched, _ := tbl.List(ctx, filter)
	if got := ids(matched); len(got) != 2 || got[0] != "a" || got[1] != "c" {
		t.Errorf("List(stars>=4) = %v, want [a c]", got)
	}

	first, ok, err := tbl.First(ctx, filter)
	if err != nil || !ok || first.ID != "a" {
		t.Errorf("First() = %v, %v, %v; want a", first.ID, ok, err)
	}

	none, _ := query.Compile(noteSchema, []query.Predicate{query.P("title", query.Equals, "zeta")})
	if _, ok, err := tbl.First(ctx, none); ok || err != nil {
		t.Errorf("First() with no match = %v, %v; want false, nil", ok, err)
	}

	empty := NewSQLiteTable[note](tbl.db, "empty")
	list, err := empty.List(ctx, nil)
	if err != nil || list == nil || len(list) != 0 {
		t.Errorf("List() on empty entity = %v, %v; want empty non-nil", list, err)
	}
}
