package remote_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statesync/internal/endpoint"
	"statesync/internal/identity"
	"statesync/internal/kv"
	"statesync/internal/model"
	"statesync/internal/query"
	"statesync/internal/remote"
	"statesync/internal/state"
	"statesync/internal/testutil"
)

type ticket struct {
	model.Meta
	Title    string `json:"title"`
	Priority int    `json:"priority"`
}

func (t ticket) WithMeta(m model.Meta) ticket { t.Meta = m; return t }

var ticketSchema = query.MustSchema[ticket](
	query.StringField("title", func(t ticket) string { return t.Title }),
	query.IntField("priority", func(t ticket) int { return t.Priority }),
)

type harness struct {
	server  *httptest.Server
	backend *testutil.CountingBackend[ticket]
	feed    *endpoint.Feed
}

// newHarness starts a dispatcher serving "ticket" from an in-memory store.
func newHarness(t *testing.T) *harness {
	t.Helper()
	backend := testutil.NewMemoryBackend[ticket]("ticket")
	store := kv.NewMemoryStore()
	reg := endpoint.NewRegistry()
	require.NoError(t, endpoint.Register(reg, "ticket", func() *state.Manager[ticket] {
		return state.NewManager[ticket]("ticket", backend, ticketSchema, state.WithCacheStore(store))
	}))
	d := endpoint.NewDispatcher(reg)
	srv := httptest.NewServer(d.Handler())
	t.Cleanup(srv.Close)
	return &harness{server: srv, backend: backend, feed: d.Feed()}
}

func (h *harness) client(user string) *remote.Client {
	return remote.NewClient(h.server.URL+"/", remote.WithUserID(user))
}

// clientManager is a client-tier manager whose backend is the server.
func (h *harness) clientManager(t *testing.T, user string) *state.Manager[ticket] {
	t.Helper()
	m := state.NewManager[ticket]("ticket", remote.NewBackend[ticket](h.client(user), "ticket"), ticketSchema,
		state.WithClock(testutil.FixedClock()),
		state.WithIDGenerator(testutil.NewStubIDGenerator()),
	)
	require.NoError(t, m.Initialize(context.Background(), user))
	return m
}

func TestBackend_RoundTrip(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	b := remote.NewBackend[ticket](h.client("alice"), "ticket")

	v := ticket{Meta: model.NewMeta("t1", time.Now().UTC(), "alice"), Title: "broken build", Priority: 1}
	saved, err := b.Insert(ctx, v)
	require.NoError(t, err)
	assert.Equal(t, "t1", saved.ID)
	assert.True(t, saved.Saved(), "server stamps the save")

	_, err = b.Insert(ctx, v)
	assert.ErrorIs(t, err, state.ErrConflict)

	got, err := b.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "broken build", got.Title)

	_, err = b.Get(ctx, "nope")
	assert.ErrorIs(t, err, state.ErrNotFound)
	assert.False(t, remote.IsTransport(err))

	got.Priority = 3
	updated, err := b.Update(ctx, got)
	require.NoError(t, err)
	assert.Equal(t, 3, updated.Priority)

	require.NoError(t, b.Delete(ctx, "t1"))
	assert.ErrorIs(t, b.Delete(ctx, "t1"), state.ErrNotFound)
}

func TestBackend_ListAndFirst(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	b := remote.NewBackend[ticket](h.client("alice"), "ticket")
	now := time.Now().UTC()

	_, err := b.InsertAll(ctx, []ticket{
		{Meta: model.NewMeta("a", now, ""), Title: "low", Priority: 1},
		{Meta: model.NewMeta("b", now.Add(time.Second), ""), Title: "mid_range", Priority: 5},
		{Meta: model.NewMeta("c", now.Add(2*time.Second), ""), Title: "high", Priority: 9},
	})
	require.NoError(t, err)

	all, err := b.List(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	filter, _ := query.Compile(ticketSchema, []query.Predicate{query.Range("priority", query.Between, "4", "9")})
	matched, err := b.List(ctx, filter)
	require.NoError(t, err)
	require.Len(t, matched, 2)
	assert.Equal(t, "b", matched[0].ID)

	byTitle, _ := query.Compile(ticketSchema, []query.Predicate{query.P("title", query.Equals, "mid_range")})
	first, found, err := b.First(ctx, byTitle)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "b", first.ID)

	none, _ := query.Compile(ticketSchema, []query.Predicate{query.P("title", query.Equals, "zzz")})
	_, found, err = b.First(ctx, none)
	require.NoError(t, err)
	assert.False(t, found)

	empty, err := remote.NewBackend[ticket](h.client("alice"), "ticket").List(ctx, none)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestBackend_ManagerOverRemote(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	m := h.clientManager(t, "alice")

	v, err := m.New(ctx)
	require.NoError(t, err)
	v.Title = "first"
	saved, err := m.Save(ctx, v)
	require.NoError(t, err)

	saved.Title = "second"
	_, err = m.Update(ctx, saved)
	require.NoError(t, err)

	undone, ok, err := m.Undo(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "first", undone.Title)

	// bob reads what the server stored
	other := h.clientManager(t, "bob")
	got, err := other.Load(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "second", got.Title)
}

func TestClient_Identity(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := remote.NewBackend[ticket](remote.NewClient(h.server.URL), "ticket").List(ctx, nil)
	assert.ErrorIs(t, err, identity.ErrMissingIdentity)

	var seen string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get("X-Owner")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()
	c := remote.NewClient(srv.URL, remote.WithUserID("carol"), remote.WithIdentityHeader("X-Owner"))
	require.NoError(t, remote.NewBackend[ticket](c, "ticket").Delete(ctx, "x"))
	assert.Equal(t, "carol", seen)
}

func TestClient_TransportErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("server error carries message", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error":"disk full"}`))
		}))
		defer srv.Close()

		_, err := remote.NewBackend[ticket](remote.NewClient(srv.URL), "ticket").Get(ctx, "x")
		require.Error(t, err)
		assert.ErrorIs(t, err, state.ErrTransport)
		var te *remote.TransportError
		require.True(t, errors.As(err, &te))
		assert.Equal(t, http.StatusInternalServerError, te.Status)
		assert.Equal(t, "disk full", te.Message)
		assert.Contains(t, err.Error(), "disk full")
	})

	t.Run("unreachable server", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		_, err := remote.NewBackend[ticket](remote.NewClient(url), "ticket").Get(ctx, "x")
		assert.ErrorIs(t, err, state.ErrTransport)
	})

	t.Run("canceled context", func(t *testing.T) {
		h := newHarness(t)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := remote.NewBackend[ticket](h.client("alice"), "ticket").Get(cctx, "x")
		assert.ErrorIs(t, err, context.Canceled)
		assert.ErrorIs(t, err, state.ErrTransport)
	})

	t.Run("undecodable body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("not json"))
		}))
		defer srv.Close()

		_, err := remote.NewBackend[ticket](remote.NewClient(srv.URL), "ticket").Get(ctx, "x")
		assert.ErrorIs(t, err, state.ErrTransport)
	})
}

func TestClient_HealthAndTypes(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	c := h.client("alice")

	require.NoError(t, c.Health(ctx))
	types, err := c.Types(ctx)
	require.NoError(t, err)
	require.Len(t, types, 1)
	assert.Equal(t, "ticket", types[0].Name)
}

func TestClient_Watch(t *testing.T) {
	h := newHarness(t)
	c := h.client("alice")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan endpoint.Change, 1)
	done := make(chan error, 1)
	go func() {
		done <- c.Watch(ctx, "ticket", func(ch endpoint.Change) { got <- ch })
	}()
	require.Eventually(t, func() bool { return h.feed.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	b := remote.NewBackend[ticket](c, "ticket")
	_, err := b.Insert(context.Background(), ticket{Meta: model.NewMeta("w1", time.Now().UTC(), "")})
	require.NoError(t, err)

	select {
	case ch := <-got:
		assert.Equal(t, "w1", ch.ID)
		assert.Equal(t, endpoint.ChangeCreated, ch.Op)
	case <-time.After(2 * time.Second):
		t.Fatal("no change received")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestClient_WatchRequiresIdentity(t *testing.T) {
	h := newHarness(t)
	err := remote.NewClient(h.server.URL).Watch(context.Background(), "ticket", func(endpoint.Change) {})
	assert.ErrorIs(t, err, identity.ErrMissingIdentity)
}
