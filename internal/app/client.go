package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"sort"

	"statesync/internal/catalog"
	"statesync/internal/config"
	"statesync/internal/endpoint"
	"statesync/internal/kv"
	"statesync/internal/localstore"
	"statesync/internal/model"
	"statesync/internal/query"
	"statesync/internal/remote"
	"statesync/internal/state"
)

// clientEntity erases the record type of one bound manager so the CLI can
// drive every type through the same calls.
type clientEntity struct {
	get    func(ctx context.Context, id string) (any, error)
	list   func(ctx context.Context, preds []query.Predicate) (any, error)
	search func(ctx context.Context, preds []query.Predicate) (any, bool, error)
	delete func(ctx context.Context, id string) error
	recent func(ctx context.Context) (any, bool, error)
	evict  func(ctx context.Context, id string) error
}

// Client is the client tier: one state manager per catalog type, backed
// either by a remote server or by a local record store, with a persistent
// ownership-scoped cache in front.
type Client struct {
	cfg      *config.Config
	remote   *remote.Client
	cache    kv.Store
	records  kv.Store
	entities map[string]clientEntity
	logger   model.Logger
	clock    model.Clock
	ids      model.IDGenerator
	closers  []io.Closer
}

// NewClient builds the client tier from cfg and binds every catalog type to
// cfg.OwnerID. The caller must call Close.
func NewClient(ctx context.Context, cfg *config.Config, opts ...Option) (_ *Client, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.OwnerID == "" {
		return nil, fmt.Errorf("owner_id is required for the client")
	}
	o := buildOptions(opts)

	c := &Client{
		cfg:      cfg,
		entities: make(map[string]clientEntity),
		logger:   o.logger,
		clock:    o.clock,
		ids:      o.ids,
	}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	if c.logger == nil {
		l, f, err := newLogger(cfg.LogDir, newRunID(o.clock.Now()), cfg.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("creating logger: %w", err)
		}
		c.closers = append(c.closers, f)
		c.logger = &slogAdapter{l: l}
	}

	clientDB := filepath.Join(cfg.BaseDir, "client.db")
	switch cfg.Client.Backend {
	case "", "remote":
		c.remote = remote.NewClient(cfg.Client.BaseURL,
			remote.WithHTTPClient(&http.Client{Timeout: cfg.Client.Timeout.Duration}),
			remote.WithUserID(cfg.OwnerID),
			remote.WithIdentityHeader(cfg.Server.IdentityHeader),
		)
		if c.cache, err = c.open(cfg.Client.Store, clientDB, o.sealer); err != nil {
			return nil, fmt.Errorf("opening client cache: %w", err)
		}
	case "local":
		if c.records, err = c.open(cfg.Client.Store, clientDB, o.sealer); err != nil {
			return nil, fmt.Errorf("opening record store: %w", err)
		}
		if c.cache, err = c.open(cfg.Cache.Store, clientDB, o.sealer); err != nil {
			return nil, fmt.Errorf("opening client cache: %w", err)
		}
	}

	if err := bindClient(ctx, c, catalog.OrderEntity, catalog.OrderSchema, catalog.OrderVersion); err != nil {
		return nil, err
	}
	if err := bindClient(ctx, c, catalog.ContactEntity, catalog.ContactSchema, catalog.ContactVersion); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) open(cfg config.StoreConfig, defaultPath string, sealer kv.Sealer) (kv.Store, error) {
	if cfg.Type == "sqlite" && cfg.Path == "" {
		cfg.Path = defaultPath
	}
	store, closer, err := openStore(cfg, nil, sealer)
	if err != nil {
		return nil, err
	}
	if closer != nil {
		c.closers = append(c.closers, closer)
	}
	return store, nil
}

// bindClient creates the manager for name. Local record stores discard
// records written under an older version of the type.
func bindClient[T model.Record[T]](ctx context.Context, c *Client, name string, schema *query.Schema[T], version int) error {
	var backend state.Backend[T]
	if c.remote != nil {
		backend = remote.NewBackend[T](c.remote, name)
	} else {
		local := localstore.New[T](c.records, name, version)
		pruned, err := local.Prune(ctx)
		if err != nil {
			return fmt.Errorf("pruning %s: %w", name, err)
		}
		if pruned > 0 {
			c.logger.Info("pruned records of older versions", "entity", name, "records", pruned)
		}
		backend = local
	}

	m := state.NewManager[T](name, backend, schema,
		state.WithCacheStore(c.cache),
		state.WithFreshness(c.cfg.Cache.Freshness.Duration),
		state.WithClock(c.clock),
		state.WithIDGenerator(c.ids),
		state.WithLogger(c.logger),
	)
	if err := m.Initialize(ctx, c.cfg.OwnerID); err != nil {
		return err
	}

	c.entities[name] = clientEntity{
		get: func(ctx context.Context, id string) (any, error) {
			v, err := m.Load(ctx, id)
			return v, err
		},
		list: func(ctx context.Context, preds []query.Predicate) (any, error) {
			vs, err := m.LoadAll(ctx, preds)
			return vs, err
		},
		search: func(ctx context.Context, preds []query.Predicate) (any, bool, error) {
			v, ok, err := m.Search(ctx, preds)
			return v, ok, err
		},
		delete: m.Delete,
		recent: func(ctx context.Context) (any, bool, error) {
			v, ok, err := m.MostRecent(ctx, "")
			return v, ok, err
		},
		evict: m.Evict,
	}
	return nil
}

// Types returns the bound type names in order.
func (c *Client) Types() []string {
	names := make([]string, 0, len(c.entities))
	for name := range c.entities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *Client) Get(ctx context.Context, name, id string) (any, error) {
	e, err := c.entity(name)
	if err != nil {
		return nil, err
	}
	return e.get(ctx, id)
}

func (c *Client) List(ctx context.Context, name string, preds []query.Predicate) (any, error) {
	e, err := c.entity(name)
	if err != nil {
		return nil, err
	}
	return e.list(ctx, preds)
}

func (c *Client) Search(ctx context.Context, name string, preds []query.Predicate) (any, bool, error) {
	e, err := c.entity(name)
	if err != nil {
		return nil, false, err
	}
	return e.search(ctx, preds)
}

func (c *Client) Delete(ctx context.Context, name, id string) error {
	e, err := c.entity(name)
	if err != nil {
		return err
	}
	return e.delete(ctx, id)
}

// Recent returns the most recently cached record of name owned by the
// configured owner.
func (c *Client) Recent(ctx context.Context, name string) (any, bool, error) {
	e, err := c.entity(name)
	if err != nil {
		return nil, false, err
	}
	return e.recent(ctx)
}

// Watch follows the server's change feed for name, evicting every changed
// id from the local cache before calling fn. It blocks until ctx is done.
// Only remote backends have a feed.
func (c *Client) Watch(ctx context.Context, name string, fn func(endpoint.Change)) error {
	e, err := c.entity(name)
	if err != nil {
		return err
	}
	if c.remote == nil {
		return fmt.Errorf("watch requires the remote backend")
	}
	return c.remote.Watch(ctx, name, func(ch endpoint.Change) {
		if err := e.evict(ctx, ch.ID); err != nil {
			c.logger.Warn("evicting changed record failed", "entity", name, "id", ch.ID, "error", err)
		}
		if fn != nil {
			fn(ch)
		}
	})
}

func (c *Client) Close() error {
	return closeAll(c.closers)
}

func (c *Client) entity(name string) (clientEntity, error) {
	e, ok := c.entities[name]
	if !ok {
		return clientEntity{}, fmt.Errorf("%w: %q", ErrUnknownType, name)
	}
	return e, nil
}
