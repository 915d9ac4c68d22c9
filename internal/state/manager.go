// Package state implements the state manager: the orchestration of the
// ownership-scoped cache, the undo/redo history and a backing store for one
// entity type.
package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"statesync/internal/cache"
	"statesync/internal/history"
	"statesync/internal/kv"
	"statesync/internal/model"
	"statesync/internal/query"
)

const tracerName = "statesync/state"

// Manager keeps the current record of one entity type consistent across the
// cache, the history and the backend. A Manager is not safe for concurrent
// mutating calls; callers serialize them per instance.
type Manager[T model.Record[T]] struct {
	entity  string
	backend Backend[T]
	schema  *query.Schema[T]
	records *cache.Cache[T]
	lists   *cache.Cache[[]T]
	history *history.Stack[T]
	clock   model.Clock
	ids     model.IDGenerator
	logger  model.Logger
	tracer  trace.Tracer
	owner   string
}

// Option configures a Manager.
type Option func(*options)

type options struct {
	store     kv.Store
	freshness time.Duration
	clock     model.Clock
	ids       model.IDGenerator
	logger    model.Logger
}

// WithCacheStore sets the store backing the cache. Managers sharing a store
// share cached entries. Defaults to a private in-memory store.
func WithCacheStore(s kv.Store) Option {
	return func(o *options) { o.store = s }
}

// WithFreshness sets the cache freshness window.
func WithFreshness(d time.Duration) Option {
	return func(o *options) { o.freshness = d }
}

func WithClock(c model.Clock) Option {
	return func(o *options) { o.clock = c }
}

func WithIDGenerator(g model.IDGenerator) Option {
	return func(o *options) { o.ids = g }
}

func WithLogger(l model.Logger) Option {
	return func(o *options) { o.logger = l }
}

// NewManager creates a manager for entity backed by backend. Predicates are
// resolved against schema.
func NewManager[T model.Record[T]](entity string, backend Backend[T], schema *query.Schema[T], opts ...Option) *Manager[T] {
	o := options{
		clock:  model.RealClock{},
		ids:    model.UUIDGenerator{},
		logger: model.NopLogger{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.store == nil {
		o.store = kv.NewMemoryStore()
	}
	cacheOpts := []cache.Option{
		cache.WithFreshness(o.freshness),
		cache.WithClock(o.clock),
		cache.WithLogger(o.logger),
	}
	return &Manager[T]{
		entity:  entity,
		backend: backend,
		schema:  schema,
		records: cache.New[T](o.store, entity+"/rec", cacheOpts...),
		lists:   cache.New[[]T](o.store, entity+"/list", cacheOpts...),
		history: history.New(model.Clone[T]),
		clock:   o.clock,
		ids:     o.ids,
		logger:  o.logger,
		tracer:  otel.Tracer(tracerName),
	}
}

// Entity returns the entity type name.
func (m *Manager[T]) Entity() string { return m.entity }

// Schema returns the query schema.
func (m *Manager[T]) Schema() *query.Schema[T] { return m.schema }

// Owner returns the bound identity, or "" before Initialize.
func (m *Manager[T]) Owner() string { return m.owner }

// Current returns the value the history currently points at.
func (m *Manager[T]) Current() (T, bool) { return m.history.Current() }

// History returns the undo and redo depths.
func (m *Manager[T]) History() (undo, redo int) {
	return m.history.Depth(), m.history.RedoDepth()
}

// Initialize binds the manager to the caller identity that scopes every
// cache read and write. Rebinding clears the history.
func (m *Manager[T]) Initialize(ctx context.Context, owner string) error {
	_, span := m.start(ctx, "Initialize")
	defer span.End()
	if owner == "" {
		err := errors.New("owner id is required")
		fail(span, err)
		return err
	}
	if m.owner != owner {
		m.history.Clear()
	}
	m.owner = owner
	return nil
}

// New returns a fresh, unsaved record created by the bound identity and
// makes it the start of a new history.
func (m *Manager[T]) New(ctx context.Context) (T, error) {
	_, span := m.start(ctx, "New")
	defer span.End()

	var zero T
	v := zero.WithMeta(model.NewMeta(m.ids.New(), m.clock.Now(), m.owner))
	m.history.Reset(v)
	span.SetAttributes(attribute.String("id", v.RecordMeta().ID))
	return v, nil
}

// Load returns the record with id, from the cache when a fresh entry owned by
// the caller exists and from the backend otherwise.
func (m *Manager[T]) Load(ctx context.Context, id string) (out T, err error) {
	ctx, span := m.start(ctx, "Load", attribute.String("id", id))
	defer func() { end(span, err) }()
	if err := m.ready(); err != nil {
		return out, err
	}

	v, hit := m.cached(ctx, id)
	span.SetAttributes(attribute.Bool("cache_hit", hit))
	if !hit {
		v, err = m.backend.Get(ctx, id)
		if err != nil {
			return out, fmt.Errorf("loading %s %q: %w", m.entity, id, err)
		}
		m.remember(ctx, v)
	}
	m.history.Reset(v)
	return v, nil
}

// Track records v as the new current value without writing to the backend.
// Tracking a value equal to the current one is a no-op.
func (m *Manager[T]) Track(ctx context.Context, v T) (out T, err error) {
	ctx, span := m.start(ctx, "Track", attribute.String("id", v.RecordMeta().ID))
	defer func() { end(span, err) }()
	if err := m.ready(); err != nil {
		return out, err
	}

	if cur, ok := m.history.Current(); ok && model.Equal(cur, v) {
		span.SetAttributes(attribute.Bool("noop", true))
		return cur, nil
	}
	stamped := model.Touch(v, m.clock.Now())
	m.history.Record(stamped)
	if err := m.records.Put(ctx, stamped.RecordMeta().ID, stamped, m.owner); err != nil {
		m.history.Rollback()
		return out, fmt.Errorf("tracking %s: %w", m.entity, err)
	}
	return stamped, nil
}

// Save inserts v into the backend and caches what the backend returned.
// The history is left alone.
func (m *Manager[T]) Save(ctx context.Context, v T) (out T, err error) {
	ctx, span := m.start(ctx, "Save", attribute.String("id", v.RecordMeta().ID))
	defer func() { end(span, err) }()
	if err := m.ready(); err != nil {
		return out, err
	}

	saved, err := m.backend.Insert(ctx, model.MarkSaved(v, m.clock.Now(), m.owner))
	if err != nil {
		return out, fmt.Errorf("saving %s %q: %w", m.entity, v.RecordMeta().ID, err)
	}
	m.remember(ctx, saved)
	m.invalidateLists(ctx)
	return saved, nil
}

// Update records v in the history and the cache, then writes it to the
// backend, inserting it when the backend does not hold the id. An update
// equal to the current value is a no-op. When the backend write fails the history and cache are restored, unless the caller canceled
// the operation, in which case they stay as issued.
func (m *Manager[T]) Update(ctx context.Context, v T) (out T, err error) {
	id := v.RecordMeta().ID
	ctx, span := m.start(ctx, "Update", attribute.String("id", id))
	defer func() { end(span, err) }()
	if err := m.ready(); err != nil {
		return out, err
	}

	if cur, ok := m.history.Current(); ok && model.Equal(cur, v) {
		span.SetAttributes(attribute.Bool("noop", true))
		return cur, nil
	}

	backup, hadBackup, err := m.records.Get(ctx, id, m.owner)
	if err != nil {
		m.logger.Warn("reading cache backup failed", "entity", m.entity, "id", id, "error", err)
		hadBackup = false
	}

	now := m.clock.Now()
	touched := model.Touch(v, now)
	m.history.Record(touched)
	if err := m.records.Put(ctx, id, touched, m.owner); err != nil {
		m.history.Rollback()
		return out, fmt.Errorf("updating %s %q: %w", m.entity, id, err)
	}

	saved, err := m.upsert(ctx, model.MarkSaved(touched, now, m.owner))
	if err != nil {
		if !canceled(err) {
			m.history.Rollback()
			m.restore(ctx, id, backup, hadBackup)
		}
		return out, fmt.Errorf("updating %s %q: %w", m.entity, id, err)
	}

	m.history.Amend(saved)
	m.remember(ctx, saved)
	m.invalidateLists(ctx)
	return saved, nil
}

// upsert updates v in the backend and falls back to an insert when the id
// is not stored. The caller's LastSavedAt says nothing about the backend:
// history snapshots taken before a save still carry it unset.
func (m *Manager[T]) upsert(ctx context.Context, v T) (T, error) {
	saved, err := m.backend.Update(ctx, v)
	if errors.Is(err, ErrNotFound) {
		return m.backend.Insert(ctx, v)
	}
	return saved, err
}

// Delete removes id from the backend and evicts it from the cache.
func (m *Manager[T]) Delete(ctx context.Context, id string) (err error) {
	ctx, span := m.start(ctx, "Delete", attribute.String("id", id))
	defer func() { end(span, err) }()
	if err := m.ready(); err != nil {
		return err
	}

	if err := m.backend.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting %s %q: %w", m.entity, id, err)
	}
	if err := m.records.Remove(ctx, id); err != nil {
		m.logger.Warn("evicting cache entry failed", "entity", m.entity, "id", id, "error", err)
	}
	m.invalidateLists(ctx)
	return nil
}

// LoadAll returns every record matching preds. An empty predicate set
// returns the whole collection. Predicates that cannot be compiled are
// logged and left out.
func (m *Manager[T]) LoadAll(ctx context.Context, preds []query.Predicate) (out []T, err error) {
	ctx, span := m.start(ctx, "LoadAll", attribute.Int("predicates", len(preds)))
	defer func() { end(span, err) }()
	if err := m.ready(); err != nil {
		return nil, err
	}

	filter := m.compile(preds)
	key := m.owner + "|" + query.Encode(filter.Predicates())

	list, hit, err := m.lists.Get(ctx, key, m.owner)
	if err != nil {
		m.logger.Warn("reading list cache failed", "entity", m.entity, "error", err)
	}
	span.SetAttributes(attribute.Bool("cache_hit", hit))
	if !hit {
		list, err = m.backend.List(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", m.entity, err)
		}
		if list == nil {
			list = []T{}
		}
		if err := m.lists.Put(ctx, key, list, m.owner); err != nil {
			m.logger.Warn("writing list cache failed", "entity", m.entity, "error", err)
		}
	}
	if list == nil {
		list = []T{}
	}
	span.SetAttributes(attribute.Int("results", len(list)))
	return list, nil
}

// Search returns the first record matching preds. A match becomes the start
// of a new history. No match is not an error.
func (m *Manager[T]) Search(ctx context.Context, preds []query.Predicate) (out T, found bool, err error) {
	ctx, span := m.start(ctx, "Search", attribute.Int("predicates", len(preds)))
	defer func() { end(span, err) }()
	if err := m.ready(); err != nil {
		return out, false, err
	}

	v, ok, err := m.backend.First(ctx, m.compile(preds))
	if err != nil {
		return out, false, fmt.Errorf("searching %s: %w", m.entity, err)
	}
	span.SetAttributes(attribute.Bool("found", ok))
	if !ok {
		return out, false, nil
	}
	m.history.Reset(v)
	m.remember(ctx, v)
	return v, true, nil
}

// SaveAll inserts vs in bulk.
func (m *Manager[T]) SaveAll(ctx context.Context, vs []T) (out []T, err error) {
	ctx, span := m.start(ctx, "SaveAll", attribute.Int("records", len(vs)))
	defer func() { end(span, err) }()
	if err := m.ready(); err != nil {
		return nil, err
	}
	if len(vs) == 0 {
		return []T{}, nil
	}

	now := m.clock.Now()
	stamped := make([]T, len(vs))
	for i, v := range vs {
		stamped[i] = model.MarkSaved(v, now, m.owner)
	}
	saved, err := m.backend.InsertAll(ctx, stamped)
	if err != nil {
		return nil, fmt.Errorf("saving %d %s records: %w", len(vs), m.entity, err)
	}
	for _, v := range saved {
		m.remember(ctx, v)
	}
	m.invalidateLists(ctx)
	return saved, nil
}

// Undo steps the history back and caches the restored value. Nothing to
// undo is reported as found == false.
func (m *Manager[T]) Undo(ctx context.Context) (out T, found bool, err error) {
	ctx, span := m.start(ctx, "Undo")
	defer func() { end(span, err) }()
	if err := m.ready(); err != nil {
		return out, false, err
	}

	v, ok := m.history.Undo()
	if !ok {
		m.logger.Info("nothing to undo", "entity", m.entity)
		return out, false, nil
	}
	if err := m.records.Put(ctx, v.RecordMeta().ID, v, m.owner); err != nil {
		m.history.Redo()
		return out, false, fmt.Errorf("undoing %s: %w", m.entity, err)
	}
	return v, true, nil
}

// Redo is the mirror of Undo.
func (m *Manager[T]) Redo(ctx context.Context) (out T, found bool, err error) {
	ctx, span := m.start(ctx, "Redo")
	defer func() { end(span, err) }()
	if err := m.ready(); err != nil {
		return out, false, err
	}

	v, ok := m.history.Redo()
	if !ok {
		m.logger.Info("nothing to redo", "entity", m.entity)
		return out, false, nil
	}
	if err := m.records.Put(ctx, v.RecordMeta().ID, v, m.owner); err != nil {
		m.history.Undo()
		return out, false, fmt.Errorf("redoing %s: %w", m.entity, err)
	}
	return v, true, nil
}

// MostRecent returns the most recently cached fresh record owned by owner,
// or by the bound identity when owner is empty.
func (m *Manager[T]) MostRecent(ctx context.Context, owner string) (out T, found bool, err error) {
	ctx, span := m.start(ctx, "MostRecent")
	defer func() { end(span, err) }()
	if owner == "" {
		owner = m.owner
	}
	if owner == "" {
		return out, false, ErrNotInitialized
	}
	v, ok, err := m.records.MostRecent(ctx, owner)
	if err != nil {
		return out, false, fmt.Errorf("recovering %s: %w", m.entity, err)
	}
	return v, ok, nil
}

// Evict drops the cached entry for id and every cached list, so the next
// read goes to the backend. The history is left alone.
func (m *Manager[T]) Evict(ctx context.Context, id string) error {
	if err := m.records.Remove(ctx, id); err != nil {
		return fmt.Errorf("evicting %s %q: %w", m.entity, id, err)
	}
	m.invalidateLists(ctx)
	return nil
}

func (m *Manager[T]) ready() error {
	if m.owner == "" {
		return ErrNotInitialized
	}
	return nil
}

func (m *Manager[T]) compile(preds []query.Predicate) *query.Filter[T] {
	filter, diags := query.Compile(m.schema, preds)
	for _, d := range diags {
		m.logger.Warn("ignoring predicate", "entity", m.entity, "predicate", d.Predicate.String(), "reason", d.Reason)
	}
	return filter
}

// cached reads id from the cache, treating read failures as a miss.
func (m *Manager[T]) cached(ctx context.Context, id string) (T, bool) {
	v, ok, err := m.records.Get(ctx, id, m.owner)
	if err != nil {
		m.logger.Warn("reading cache failed", "entity", m.entity, "id", id, "error", err)
		return v, false
	}
	return v, ok
}

// remember caches a value the backend has confirmed. A failed cache write
// only costs a later backend read.
func (m *Manager[T]) remember(ctx context.Context, v T) {
	id := v.RecordMeta().ID
	if err := m.records.Put(ctx, id, v, m.owner); err != nil {
		m.logger.Warn("writing cache failed", "entity", m.entity, "id", id, "error", err)
	}
}

func (m *Manager[T]) restore(ctx context.Context, id string, backup T, ok bool) {
	var err error
	if ok {
		err = m.records.Put(ctx, id, backup, m.owner)
	} else {
		err = m.records.Remove(ctx, id)
	}
	if err != nil {
		m.logger.Warn("restoring cache entry failed", "entity", m.entity, "id", id, "error", err)
	}
}

func (m *Manager[T]) invalidateLists(ctx context.Context) {
	if err := m.lists.Purge(ctx); err != nil {
		m.logger.Warn("invalidating list cache failed", "entity", m.entity, "error", err)
	}
}

func (m *Manager[T]) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("entity", m.entity), attribute.String("op", op))
	return m.tracer.Start(ctx, "state."+op, trace.WithAttributes(attrs...))
}

func end(span trace.Span, err error) {
	if err != nil {
		fail(span, err)
	}
	span.End()
}

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
