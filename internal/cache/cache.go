// Package cache implements the ownership-scoped, freshness-checked cache
// that sits in front of every backing store.
//
// An entry is served only to the identity that wrote it and only while it is
// younger than the freshness window. Anything else, including an entry that
// fails to decode, is indistinguishable from a miss.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"

	"statesync/internal/kv"
	"statesync/internal/model"
)

// DefaultFreshness is used when no positive freshness window is configured.
const DefaultFreshness = 5 * time.Minute

// ErrNoOwner is returned when writing an entry without an owner.
var ErrNoOwner = errors.New("cache entry requires an owner")

// Entry is the stored envelope around a cached value.
type Entry struct {
	Key      string          `cbor:"key"`
	OwnerID  string          `cbor:"owner"`
	CachedAt time.Time       `cbor:"cachedAt"`
	Payload  cbor.RawMessage `cbor:"payload"`
}

// Cache is a typed view over a namespace of a kv.Store.
type Cache[V any] struct {
	store     kv.Store
	prefix    string
	freshness time.Duration
	clock     model.Clock
	logger    model.Logger
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	freshness time.Duration
	clock     model.Clock
	logger    model.Logger
}

// WithFreshness sets the maximum age of a servable entry.
func WithFreshness(d time.Duration) Option {
	return func(o *options) { o.freshness = d }
}

// WithClock sets the clock used to stamp and age entries.
func WithClock(c model.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l model.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New creates a cache storing its entries under namespace in store.
func New[V any](store kv.Store, namespace string, opts ...Option) *Cache[V] {
	o := options{clock: model.RealClock{}, logger: model.NopLogger{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.freshness <= 0 {
		o.freshness = DefaultFreshness
	}
	return &Cache[V]{
		store:     store,
		prefix:    strings.TrimSuffix(namespace, "/") + "/",
		freshness: o.freshness,
		clock:     o.clock,
		logger:    o.logger,
	}
}

// Freshness returns the configured freshness window.
func (c *Cache[V]) Freshness() time.Duration { return c.freshness }

// Get returns the cached value for key if it was written by owner and is
// still fresh.
func (c *Cache[V]) Get(ctx context.Context, key, owner string) (V, bool, error) {
	var zero V
	entry, ok, err := c.entry(ctx, c.prefix+key)
	if err != nil || !ok {
		return zero, false, err
	}
	v, ok := c.validate(entry, owner)
	return v, ok, nil
}

// Put stores value under key on behalf of owner, stamped with the current time.
func (c *Cache[V]) Put(ctx context.Context, key string, value V, owner string) error {
	if owner == "" {
		return ErrNoOwner
	}
	payload, err := kv.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding cache payload: %w", err)
	}
	data, err := kv.Marshal(Entry{
		Key:      key,
		OwnerID:  owner,
		CachedAt: c.clock.Now(),
		Payload:  payload,
	})
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}
	if err := c.store.Put(ctx, c.prefix+key, data); err != nil {
		return fmt.Errorf("writing cache entry %q: %w", key, err)
	}
	return nil
}

// Remove evicts key regardless of owner.
func (c *Cache[V]) Remove(ctx context.Context, key string) error {
	if err := c.store.Delete(ctx, c.prefix+key); err != nil {
		return fmt.Errorf("removing cache entry %q: %w", key, err)
	}
	return nil
}

// Purge evicts every entry in the namespace.
func (c *Cache[V]) Purge(ctx context.Context) error {
	keys, err := c.store.Keys(ctx, c.prefix)
	if err != nil {
		return fmt.Errorf("listing cache entries: %w", err)
	}
	for _, k := range keys {
		if err := c.store.Delete(ctx, k); err != nil {
			return fmt.Errorf("purging cache entry %q: %w", k, err)
		}
	}
	return nil
}

// MostRecent returns the most recently cached fresh value owned by owner.
func (c *Cache[V]) MostRecent(ctx context.Context, owner string) (V, bool, error) {
	var (
		zero   V
		best   V
		bestAt time.Time
		found  bool
	)
	if owner == "" {
		return zero, false, nil
	}
	keys, err := c.store.Keys(ctx, c.prefix)
	if err != nil {
		return zero, false, fmt.Errorf("listing cache entries: %w", err)
	}
	for _, k := range keys {
		entry, ok, err := c.entry(ctx, k)
		if err != nil {
			return zero, false, err
		}
		if !ok {
			continue
		}
		v, ok := c.validate(entry, owner)
		if !ok {
			continue
		}
		if !found || entry.CachedAt.After(bestAt) {
			best, bestAt, found = v, entry.CachedAt, true
		}
	}
	return best, found, nil
}

func (c *Cache[V]) entry(ctx context.Context, storeKey string) (Entry, bool, error) {
	data, ok, err := c.store.Get(ctx, storeKey)
	if err != nil {
		return Entry{}, false, fmt.Errorf("reading cache entry: %w", err)
	}
	if !ok {
		return Entry{}, false, nil
	}
	var entry Entry
	if err := kv.Unmarshal(data, &entry); err != nil {
		c.logger.Warn("discarding undecodable cache entry", "key", storeKey, "error", err)
		return Entry{}, false, nil
	}
	return entry, true, nil
}

// validate applies the ownership and freshness rules and decodes the payload.
func (c *Cache[V]) validate(entry Entry, owner string) (V, bool) {
	var v V
	if owner == "" || entry.OwnerID != owner {
		c.logger.Debug("cache miss", "key", entry.Key, "reason", "owner")
		return v, false
	}
	if c.clock.Now().Sub(entry.CachedAt) > c.freshness {
		c.logger.Debug("cache miss", "key", entry.Key, "reason", "expired")
		return v, false
	}
	if err := kv.Unmarshal(entry.Payload, &v); err != nil {
		c.logger.Warn("discarding undecodable cache payload", "key", entry.Key, "error", err)
		var zero V
		return zero, false
	}
	return v, true
}
