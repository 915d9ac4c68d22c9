package testutil

import (
	"context"
	"sync"

	"statesync/internal/kv"
	"statesync/internal/localstore"
	"statesync/internal/model"
	"statesync/internal/query"
	"statesync/internal/state"
)

// CountingBackend wraps a state.Backend, counting calls per operation and
// optionally failing the next call of an operation. Safe for concurrent use.
type CountingBackend[T any] struct {
	inner state.Backend[T]

	mu       sync.Mutex
	calls    map[string]int
	failures map[string]error
	hook     func(op string)
}

// NewCountingBackend wraps inner.
func NewCountingBackend[T any](inner state.Backend[T]) *CountingBackend[T] {
	return &CountingBackend[T]{
		inner:    inner,
		calls:    make(map[string]int),
		failures: make(map[string]error),
	}
}

// NewMemoryBackend returns a counting backend over an in-memory local store.
func NewMemoryBackend[T model.Record[T]](entity string) *CountingBackend[T] {
	return NewCountingBackend[T](localstore.New[T](kv.NewMemoryStore(), entity, 1))
}

// Calls returns how many times op ("Get", "Insert", ...) was invoked.
func (b *CountingBackend[T]) Calls(op string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[op]
}

// Total returns the number of calls across all operations.
func (b *CountingBackend[T]) Total() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.calls {
		n += c
	}
	return n
}

// ResetCalls zeroes every counter.
func (b *CountingBackend[T]) ResetCalls() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = make(map[string]int)
}

// FailNext makes the next call of op return err without reaching the
// wrapped backend.
func (b *CountingBackend[T]) FailNext(op string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[op] = err
}

// OnCall registers fn to run at the start of every call.
func (b *CountingBackend[T]) OnCall(fn func(op string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hook = fn
}

func (b *CountingBackend[T]) enter(op string) error {
	b.mu.Lock()
	b.calls[op]++
	err := b.failures[op]
	delete(b.failures, op)
	hook := b.hook
	b.mu.Unlock()
	if hook != nil {
		hook(op)
	}
	return err
}

func (b *CountingBackend[T]) Get(ctx context.Context, id string) (T, error) {
	if err := b.enter("Get"); err != nil {
		var zero T
		return zero, err
	}
	return b.inner.Get(ctx, id)
}

func (b *CountingBackend[T]) Insert(ctx context.Context, v T) (T, error) {
	if err := b.enter("Insert"); err != nil {
		var zero T
		return zero, err
	}
	return b.inner.Insert(ctx, v)
}

func (b *CountingBackend[T]) InsertAll(ctx context.Context, vs []T) ([]T, error) {
	if err := b.enter("InsertAll"); err != nil {
		return nil, err
	}
	return b.inner.InsertAll(ctx, vs)
}

func (b *CountingBackend[T]) Update(ctx context.Context, v T) (T, error) {
	if err := b.enter("Update"); err != nil {
		var zero T
		return zero, err
	}
	return b.inner.Update(ctx, v)
}

func (b *CountingBackend[T]) Delete(ctx context.Context, id string) error {
	if err := b.enter("Delete"); err != nil {
		return err
	}
	return b.inner.Delete(ctx, id)
}

func (b *CountingBackend[T]) List(ctx context.Context, filter *query.Filter[T]) ([]T, error) {
	if err := b.enter("List"); err != nil {
		return nil, err
	}
	return b.inner.List(ctx, filter)
}

func (b *CountingBackend[T]) First(ctx context.Context, filter *query.Filter[T]) (T, bool, error) {
	if err := b.enter("First"); err != nil {
		var zero T
		return zero, false, err
	}
	return b.inner.First(ctx, filter)
}
