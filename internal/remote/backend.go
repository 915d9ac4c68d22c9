package remote

import (
	"context"
	"net/http"
	"net/url"

	"statesync/internal/model"
	"statesync/internal/query"
)

// Backend implements state.Backend against /api/state/{entity} of a server.
type Backend[T model.Record[T]] struct {
	client *Client
	entity string
	path   string
}

// NewBackend returns the backend for entity on the server c talks to.
func NewBackend[T model.Record[T]](c *Client, entity string) *Backend[T] {
	return &Backend[T]{client: c, entity: entity, path: "/api/state/" + url.PathEscape(entity)}
}

func (b *Backend[T]) Get(ctx context.Context, id string) (T, error) {
	var v T
	err := b.client.call(ctx, "get "+b.entity, http.MethodGet, b.path+"/"+url.PathEscape(id), nil, &v)
	return v, err
}

func (b *Backend[T]) Insert(ctx context.Context, v T) (T, error) {
	var out T
	err := b.client.call(ctx, "insert "+b.entity, http.MethodPost, b.path, v, &out)
	return out, err
}

func (b *Backend[T]) InsertAll(ctx context.Context, vs []T) ([]T, error) {
	var out []T
	if err := b.client.call(ctx, "insert all "+b.entity, http.MethodPost, b.path+"/all", vs, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Update sends v with PUT. The server stores v even when the id is new.
func (b *Backend[T]) Update(ctx context.Context, v T) (T, error) {
	var out T
	err := b.client.call(ctx, "update "+b.entity, http.MethodPut, b.path, v, &out)
	return out, err
}

func (b *Backend[T]) Delete(ctx context.Context, id string) error {
	return b.client.call(ctx, "delete "+b.entity, http.MethodDelete, b.path+"/"+url.PathEscape(id), nil, nil)
}

// List sends the filter's predicates to the server, which evaluates them
// against its own schema.
func (b *Backend[T]) List(ctx context.Context, filter *query.Filter[T]) ([]T, error) {
	out := []T{}
	if err := b.client.call(ctx, "list "+b.entity, http.MethodGet, b.path+queryString(filter), nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []T{}
	}
	return out, nil
}

// First maps the server's 204 to found=false.
func (b *Backend[T]) First(ctx context.Context, filter *query.Filter[T]) (T, bool, error) {
	var out T
	status, err := b.client.exchange(ctx, "search "+b.entity, http.MethodGet, b.path+"/search"+queryString(filter), nil, &out)
	if err != nil || status == http.StatusNoContent {
		var zero T
		return zero, false, err
	}
	return out, true, nil
}

func queryString[T any](filter *query.Filter[T]) string {
	if filter.Empty() {
		return ""
	}
	return "?" + query.Encode(filter.Predicates())
}
