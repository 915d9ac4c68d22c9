// Package identity resolves the caller a request acts for. Authentication
// happens upstream; providers only read the asserted user id.
package identity

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// DefaultHeader carries the caller id when no other header is configured.
const DefaultHeader = "X-User-ID"

// ErrMissingIdentity is returned when a request carries no user id.
var ErrMissingIdentity = errors.New("missing caller identity")

// Provider returns the user id a request acts for.
type Provider interface {
	UserID(r *http.Request) (string, error)
}

// Header reads the user id from a request header.
type Header struct {
	name string
}

// NewHeader returns a provider reading name, or DefaultHeader when name is empty.
func NewHeader(name string) *Header {
	if name == "" {
		name = DefaultHeader
	}
	return &Header{name: name}
}

// Name returns the header the provider reads.
func (h *Header) Name() string { return h.name }

func (h *Header) UserID(r *http.Request) (string, error) {
	id := strings.TrimSpace(r.Header.Get(h.name))
	if id == "" {
		return "", ErrMissingIdentity
	}
	return id, nil
}

// Static returns the same user id for every request. Used by the
// single-user client tier and in tests.
type Static string

func (s Static) UserID(*http.Request) (string, error) {
	if s == "" {
		return "", ErrMissingIdentity
	}
	return string(s), nil
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(r *http.Request) (string, error)

func (f ProviderFunc) UserID(r *http.Request) (string, error) { return f(r) }

type ctxKey struct{}

// WithUserID returns a copy of ctx carrying id.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the user id stored by WithUserID.
func FromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok && id != ""
}
