package endpoint

import (
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/gorilla/mux"

	"statesync/internal/model"
	"statesync/internal/query"
	"statesync/internal/state"
)

var validName = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// TypeInfo describes a registered entity type.
type TypeInfo struct {
	Name     string            `json:"name"`
	ReadOnly bool              `json:"readOnly"`
	Fields   []query.FieldInfo `json:"fields"`
}

// Descriptor is a registered entity type: its description plus the routes
// bound to its manager factory.
type Descriptor struct {
	info TypeInfo
	bind func(d *Dispatcher, r *mux.Router)
}

// Info returns the type description.
func (d *Descriptor) Info() TypeInfo { return d.info }

// RegisterOption adjusts a registration.
type RegisterOption func(*registration)

type registration struct {
	readOnly bool
}

// ReadOnly exposes only the read routes of an entity.
func ReadOnly() RegisterOption {
	return func(r *registration) { r.readOnly = true }
}

// Registry holds the entity types a Dispatcher serves.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*Descriptor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Descriptor)}
}

// Register adds entity type T under name. factory must return a new,
// uninitialized manager on every call; the dispatcher builds one per request.
func Register[T model.Record[T]](reg *Registry, name string, factory func() *state.Manager[T], opts ...RegisterOption) error {
	if !validName.MatchString(name) {
		return fmt.Errorf("invalid entity name %q", name)
	}
	if factory == nil {
		return fmt.Errorf("entity %q: nil manager factory", name)
	}
	var cfg registration
	for _, opt := range opts {
		opt(&cfg)
	}

	probe := factory()
	if probe == nil {
		return fmt.Errorf("entity %q: factory returned nil manager", name)
	}
	desc := &Descriptor{
		info: TypeInfo{Name: name, ReadOnly: cfg.readOnly, Fields: probe.Schema().Describe()},
		bind: func(d *Dispatcher, r *mux.Router) {
			h := &handlers[T]{name: name, factory: factory, d: d}
			h.routes(r, cfg.readOnly)
		},
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, dup := reg.byName[name]; dup {
		return fmt.Errorf("entity %q already registered", name)
	}
	reg.byName[name] = desc
	return nil
}

// Lookup returns the descriptor registered under name.
func (r *Registry) Lookup(name string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byName[name]
	return d, ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for n := range r.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Types describes every registered type, sorted by name.
func (r *Registry) Types() []TypeInfo {
	names := r.Names()
	out := make([]TypeInfo, 0, len(names))
	for _, n := range names {
		d, _ := r.Lookup(n)
		out = append(out, d.info)
	}
	return out
}
