// Package endpoint exposes registered entity types over a uniform REST
// surface under /api/state/{name}, plus a websocket change feed.
package endpoint

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"statesync/internal/identity"
	"statesync/internal/model"
	"statesync/internal/query"
	"statesync/internal/state"
)

// DefaultMaxBodyBytes bounds request bodies when no limit is configured.
const DefaultMaxBodyBytes = 1 << 20

// Dispatcher translates HTTP requests into state manager calls for every
// type in its registry.
type Dispatcher struct {
	reg      *Registry
	ids      identity.Provider
	feed     *Feed
	logger   model.Logger
	clock    model.Clock
	maxBody  int64
	upgrader websocket.Upgrader
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithIdentity sets the provider resolving the caller of each request.
func WithIdentity(p identity.Provider) Option {
	return func(d *Dispatcher) { d.ids = p }
}

// WithFeed sets the feed successful mutations are published on.
func WithFeed(f *Feed) Option {
	return func(d *Dispatcher) { d.feed = f }
}

// WithLogger sets the request logger.
func WithLogger(l model.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithClock sets the clock used to stamp changes.
func WithClock(c model.Clock) Option {
	return func(d *Dispatcher) { d.clock = c }
}

// WithMaxBodyBytes bounds request bodies. Zero or less keeps the default.
func WithMaxBodyBytes(n int64) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxBody = n
		}
	}
}

// NewDispatcher creates a dispatcher over reg. Without WithIdentity the
// caller id is read from the X-User-ID header.
func NewDispatcher(reg *Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		reg:     reg,
		ids:     identity.NewHeader(""),
		feed:    NewFeed(0),
		logger:  model.NopLogger{},
		clock:   model.RealClock{},
		maxBody: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Feed returns the change feed.
func (d *Dispatcher) Feed() *Feed { return d.feed }

// Handler binds the routes of every registered type.
//
//	GET    /api/health
//	GET    /api/state                   registered types and their fields
//	GET    /api/state/{name}/{id}       Load
//	POST   /api/state/{name}            Save
//	PUT    /api/state/{name}            Update
//	DELETE /api/state/{name}/{id}       Delete
//	GET    /api/state/{name}?predicates LoadAll
//	POST   /api/state/{name}/all        SaveAll
//	GET    /api/state/{name}/search     Search
//	GET    /api/state/{name}/watch      change feed (websocket)
func (d *Dispatcher) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(d.logRequests)

	router.HandleFunc("/api/health", d.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/api/state", d.handleTypes).Methods(http.MethodGet)

	for _, name := range d.reg.Names() {
		desc, _ := d.reg.Lookup(name)
		desc.bind(d, router)
	}
	return router
}

func (d *Dispatcher) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "healthy",
		"types":  len(d.reg.Names()),
	})
}

func (d *Dispatcher) handleTypes(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, d.reg.Types())
}

func (d *Dispatcher) publish(entity, id, op string) {
	d.feed.Publish(Change{Entity: entity, ID: id, Op: op, At: d.clock.Now()})
}

// fail maps err onto a status code and writes the error body.
func (d *Dispatcher) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		d.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	} else {
		d.logger.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	respondError(w, status, err.Error())
}

func statusFor(err error) int {
	var maxErr *http.MaxBytesError
	switch {
	case errors.Is(err, state.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, state.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, identity.ErrMissingIdentity):
		return http.StatusUnauthorized
	case errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errBadRequest), errors.Is(err, query.ErrValidation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func (d *Dispatcher) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		d.logger.Debug("request", "method", r.Method, "path", r.URL.Path,
			"status", rec.status, "duration", time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrader take over the connection.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	s.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
