package endpoint

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"statesync/internal/model"
	"statesync/internal/query"
	"statesync/internal/state"
)

const watchWriteTimeout = 10 * time.Second

// handlers serves one entity type. Every request gets its own manager, so
// history on the server tier lives only as long as the request.
type handlers[T model.Record[T]] struct {
	name    string
	factory func() *state.Manager[T]
	d       *Dispatcher
}

func (h *handlers[T]) routes(r *mux.Router, readOnly bool) {
	base := "/api/state/" + h.name

	// fixed paths first so they win over /{id}
	if !readOnly {
		r.HandleFunc(base+"/all", h.handleSaveAll).Methods(http.MethodPost)
	}
	r.HandleFunc(base+"/search", h.handleSearch).Methods(http.MethodGet)
	r.HandleFunc(base+"/watch", h.handleWatch).Methods(http.MethodGet)
	r.HandleFunc(base+"/{id}", h.handleGet).Methods(http.MethodGet)
	if !readOnly {
		r.HandleFunc(base+"/{id}", h.handleDelete).Methods(http.MethodDelete)
	}

	for _, p := range []string{base, base + "/"} {
		r.HandleFunc(p, h.handleList).Methods(http.MethodGet)
		if !readOnly {
			r.HandleFunc(p, h.handleCreate).Methods(http.MethodPost)
			r.HandleFunc(p, h.handleUpdate).Methods(http.MethodPut)
		}
	}
}

// manager resolves the caller and returns a manager bound to it.
func (h *handlers[T]) manager(w http.ResponseWriter, r *http.Request) (*state.Manager[T], bool) {
	user, err := h.d.ids.UserID(r)
	if err != nil {
		h.d.fail(w, r, err)
		return nil, false
	}
	m := h.factory()
	if err := m.Initialize(r.Context(), user); err != nil {
		h.d.fail(w, r, err)
		return nil, false
	}
	return m, true
}

func (h *handlers[T]) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, h.d.maxBody)
	defer body.Close()
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return err
		}
		if errors.Is(err, io.EOF) {
			return badRequest("empty request body")
		}
		return badRequest("invalid %s payload: %v", h.name, err)
	}
	return nil
}

// withIdentity fills in an id and creation time for records the caller
// submitted without them.
func (h *handlers[T]) withIdentity(r *http.Request, m *state.Manager[T], v T) (T, error) {
	meta := v.RecordMeta()
	if meta.ID != "" && !meta.CreatedAt.IsZero() {
		return v, nil
	}
	fresh, err := m.New(r.Context())
	if err != nil {
		return v, err
	}
	fm := fresh.RecordMeta()
	if meta.ID == "" {
		meta.ID = fm.ID
	}
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = fm.CreatedAt
		meta.LastUpdatedAt = fm.LastUpdatedAt
	}
	if meta.CreatorID == nil {
		meta.CreatorID = fm.CreatorID
	}
	return v.WithMeta(meta), nil
}

func (h *handlers[T]) handleGet(w http.ResponseWriter, r *http.Request) {
	m, ok := h.manager(w, r)
	if !ok {
		return
	}
	v, err := m.Load(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.d.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, v)
}

func (h *handlers[T]) handleCreate(w http.ResponseWriter, r *http.Request) {
	m, ok := h.manager(w, r)
	if !ok {
		return
	}
	var v T
	if err := h.decode(w, r, &v); err != nil {
		h.d.fail(w, r, err)
		return
	}
	v, err := h.withIdentity(r, m, v)
	if err != nil {
		h.d.fail(w, r, err)
		return
	}
	saved, err := m.Save(r.Context(), v)
	if err != nil {
		h.d.fail(w, r, err)
		return
	}
	h.d.publish(h.name, saved.RecordMeta().ID, ChangeCreated)
	respondJSON(w, http.StatusCreated, saved)
}

func (h *handlers[T]) handleUpdate(w http.ResponseWriter, r *http.Request) {
	m, ok := h.manager(w, r)
	if !ok {
		return
	}
	var v T
	if err := h.decode(w, r, &v); err != nil {
		h.d.fail(w, r, err)
		return
	}
	id := v.RecordMeta().ID
	if id == "" {
		h.d.fail(w, r, badRequest("%s id is required", h.name))
		return
	}
	updated, err := m.Update(r.Context(), v)
	if err != nil {
		h.d.fail(w, r, err)
		return
	}
	h.d.publish(h.name, id, ChangeUpdated)
	respondJSON(w, http.StatusOK, updated)
}

func (h *handlers[T]) handleDelete(w http.ResponseWriter, r *http.Request) {
	m, ok := h.manager(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	if err := m.Delete(r.Context(), id); err != nil {
		h.d.fail(w, r, err)
		return
	}
	h.d.publish(h.name, id, ChangeDeleted)
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers[T]) predicates(r *http.Request) []query.Predicate {
	preds, diags := query.FromValues(r.URL.Query())
	for _, d := range diags {
		h.d.logger.Warn("ignoring query parameter", "entity", h.name, "error", d)
	}
	return preds
}

func (h *handlers[T]) handleList(w http.ResponseWriter, r *http.Request) {
	m, ok := h.manager(w, r)
	if !ok {
		return
	}
	list, err := m.LoadAll(r.Context(), h.predicates(r))
	if err != nil {
		h.d.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}

func (h *handlers[T]) handleSaveAll(w http.ResponseWriter, r *http.Request) {
	m, ok := h.manager(w, r)
	if !ok {
		return
	}
	var vs []T
	if err := h.decode(w, r, &vs); err != nil {
		h.d.fail(w, r, err)
		return
	}
	for i := range vs {
		v, err := h.withIdentity(r, m, vs[i])
		if err != nil {
			h.d.fail(w, r, err)
			return
		}
		vs[i] = v
	}
	saved, err := m.SaveAll(r.Context(), vs)
	if err != nil {
		h.d.fail(w, r, err)
		return
	}
	for _, v := range saved {
		h.d.publish(h.name, v.RecordMeta().ID, ChangeCreated)
	}
	respondJSON(w, http.StatusCreated, saved)
}

func (h *handlers[T]) handleSearch(w http.ResponseWriter, r *http.Request) {
	m, ok := h.manager(w, r)
	if !ok {
		return
	}
	v, found, err := m.Search(r.Context(), h.predicates(r))
	if err != nil {
		h.d.fail(w, r, err)
		return
	}
	if !found {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	respondJSON(w, http.StatusOK, v)
}

// handleWatch relays changes of this entity to a websocket client until
// either side goes away.
func (h *handlers[T]) handleWatch(w http.ResponseWriter, r *http.Request) {
	if _, err := h.d.ids.UserID(r); err != nil {
		h.d.fail(w, r, err)
		return
	}
	conn, err := h.d.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response
		h.d.logger.Debug("watch upgrade failed", "entity", h.name, "error", err)
		return
	}
	defer conn.Close()

	changes, cancel := h.d.feed.Subscribe()
	defer cancel()

	// the client sends nothing; reading detects when it leaves
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case c, ok := <-changes:
			if !ok {
				return
			}
			if c.Entity != h.name {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(watchWriteTimeout))
			if err := conn.WriteJSON(c); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					h.d.logger.Debug("watch write failed", "entity", h.name, "error", err)
				}
				return
			}
		}
	}
}
