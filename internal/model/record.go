package model

import (
	"reflect"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// Meta is the bookkeeping every synchronized record carries.
// LastSavedAt is nil until the record has been persisted once.
type Meta struct {
	ID            string     `json:"id"`
	CreatedAt     time.Time  `json:"createdAt"`
	LastUpdatedAt time.Time  `json:"lastUpdatedAt"`
	LastSavedAt   *time.Time `json:"lastSavedAt,omitempty"`
	CreatorID     *string    `json:"creatorId,omitempty"`
}

// RecordMeta returns m itself. Embedding Meta satisfies half of Record.
func (m Meta) RecordMeta() Meta { return m }

// Saved reports whether the record has been persisted at least once.
func (m Meta) Saved() bool { return m.LastSavedAt != nil }

// Creator returns the creator id, or "" when none is set.
func (m Meta) Creator() string {
	if m.CreatorID == nil {
		return ""
	}
	return *m.CreatorID
}

// Record is implemented by every concrete record type T. WithMeta must return
// a copy of the receiver carrying m; it must not mutate the receiver.
type Record[T any] interface {
	RecordMeta() Meta
	WithMeta(Meta) T
}

// NewMeta stamps fresh metadata for a record that has never been saved.
func NewMeta(id string, now time.Time, creator string) Meta {
	m := Meta{ID: id, CreatedAt: now, LastUpdatedAt: now}
	if creator != "" {
		m.CreatorID = &creator
	}
	return m
}

// Touch returns v with LastUpdatedAt set to now.
func Touch[T Record[T]](v T, now time.Time) T {
	m := v.RecordMeta()
	m.LastUpdatedAt = now
	return v.WithMeta(m)
}

// MarkSaved returns v with LastSavedAt and LastUpdatedAt set to now. The
// creator is filled in only when the record has none yet.
func MarkSaved[T Record[T]](v T, now time.Time, creator string) T {
	m := v.RecordMeta()
	saved := now
	m.LastSavedAt = &saved
	m.LastUpdatedAt = now
	if m.CreatorID == nil && creator != "" {
		c := creator
		m.CreatorID = &c
	}
	return v.WithMeta(m)
}

// SameIdentity reports whether a and b refer to the same record.
func SameIdentity[T Record[T]](a, b T) bool {
	return a.RecordMeta().ID == b.RecordMeta().ID
}

type equaler[T any] interface {
	Equal(T) bool
}

type cloner[T any] interface {
	Clone() T
}

var exportAll = cmp.Exporter(func(reflect.Type) bool { return true })

// A JSON round trip with omitempty turns empty slices and maps into nil.
var equateEmpty = cmpopts.EquateEmpty()

// Equal reports whether a and b are the same record with the same content.
// The bookkeeping timestamps and creator are not content. Types that define
// Equal(T) bool decide for themselves.
func Equal[T Record[T]](a, b T) bool {
	if e, ok := any(a).(equaler[T]); ok {
		return e.Equal(b)
	}
	if !SameIdentity(a, b) {
		return false
	}
	return cmp.Equal(stripMeta(a), stripMeta(b), exportAll, equateEmpty)
}

func stripMeta[T Record[T]](v T) T {
	return v.WithMeta(Meta{ID: v.RecordMeta().ID})
}

// Clone returns an independent copy of v when T knows how to clone itself.
// Types without a Clone method are assumed to be safe to copy by value.
func Clone[T any](v T) T {
	if c, ok := any(v).(cloner[T]); ok {
		return c.Clone()
	}
	return v
}
