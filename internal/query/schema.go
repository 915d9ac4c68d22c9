package query

import (
	"fmt"
	"strings"
	"time"

	"statesync/internal/model"
)

// Schema is the per-entity descriptor the compiler resolves predicates
// against. It is built once when an entity type is registered.
type Schema[T model.Record[T]] struct {
	fields []Field[T]
	byName map[string]int
}

// FieldInfo is the serializable description of a schema field.
type FieldInfo struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Nullable bool   `json:"nullable"`
	Ordered  bool   `json:"ordered"`
}

func metaFields[T model.Record[T]]() []Field[T] {
	return []Field[T]{
		StringField("id", func(v T) string { return v.RecordMeta().ID }),
		TimeField("createdAt", func(v T) time.Time { return v.RecordMeta().CreatedAt }),
		TimeField("lastUpdatedAt", func(v T) time.Time { return v.RecordMeta().LastUpdatedAt }),
		OptionalTime("lastSavedAt", func(v T) *time.Time { return v.RecordMeta().LastSavedAt }),
		OptionalString("creatorId", func(v T) *string { return v.RecordMeta().CreatorID }),
	}
}

// NewSchema builds a schema from the record metadata fields followed by
// fields. Names must be unique ignoring case.
func NewSchema[T model.Record[T]](fields ...Field[T]) (*Schema[T], error) {
	s := &Schema[T]{byName: make(map[string]int)}
	for _, f := range append(metaFields[T](), fields...) {
		if f.Name == "" || f.get == nil {
			return nil, fmt.Errorf("field %q is incomplete", f.Name)
		}
		if !f.Kind.valid() {
			return nil, fmt.Errorf("field %q has unknown kind %s", f.Name, f.Kind)
		}
		key := strings.ToLower(f.Name)
		if _, dup := s.byName[key]; dup {
			return nil, fmt.Errorf("duplicate field %q", f.Name)
		}
		s.byName[key] = len(s.fields)
		s.fields = append(s.fields, f)
	}
	return s, nil
}

// MustSchema is like NewSchema but panics on error. It is meant for
// package-level schema variables.
func MustSchema[T model.Record[T]](fields ...Field[T]) *Schema[T] {
	s, err := NewSchema(fields...)
	if err != nil {
		panic(err)
	}
	return s
}

// Lookup resolves a field name case-insensitively.
func (s *Schema[T]) Lookup(name string) (Field[T], bool) {
	i, ok := s.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Field[T]{}, false
	}
	return s.fields[i], true
}

// Fields returns the fields in declaration order.
func (s *Schema[T]) Fields() []Field[T] {
	return append([]Field[T](nil), s.fields...)
}

// Describe returns a serializable description of every field.
func (s *Schema[T]) Describe() []FieldInfo {
	out := make([]FieldInfo, len(s.fields))
	for i, f := range s.fields {
		out[i] = FieldInfo{Name: f.Name, Kind: f.Kind.String(), Nullable: f.Nullable, Ordered: f.Kind.Ordered()}
	}
	return out
}
