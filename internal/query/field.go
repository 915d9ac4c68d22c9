package query

import "time"

// Field describes one queryable attribute of T.
type Field[T any] struct {
	Name     string
	Kind     Kind
	Nullable bool
	get      func(T) Value
}

// Get extracts the field value from v.
func (f Field[T]) Get(v T) Value {
	return f.get(v)
}

// Integer is the set of types IntField accepts.
type Integer interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 | ~uint | ~uint8 | ~uint16 | ~uint32
}

// Float is the set of types FloatField accepts.
type Float interface {
	~float32 | ~float64
}

// NewField builds a field from a raw accessor. The accessor must return
// values of the representation documented on Value for kind.
func NewField[T any](name string, kind Kind, nullable bool, get func(T) Value) Field[T] {
	return Field[T]{Name: name, Kind: kind, Nullable: nullable, get: get}
}

func StringField[T any, S ~string](name string, get func(T) S) Field[T] {
	return NewField(name, KindString, false, func(v T) Value { return Of(string(get(v))) })
}

func IntField[T any, N Integer](name string, get func(T) N) Field[T] {
	return NewField(name, KindInt, false, func(v T) Value { return Of(int64(get(v))) })
}

func FloatField[T any, F Float](name string, get func(T) F) Field[T] {
	return NewField(name, KindFloat, false, func(v T) Value { return Of(float64(get(v))) })
}

func BoolField[T any](name string, get func(T) bool) Field[T] {
	return NewField(name, KindBool, false, func(v T) Value { return Of(get(v)) })
}

func TimeField[T any](name string, get func(T) time.Time) Field[T] {
	return NewField(name, KindTime, false, func(v T) Value { return Of(get(v)) })
}

func DurationField[T any](name string, get func(T) time.Duration) Field[T] {
	return NewField(name, KindDuration, false, func(v T) Value { return Of(get(v)) })
}

// OptionalString is a string field whose nil pointer reads as null.
func OptionalString[T any](name string, get func(T) *string) Field[T] {
	return NewField(name, KindString, true, func(v T) Value {
		if p := get(v); p != nil {
			return Of(*p)
		}
		return Null
	})
}

// OptionalInt is an integer field whose nil pointer reads as null.
func OptionalInt[T any, N Integer](name string, get func(T) *N) Field[T] {
	return NewField(name, KindInt, true, func(v T) Value {
		if p := get(v); p != nil {
			return Of(int64(*p))
		}
		return Null
	})
}

// OptionalTime is a time field whose nil pointer reads as null.
func OptionalTime[T any](name string, get func(T) *time.Time) Field[T] {
	return NewField(name, KindTime, true, func(v T) Value {
		if p := get(v); p != nil {
			return Of(*p)
		}
		return Null
	})
}
