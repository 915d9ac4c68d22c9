package query

import (
	"cmp"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind is the declared type of a schema field. It decides how literals are
// coerced and whether the field can be ordered.
type Kind int

const (
	KindString Kind = iota + 1
	KindInt
	KindFloat
	KindBool
	KindTime
	KindDuration
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindTime:
		return "time"
	case KindDuration:
		return "duration"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

func (k Kind) valid() bool {
	return k >= KindString && k <= KindDuration
}

// Ordered reports whether values of this kind have a natural ordering.
func (k Kind) Ordered() bool {
	return k != KindBool
}

// Value is a field value extracted from a record. V holds a string, int64,
// float64, bool, time.Time or time.Duration according to the field kind.
type Value struct {
	V    any
	Null bool
}

// Null is the value of an absent optional field.
var Null = Value{Null: true}

// Of wraps v as a non-null value.
func Of(v any) Value { return Value{V: v} }

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// coerce converts a textual literal to the representation of kind k.
func (k Kind) coerce(s string) (any, error) {
	switch k {
	case KindString:
		return s, nil
	case KindInt:
		return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	case KindFloat:
		return strconv.ParseFloat(strings.TrimSpace(s), 64)
	case KindBool:
		return strconv.ParseBool(strings.TrimSpace(s))
	case KindTime:
		s = strings.TrimSpace(s)
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
		}
		return nil, fmt.Errorf("cannot parse %q as time", s)
	case KindDuration:
		return time.ParseDuration(strings.TrimSpace(s))
	default:
		return nil, fmt.Errorf("unsupported kind %s", k)
	}
}

// compare orders two values of the same kind. Bool compares false < true so
// equality works; ordering operators never reach it for bools.
func compare(a, b any) int {
	switch x := a.(type) {
	case string:
		return cmp.Compare(x, b.(string))
	case int64:
		return cmp.Compare(x, b.(int64))
	case float64:
		return cmp.Compare(x, b.(float64))
	case time.Duration:
		return cmp.Compare(x, b.(time.Duration))
	case time.Time:
		return x.Compare(b.(time.Time))
	case bool:
		y := b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		default:
			return 1
		}
	}
	panic(fmt.Sprintf("query: cannot compare %T", a))
}

// format renders the string representation used by the text operators.
func format(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case time.Duration:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}
