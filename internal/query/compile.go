package query

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dlclark/regexp2"

	"statesync/internal/model"
)

// RegexTimeout bounds a single Regex match.
const RegexTimeout = 250 * time.Millisecond

// ErrValidation is wrapped by every Diagnostic.
var ErrValidation = errors.New("invalid predicate")

// Diagnostic explains why a predicate was left out of a compiled filter.
type Diagnostic struct {
	Predicate Predicate
	Reason    string
}

func (d Diagnostic) Error() string {
	return fmt.Sprintf("predicate %q skipped: %s", d.Predicate.String(), d.Reason)
}

func (d Diagnostic) Unwrap() error { return ErrValidation }

// Filter is a compiled, AND-combined predicate set. A nil Filter matches
// every record.
type Filter[T any] struct {
	conds    []condition[T]
	accepted []Predicate
}

type condition[T any] struct {
	field Field[T]
	test  func(Value) bool
}

// Compile resolves preds against schema. Predicates naming unknown fields
// are dropped silently; predicates that cannot be evaluated are dropped with
// a Diagnostic. The returned filter is never nil.
func Compile[T model.Record[T]](schema *Schema[T], preds []Predicate) (*Filter[T], []Diagnostic) {
	f := &Filter[T]{}
	var diags []Diagnostic
	for _, p := range preds {
		field, ok := schema.Lookup(p.Field)
		if !ok {
			continue
		}
		test, reason := compilePredicate(field.Kind, p)
		if reason != "" {
			diags = append(diags, Diagnostic{Predicate: p, Reason: reason})
			continue
		}
		p.Field = field.Name
		f.conds = append(f.conds, condition[T]{field: field, test: test})
		f.accepted = append(f.accepted, p)
	}
	return f, diags
}

func compilePredicate(kind Kind, p Predicate) (func(Value) bool, string) {
	op := p.Operator
	if !op.Valid() {
		return nil, fmt.Sprintf("unknown operator %d", int(op))
	}
	if op.ordering() && !kind.Ordered() {
		return nil, fmt.Sprintf("%s fields do not support %s", kind, op)
	}

	switch op {
	case IsNull:
		return func(v Value) bool { return v.Null }, ""
	case IsNotNull:
		return func(v Value) bool { return !v.Null }, ""

	case Contains, StartsWith, EndsWith:
		needle := strings.ToLower(p.Value)
		match := map[Operator]func(string, string) bool{
			Contains:   strings.Contains,
			StartsWith: strings.HasPrefix,
			EndsWith:   strings.HasSuffix,
		}[op]
		return func(v Value) bool {
			return !v.Null && match(strings.ToLower(format(v.V)), needle)
		}, ""

	case In, NotIn:
		set := make(map[string]struct{})
		for _, item := range strings.Split(p.Value, ",") {
			set[strings.TrimSpace(item)] = struct{}{}
		}
		want := op == In
		return func(v Value) bool {
			if v.Null {
				return !want
			}
			_, found := set[format(v.V)]
			return found == want
		}, ""

	case Regex:
		re, err := regexp2.Compile(p.Value, regexp2.IgnoreCase)
		if err != nil {
			return nil, fmt.Sprintf("invalid pattern: %v", err)
		}
		re.MatchTimeout = RegexTimeout
		return func(v Value) bool {
			if v.Null {
				return false
			}
			ok, err := re.MatchString(format(v.V))
			return err == nil && ok
		}, ""

	case Between, NotBetween:
		if p.Secondary == nil {
			return nil, fmt.Sprintf("%s requires a secondary value", op)
		}
		lo, errLo := kind.coerce(p.Value)
		hi, errHi := kind.coerce(*p.Secondary)
		if err := errors.Join(errLo, errHi); err != nil {
			return nil, fmt.Sprintf("invalid %s bounds: %v", kind, err)
		}
		inside := op == Between
		return func(v Value) bool {
			if v.Null {
				return false
			}
			in := compare(v.V, lo) >= 0 && compare(v.V, hi) <= 0
			return in == inside
		}, ""
	}

	lit, err := kind.coerce(p.Value)
	if err != nil {
		return nil, fmt.Sprintf("invalid %s value: %v", kind, err)
	}
	var test func(c int) bool
	switch op {
	case Equals:
		test = func(c int) bool { return c == 0 }
	case NotEquals:
		return func(v Value) bool { return v.Null || compare(v.V, lit) != 0 }, ""
	case GreaterThan:
		test = func(c int) bool { return c > 0 }
	case GreaterThanOrEqual:
		test = func(c int) bool { return c >= 0 }
	case LessThan:
		test = func(c int) bool { return c < 0 }
	case LessThanOrEqual:
		test = func(c int) bool { return c <= 0 }
	}
	return func(v Value) bool { return !v.Null && test(compare(v.V, lit)) }, ""
}

// Match reports whether v satisfies every condition.
func (f *Filter[T]) Match(v T) bool {
	if f == nil {
		return true
	}
	for _, c := range f.conds {
		if !c.test(c.field.Get(v)) {
			return false
		}
	}
	return true
}

// Apply returns the matching elements of vs in their original order. The
// input slice is not modified.
func (f *Filter[T]) Apply(vs []T) []T {
	out := make([]T, 0, len(vs))
	for _, v := range vs {
		if f.Match(v) {
			out = append(out, v)
		}
	}
	return out
}

// Predicates returns the accepted predicates, with field names in their
// schema spelling.
func (f *Filter[T]) Predicates() []Predicate {
	if f == nil {
		return nil
	}
	return append([]Predicate(nil), f.accepted...)
}

// Empty reports whether the filter has no conditions.
func (f *Filter[T]) Empty() bool {
	return f == nil || len(f.conds) == 0
}
