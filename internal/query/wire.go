package query

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Encode serializes preds as field=value_Operator[_secondary] pairs, joined
// with & and URL-escaped. Pairs are sorted by field then operator so equal
// predicate sets always encode identically.
func Encode(preds []Predicate) string {
	sorted := append([]Predicate(nil), preds...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if fa, fb := strings.ToLower(a.Field), strings.ToLower(b.Field); fa != fb {
			return fa < fb
		}
		if a.Operator != b.Operator {
			return a.Operator < b.Operator
		}
		if a.Value != b.Value {
			return a.Value < b.Value
		}
		return secondary(a) < secondary(b)
	})

	pairs := make([]string, len(sorted))
	for i, p := range sorted {
		pairs[i] = url.QueryEscape(p.Field) + "=" + url.QueryEscape(EncodeValue(p))
	}
	return strings.Join(pairs, "&")
}

// EncodeValue renders the value half of a single pair, unescaped.
func EncodeValue(p Predicate) string {
	s := p.Value + "_" + p.Operator.String()
	if p.Secondary != nil {
		s += "_" + *p.Secondary
	}
	return s
}

func secondary(p Predicate) string {
	if p.Secondary == nil {
		return ""
	}
	return "_" + *p.Secondary
}

// Decode parses an encoded predicate set. Pairs that cannot be parsed are
// reported and left out.
func Decode(raw string) ([]Predicate, []Diagnostic) {
	values, err := url.ParseQuery(strings.TrimPrefix(raw, "?"))
	preds, diags := FromValues(values)
	if err != nil {
		diags = append(diags, Diagnostic{Reason: fmt.Sprintf("malformed query: %v", err)})
	}
	return preds, diags
}

// FromValues parses already-split query values, in field order.
func FromValues(values url.Values) ([]Predicate, []Diagnostic) {
	fields := make([]string, 0, len(values))
	for f := range values {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	var (
		preds []Predicate
		diags []Diagnostic
	)
	for _, f := range fields {
		for _, v := range values[f] {
			p, err := ParsePredicate(f, v)
			if err != nil {
				diags = append(diags, Diagnostic{Predicate: Predicate{Field: f, Value: v}, Reason: err.Error()})
				continue
			}
			preds = append(preds, p)
		}
	}
	return preds, diags
}

// ParsePredicate parses the value half of a pair. When the last
// underscore-separated token is an operator the predicate has no secondary;
// otherwise the right-most Between or NotBetween token splits the value from
// the secondary. Values may therefore contain underscores.
//
// The format cannot tell a range whose upper bound ends in "_<operator>"
// from a plain predicate: "A_Between_B_In" parses as In with value
// "A_Between_B", so such a Between does not survive Encode and Decode.
func ParsePredicate(field, encoded string) (Predicate, error) {
	parts := strings.Split(encoded, "_")
	if len(parts) < 2 {
		return Predicate{}, fmt.Errorf("missing operator in %q", encoded)
	}
	last := len(parts) - 1
	if op, err := ParseOperator(parts[last]); err == nil {
		return Predicate{Field: field, Operator: op, Value: strings.Join(parts[:last], "_")}, nil
	}
	for i := last - 1; i >= 0; i-- {
		op, err := ParseOperator(parts[i])
		if err != nil || !op.ranged() {
			continue
		}
		hi := strings.Join(parts[i+1:], "_")
		return Predicate{Field: field, Operator: op, Value: strings.Join(parts[:i], "_"), Secondary: &hi}, nil
	}
	return Predicate{}, fmt.Errorf("missing operator in %q", encoded)
}
