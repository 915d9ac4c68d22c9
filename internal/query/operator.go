package query

import (
	"fmt"
	"strings"
)

// Operator is a predicate comparison.
type Operator int

const (
	Equals Operator = iota + 1
	NotEquals
	Contains
	StartsWith
	EndsWith
	In
	NotIn
	IsNull
	IsNotNull
	Between
	NotBetween
	Regex
	GreaterThan
	GreaterThanOrEqual
	LessThan
	LessThanOrEqual
)

var operatorNames = [...]string{
	Equals:             "Equals",
	NotEquals:          "NotEquals",
	Contains:           "Contains",
	StartsWith:         "StartsWith",
	EndsWith:           "EndsWith",
	In:                 "In",
	NotIn:              "NotIn",
	IsNull:             "IsNull",
	IsNotNull:          "IsNotNull",
	Between:            "Between",
	NotBetween:         "NotBetween",
	Regex:              "Regex",
	GreaterThan:        "GreaterThan",
	GreaterThanOrEqual: "GreaterThanOrEqual",
	LessThan:           "LessThan",
	LessThanOrEqual:    "LessThanOrEqual",
}

var operatorsByName = func() map[string]Operator {
	m := make(map[string]Operator, len(operatorNames))
	for op, name := range operatorNames {
		if name != "" {
			m[strings.ToLower(name)] = Operator(op)
		}
	}
	return m
}()

// Operators returns every operator in declaration order.
func Operators() []Operator {
	ops := make([]Operator, 0, len(operatorNames)-1)
	for op := Equals; op <= LessThanOrEqual; op++ {
		ops = append(ops, op)
	}
	return ops
}

func (o Operator) String() string {
	if o.Valid() {
		return operatorNames[o]
	}
	return fmt.Sprintf("Operator(%d)", int(o))
}

// Valid reports whether o is a known operator.
func (o Operator) Valid() bool {
	return o >= Equals && o <= LessThanOrEqual
}

// ParseOperator resolves an operator name case-insensitively.
func ParseOperator(s string) (Operator, error) {
	if op, ok := operatorsByName[strings.ToLower(strings.TrimSpace(s))]; ok {
		return op, nil
	}
	return 0, fmt.Errorf("unknown operator %q", s)
}

func (o Operator) MarshalText() ([]byte, error) {
	if !o.Valid() {
		return nil, fmt.Errorf("cannot encode %s", o)
	}
	return []byte(o.String()), nil
}

func (o *Operator) UnmarshalText(text []byte) error {
	op, err := ParseOperator(string(text))
	if err != nil {
		return err
	}
	*o = op
	return nil
}

// ordering reports whether o needs the field kind to be ordered.
func (o Operator) ordering() bool {
	switch o {
	case Between, NotBetween, GreaterThan, GreaterThanOrEqual, LessThan, LessThanOrEqual:
		return true
	}
	return false
}

// ranged reports whether o takes a secondary value.
func (o Operator) ranged() bool {
	return o == Between || o == NotBetween
}

// Predicate is a single field/operator/value condition. Secondary is the
// upper bound of Between and NotBetween.
type Predicate struct {
	Field     string   `json:"field"`
	Operator  Operator `json:"operator"`
	Value     string   `json:"value"`
	Secondary *string  `json:"secondary,omitempty"`
}

// P builds a predicate without a secondary value.
func P(field string, op Operator, value string) Predicate {
	return Predicate{Field: field, Operator: op, Value: value}
}

// Range builds a predicate with a secondary value.
func Range(field string, op Operator, lo, hi string) Predicate {
	return Predicate{Field: field, Operator: op, Value: lo, Secondary: &hi}
}

func (p Predicate) String() string {
	s := p.Field + " " + p.Operator.String() + " " + p.Value
	if p.Secondary != nil {
		s += " " + *p.Secondary
	}
	return s
}
