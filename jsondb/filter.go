package jsondb

import (
	"fmt"

	"github.com/mjl-/jsondb/dbpath"
	"github.com/mjl-/jsondb/record"
)

// Op is a comparison operator for a child filter.
type Op string

const (
	OpEQ  Op = "="
	OpNEQ Op = "!="
	OpLT  Op = "<"
	OpGT  Op = ">"
	OpLTE Op = "<="
	OpGTE Op = ">="
)

// Filter selects top-level children of a Get by the value of one of their
// fields. Build filters with Child, And and Or.
//
// Values are compared in their stored encoding, so numbers compare
// numerically and strings bytewise, and values of different types compare by
// type: null < false < true < numbers < strings. A child without the field
// never matches.
type Filter struct {
	Field string // Path relative to each child, e.g. "age" or "address/city".
	Op    Op
	Value any // Nil, bool, string, json.Number, or an integer or float type.

	And []Filter
	Or  []Filter
}

// Child returns a filter comparing field of each child with value.
func Child(field string, op Op, value any) Filter {
	return Filter{Field: field, Op: op, Value: value}
}

// And returns a filter matching children matched by all filters.
func And(filters ...Filter) Filter {
	return Filter{And: filters}
}

// Or returns a filter matching children matched by any filter.
func Or(filters ...Filter) Filter {
	return Filter{Or: filters}
}

// matcher reports whether a top-level child, with DB path prefix child and
// the encoded values of its rows, matches.
type matcher func(child string, values map[string]string) bool

func (f Filter) compile() (matcher, error) {
	if f.And != nil || f.Or != nil {
		if f.Field != "" || f.Op != "" || f.And != nil && f.Or != nil {
			return nil, fmt.Errorf("filter must be one of comparison, and, or")
		}
		var l []matcher
		subs := f.And
		if subs == nil {
			subs = f.Or
		}
		for _, sf := range subs {
			m, err := sf.compile()
			if err != nil {
				return nil, err
			}
			l = append(l, m)
		}
		all := f.And != nil
		return func(child string, values map[string]string) bool {
			for _, m := range l {
				if m(child, values) != all {
					return !all
				}
			}
			return all
		}, nil
	}

	field, err := dbpath.ToDBPath(f.Field)
	if err != nil {
		return nil, fmt.Errorf("filter field: %w", err)
	}
	if field == "/" {
		return nil, fmt.Errorf("filter without field")
	}
	// Field paths are relative to the child, whose DB path ends with a slash.
	field = field[1:]
	exp, err := record.EncodeValue(f.Value)
	if err != nil {
		return nil, fmt.Errorf("filter value: %v", err)
	}
	var cmp func(v string) bool
	switch f.Op {
	case OpEQ:
		cmp = func(v string) bool { return v == exp }
	case OpNEQ:
		cmp = func(v string) bool { return v != exp }
	case OpLT:
		cmp = func(v string) bool { return v < exp }
	case OpGT:
		cmp = func(v string) bool { return v > exp }
	case OpLTE:
		cmp = func(v string) bool { return v <= exp }
	case OpGTE:
		cmp = func(v string) bool { return v >= exp }
	default:
		return nil, fmt.Errorf("unknown filter operator %q", f.Op)
	}
	return func(child string, values map[string]string) bool {
		v, ok := values[child+field]
		return ok && cmp(v)
	}, nil
}
