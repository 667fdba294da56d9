package dao

import (
	"cmp"
	"fmt"
	"sort"
	"time"
)

// ListResult is a page of values, with the number of values before
// pagination.
type ListResult[T any] struct {
	Items      []T
	TotalCount int
}

// ListOp transforms a list, e.g. filtering, sorting or paginating.
type ListOp[T any] func(r ListResult[T]) (ListResult[T], error)

// Accessors map field names to functions returning the field value of a T,
// for filtering and sorting by name.
//
// Supported value types are string, bool, the integer types, float64 and
// time.Time.
type Accessors[T any] map[string]func(v T) any

func (a Accessors[T]) get(field string) (func(v T) any, error) {
	fn, ok := a[field]
	if !ok {
		return nil, fmt.Errorf("no accessor for field %q", field)
	}
	return fn, nil
}

// Filter keeps the values whose field equals value.
func (a Accessors[T]) Filter(field string, value any) ListOp[T] {
	return func(r ListResult[T]) (ListResult[T], error) {
		fn, err := a.get(field)
		if err != nil {
			return r, err
		}
		var l []T
		for _, v := range r.Items {
			c, err := compare(fn(v), value)
			if err != nil {
				return r, fmt.Errorf("filter on %s: %w", field, err)
			}
			if c == 0 {
				l = append(l, v)
			}
		}
		return ListResult[T]{l, len(l)}, nil
	}
}

// Sort orders the values by field, keeping the existing order for equal
// values.
func (a Accessors[T]) Sort(field string, desc bool) ListOp[T] {
	return func(r ListResult[T]) (ListResult[T], error) {
		fn, err := a.get(field)
		if err != nil {
			return r, err
		}
		l := append([]T{}, r.Items...)
		var cerr error
		sort.SliceStable(l, func(i, j int) bool {
			c, err := compare(fn(l[i]), fn(l[j]))
			if err != nil {
				cerr = err
			}
			if desc {
				return c > 0
			}
			return c < 0
		})
		if cerr != nil {
			return r, fmt.Errorf("sort on %s: %w", field, cerr)
		}
		return ListResult[T]{l, r.TotalCount}, nil
	}
}

// Paginate returns page (starting at 1) of perPage values.
func Paginate[T any](page, perPage int) ListOp[T] {
	return func(r ListResult[T]) (ListResult[T], error) {
		if page < 1 || perPage < 1 {
			return r, fmt.Errorf("bad page %d or items per page %d", page, perPage)
		}
		start := (page - 1) * perPage
		if start >= len(r.Items) {
			return ListResult[T]{nil, r.TotalCount}, nil
		}
		end := min(start+perPage, len(r.Items))
		return ListResult[T]{r.Items[start:end], r.TotalCount}, nil
	}
}

func compare(a, b any) (int, error) {
	switch x := a.(type) {
	case string:
		if y, ok := b.(string); ok {
			return cmp.Compare(x, y), nil
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0, nil
			case !x:
				return -1, nil
			}
			return 1, nil
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y), nil
		}
	default:
		if xf, ok := number(a); ok {
			if yf, ok := number(b); ok {
				return cmp.Compare(xf, yf), nil
			}
		}
	}
	return 0, fmt.Errorf("cannot compare %T with %T", a, b)
}

func number(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}
