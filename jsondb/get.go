package jsondb

import (
	"fmt"
	"io"
	"strings"

	"github.com/mjl-/jsondb/dbpath"
	"github.com/mjl-/jsondb/record"
)

// Order of the top-level children of a Get.
type Order string

const (
	Asc  Order = "asc"
	Desc Order = "desc"
)

// GetOptions select and format the output of Get.
//
// StartAt, StartAfter, EndAt and EndBefore bound the top-level children by key,
// in the direction of Order: with Desc, StartAt is the highest key included.
// StartAt and EndAt match keys by prefix: EndAt "user2" includes "user2:1".
type GetOptions struct {
	Depth        int    // Nesting depth of output, deeper values become true. Zero for no limit.
	PrettyPrint  bool   // Indent output with two spaces.
	Callback     string // Wrap output as Callback(...).
	LimitToFirst int    // Maximum number of top-level children. Zero for no limit.
	Order        Order  // Default Asc.

	StartAt    string
	StartAfter string
	EndAt      string
	EndBefore  string

	Filter *Filter
}

func (o GetOptions) recordOptions() record.Options {
	return record.Options{Depth: o.Depth, LimitToFirst: o.LimitToFirst, PrettyPrint: o.PrettyPrint, Callback: o.Callback, Reverse: o.Order == Desc}
}

// bounds returns the range of DB paths to scan under base.
func (o GetOptions) bounds(base string) (from, to string, rerr error) {
	from, to = base, dbpath.IncrementKey(base)
	lower := func(s string) {
		if s > from {
			from = s
		}
	}
	upper := func(s string) {
		if s < to {
			to = s
		}
	}
	desc := o.Order == Desc

	for _, k := range []string{o.StartAt, o.StartAfter, o.EndAt, o.EndBefore} {
		if k == "" {
			continue
		}
		if err := dbpath.ValidateKey(k); err != nil {
			return "", "", err
		}
	}
	if k := o.StartAfter; k != "" {
		if desc {
			upper(base + k)
		} else {
			lower(base + dbpath.IncrementKey(k))
		}
	}
	if k := o.StartAt; k != "" {
		if desc {
			upper(base + dbpath.IncrementKey(k))
		} else {
			lower(base + k)
		}
	}
	if k := o.EndAt; k != "" {
		if desc {
			lower(base + k)
		} else {
			upper(base + dbpath.IncrementKey(k))
		}
	}
	if k := o.EndBefore; k != "" {
		if desc {
			lower(base + dbpath.IncrementKey(k))
		} else {
			upper(base + k)
		}
	}
	return from, to, nil
}

// Get returns the JSON document at path. If nothing is stored at or below
// path, found is false.
func (tx *Tx) Get(path string, opts GetOptions) (doc string, found bool, rerr error) {
	var b strings.Builder
	found, err := tx.GetTo(&b, path, opts)
	if err != nil {
		return "", false, err
	}
	return b.String(), found, nil
}

// GetTo writes the JSON document at path to w. Nothing is written if an error
// is returned, or nothing is stored at path.
func (tx *Tx) GetTo(w io.Writer, path string, opts GetOptions) (found bool, rerr error) {
	base, err := dbpath.ToDBPath(path)
	if err != nil {
		return false, err
	}
	if opts.Order != "" && opts.Order != Asc && opts.Order != Desc {
		return false, fmt.Errorf("unknown order %q", opts.Order)
	}
	from, to, err := opts.bounds(base)
	if err != nil {
		return false, err
	}
	var match matcher
	if opts.Filter != nil {
		match, err = opts.Filter.compile()
		if err != nil {
			return false, err
		}
	}
	desc := opts.Order == Desc

	rw := record.NewWriter(w, base, opts.recordOptions())

	// Rows are passed to the writer directly, unless the top-level children
	// have to be filtered or reversed, then rows are gathered per child.
	var ferr error
	add := func(r record.Record) error {
		done, err := rw.Add(r)
		if err != nil {
			ferr = err
			return err
		} else if done {
			return errStop
		}
		return nil
	}
	var group []record.Record
	var groupKey string
	flush := func() error {
		defer func() {
			group = group[:0]
		}()
		if len(group) == 0 {
			return nil
		}
		if match != nil {
			values := map[string]string{}
			for _, r := range group {
				values[strings.TrimPrefix(r.Path, base)] = r.Value
			}
			if !match(groupKey+"/", values) {
				return nil
			}
		}
		if desc {
			for i, j := 0, len(group)-1; i < j; i, j = i+1, j-1 {
				group[i], group[j] = group[j], group[i]
			}
		}
		for _, r := range group {
			if err := add(r); err != nil {
				return err
			}
		}
		return nil
	}

	grouped := desc || match != nil
	var stopped bool
	if from < to {
		err = tx.btx.scan(from, to, desc, func(r record.Record) error {
			if !grouped {
				err := add(r)
				stopped = err == errStop
				return err
			}
			var key string
			if segs := dbpath.Segments(base, r.Path); len(segs) > 0 {
				key = segs[0]
			}
			if len(group) > 0 && key != groupKey {
				if err := flush(); err != nil {
					stopped = err == errStop
					return err
				}
			}
			groupKey = key
			group = append(group, r)
			return nil
		})
	}
	if ferr != nil {
		return false, ferr
	} else if err != nil {
		return false, storageError("get", path, err)
	}
	if grouped && !stopped {
		if err := flush(); err != nil && err != errStop {
			return false, err
		}
	}
	if err := rw.Close(); err != nil {
		return false, fmt.Errorf("writing document: %w", err)
	}
	return rw.Started(), nil
}
