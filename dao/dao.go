// Package dao stores Go values as JSON documents in a jsondb store, one
// collection per type.
//
// A Collection keeps its values at /<name>/:<id>. The colon keeps numeric ids
// from being taken as array indices.
package dao

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/mjl-/jsondb/jsondb"
	"github.com/mjl-/jsondb/mlog"
)

var pkglog = mlog.New("dao", nil)

var (
	ErrExists   = errors.New("already exists")
	ErrNotFound = errors.New("not found")
)

// Collection stores values of type T.
type Collection[T any] struct {
	Store *jsondb.Store
	Name  string // Top-level key, e.g. "connections".

	// ID returns the id of a value, empty for a new value.
	ID func(v T) string
	// WithID returns a copy of v with its id set.
	WithID func(v T, id string) T

	// Accessors for Filter and Sort.
	Accessors Accessors[T]
}

// Path returns the path of the collection, e.g. /connections.
func (c Collection[T]) Path() string {
	return "/" + c.Name
}

// DocPath returns the path for the value with id.
func (c Collection[T]) DocPath(id string) string {
	return c.Path() + "/:" + id
}

// IDFromPath returns the id for a document path, or the empty string if path
// is not in this collection.
func (c Collection[T]) IDFromPath(path string) string {
	prefix := c.Path() + "/:"
	if !strings.HasPrefix(path, prefix) {
		return ""
	}
	return strings.TrimPrefix(path, prefix)
}

func (c Collection[T]) log(ctx context.Context) mlog.Log {
	return pkglog.WithContext(ctx).With(slog.String("collection", c.Name))
}

func (c Collection[T]) marshal(v T) (string, error) {
	buf, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal %s: %v", c.Name, err)
	}
	return string(buf), nil
}

// Create stores a new value. If v has no id, a new key is created for it. The
// stored value, with id, is returned. ErrExists is returned if a value with
// the id is already present.
func (c Collection[T]) Create(ctx context.Context, v T) (T, error) {
	id := c.ID(v)
	if id == "" {
		id = c.Store.CreateKey()
		v = c.WithID(v, id)
	}
	doc, err := c.marshal(v)
	if err != nil {
		return v, err
	}
	err = c.Store.Write(ctx, func(tx *jsondb.Tx) error {
		exists, err := tx.Exists(c.DocPath(id))
		if err != nil {
			return err
		} else if exists {
			return fmt.Errorf("%w: %s with id %s", ErrExists, c.Name, id)
		}
		return tx.Set(c.DocPath(id), doc)
	})
	if err != nil {
		return v, err
	}
	c.log(ctx).Debug("created", slog.String("id", id))
	return v, nil
}

// Set stores v, replacing an existing value with the same id.
func (c Collection[T]) Set(ctx context.Context, v T) error {
	id := c.ID(v)
	if id == "" {
		return fmt.Errorf("%s without id", c.Name)
	}
	doc, err := c.marshal(v)
	if err != nil {
		return err
	}
	return c.Store.Set(ctx, c.DocPath(id), doc)
}

// Update replaces an existing value. ErrNotFound is returned if no value with
// the id of v is present.
func (c Collection[T]) Update(ctx context.Context, v T) error {
	id := c.ID(v)
	if id == "" {
		return fmt.Errorf("%s without id", c.Name)
	}
	doc, err := c.marshal(v)
	if err != nil {
		return err
	}
	return c.Store.Write(ctx, func(tx *jsondb.Tx) error {
		exists, err := tx.Exists(c.DocPath(id))
		if err != nil {
			return err
		} else if !exists {
			return fmt.Errorf("%w: %s with id %s", ErrNotFound, c.Name, id)
		}
		return tx.Set(c.DocPath(id), doc)
	})
}

// Fetch returns the value with id. If absent, ok is false.
func (c Collection[T]) Fetch(ctx context.Context, id string) (v T, ok bool, rerr error) {
	doc, found, err := c.Store.Get(ctx, c.DocPath(id), jsondb.GetOptions{})
	if err != nil || !found {
		return v, false, err
	}
	if err := json.Unmarshal([]byte(doc), &v); err != nil {
		return v, false, fmt.Errorf("unmarshal %s %s: %v", c.Name, id, err)
	}
	return v, true, nil
}

// Delete removes the value with id, returning whether it was present.
func (c Collection[T]) Delete(ctx context.Context, id string) (bool, error) {
	return c.Store.Delete(ctx, c.DocPath(id))
}

// DeleteAll removes all values, returning whether any were present.
func (c Collection[T]) DeleteAll(ctx context.Context) (bool, error) {
	return c.Store.Delete(ctx, c.Path())
}

// FetchIDs returns the sorted ids of all values.
func (c Collection[T]) FetchIDs(ctx context.Context) ([]string, error) {
	doc, found, err := c.Store.Get(ctx, c.Path(), jsondb.GetOptions{Depth: 1})
	if err != nil || !found {
		return nil, err
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal([]byte(doc), &m); err != nil {
		return nil, fmt.Errorf("unmarshal %s ids: %v", c.Name, err)
	}
	var ids []string
	for k := range m {
		if strings.HasPrefix(k, ":") {
			ids = append(ids, k[1:])
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// FetchAll returns all values sorted by id, with ops applied in order.
func (c Collection[T]) FetchAll(ctx context.Context, ops ...ListOp[T]) (ListResult[T], error) {
	doc, found, err := c.Store.Get(ctx, c.Path(), jsondb.GetOptions{})
	if err != nil || !found {
		return ListResult[T]{}, err
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal([]byte(doc), &m); err != nil {
		return ListResult[T]{}, fmt.Errorf("unmarshal %s: %v", c.Name, err)
	}
	keys := maps.Keys(m)
	slices.Sort(keys)
	var r ListResult[T]
	for _, k := range keys {
		if !strings.HasPrefix(k, ":") {
			continue
		}
		var v T
		if err := json.Unmarshal(m[k], &v); err != nil {
			return ListResult[T]{}, fmt.Errorf("unmarshal %s %s: %v", c.Name, k[1:], err)
		}
		r.Items = append(r.Items, v)
	}
	r.TotalCount = len(r.Items)
	for _, op := range ops {
		r, err = op(r)
		if err != nil {
			return ListResult[T]{}, err
		}
	}
	return r, nil
}

// FetchIDsByProperty returns the sorted ids of values whose top-level
// property has the string value. The property must be indexed in the store,
// see jsondb.Index.
func (c Collection[T]) FetchIDsByProperty(ctx context.Context, property, value string) ([]string, error) {
	paths, err := c.Store.FetchIDsByPropertyValue(ctx, c.Path(), property, value)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, p := range paths {
		if id := c.IDFromPath(p); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// FetchByProperty returns the first value, by id, whose property has the
// string value.
func (c Collection[T]) FetchByProperty(ctx context.Context, property, value string) (v T, ok bool, rerr error) {
	ids, err := c.FetchIDsByProperty(ctx, property, value)
	if err != nil || len(ids) == 0 {
		return v, false, err
	}
	return c.Fetch(ctx, ids[0])
}

// With returns a copy of v with fns applied, for shaping values without
// changing the original.
func With[T any](v T, fns ...func(v *T)) T {
	for _, fn := range fns {
		fn(&v)
	}
	return v
}
