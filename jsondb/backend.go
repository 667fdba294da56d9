package jsondb

import (
	"context"
	"errors"

	"github.com/mjl-/jsondb/record"
)

// errStop is returned by scan callbacks to end a scan early without error.
var errStop = errors.New("stop scan")

// backend stores rows and index entries. Paths are DB paths, compared as
// bytes.
type backend interface {
	createTables(ctx context.Context) error
	dropTables(ctx context.Context) error
	read(ctx context.Context, fn func(tx backendTx) error) error
	write(ctx context.Context, fn func(tx backendTx) error) error
	close() error
}

type backendTx interface {
	// deleteTree removes the rows and index entries with a path starting with
	// prefix, and those with a path in exact. It returns the number of rows
	// removed.
	deleteTree(prefix string, exact []string) (int, error)

	// insert adds a row, and an index entry if r.Index is set.
	insert(r record.Record) error

	// scan calls fn for rows with from <= path < to, sorted by path. Returning
	// errStop from fn ends the scan, and scan returns nil.
	scan(from, to string, desc bool, fn func(r record.Record) error) error

	// exists returns whether any row has a path starting with prefix.
	exists(prefix string) (bool, error)

	// indexLookup returns the sorted row paths of index entries for idx with
	// the encoded value.
	indexLookup(idx, value string) ([]string, error)
}
