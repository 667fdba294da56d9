package jsondb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mjl-/bstore"

	"github.com/mjl-/jsondb/dbpath"
	"github.com/mjl-/jsondb/jsondbvar"
	"github.com/mjl-/jsondb/mlog"
	"github.com/mjl-/jsondb/record"
)

// Row is a stored row: a JSON leaf value, or the empty object or array marker,
// at a DB path.
type Row struct {
	Path   string // DB path, e.g. /users/u1/name/.
	Value  string // Encoded value, see package record.
	OValue string // Original JSON literal for numbers, null and booleans.
}

// IndexEntry is a secondary index entry for a row whose path matches a
// declared index.
type IndexEntry struct {
	Path  string // DB path of the row.
	Idx   string `bstore:"index Idx+Value"` // Index id, e.g. /pair/#key.
	Value string // Encoded string value of the row.
}

// DBTypes are the types stored in a bstore database.
var DBTypes = []any{Row{}, IndexEntry{}}

type bstoreBackend struct {
	DB *bstore.DB

	sync.Mutex
	registered bool // Whether DBTypes are registered with DB, Drop unregisters.
}

// BstoreDB returns the bstore database, or nil for other backends. For
// backups and verification.
func (s *Store) BstoreDB() *bstore.DB {
	if b, ok := s.be.(*bstoreBackend); ok {
		return b.DB
	}
	return nil
}

func openBstore(ctx context.Context, log mlog.Log, path string, timeout time.Duration) (*bstoreBackend, error) {
	os.MkdirAll(filepath.Dir(path), 0770)
	opts := bstore.Options{Timeout: timeout, Perm: 0660, RegisterLogger: jsondbvar.RegisterLogger(path, log.Logger)}
	db, err := bstore.Open(ctx, path, &opts, DBTypes...)
	if err != nil {
		return nil, fmt.Errorf("open bstore database: %w", err)
	}
	return &bstoreBackend{DB: db, registered: true}, nil
}

func (b *bstoreBackend) createTables(ctx context.Context) error {
	b.Lock()
	defer b.Unlock()
	if b.registered {
		return nil
	}
	if err := b.DB.Register(ctx, DBTypes...); err != nil {
		return err
	}
	b.registered = true
	return nil
}

func (b *bstoreBackend) dropTables(ctx context.Context) error {
	b.Lock()
	defer b.Unlock()
	for _, name := range []string{"IndexEntry", "Row"} {
		if err := b.DB.Drop(ctx, name); err != nil && !errors.Is(err, bstore.ErrAbsent) {
			return fmt.Errorf("drop type %s: %w", name, err)
		}
	}
	b.registered = false
	return nil
}

func (b *bstoreBackend) read(ctx context.Context, fn func(tx backendTx) error) error {
	return b.DB.Read(ctx, func(tx *bstore.Tx) error {
		return fn(bstoreTx{tx})
	})
}

func (b *bstoreBackend) write(ctx context.Context, fn func(tx backendTx) error) error {
	return b.DB.Write(ctx, func(tx *bstore.Tx) error {
		return fn(bstoreTx{tx})
	})
}

func (b *bstoreBackend) close() error {
	return b.DB.Close()
}

type bstoreTx struct {
	tx *bstore.Tx
}

func (t bstoreTx) deleteTree(prefix string, exact []string) (int, error) {
	end := dbpath.IncrementKey(prefix)
	n, err := bstore.QueryTx[Row](t.tx).FilterGreaterEqual("Path", prefix).FilterLess("Path", end).Delete()
	if err != nil {
		return 0, fmt.Errorf("delete rows: %w", err)
	}
	if _, err := bstore.QueryTx[IndexEntry](t.tx).FilterGreaterEqual("Path", prefix).FilterLess("Path", end).Delete(); err != nil {
		return 0, fmt.Errorf("delete index entries: %w", err)
	}
	if len(exact) == 0 {
		return n, nil
	}
	m, err := bstore.QueryTx[Row](t.tx).FilterIDs(exact).Delete()
	if err != nil {
		return 0, fmt.Errorf("delete parent rows: %w", err)
	}
	if _, err := bstore.QueryTx[IndexEntry](t.tx).FilterIDs(exact).Delete(); err != nil {
		return 0, fmt.Errorf("delete parent index entries: %w", err)
	}
	return n + m, nil
}

func (t bstoreTx) insert(r record.Record) error {
	if err := t.tx.Insert(&Row{r.Path, r.Value, r.OValue}); err != nil {
		return fmt.Errorf("insert row: %w", err)
	}
	if r.Index != "" && indexable(r.Value) {
		if err := t.tx.Insert(&IndexEntry{r.Path, r.Index, r.Value}); err != nil {
			return fmt.Errorf("insert index entry: %w", err)
		}
	}
	return nil
}

func (t bstoreTx) scan(from, to string, desc bool, fn func(r record.Record) error) error {
	q := bstore.QueryTx[Row](t.tx).FilterGreaterEqual("Path", from).FilterLess("Path", to)
	if desc {
		q.SortDesc("Path")
	} else {
		q.SortAsc("Path")
	}
	err := q.ForEach(func(r Row) error {
		return fn(record.Record{Path: r.Path, Value: r.Value, OValue: r.OValue})
	})
	if err == errStop {
		return nil
	}
	return err
}

func (t bstoreTx) exists(prefix string) (bool, error) {
	return bstore.QueryTx[Row](t.tx).FilterGreaterEqual("Path", prefix).FilterLess("Path", dbpath.IncrementKey(prefix)).Exists()
}

func (t bstoreTx) indexLookup(idx, value string) ([]string, error) {
	var paths []string
	err := bstore.QueryTx[IndexEntry](t.tx).FilterEqual("Idx", idx).FilterEqual("Value", value).SortAsc("Path").ForEach(func(e IndexEntry) error {
		paths = append(paths, e.Path)
		return nil
	})
	return paths, err
}
