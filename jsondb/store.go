// Package jsondb stores JSON documents in a hierarchical path namespace,
// flattened into one row per leaf value.
//
// Documents are read and written at paths like /users/u1. Writing a document
// replaces everything stored at and below its path. Reading a path returns
// the document assembled from all rows below it, optionally limited in depth,
// number of children, or key range.
//
// Rows are stored in a bstore database (default), or in SQLite. Changes can
// be broadcast on an EventBus after they are committed.
package jsondb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/exp/slices"

	"github.com/mjl-/jsondb/dbpath"
	"github.com/mjl-/jsondb/keygen"
	"github.com/mjl-/jsondb/mlog"
	"github.com/mjl-/jsondb/record"
)

var pkglog = mlog.New("jsondb", nil)

// Backend names for Options.Backend.
const (
	BackendBstore = "bstore"
	BackendSQLite = "sqlite"
)

// LookupPolicy determines how FetchIDsByPropertyValue handles a subtree and
// field without declared index.
type LookupPolicy string

const (
	LookupFail LookupPolicy = "fail" // Return ErrNoIndex.
	LookupScan LookupPolicy = "scan" // Scan all rows of the subtree.
)

// Options for opening a Store.
type Options struct {
	Path    string // Database file.
	Backend string // BackendBstore (default) or BackendSQLite.

	Indexes         []Index
	UnindexedLookup LookupPolicy // Default LookupFail.

	Events EventBus          // If nil, events are not broadcast.
	Keys   *keygen.Generator // For CreateKey. If nil, a generator with the system clock is used.

	Timeout time.Duration // For acquiring the bstore database file lock, default 5s.
	SQLite  SQLiteOptions
}

// Store is a JSON document store. It is safe for concurrent use.
type Store struct {
	log     mlog.Log
	be      backend
	indexes map[string]Index
	lookup  LookupPolicy
	events  EventBus
	keys    *keygen.Generator
}

// Open opens or creates the database at opts.Path, creating the tables if
// needed.
func Open(ctx context.Context, log mlog.Log, opts Options) (*Store, error) {
	if log.Logger == nil {
		log = pkglog
	}
	log = log.With(slog.String("dbpath", opts.Path))

	indexes := map[string]Index{}
	for _, x := range opts.Indexes {
		id, err := x.ID()
		if err != nil {
			return nil, fmt.Errorf("index %s: %w", x, err)
		}
		indexes[id] = x
	}
	lookup := opts.UnindexedLookup
	switch lookup {
	case "":
		lookup = LookupFail
	case LookupFail, LookupScan:
	default:
		return nil, fmt.Errorf("unknown unindexed lookup policy %q", lookup)
	}
	keys := opts.Keys
	if keys == nil {
		keys = &keygen.Generator{}
	}

	var be backend
	var err error
	switch opts.Backend {
	case "", BackendBstore:
		timeout := opts.Timeout
		if timeout == 0 {
			timeout = 5 * time.Second
		}
		be, err = openBstore(ctx, log, opts.Path, timeout)
	case BackendSQLite:
		be, err = openSQLite(ctx, opts.Path, opts.SQLite)
	default:
		return nil, fmt.Errorf("unknown backend %q", opts.Backend)
	}
	if err != nil {
		return nil, storageError("open", "", err)
	}
	log.Debug("opened database", slog.String("backend", opts.Backend), slog.Int("indexes", len(indexes)))
	return &Store{log, be, indexes, lookup, opts.Events, keys}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if err := s.be.close(); err != nil {
		return storageError("close", "", err)
	}
	return nil
}

// CreateTables creates the tables if they do not exist. Open already does
// this, it is only needed after DropTables.
func (s *Store) CreateTables(ctx context.Context) (rerr error) {
	defer s.track("createtables", "", time.Now(), &rerr)
	if err := s.be.createTables(ctx); err != nil {
		return storageError("createtables", "", err)
	}
	return nil
}

// DropTables removes the tables and all data. It is a no-op for tables that
// do not exist.
func (s *Store) DropTables(ctx context.Context) (rerr error) {
	defer s.track("droptables", "", time.Now(), &rerr)
	if err := s.be.dropTables(ctx); err != nil {
		return storageError("droptables", "", err)
	}
	return nil
}

// CreateKey returns a new unique key that sorts after previously created keys.
func (s *Store) CreateKey() string {
	return s.keys.CreateKey()
}

func (s *Store) track(op, path string, start time.Time, rerr *error) {
	observe(op, start, *rerr)
	s.log.Debugx("jsondb operation", *rerr, slog.String("op", op), slog.String("jsonpath", path), slog.Duration("duration", time.Since(start)))
}

func (s *Store) indexFor(path string) string {
	id := indexID(path)
	if _, ok := s.indexes[id]; ok {
		return id
	}
	return ""
}

// Tx is a transaction, see Store.Write. A Tx must not be used after the
// function it was passed to returned.
type Tx struct {
	s        *Store
	btx      backendTx
	writable bool
	events   []event
}

var errReadOnly = errors.New("transaction is read-only")

func (s *Store) read(ctx context.Context, op, path string, fn func(tx *Tx) error) error {
	var ferr error
	err := s.be.read(ctx, func(btx backendTx) error {
		ferr = fn(&Tx{s: s, btx: btx})
		return ferr
	})
	if err != nil && ferr == nil {
		return storageError(op, path, err)
	}
	return err
}

func (s *Store) write(ctx context.Context, op, path string, fn func(tx *Tx) error) error {
	var ferr error
	var events []event
	err := s.be.write(ctx, func(btx backendTx) error {
		tx := &Tx{s: s, btx: btx, writable: true}
		ferr = fn(tx)
		events = tx.events
		return ferr
	})
	if err != nil {
		if ferr == nil {
			return storageError(op, path, err)
		}
		return err
	}
	s.broadcast(events)
	return nil
}

func (s *Store) broadcast(events []event) {
	if s.events == nil {
		return
	}
	for _, e := range events {
		metricEvents.WithLabelValues(e.name).Inc()
		s.events.Broadcast(e.name, e.path)
	}
}

// Write calls fn in a single read-write transaction. If fn returns an error,
// all changes are rolled back and the error is returned. Events are broadcast
// only after a successful commit.
func (s *Store) Write(ctx context.Context, fn func(tx *Tx) error) (rerr error) {
	defer s.track("write", "", time.Now(), &rerr)
	return s.write(ctx, "write", "", fn)
}

// Read calls fn in a single read-only transaction.
func (s *Store) Read(ctx context.Context, fn func(tx *Tx) error) (rerr error) {
	defer s.track("read", "", time.Now(), &rerr)
	return s.read(ctx, "read", "", fn)
}

// Get returns the JSON document at path, see Tx.Get.
func (s *Store) Get(ctx context.Context, path string, opts GetOptions) (doc string, found bool, rerr error) {
	defer s.track("get", path, time.Now(), &rerr)
	rerr = s.read(ctx, "get", path, func(tx *Tx) error {
		var err error
		doc, found, err = tx.Get(path, opts)
		return err
	})
	return
}

// GetTo writes the JSON document at path to w, see Tx.GetTo.
func (s *Store) GetTo(ctx context.Context, w io.Writer, path string, opts GetOptions) (found bool, rerr error) {
	defer s.track("get", path, time.Now(), &rerr)
	rerr = s.read(ctx, "get", path, func(tx *Tx) error {
		var err error
		found, err = tx.GetTo(w, path, opts)
		return err
	})
	return
}

// Set replaces everything at path with doc, see Tx.Set.
func (s *Store) Set(ctx context.Context, path, doc string) (rerr error) {
	defer s.track("set", path, time.Now(), &rerr)
	return s.write(ctx, "set", path, func(tx *Tx) error {
		return tx.Set(path, doc)
	})
}

// Update sets each member of object doc below path, see Tx.Update.
func (s *Store) Update(ctx context.Context, path, doc string) (rerr error) {
	defer s.track("update", path, time.Now(), &rerr)
	return s.write(ctx, "update", path, func(tx *Tx) error {
		return tx.Update(path, doc)
	})
}

// Push appends doc to the array at path, see Tx.Push.
func (s *Store) Push(ctx context.Context, path, doc string) (key string, rerr error) {
	defer s.track("push", path, time.Now(), &rerr)
	rerr = s.write(ctx, "push", path, func(tx *Tx) error {
		var err error
		key, err = tx.Push(path, doc)
		return err
	})
	return
}

// Delete removes everything at path, see Tx.Delete.
func (s *Store) Delete(ctx context.Context, path string) (deleted bool, rerr error) {
	defer s.track("delete", path, time.Now(), &rerr)
	rerr = s.write(ctx, "delete", path, func(tx *Tx) error {
		var err error
		deleted, err = tx.Delete(path)
		return err
	})
	return
}

// Exists returns whether anything is stored at path.
func (s *Store) Exists(ctx context.Context, path string) (exists bool, rerr error) {
	defer s.track("exists", path, time.Now(), &rerr)
	rerr = s.read(ctx, "exists", path, func(tx *Tx) error {
		var err error
		exists, err = tx.Exists(path)
		return err
	})
	return
}

// FetchIDsByPropertyValue returns the paths of documents directly under
// subtree whose member field has string value, see Tx.FetchIDsByPropertyValue.
func (s *Store) FetchIDsByPropertyValue(ctx context.Context, subtree, field, value string) (paths []string, rerr error) {
	defer s.track("lookup", subtree, time.Now(), &rerr)
	rerr = s.read(ctx, "lookup", subtree, func(tx *Tx) error {
		var err error
		paths, err = tx.FetchIDsByPropertyValue(subtree, field, value)
		return err
	})
	return
}

func (tx *Tx) event(name, path string) {
	tx.events = append(tx.events, event{name, dbpath.Normalize(path)})
}

func joinPath(path, key string) string {
	return strings.TrimSuffix(path, "/") + "/" + key
}

func (tx *Tx) flatten(base string, r io.Reader) ([]record.Record, error) {
	var l []record.Record
	err := record.Flatten(base, r, tx.s.indexFor, func(r record.Record) error {
		l = append(l, r)
		return nil
	})
	return l, err
}

// set replaces the rows at base with records. Rows at the parent paths of base
// are removed too: a value at a parent cannot coexist with children.
func (tx *Tx) set(op, path, base string, records []record.Record) error {
	if !tx.writable {
		return errReadOnly
	}
	n, err := tx.btx.deleteTree(base, dbpath.Parents(base))
	if err != nil {
		return storageError(op, path, err)
	}
	metricRowsDeleted.Add(float64(n))
	for _, r := range records {
		if err := tx.btx.insert(r); err != nil {
			return storageError(op, path, err)
		}
	}
	metricRowsWritten.Add(float64(len(records)))
	tx.s.log.Trace("replaced rows", slog.String("base", base), slog.Int("deleted", n), slog.Int("inserted", len(records)))
	return nil
}

// Set replaces everything stored at and below path with the JSON document doc.
// The whole document is validated before anything is changed.
func (tx *Tx) Set(path, doc string) error {
	base, err := dbpath.ToDBPath(path)
	if err != nil {
		return err
	}
	records, err := tx.flatten(base, strings.NewReader(doc))
	if err != nil {
		return err
	}
	if err := tx.set("set", path, base, records); err != nil {
		return err
	}
	tx.event(EventUpdated, path)
	return nil
}

// Update sets each member of JSON object doc at path/<member>, leaving other
// children of path untouched. Member names can be paths relative to path.
// Doc must be an object.
func (tx *Tx) Update(path, doc string) error {
	base, err := dbpath.ToDBPath(path)
	if err != nil {
		return err
	}

	type member struct {
		path    string
		base    string
		records []record.Record
	}
	var members []member

	d := record.NewDecoder(strings.NewReader(doc))
	tok, err := d.Token()
	if err != nil {
		return &record.SyntaxError{Msg: "parsing", Err: err}
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return &record.SyntaxError{Msg: "update requires a json object"}
	}
	for d.More() {
		ktok, err := d.Token()
		if err != nil {
			return &record.SyntaxError{Msg: "parsing", Err: err}
		}
		key, ok := ktok.(string)
		if !ok {
			return &record.SyntaxError{Msg: fmt.Sprintf("expected member name, got %v", ktok)}
		}
		rel := strings.Trim(key, "/")
		if rel == "" {
			return dbpath.ValidateKey(rel)
		}
		relbase, err := dbpath.ToDBPath(rel)
		if err != nil {
			return err
		}
		mbase := base + relbase[1:]
		var records []record.Record
		err = record.FlattenValue(d, mbase, tx.s.indexFor, func(r record.Record) error {
			records = append(records, r)
			return nil
		})
		if err != nil {
			return err
		}
		members = append(members, member{joinPath(path, rel), mbase, records})
	}
	if _, err := d.Token(); err != nil {
		return &record.SyntaxError{Msg: "parsing", Err: err}
	}
	if err := record.Finish(d); err != nil {
		return err
	}

	for _, m := range members {
		if err := tx.set("update", m.path, m.base, m.records); err != nil {
			return err
		}
	}
	for _, m := range members {
		tx.event(EventUpdated, m.path)
	}
	return nil
}

// Push appends JSON document doc to the array at path, and returns the array
// index it was stored at. A missing path, or a value that isn't an array, is
// replaced by a new array. An object at path results in an error.
func (tx *Tx) Push(path, doc string) (string, error) {
	base, err := dbpath.ToDBPath(path)
	if err != nil {
		return "", err
	}

	// Object members sort before and after the array indices.
	var member bool
	fn := func(r record.Record) error {
		if r.Path != base || r.Value == record.EmptyObjectValue {
			member = true
			return errStop
		}
		return nil
	}
	if err := tx.btx.scan(base, base+string(dbpath.IndexPrefix), false, fn); err != nil {
		return "", storageError("push", path, err)
	}
	if !member {
		if err := tx.btx.scan(base+string(dbpath.IndexPrefix+1), dbpath.IncrementKey(base), false, fn); err != nil {
			return "", storageError("push", path, err)
		}
	}
	if member {
		return "", &record.SyntaxError{Msg: "cannot push to object at " + dbpath.Normalize(path)}
	}

	var last string
	err = tx.btx.scan(base+string(dbpath.IndexPrefix), base+string(dbpath.IndexPrefix+1), true, func(r record.Record) error {
		last = r.Path
		return errStop
	})
	if err != nil {
		return "", storageError("push", path, err)
	}
	var next int
	if last != "" {
		seg := dbpath.Segments(base, last)[0]
		n, err := dbpath.DecodeIndex(seg)
		if err != nil {
			return "", &record.ConsistencyError{Path: last, Msg: err.Error()}
		}
		next = n + 1
	}

	key := strconv.Itoa(next)
	elem := base + dbpath.EncodeIndex(next) + "/"
	records, err := tx.flatten(elem, strings.NewReader(doc))
	if err != nil {
		return "", err
	}
	if err := tx.set("push", path, elem, records); err != nil {
		return "", err
	}
	tx.event(EventUpdated, joinPath(path, key))
	return key, nil
}

// Delete removes everything stored at and below path. It returns whether
// anything was removed.
func (tx *Tx) Delete(path string) (bool, error) {
	if !tx.writable {
		return false, errReadOnly
	}
	base, err := dbpath.ToDBPath(path)
	if err != nil {
		return false, err
	}
	n, err := tx.btx.deleteTree(base, nil)
	if err != nil {
		return false, storageError("delete", path, err)
	}
	metricRowsDeleted.Add(float64(n))
	if n == 0 {
		return false, nil
	}
	tx.event(EventDeleted, path)
	return true, nil
}

// Exists returns whether anything is stored at or below path.
func (tx *Tx) Exists(path string) (bool, error) {
	base, err := dbpath.ToDBPath(path)
	if err != nil {
		return false, err
	}
	exists, err := tx.btx.exists(base)
	if err != nil {
		return false, storageError("exists", path, err)
	}
	return exists, nil
}

// FetchIDsByPropertyValue returns the sorted logical paths of the documents
// directly under subtree whose member field is the string value. For subtree
// /pair, field key and value x, the document /pair/p1 is returned when
// /pair/p1/key is "x".
//
// The subtree and field must have a declared index. Without index, ErrNoIndex
// is returned, unless the store was opened with LookupScan.
func (tx *Tx) FetchIDsByPropertyValue(subtree, field, value string) ([]string, error) {
	x := Index{subtree, field}
	idx, err := x.ID()
	if err != nil {
		return nil, err
	}
	base, err := dbpath.ToDBPath(subtree)
	if err != nil {
		return nil, err
	}
	enc := record.EncodeString(value)

	var paths []string
	if _, ok := tx.s.indexes[idx]; ok && indexable(enc) {
		metricIndexLookups.WithLabelValues("indexed").Inc()
		l, err := tx.btx.indexLookup(idx, enc)
		if err != nil {
			return nil, storageError("lookup", subtree, err)
		}
		suffix := "/" + field + "/"
		for _, p := range l {
			paths = append(paths, strings.TrimSuffix(p, suffix))
		}
	} else if ok || tx.s.lookup == LookupScan {
		metricIndexLookups.WithLabelValues("scan").Inc()
		metricUnindexedScans.Inc()
		if !ok {
			tx.s.log.Info("property value lookup without index, scanning subtree", slog.String("index", x.String()))
		}
		err := tx.btx.scan(base, dbpath.IncrementKey(base), false, func(r record.Record) error {
			segs := dbpath.Segments(base, r.Path)
			if len(segs) == 2 && segs[1] == field && r.Value == enc {
				paths = append(paths, base+segs[0])
			}
			return nil
		})
		if err != nil {
			return nil, storageError("lookup", subtree, err)
		}
	} else {
		metricIndexLookups.WithLabelValues("noindex").Inc()
		return nil, fmt.Errorf("%w: %s", ErrNoIndex, x)
	}

	for i, p := range paths {
		paths[i] = logicalPath(p)
	}
	slices.Sort(paths)
	return slices.Compact(paths), nil
}

// logicalPath turns a DB path, with or without trailing slash, into a logical
// path with array indices as decimal numbers.
func logicalPath(p string) string {
	segs := strings.Split(strings.Trim(p, "/"), "/")
	for i, s := range segs {
		if dbpath.IsIndex(s) {
			if n, err := dbpath.DecodeIndex(s); err == nil {
				segs[i] = strconv.Itoa(n)
			}
		}
	}
	return "/" + strings.Join(segs, "/")
}
