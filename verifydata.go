package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strings"

	bolt "go.etcd.io/bbolt"

	"github.com/mjl-/bstore"

	"github.com/mjl-/jsondb/dbpath"
	"github.com/mjl-/jsondb/jsondb"
	"github.com/mjl-/jsondb/record"
)

func cmdVerifydata(c *cmd) {
	c.params = "[database-file]"
	c.help = `Verify the contents of a database file, typically of a backup.

Verifydata checks that the file is a valid BoltDB/bstore database, that all
rows have valid paths and values, that no row has a value at a parent path of
another row, and that the index entries match the rows.

Without database-file, the database of the config file is checked. Only
databases of the bstore backend can be verified. The database must not be in
use by another process.
`
	args := c.Parse()
	if len(args) > 1 {
		c.Usage()
	}

	var path string
	if len(args) == 1 {
		path = args[0]
	} else {
		conf := mustLoadConfig()
		if conf.Backend == jsondb.BackendSQLite {
			log.Fatalf("verifydata only supports the bstore backend")
		}
		path = conf.DBPath()
	}

	ctxbg := context.Background()

	// Check for error. If so, write a log line, including the path, and set fail so we
	// can warn at the end.
	var fail bool
	checkf := func(err error, path, format string, args ...any) {
		if err == nil {
			return
		}
		fail = true
		log.Printf("error: %s: %s: %v", path, fmt.Sprintf(format, args...), err)
	}

	// Check a database file by opening it with BoltDB and bstore and lightly checking
	// its contents.
	checkDB := func(path string) {
		_, err := os.Stat(path)
		checkf(err, path, "checking if database file exists")
		if err != nil {
			return
		}
		bdb, err := bolt.Open(path, 0600, nil)
		checkf(err, path, "open database with bolt")
		if err != nil {
			return
		}
		// Check BoltDB consistency.
		err = bdb.View(func(tx *bolt.Tx) error {
			for err := range tx.Check() {
				checkf(err, path, "bolt database problem")
			}
			return nil
		})
		checkf(err, path, "reading bolt database")
		if err := bdb.Close(); err != nil {
			log.Printf("closing database file: %v", err)
		}

		opts := bstore.Options{MustExist: true, RegisterLogger: c.log.Logger}
		db, err := bstore.Open(ctxbg, path, &opts, jsondb.DBTypes...)
		checkf(err, path, "open database with bstore")
		if err != nil {
			return
		}
		defer func() {
			if err := db.Close(); err != nil {
				log.Printf("closing database file: %v", err)
			}
		}()

		// Check bstore consistency, if it can export all records for all types. This is a
		// quick way to get bstore to parse all records.
		checkRecords(ctxbg, db, path, checkf)
		checkRows(ctxbg, db, path, checkf)
	}

	checkDB(path)
	if fail {
		log.Fatalf("errors were found")
	}
	fmt.Printf("%s: OK\n", path)
}

// checkRecords checks that bstore can parse all records of all types, by
// exporting them.
func checkRecords(ctx context.Context, db *bstore.DB, path string, checkf func(err error, path, format string, args ...any)) {
	err := db.Read(ctx, func(tx *bstore.Tx) error {
		types, err := tx.Types()
		checkf(err, path, "getting bstore types from database")
		if err != nil {
			return nil
		}
		for _, t := range types {
			var fields []string
			err := tx.Records(t, &fields, func(m map[string]any) error {
				return nil
			})
			checkf(err, path, "parsing record for type %q", t)
		}
		return nil
	})
	checkf(err, path, "read transaction")
}

// checkRows verifies rows and index entries, calling checkf for problems.
func checkRows(ctx context.Context, db *bstore.DB, path string, checkf func(err error, path, format string, args ...any)) {
	var rows []jsondb.Row
	err := bstore.QueryDB[jsondb.Row](ctx, db).SortAsc("Path").ForEach(func(r jsondb.Row) error {
		if !strings.HasPrefix(r.Path, "/") || !strings.HasSuffix(r.Path, "/") {
			checkf(errors.New("path must start and end with a slash"), path, "row %q", r.Path)
		} else if r.Path != "/" {
			for _, seg := range strings.Split(strings.Trim(r.Path, "/"), "/") {
				if dbpath.IsIndex(seg) {
					if _, err := dbpath.DecodeIndex(seg); err != nil {
						checkf(err, path, "row %q", r.Path)
					}
				} else if err := dbpath.ValidateKey(seg); err != nil {
					checkf(err, path, "row %q", r.Path)
				}
			}
		}
		rows = append(rows, r)
		return nil
	})
	checkf(err, path, "reading rows")

	// Rows are sorted by path, so a row with descendants is followed by its first
	// descendant.
	for i, r := range rows {
		if i+1 < len(rows) && strings.HasPrefix(rows[i+1].Path, r.Path) {
			checkf(errors.New("value at path that has children"), path, "row %q, child %q", r.Path, rows[i+1].Path)
		}
		rec := record.Record{Path: r.Path, Value: r.Value, OValue: r.OValue}
		if _, _, err := record.Unflatten(r.Path, []record.Record{rec}, record.Options{}); err != nil {
			checkf(err, path, "row %q", r.Path)
		}
	}

	values := map[string]string{}
	for _, r := range rows {
		values[r.Path] = r.Value
	}
	err = bstore.QueryDB[jsondb.IndexEntry](ctx, db).ForEach(func(e jsondb.IndexEntry) error {
		v, ok := values[e.Path]
		if !ok {
			checkf(fs.ErrNotExist, path, "index entry %q for %q without row", e.Idx, e.Path)
		} else if v != e.Value {
			checkf(errors.New("value mismatch"), path, "index entry %q for %q has value %q, row has %q", e.Idx, e.Path, e.Value, v)
		}
		return nil
	})
	checkf(err, path, "reading index entries")
}
