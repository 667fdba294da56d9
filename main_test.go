package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/mjl-/bstore"

	"github.com/mjl-/jsondb/jsondb"
	"github.com/mjl-/jsondb/mlog"
)

var ctxbg = context.Background()

func tcheck(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %s", msg, err)
	}
}

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.conf")
	dst := filepath.Join(dir, "dst.conf")
	err := os.WriteFile(src, []byte("DataDir: data\n"), 0660)
	tcheck(t, err, "write source")

	err = copyFile(src, dst)
	tcheck(t, err, "copy")
	buf, err := os.ReadFile(dst)
	tcheck(t, err, "read copy")
	if string(buf) != "DataDir: data\n" {
		t.Fatalf("got copy %q", buf)
	}

	// Existing destinations are not overwritten.
	if err := copyFile(src, dst); err == nil {
		t.Fatalf("expected error for existing destination")
	}
	if err := copyFile(filepath.Join(dir, "missing"), filepath.Join(dir, "other")); err == nil {
		t.Fatalf("expected error for missing source")
	}
	if _, err := os.Stat(filepath.Join(dir, "other")); err == nil {
		t.Fatalf("destination created for missing source")
	}
}

func TestCheckRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jsondb.db")
	opts := jsondb.Options{
		Path:    path,
		Indexes: []jsondb.Index{{Path: "/users", Field: "name"}},
	}
	s, err := jsondb.Open(ctxbg, mlog.New("verifydata", nil), opts)
	tcheck(t, err, "open store")
	err = s.Set(ctxbg, "/users", `{"u1":{"name":"joe","age":25},"u2":{"name":"jane","tags":["a",{}]}}`)
	tcheck(t, err, "set")
	tcheck(t, s.Close(), "close store")

	db, err := bstore.Open(ctxbg, path, &bstore.Options{MustExist: true}, jsondb.DBTypes...)
	tcheck(t, err, "open bstore")
	defer db.Close()

	check := func(nexp int) {
		t.Helper()
		var problems []string
		checkf := func(err error, path, format string, args ...any) {
			if err != nil {
				problems = append(problems, fmt.Sprintf(format, args...)+": "+err.Error())
			}
		}
		checkRecords(ctxbg, db, path, checkf)
		checkRows(ctxbg, db, path, checkf)
		if len(problems) != nexp {
			t.Fatalf("got problems %q, expected %d", problems, nexp)
		}
	}
	check(0)

	// Value at a parent path.
	err = db.Insert(ctxbg, &jsondb.Row{Path: "/users/u1/", Value: "`x"})
	tcheck(t, err, "insert row")
	check(1)
	err = db.Delete(ctxbg, &jsondb.Row{Path: "/users/u1/"})
	tcheck(t, err, "delete row")

	// Index entry not matching its row.
	err = db.Update(ctxbg, &jsondb.IndexEntry{Path: "/users/u1/name/", Idx: "/users/#name", Value: "`bob"})
	tcheck(t, err, "update index entry")
	check(1)

	// Invalid path segment.
	err = db.Insert(ctxbg, &jsondb.Row{Path: "/bad.key/", Value: "`x"})
	tcheck(t, err, "insert row")
	check(2)
}
