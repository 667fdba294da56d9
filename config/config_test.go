package config

import (
	"bytes"
	"os"
	"path/filepath"
	"log/slog"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/mjl-/sconf"

	"github.com/mjl-/jsondb/jsondb"
	"github.com/mjl-/jsondb/mlog"
)

func tcheck(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %s", msg, err)
	}
}

func tcompare(t *testing.T, got, exp any) {
	t.Helper()
	if !reflect.DeepEqual(got, exp) {
		t.Fatalf("got:\n%#v\nexpected:\n%#v", got, exp)
	}
}

func writeConfig(t *testing.T, text string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config", "jsondb.conf")
	err := os.MkdirAll(filepath.Dir(p), 0770)
	tcheck(t, err, "mkdir")
	err = os.WriteFile(p, []byte(text), 0660)
	tcheck(t, err, "write config")
	return p
}

func TestParseConfig(t *testing.T) {
	p := writeConfig(t, `DataDir: ../data
LogLevel: info
PackageLogLevels:
	migrate: debug
Indexes:
	-
		Path: /users
		Field: name
Backend: sqlite
SQLite:
	BusyTimeout: 2s
`)
	c, errs := ParseConfig(p)
	if len(errs) > 0 {
		t.Fatalf("parse config: %v", errs)
	}
	tcompare(t, c.Log, map[string]slog.Level{"": mlog.LevelInfo, "migrate": mlog.LevelDebug})
	tcompare(t, c.Backend, jsondb.BackendSQLite)
	tcompare(t, c.UnindexedLookup, "fail")
	tcompare(t, c.OpenTimeout, 5*time.Second)
	tcompare(t, c.DBPath(), filepath.Join(filepath.Dir(p), "../data", "jsondb.sqlite"))
	tcompare(t, c.DataDirPath("/abs/file"), "/abs/file")

	opts := c.StoreOptions()
	tcompare(t, opts.Indexes, []jsondb.Index{{Path: "/users", Field: "name"}})
	tcompare(t, opts.SQLite.BusyTimeout, 2*time.Second)
	tcompare(t, opts.UnindexedLookup, jsondb.LookupFail)
}

func TestParseConfigErrors(t *testing.T) {
	p := writeConfig(t, `DataDir: data
LogLevel: loud
PackageLogLevels:
	jsondb: quiet
Backend: postgres
UnindexedLookup: guess
Indexes:
	-
		Path: /users
		Field: bad.field
	-
		Path: /pair
		Field: key
	-
		Path: /pair/
		Field: key
`)
	_, errs := ParseConfig(p)
	var l []string
	for _, err := range errs {
		l = append(l, err.Error())
	}
	exp := []string{
		`invalid log level "loud"`,
		`invalid package log level "quiet"`,
		`unknown backend "postgres", must be bstore or sqlite`,
		`unknown unindexed lookup policy "guess", must be fail or scan`,
		`index 0: Invalid key.`,
		`index 2: duplicate index for path /pair/ and field key`,
	}
	if len(l) != len(exp) {
		t.Fatalf("got errors %q, expected %d", l, len(exp))
	}
	for i := range exp {
		if !strings.HasPrefix(l[i], exp[i]) {
			t.Fatalf("error %d: got %q, expected prefix %q", i, l[i], exp[i])
		}
	}

	_, errs = ParseConfig(filepath.Join(t.TempDir(), "missing.conf"))
	if len(errs) != 1 {
		t.Fatalf("expected error for missing config file")
	}

	p = writeConfig(t, "DataDir: data\nLogLevel: info\nUnknownField: x\n")
	_, errs = ParseConfig(p)
	if len(errs) != 1 {
		t.Fatalf("expected error for unknown field, got %v", errs)
	}
}

func TestWrite(t *testing.T) {
	var b bytes.Buffer
	sc := Static{DataDir: "data", LogLevel: "info", Indexes: []Index{{"/users", "name"}}, SQLite: SQLite{BusyTimeout: time.Second}}
	err := sconf.Write(&b, sc)
	tcheck(t, err, "write")
	var c Static
	err = sconf.Parse(&b, &c)
	tcheck(t, err, "parse written config")
	tcompare(t, c, sc)

	b.Reset()
	err = sconf.Describe(&b, &Static{})
	tcheck(t, err, "describe")
	if !strings.Contains(b.String(), "UnindexedLookup:") {
		t.Fatalf("describe output misses field:\n%s", b.String())
	}
}
