package migrate

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/mjl-/jsondb/jsondb"
)

var ctxbg = context.Background()

func tcheck(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %s", msg, err)
	}
}

func tcompare(t *testing.T, got, exp any) {
	t.Helper()
	if !reflect.DeepEqual(got, exp) {
		t.Fatalf("got %v, expected %v", got, exp)
	}
}

func TestRun(t *testing.T) {
	s, err := jsondb.Open(ctxbg, pkglog, jsondb.Options{Path: filepath.Join(t.TempDir(), "jsondb.db")})
	tcheck(t, err, "open")
	defer s.Close()

	runs := map[int]int{}
	script := func(v int, path, doc string) Script {
		return func(ctx context.Context, tx *jsondb.Tx) error {
			runs[v]++
			return tx.Set(path, doc)
		}
	}
	scripts := map[int]Script{
		1: script(1, "/settings", `{"theme":"dark"}`),
		3: script(3, "/settings/lang", `"en"`),
	}

	v, err := Version(ctxbg, s)
	tcheck(t, err, "version")
	tcompare(t, v, 0)

	from, to, err := Runner{Store: s, Target: 3, Scripts: scripts}.Run(ctxbg)
	tcheck(t, err, "run")
	tcompare(t, []int{from, to}, []int{0, 3})
	tcompare(t, runs, map[int]int{1: 1, 3: 1})
	doc, _, err := s.Get(ctxbg, "/settings", jsondb.GetOptions{})
	tcheck(t, err, "get")
	tcompare(t, doc, `{"lang":"en","theme":"dark"}`)

	// Running again does nothing.
	from, to, err = Runner{Store: s, Target: 3, Scripts: scripts}.Run(ctxbg)
	tcheck(t, err, "run again")
	tcompare(t, []int{from, to}, []int{3, 3})
	tcompare(t, runs, map[int]int{1: 1, 3: 1})

	// A failing script rolls back its changes and keeps the previous version.
	failing := map[int]Script{
		4: script(4, "/settings/lang", `"nl"`),
		5: func(ctx context.Context, tx *jsondb.Tx) error {
			if err := tx.Set("/settings", `{}`); err != nil {
				return err
			}
			return errors.New("boom")
		},
	}
	from, to, err = Runner{Store: s, Target: 5, Scripts: failing}.Run(ctxbg)
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected error from failing script, got %v", err)
	}
	tcompare(t, []int{from, to}, []int{3, 4})
	v, err = Version(ctxbg, s)
	tcheck(t, err, "version")
	tcompare(t, v, 4)
	doc, _, err = s.Get(ctxbg, "/settings", jsondb.GetOptions{})
	tcheck(t, err, "get")
	tcompare(t, doc, `{"lang":"nl","theme":"dark"}`)

	// A panicking script is turned into an error.
	panicking := map[int]Script{
		5: func(ctx context.Context, tx *jsondb.Tx) error {
			panic("bad script")
		},
	}
	_, _, err = Runner{Store: s, Target: 5, Scripts: panicking}.Run(ctxbg)
	if err == nil || !strings.Contains(err.Error(), "bad script") {
		t.Fatalf("expected error from panicking script, got %v", err)
	}
	v, err = Version(ctxbg, s)
	tcheck(t, err, "version")
	tcompare(t, v, 4)

	// A newer stored version than the target resets the database.
	from, to, err = Runner{Store: s, Target: 1, Scripts: scripts}.Run(ctxbg)
	tcheck(t, err, "run with lower target")
	tcompare(t, []int{from, to}, []int{4, 1})
	tcompare(t, runs[1], 2)
	doc, _, err = s.Get(ctxbg, "/settings", jsondb.GetOptions{})
	tcheck(t, err, "get")
	tcompare(t, doc, `{"theme":"dark"}`)

	// Explicit reset.
	tcheck(t, s.Set(ctxbg, "/other", `1`), "set")
	_, to, err = Runner{Store: s, Target: 2, Reset: true}.Run(ctxbg)
	tcheck(t, err, "reset")
	tcompare(t, to, 2)
	exists, err := s.Exists(ctxbg, "/other")
	tcheck(t, err, "exists")
	tcompare(t, exists, false)

	_, _, err = Runner{Store: s, Target: -1}.Run(ctxbg)
	if err == nil {
		t.Fatalf("expected error for negative target")
	}

	tcheck(t, s.Set(ctxbg, VersionPath, `"x"`), "set bad version")
	_, err = Version(ctxbg, s)
	if err == nil {
		t.Fatalf("expected error for bad version")
	}
}
