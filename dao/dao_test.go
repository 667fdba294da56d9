package dao

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
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
		t.Fatalf("got:\n%#v\nexpected:\n%#v", got, exp)
	}
}

type Connection struct {
	ID    string   `json:"id,omitempty"`
	Name  string   `json:"name"`
	Uses  int      `json:"uses"`
	Tags  []string `json:"tags,omitempty"`
	Ready bool     `json:"ready"`
}

func (c Connection) WithName(name string) Connection {
	return With(c, func(c *Connection) { c.Name = name })
}

func connections(s *jsondb.Store) Collection[Connection] {
	return Collection[Connection]{
		Store:  s,
		Name:   "connections",
		ID:     func(c Connection) string { return c.ID },
		WithID: func(c Connection, id string) Connection { return With(c, func(c *Connection) { c.ID = id }) },
		Accessors: Accessors[Connection]{
			"name":  func(c Connection) any { return c.Name },
			"uses":  func(c Connection) any { return c.Uses },
			"ready": func(c Connection) any { return c.Ready },
		},
	}
}

func TestCollection(t *testing.T) {
	s, err := jsondb.Open(ctxbg, pkglog, jsondb.Options{
		Path:    filepath.Join(t.TempDir(), "jsondb.db"),
		Indexes: []jsondb.Index{{Path: "/connections", Field: "name"}},
	})
	tcheck(t, err, "open")
	defer s.Close()
	c := connections(s)

	c1, err := c.Create(ctxbg, Connection{Name: "slack", Uses: 3, Tags: []string{"chat"}})
	tcheck(t, err, "create")
	if c1.ID == "" {
		t.Fatalf("no id assigned")
	}
	c2, err := c.Create(ctxbg, Connection{ID: "42", Name: "twitter", Uses: 10, Ready: true})
	tcheck(t, err, "create with id")
	_, err = c.Create(ctxbg, Connection{ID: "42", Name: "other"})
	if !errors.Is(err, ErrExists) {
		t.Fatalf("got err %v, expected ErrExists", err)
	}

	// Numeric id is stored as object member, not array index.
	doc, _, err := s.Get(ctxbg, "/connections/:42", jsondb.GetOptions{})
	tcheck(t, err, "get")
	tcompare(t, doc, `{"id":"42","name":"twitter","ready":true,"uses":10}`)

	v, ok, err := c.Fetch(ctxbg, c1.ID)
	tcheck(t, err, "fetch")
	tcompare(t, ok, true)
	tcompare(t, v, c1)
	_, ok, err = c.Fetch(ctxbg, "missing")
	tcheck(t, err, "fetch missing")
	tcompare(t, ok, false)

	ids, err := c.FetchIDs(ctxbg)
	tcheck(t, err, "fetch ids")
	tcompare(t, ids, []string{c1.ID, "42"}) // Generated keys start with '-' until the year 2109.

	renamed := c2.WithName("x")
	tcompare(t, c2.Name, "twitter")
	err = c.Update(ctxbg, renamed)
	tcheck(t, err, "update")
	err = c.Update(ctxbg, Connection{ID: "nope", Name: "x"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got err %v, expected ErrNotFound", err)
	}

	ids, err = c.FetchIDsByProperty(ctxbg, "name", "x")
	tcheck(t, err, "fetch ids by property")
	tcompare(t, ids, []string{"42"})
	v, ok, err = c.FetchByProperty(ctxbg, "name", "slack")
	tcheck(t, err, "fetch by property")
	tcompare(t, ok, true)
	tcompare(t, v.ID, c1.ID)
	_, ok, err = c.FetchByProperty(ctxbg, "name", "twitter")
	tcheck(t, err, "fetch by property")
	tcompare(t, ok, false)

	_, err = c.Create(ctxbg, Connection{ID: "7", Name: "github", Uses: 5})
	tcheck(t, err, "create")

	r, err := c.FetchAll(ctxbg)
	tcheck(t, err, "fetch all")
	tcompare(t, r.TotalCount, 3)

	r, err = c.FetchAll(ctxbg, c.Accessors.Sort("uses", true))
	tcheck(t, err, "fetch all sorted")
	tcompare(t, []string{r.Items[0].Name, r.Items[1].Name, r.Items[2].Name}, []string{"x", "github", "slack"})

	r, err = c.FetchAll(ctxbg, c.Accessors.Sort("name", false), Paginate[Connection](2, 2))
	tcheck(t, err, "fetch all paginated")
	tcompare(t, r.TotalCount, 3)
	tcompare(t, len(r.Items), 1)
	tcompare(t, r.Items[0].Name, "x")

	r, err = c.FetchAll(ctxbg, c.Accessors.Filter("ready", true))
	tcheck(t, err, "fetch all filtered")
	tcompare(t, r.TotalCount, 1)
	tcompare(t, r.Items[0].ID, "42")

	_, err = c.FetchAll(ctxbg, c.Accessors.Filter("color", "red"))
	if err == nil {
		t.Fatalf("expected error for unknown accessor")
	}
	_, err = c.FetchAll(ctxbg, c.Accessors.Filter("uses", "many"))
	if err == nil {
		t.Fatalf("expected error for mismatched types")
	}

	deleted, err := c.Delete(ctxbg, "7")
	tcheck(t, err, "delete")
	tcompare(t, deleted, true)
	deleted, err = c.Delete(ctxbg, "7")
	tcheck(t, err, "delete again")
	tcompare(t, deleted, false)

	deleted, err = c.DeleteAll(ctxbg)
	tcheck(t, err, "delete all")
	tcompare(t, deleted, true)
	ids, err = c.FetchIDs(ctxbg)
	tcheck(t, err, "fetch ids")
	tcompare(t, len(ids), 0)
	r, err = c.FetchAll(ctxbg)
	tcheck(t, err, "fetch all")
	tcompare(t, r.TotalCount, 0)
}

func TestCompare(t *testing.T) {
	test := func(a, b any, exp int) {
		t.Helper()
		c, err := compare(a, b)
		tcheck(t, err, "compare")
		tcompare(t, c, exp)
	}
	test("a", "b", -1)
	test(2, 1.5, 1)
	test(int64(3), 3, 0)
	test(false, true, -1)
	test(true, true, 0)
	if _, err := compare("a", 1); err == nil {
		t.Fatalf("expected error comparing string with int")
	}
}
