package record

import (
	"encoding/json"
	"errors"
	"reflect"
	"sort"
	"strings"
	"testing"

	"github.com/mjl-/jsondb/dbpath"
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

func flatten(t *testing.T, base, doc string, index IndexFunc) []Record {
	t.Helper()
	var l []Record
	err := Flatten(base, strings.NewReader(doc), index, func(r Record) error {
		l = append(l, r)
		return nil
	})
	tcheck(t, err, "flatten")
	sort.Slice(l, func(i, j int) bool {
		return l[i].Path < l[j].Path
	})
	return l
}

func TestFlatten(t *testing.T) {
	index := func(path string) string {
		if path == "/users/u1/name/" {
			return "/users/#name"
		}
		return ""
	}
	l := flatten(t, "/users/u1/", `{"name":"Joe","developer":false,"admin":true,"age":25,"gpa":3.52,"token":null,"tags":["a",{}],"empty":[]}`, index)
	exp := []Record{
		{Path: "/users/u1/admin/", Value: TrueValue, OValue: "true"},
		{Path: "/users/u1/age/", Value: "[[225", OValue: "25"},
		{Path: "/users/u1/developer/", Value: FalseValue, OValue: "false"},
		{Path: "/users/u1/empty/", Value: EmptyArrayValue},
		{Path: "/users/u1/gpa/", Value: "[352-", OValue: "3.52"},
		{Path: "/users/u1/name/", Value: "`Joe", Index: "/users/#name"},
		{Path: "/users/u1/tags/[0/", Value: "`a"},
		{Path: "/users/u1/tags/[1/", Value: EmptyObjectValue},
		{Path: "/users/u1/token/", Value: NullValue, OValue: "null"},
	}
	tcompare(t, l, exp)

	// Scalar at the base path.
	tcompare(t, flatten(t, "/x/", `"hi"`, nil), []Record{{Path: "/x/", Value: "`hi"}})
}

func TestFlattenErrors(t *testing.T) {
	test := func(doc string, exp error) {
		t.Helper()
		var n int
		err := Flatten("/", strings.NewReader(doc), nil, func(r Record) error {
			n++
			return nil
		})
		if !errors.Is(err, exp) {
			t.Fatalf("flatten %q: got err %v, expected %v", doc, err, exp)
		}
	}
	for _, s := range []string{"[", "]", ".", "%", "$", "#", "/", "\n"} {
		doc, err := json.Marshal(map[string]string{"bad" + s + "key": "x"})
		tcheck(t, err, "marshal")
		test(string(doc), dbpath.ErrInvalidKey)
	}
	test(`{"0":"x"}`, dbpath.ErrInvalidKey)
	test(`{"a":1} {"b":2}`, ErrSyntax)
	test(`{"a":`, ErrSyntax)
	test(`{"a":1`, ErrSyntax)
	test(`nope`, ErrSyntax)
	test(``, ErrSyntax)
}

func TestRoundtrip(t *testing.T) {
	docs := []string{
		`{"name":"Hiram Chirino","props":{"city":"Tampa","state":"FL"}}`,
		`["hi",100,"other"]`,
		`[1,2,3,4,5,6,7,8,9,10,11,12,13]`,
		`{"a":{},"b":[],"c":null,"d":[null,{"x":[[1,2],[]]}]}`,
		`"just a string"`,
		`-12.5e3`,
		`null`,
		`{}`,
		`[]`,
		`{"html":"<a href=\"x\">&</a>","unicode":"ünïcode  "}`,
		`[[[]]]`,
	}
	for _, doc := range docs {
		for _, base := range []string{"/", "/some/path/"} {
			l := flatten(t, base, doc, nil)
			s, ok, err := Unflatten(base, l, Options{})
			tcheck(t, err, "unflatten")
			if !ok {
				t.Fatalf("no output for %s", doc)
			}
			var exp, got any
			tcheck(t, json.Unmarshal([]byte(doc), &exp), "parse input")
			tcheck(t, json.Unmarshal([]byte(s), &got), "parse output "+s)
			tcompare(t, got, exp)
		}
	}
}

func TestWriterOptions(t *testing.T) {
	doc := `{"name":"Hiram Chirino","props":{"city":"Tampa","state":"FL","more-props":{"city":"Tampa","state":"FL"}}}`
	l := flatten(t, "/test/", doc, nil)

	test := func(opts Options, exp string) {
		t.Helper()
		s, ok, err := Unflatten("/test/", l, opts)
		tcheck(t, err, "unflatten")
		tcompare(t, ok, true)
		tcompare(t, s, exp)
	}

	test(Options{Depth: 1}, `{"name":"Hiram Chirino","props":true}`)
	test(Options{Depth: 2}, `{"name":"Hiram Chirino","props":{"city":"Tampa","more-props":true,"state":"FL"}}`)
	test(Options{LimitToFirst: 1}, `{"name":"Hiram Chirino"}`)
	test(Options{Depth: 1, Callback: "myfunction"}, `myfunction({"name":"Hiram Chirino","props":true})`)
	test(Options{Depth: 1, PrettyPrint: true}, "{\n  \"name\": \"Hiram Chirino\",\n  \"props\": true\n}")

	s, ok, err := Unflatten("/test/", nil, Options{Callback: "x"})
	tcheck(t, err, "unflatten without records")
	tcompare(t, ok, false)
	tcompare(t, s, "")
}

func TestArrayGaps(t *testing.T) {
	l := []Record{
		{Path: "/a/[2/", Value: "`c"},
		{Path: "/a/[[210/", Value: "`k"},
	}
	s, _, err := Unflatten("/a/", l, Options{})
	tcheck(t, err, "unflatten")
	tcompare(t, s, `[null,null,"c",null,null,null,null,null,null,null,"k"]`)
}

func TestReverse(t *testing.T) {
	l := []Record{
		{Path: "/a/[[210/", Value: "`k"},
		{Path: "/a/[2/[0/", Value: "`c0"},
		{Path: "/a/[2/[1/", Value: "`c1"},
		{Path: "/a/[0/", Value: "`a"},
	}
	s, _, err := Unflatten("/a/", l, Options{Reverse: true})
	tcheck(t, err, "unflatten")
	tcompare(t, s, `["k",["c0","c1"],"a"]`)

	// Nested arrays must still be ascending.
	l = []Record{
		{Path: "/a/[0/[1/", Value: "`x"},
		{Path: "/a/[0/[0/", Value: "`y"},
	}
	_, _, err = Unflatten("/a/", l, Options{Reverse: true})
	if !errors.Is(err, ErrConsistency) {
		t.Fatalf("got err %v, expected consistency error", err)
	}
}

func TestConsistency(t *testing.T) {
	test := func(l []Record) {
		t.Helper()
		_, _, err := Unflatten("/", l, Options{})
		if !errors.Is(err, ErrConsistency) {
			t.Fatalf("got err %v, expected consistency error", err)
		}
	}

	// Array and object children.
	test([]Record{
		{Path: "/a/[0/", Value: "`x"},
		{Path: "/a/b/", Value: "`y"},
	})
	// Value with children.
	test([]Record{
		{Path: "/a/", Value: "`x"},
		{Path: "/a/b/", Value: "`y"},
	})
	// Root value with children.
	test([]Record{
		{Path: "/", Value: "`x"},
		{Path: "/b/", Value: "`y"},
	})
	// Unknown value encoding.
	test([]Record{
		{Path: "/a/", Value: "?"},
	})
	// Number without original.
	test([]Record{
		{Path: "/a/", Value: "[1"},
	})
	// Array index out of order.
	test([]Record{
		{Path: "/[1/", Value: "`x"},
		{Path: "/[0/", Value: "`y"},
	})
}

func TestEncodeValue(t *testing.T) {
	test := func(v any, exp string) {
		t.Helper()
		s, err := EncodeValue(v)
		tcheck(t, err, "encode")
		tcompare(t, s, exp)
	}
	test(nil, NullValue)
	test(true, TrueValue)
	test(false, FalseValue)
	test("u2", "`u2")
	test(10, "[[210")
	test(json.Number("3.52"), "[352-")
	test(9.0, "[9")

	if _, err := EncodeValue(struct{}{}); err == nil {
		t.Fatalf("expected error for struct")
	}
}
