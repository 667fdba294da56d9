package dbpath

import (
	"errors"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"testing"
)

func tcompare(t *testing.T, got, exp any) {
	t.Helper()
	if !reflect.DeepEqual(got, exp) {
		t.Fatalf("got:\n%#v\nexpected:\n%#v", got, exp)
	}
}

func TestValidateKey(t *testing.T) {
	for _, s := range []string{"[", "]", ".", "%", "$", "#", "/", "\n", "\x01", "\x7f"} {
		err := ValidateKey("bad" + s + "key")
		if err == nil || !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("key with %q: got err %v, expected invalid key", s, err)
		}
		if !strings.HasPrefix(err.Error(), "Invalid key.") {
			t.Fatalf("error message %q", err.Error())
		}
	}
	if err := ValidateKey(""); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("empty key: %v", err)
	}
	if err := ValidateKey(strings.Repeat("x", MaxKeyLength+1)); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("long key: %v", err)
	}
	for _, s := range []string{"name", "user2:1", ":id", "more-props", "ünïcode", "a b"} {
		if err := ValidateKey(s); err != nil {
			t.Fatalf("valid key %q: %v", s, err)
		}
	}
}

func TestValidateMember(t *testing.T) {
	for _, s := range []string{"0", "1", "42", "007", "bad.key"} {
		if err := ValidateMember(s); !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("member %q: got err %v, expected invalid key", s, err)
		}
	}
	for _, s := range []string{"a1", "1a", "-1", "1.5", ":42"} {
		if err := ValidateMember(s); err != nil {
			t.Fatalf("valid member %q: %v", s, err)
		}
	}
}

func TestToDBPath(t *testing.T) {
	test := func(path, exp string) {
		t.Helper()
		p, err := ToDBPath(path)
		if err != nil {
			t.Fatalf("ToDBPath %q: %v", path, err)
		}
		tcompare(t, p, exp)
	}
	test("", "/")
	test("/", "/")
	test("/test", "/test/")
	test("test/", "/test/")
	test("/users/u1000/name", "/users/u1000/name/")
	test("/data/1", "/data/[1/")
	test("/data/10/x", "/data/[[210/x/")
	test("//a//b", "/a/b/")

	for _, s := range []string{"/test[", "/test]", "/te.st", "/a/%", "/$", "/#x", "/a\nb"} {
		_, err := ToDBPath(s)
		if !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("path %q: got %v, expected invalid key", s, err)
		}
	}
}

func TestParents(t *testing.T) {
	tcompare(t, Parents("/"), []string(nil))
	tcompare(t, Parents("/a/"), []string(nil))
	tcompare(t, Parents("/a/b/c/"), []string{"/a/", "/a/b/"})
}

func TestNormalize(t *testing.T) {
	tcompare(t, Normalize("/test/"), "/test")
	tcompare(t, Normalize("test"), "/test")
	tcompare(t, Normalize("/"), "/")
	tcompare(t, Normalize(""), "/")
}

func TestSegments(t *testing.T) {
	tcompare(t, Segments("/a/", "/a/"), []string(nil))
	tcompare(t, Segments("/a/", "/a/b/[0/c/"), []string{"b", "[0", "c"})
}

func TestIncrementKey(t *testing.T) {
	tcompare(t, IncrementKey("/a/"), "/a0")
	tcompare(t, IncrementKey("user3"), "user4")
	tcompare(t, IncrementKey(""), "")
}

func TestEncodeNumber(t *testing.T) {
	test := func(lit, exp string) {
		t.Helper()
		s, err := EncodeNumber(lit)
		if err != nil {
			t.Fatalf("EncodeNumber %q: %v", lit, err)
		}
		tcompare(t, s, exp)
	}
	test("0", "[0")
	test("9", "[9")
	test("10", "[[210")
	test("123", "[[3123")
	test("1.5", "[15-")
	test("-1", "-8[")
	test("-10", "--789[")
	test("1e2", "[[3100")
	test("1.5E+1", "[[215")
	test("25e-1", "[25-")
	test("-1e0", "-8[")
	test("1e400", "[[[3401"+"1"+strings.Repeat("0", 400))

	for _, s := range []string{"", "-", "1.", "x", "1.x", "1e", "1e+", "1ex", "1e99999"} {
		if _, err := EncodeNumber(s); err == nil {
			t.Fatalf("EncodeNumber %q: expected error", s)
		}
	}
}

func TestNumberOrder(t *testing.T) {
	nums := []float64{-1000, -101.5, -100, -10, -9.75, -9.5, -9, -1.5, -1, -0.25, 0, 0.25, 0.5, 1, 1.25, 1.5, 2, 9, 9.5, 10, 11, 99, 100, 1000, 12345678901}
	var l []string
	for _, n := range nums {
		s, err := EncodeNumber(strconv.FormatFloat(n, 'f', -1, 64))
		if err != nil {
			t.Fatalf("encode %v: %v", n, err)
		}
		l = append(l, s)
	}
	if !sort.StringsAreSorted(l) {
		t.Fatalf("encoded numbers not sorted: %q", l)
	}
}

func TestIndex(t *testing.T) {
	var prev string
	for i := 0; i < 2000; i++ {
		s := EncodeIndex(i)
		if !IsIndex(s) {
			t.Fatalf("IsIndex %q false", s)
		}
		if i > 0 && s <= prev {
			t.Fatalf("index %d encoded as %q, not after %q", i, s, prev)
		}
		prev = s
		n, err := DecodeIndex(s)
		if err != nil {
			t.Fatalf("decode %q: %v", s, err)
		}
		tcompare(t, n, i)
	}
	for _, s := range []string{"", "5", "[", "[[2", "[[x0"} {
		if _, err := DecodeIndex(s); err == nil {
			t.Fatalf("DecodeIndex %q: expected error", s)
		}
	}
}
