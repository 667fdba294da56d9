// Package dbpath validates logical JSON paths and converts them into the
// sortable keys the store uses for rows.
//
// A logical path like /users/u1/tags/3 becomes the DB path /users/u1/tags/[3/.
// DB paths always start and end with a slash, the root is "/". Segments that
// are non-negative integers are array indices, and are encoded so lexical
// order is numeric order, see EncodeNumber.
package dbpath

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// MaxKeyLength is the maximum length in characters of a single path segment or
// JSON member name.
const MaxKeyLength = 768

const (
	// IndexPrefix starts each encoded array index segment, and encoded
	// non-negative numbers.
	IndexPrefix = '['

	// NegPrefix starts encoded negative numbers.
	NegPrefix = '-'
)

// ErrInvalidKey is matched by errors.Is for all *InvalidKeyError.
var ErrInvalidKey = errors.New("invalid key")

// InvalidKeyError is returned for a path segment or JSON member name that
// cannot be stored.
type InvalidKeyError struct {
	Key    string
	Reason string
}

func (e *InvalidKeyError) Error() string {
	return fmt.Sprintf("Invalid key. %s Key: %s", e.Reason, e.Key)
}

func (e *InvalidKeyError) Is(err error) bool {
	return err == ErrInvalidKey
}

// ValidateKey checks that key can be used as a single path segment or JSON
// member name. Characters that would break prefix scans or JSON path syntax are
// rejected: . % $ # [ ] / and ASCII control characters 0-31 and 127.
func ValidateKey(key string) error {
	if key == "" {
		return &InvalidKeyError{key, "Cannot be empty."}
	}
	for _, c := range key {
		switch c {
		case '.', '%', '$', '#', '[', ']', '/', 127:
			return &InvalidKeyError{key, "Cannot contain ., %, $, #, [, ], /, or ASCII control characters 0-31 or 127."}
		}
		if c < 32 {
			return &InvalidKeyError{key, "Cannot contain ., %, $, #, [, ], /, or ASCII control characters 0-31 or 127."}
		}
	}
	if utf8.RuneCountInString(key) > MaxKeyLength {
		return &InvalidKeyError{key, fmt.Sprintf("Key cannot be longer than %d characters.", MaxKeyLength)}
	}
	return nil
}

// ValidateMember checks that key can be used as a JSON object member name. In
// addition to ValidateKey, names of only digits are rejected: in a path they
// address an array element, so the member could not be read back by path.
func ValidateMember(key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if isInteger(key) {
		return &InvalidKeyError{key, "Member name cannot consist of only digits."}
	}
	return nil
}

func isInteger(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// ToDBPath validates a logical path and returns its DB path. Empty segments are
// ignored, so "", "/" and "//" all return the root "/".
func ToDBPath(path string) (string, error) {
	var b strings.Builder
	b.WriteByte('/')
	for _, seg := range strings.Split(path, "/") {
		if seg == "" {
			continue
		}
		if err := ValidateKey(seg); err != nil {
			return "", err
		}
		if isInteger(seg) {
			n, err := strconv.Atoi(seg)
			if err != nil {
				return "", &InvalidKeyError{seg, "Array index out of range."}
			}
			seg = EncodeIndex(n)
		}
		b.WriteString(seg)
		b.WriteByte('/')
	}
	return b.String(), nil
}

// Parents returns the DB paths of all ancestors of dbPath, shortest first,
// excluding the root.
func Parents(dbPath string) []string {
	var l []string
	p := strings.TrimSuffix(dbPath, "/")
	for {
		i := strings.LastIndexByte(p, '/')
		if i <= 0 {
			break
		}
		p = p[:i]
		l = append([]string{p + "/"}, l...)
	}
	return l
}

// Normalize returns path in the form used in events: with a leading slash and
// without trailing slash.
func Normalize(path string) string {
	path = strings.TrimSuffix(path, "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}

// Segments returns the segments of a DB path relative to base. Both are DB
// paths, and base must be a prefix of path.
func Segments(base, path string) []string {
	rel := strings.TrimSuffix(strings.TrimPrefix(path, base), "/")
	if rel == "" {
		return nil
	}
	return strings.Split(rel, "/")
}

// IsIndex returns whether segment is an encoded array index.
func IsIndex(segment string) bool {
	return segment != "" && segment[0] == IndexPrefix
}

// IncrementKey returns s with its last byte incremented. For a DB path prefix
// p, all paths starting with p sort before IncrementKey(p).
func IncrementKey(s string) string {
	if s == "" {
		return s
	}
	b := []byte(s)
	b[len(b)-1]++
	return string(b)
}

// EncodeIndex returns the segment for array index n, which must not be negative.
func EncodeIndex(n int) string {
	s, err := EncodeNumber(strconv.Itoa(n))
	if err != nil {
		panic(fmt.Sprintf("encoding array index %d: %v", n, err))
	}
	return s
}

// DecodeIndex parses an encoded array index segment.
func DecodeIndex(segment string) (int, error) {
	remaining := strings.TrimLeft(segment, string(IndexPrefix))
	if remaining == "" || len(remaining) == len(segment) {
		return 0, fmt.Errorf("not an array index: %q", segment)
	}
	levels := len(segment) - len(remaining)
	rc := 1
	for ; remaining != ""; levels-- {
		if rc > len(remaining) {
			return 0, fmt.Errorf("truncated array index: %q", segment)
		}
		x := remaining[:rc]
		remaining = remaining[rc:]
		n, err := strconv.Atoi(x)
		if err != nil {
			return 0, fmt.Errorf("bad array index %q: %v", segment, err)
		}
		rc = n
	}
	if levels != 0 {
		return 0, fmt.Errorf("bad array index length: %q", segment)
	}
	return rc, nil
}

// EncodeNumber returns a string for the JSON number literal that sorts
// lexically in numeric order relative to other encoded numbers.
//
// The integer part is written with the ELEN scheme: the digits are preceded
// by their length, recursively, until the length is a single digit, and one
// prefix character is written per level. For 10 that gives "[[210", for 9 just
// "[9". A fraction is appended as digits followed by a terminator. Negative
// numbers have all digits inverted (9-d) and use '-' as prefix, and always end
// with '[' so a shorter negative integer sorts after its longer fractions.
func EncodeNumber(lit string) (string, error) {
	if strings.ContainsAny(lit, "eE") {
		var err error
		lit, err = expandExponent(lit)
		if err != nil {
			return "", err
		}
	}

	seq := lit
	prefix := byte(IndexPrefix)
	if strings.HasPrefix(seq, "-") {
		prefix = NegPrefix
		seq = seq[1:]
	}
	var fraction string
	var hasFraction bool
	if i := strings.IndexByte(seq, '.'); i >= 0 {
		fraction = seq[i+1:]
		seq = seq[:i]
		hasFraction = true
		if !isInteger(fraction) {
			return "", fmt.Errorf("bad fraction in number %q", lit)
		}
	}
	if !isInteger(seq) {
		return "", fmt.Errorf("bad number %q", lit)
	}

	seqs := []string{seq}
	for len(seq) > 1 {
		seq = strconv.Itoa(len(seq))
		seqs = append(seqs, seq)
	}

	var b []byte
	for range seqs {
		b = append(b, prefix)
	}
	for i := len(seqs) - 1; i >= 0; i-- {
		b = append(b, seqs[i]...)
	}
	if hasFraction {
		b = append(b, fraction...)
	}
	if prefix == NegPrefix {
		b = append(b, IndexPrefix)
		for i, c := range b {
			if c >= '0' && c <= '9' {
				b[i] = '9' - (c - '0')
			}
		}
	} else if hasFraction {
		b = append(b, NegPrefix)
	}
	return string(b), nil
}

// maxExponent limits the digits written when expanding an exponent.
const maxExponent = 10000

// expandExponent rewrites a number literal with an exponent into plain
// decimal notation, without leading zeros in the integer part or trailing zeros
// in the fraction. Values beyond the range of a float64 are kept exactly.
func expandExponent(lit string) (string, error) {
	i := strings.IndexAny(lit, "eE")
	mant, exps := lit[:i], lit[i+1:]
	exps = strings.TrimPrefix(exps, "+")
	neg := strings.HasPrefix(mant, "-")
	mant = strings.TrimPrefix(mant, "-")

	intPart, frac := mant, ""
	if j := strings.IndexByte(mant, '.'); j >= 0 {
		intPart, frac = mant[:j], mant[j+1:]
		if !isInteger(frac) {
			return "", fmt.Errorf("bad fraction in number %q", lit)
		}
	}
	if !isInteger(intPart) || !isInteger(strings.TrimPrefix(exps, "-")) {
		return "", fmt.Errorf("bad number %q", lit)
	}
	exp, err := strconv.Atoi(exps)
	if err != nil || exp > maxExponent || exp < -maxExponent {
		return "", fmt.Errorf("exponent out of range in number %q", lit)
	}

	digits := intPart + frac
	point := len(intPart) + exp
	switch {
	case point <= 0:
		intPart, frac = "0", strings.Repeat("0", -point)+digits
	case point >= len(digits):
		intPart, frac = digits+strings.Repeat("0", point-len(digits)), ""
	default:
		intPart, frac = digits[:point], digits[point:]
	}
	intPart = strings.TrimLeft(intPart, "0")
	if intPart == "" {
		intPart = "0"
	}
	frac = strings.TrimRight(frac, "0")

	s := intPart
	if frac != "" {
		s += "." + frac
	}
	if neg {
		s = "-" + s
	}
	return s, nil
}
