// Package record converts JSON documents to and from path-sorted rows.
//
// Flatten turns a JSON value into one Record per scalar, null or empty
// container, each at its own DB path. Writer does the reverse, in a single
// pass over records sorted by path.
package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/mjl-/jsondb/dbpath"
)

// Record is a single stored row.
type Record struct {
	Path   string // DB path, with leading and trailing slash.
	Value  string // Encoded value, starting with one of the prefix characters.
	OValue string // Original literal for numbers and booleans, "null" for null.
	Index  string // Index id if a declared index covers this path, empty otherwise.
}

// Value prefixes. The encoded values of the same type sort in their natural
// order, across types the order is null, false, true, containers, numbers,
// strings.
const (
	NullValue        = "\x00"
	FalseValue       = "\x01"
	TrueValue        = "\x02"
	EmptyObjectValue = "\x03"
	EmptyArrayValue  = "\x04"

	StringPrefix    = '`'
	NumberPrefix    = dbpath.IndexPrefix
	NegNumberPrefix = dbpath.NegPrefix
)

// ErrConsistency is matched by errors.Is for all *ConsistencyError.
var ErrConsistency = errors.New("inconsistent stored rows")

// ConsistencyError indicates stored rows that cannot form a JSON document,
// e.g. a path with both array and object children. It means the data is
// corrupt, it is never caused by input.
type ConsistencyError struct {
	Path string
	Msg  string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("inconsistent rows at %s: %s", e.Path, e.Msg)
}

func (e *ConsistencyError) Is(err error) bool {
	return err == ErrConsistency
}

// ErrSyntax is matched by errors.Is for all *SyntaxError.
var ErrSyntax = errors.New("invalid json document")

// SyntaxError is returned for input that is not a valid JSON document, or not
// of the required type.
type SyntaxError struct {
	Msg string
	Err error // Underlying decoder error, if any.
}

func (e *SyntaxError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid json document: %s: %v", e.Msg, e.Err)
	}
	return "invalid json document: " + e.Msg
}

func (e *SyntaxError) Unwrap() error {
	return e.Err
}

func (e *SyntaxError) Is(err error) bool {
	return err == ErrSyntax
}

// EncodeString returns the encoded value for string s.
func EncodeString(s string) string {
	return string(StringPrefix) + s
}

// EncodeValue returns the encoded value for a Go value, as used in filter
// comparisons. Supported are nil, bool, string, json.Number and the common
// integer and float types.
func EncodeValue(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return NullValue, nil
	case bool:
		if x {
			return TrueValue, nil
		}
		return FalseValue, nil
	case string:
		return EncodeString(x), nil
	case json.Number:
		return dbpath.EncodeNumber(string(x))
	case int:
		return dbpath.EncodeNumber(strconv.Itoa(x))
	case int64:
		return dbpath.EncodeNumber(strconv.FormatInt(x, 10))
	case float64:
		return dbpath.EncodeNumber(strconv.FormatFloat(x, 'f', -1, 64))
	case float32:
		return dbpath.EncodeNumber(strconv.FormatFloat(float64(x), 'f', -1, 32))
	}
	return "", fmt.Errorf("cannot encode value of type %T", v)
}
