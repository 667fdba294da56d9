package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/mjl-/jsondb/dbpath"
)

// IndexFunc returns the index id for the record at DB path, or the empty
// string if no declared index covers it.
type IndexFunc func(path string) string

// NewDecoder returns a JSON decoder set up for FlattenValue.
func NewDecoder(r io.Reader) *json.Decoder {
	d := json.NewDecoder(r)
	d.UseNumber()
	return d
}

// Flatten reads a single JSON value from r and calls fn for each record of it,
// with paths under base. Base is a DB path. Member names are validated with
// dbpath.ValidateKey, an invalid name returns an *dbpath.InvalidKeyError. Data
// after the JSON value results in a *SyntaxError.
//
// Records are produced as the input is read, so fn can be called before an
// error is returned. Callers write in a transaction they abort on error.
func Flatten(base string, r io.Reader, index IndexFunc, fn func(Record) error) error {
	d := NewDecoder(r)
	if err := FlattenValue(d, base, index, fn); err != nil {
		return err
	}
	return Finish(d)
}

// Finish checks that d has no more data.
func Finish(d *json.Decoder) error {
	if _, err := d.Token(); err != io.EOF {
		if err != nil {
			return &SyntaxError{"reading end of document", err}
		}
		return &SyntaxError{Msg: "document did not terminate as expected"}
	}
	return nil
}

// FlattenValue reads the next JSON value from d, calling fn for each record.
func FlattenValue(d *json.Decoder, base string, index IndexFunc, fn func(Record) error) error {
	tok, err := d.Token()
	if err != nil {
		return syntaxError(err)
	}
	return flattenToken(d, tok, base, index, fn)
}

func syntaxError(err error) error {
	if errors.Is(err, io.EOF) {
		return &SyntaxError{Msg: "unexpected end of document"}
	}
	return &SyntaxError{"parsing", err}
}

func flattenToken(d *json.Decoder, tok json.Token, path string, index IndexFunc, fn func(Record) error) error {
	emit := func(value, ovalue string) error {
		r := Record{Path: path, Value: value, OValue: ovalue}
		if index != nil {
			r.Index = index(path)
		}
		return fn(r)
	}

	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			var n int
			for d.More() {
				ktok, err := d.Token()
				if err != nil {
					return syntaxError(err)
				}
				key, ok := ktok.(string)
				if !ok {
					return &SyntaxError{Msg: fmt.Sprintf("expected member name, got %v", ktok)}
				}
				if err := dbpath.ValidateMember(key); err != nil {
					return err
				}
				if err := FlattenValue(d, path+key+"/", index, fn); err != nil {
					return err
				}
				n++
			}
			if _, err := d.Token(); err != nil {
				return syntaxError(err)
			}
			if n == 0 {
				return emit(EmptyObjectValue, "")
			}
			return nil
		case '[':
			var n int
			for d.More() {
				if err := FlattenValue(d, path+dbpath.EncodeIndex(n)+"/", index, fn); err != nil {
					return err
				}
				n++
			}
			if _, err := d.Token(); err != nil {
				return syntaxError(err)
			}
			if n == 0 {
				return emit(EmptyArrayValue, "")
			}
			return nil
		}
		return &SyntaxError{Msg: fmt.Sprintf("unexpected %v", t)}
	case nil:
		return emit(NullValue, "null")
	case bool:
		if t {
			return emit(TrueValue, "true")
		}
		return emit(FalseValue, "false")
	case json.Number:
		v, err := dbpath.EncodeNumber(string(t))
		if err != nil {
			return &SyntaxError{"encoding number", err}
		}
		return emit(v, string(t))
	case string:
		return emit(EncodeString(t), "")
	}
	return &SyntaxError{Msg: fmt.Sprintf("unexpected token %T", tok)}
}
