package jsondb

import (
	"fmt"
	"strings"

	"github.com/mjl-/jsondb/dbpath"
	"github.com/mjl-/jsondb/record"
)

// Index declares a secondary index on the string value of member Field of each
// document directly under Path. For Path /pair and Field key, the rows
// /pair/<id>/key/ are indexed, and FetchIDsByPropertyValue("/pair", "key", v)
// finds the documents /pair/<id> with key v.
type Index struct {
	Path  string
	Field string
}

// ID returns the index id, e.g. /pair/#key.
func (x Index) ID() (string, error) {
	p, err := dbpath.ToDBPath(x.Path)
	if err != nil {
		return "", err
	}
	if err := dbpath.ValidateKey(x.Field); err != nil {
		return "", err
	}
	return strings.TrimSuffix(p, "/") + "/#" + x.Field, nil
}

func (x Index) String() string {
	return fmt.Sprintf("%s/#%s", strings.TrimSuffix(x.Path, "/"), x.Field)
}

// indexID returns the id of the index that would cover a row at DB path: the
// path without its last two segments, followed by "/#" and the last segment.
func indexID(path string) string {
	p := strings.TrimSuffix(path, "/")
	i := strings.LastIndexByte(p, '/')
	if i < 0 {
		return ""
	}
	field := p[i+1:]
	p = p[:i]
	i = strings.LastIndexByte(p, '/')
	if i < 0 || i == len(p)-1 {
		return ""
	}
	return p[:i] + "/#" + field
}

// indexable returns whether an encoded value can be stored in the index. Only
// strings are indexed, and index keys cannot contain NUL bytes.
func indexable(value string) bool {
	return strings.HasPrefix(value, string(record.StringPrefix)) && !strings.Contains(value, "\x00")
}
