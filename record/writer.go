package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/mjl-/jsondb/dbpath"
)

// Options change how records are turned into JSON.
type Options struct {
	// Depth limits the nesting of the output. Deeper values are replaced by
	// true at the path of depth Depth. Zero means no limit.
	Depth int

	// LimitToFirst stops the output after this many top-level members or
	// elements. Zero means no limit.
	LimitToFirst int

	// PrettyPrint indents the output with two spaces.
	PrettyPrint bool

	// Callback, if not empty, wraps the output as Callback(...).
	Callback string

	// Reverse indicates the top-level elements of an array are added in
	// descending index order. They are written in the order added, and
	// missing indices are not filled with null.
	Reverse bool
}

type frame struct {
	name  string // Segment of this container, empty for the root.
	array bool
	next  int // Next expected array index.
	n     int // Members or elements written.
}

// Writer reconstructs JSON from records sorted by path. Records are added
// with Add, and the document is written to the underlying writer by Close.
type Writer struct {
	out  io.Writer
	base string
	opts Options

	buf        bytes.Buffer
	stack      []frame
	started    bool
	rootScalar bool
	lastLeaf   []string // Segments of last written value.
	topKey     string
	topCount   int
}

// NewWriter returns a Writer for records under DB path base.
func NewWriter(out io.Writer, base string, opts Options) *Writer {
	return &Writer{out: out, base: base, opts: opts}
}

// Started returns whether any record was added to the output.
func (w *Writer) Started() bool {
	return w.started
}

// Add adds the next record. It returns done when a LimitToFirst was reached
// and further records will be ignored. A *ConsistencyError is returned when
// the records do not form a valid document.
func (w *Writer) Add(r Record) (done bool, rerr error) {
	if !strings.HasPrefix(r.Path, w.base) {
		return false, &ConsistencyError{r.Path, "record not under base path " + w.base}
	}
	segs := dbpath.Segments(w.base, r.Path)

	if w.rootScalar {
		return false, &ConsistencyError{w.base, "value also has children"}
	}

	if w.opts.LimitToFirst > 0 && len(segs) > 0 {
		if w.topCount == 0 || segs[0] != w.topKey {
			w.topCount++
			w.topKey = segs[0]
		}
		if w.topCount > w.opts.LimitToFirst {
			return true, nil
		}
	}

	value := r.Value
	ovalue := r.OValue
	if w.opts.Depth > 0 && len(segs) > w.opts.Depth {
		segs = segs[:w.opts.Depth]
		if equal(segs, w.lastLeaf) {
			return false, nil
		}
		value = TrueValue
		ovalue = "true"
	}

	if len(segs) == 0 {
		if w.started {
			return false, &ConsistencyError{r.Path, "value at path that has children"}
		}
		w.started = true
		w.rootScalar = true
		return false, w.writeValue(r.Path, value, ovalue)
	}

	if w.lastLeaf != nil && len(w.lastLeaf) < len(segs) && equal(segs[:len(w.lastLeaf)], w.lastLeaf) {
		return false, &ConsistencyError{r.Path, "value at parent path also has children"}
	}

	if len(w.stack) == 0 {
		w.open("", dbpath.IsIndex(segs[0]))
	}
	w.started = true

	// Find how many open containers below the root match the parent segments of
	// this record, close the others, and open new ones down to the parent.
	parent := segs[:len(segs)-1]
	c := 0
	for c < len(w.stack)-1 && c < len(parent) && w.stack[c+1].name == parent[c] {
		c++
	}
	for len(w.stack) > c+1 {
		w.close()
	}
	for i := c; i < len(parent); i++ {
		if err := w.member(r.Path, parent[i]); err != nil {
			return false, err
		}
		w.open(parent[i], dbpath.IsIndex(segs[i+1]))
	}

	if err := w.member(r.Path, segs[len(segs)-1]); err != nil {
		return false, err
	}
	w.lastLeaf = append(w.lastLeaf[:0], segs...)
	return false, w.writeValue(r.Path, value, ovalue)
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (w *Writer) open(name string, array bool) {
	if array {
		w.buf.WriteByte('[')
	} else {
		w.buf.WriteByte('{')
	}
	w.stack = append(w.stack, frame{name: name, array: array})
}

func (w *Writer) close() {
	f := w.stack[len(w.stack)-1]
	w.stack = w.stack[:len(w.stack)-1]
	if f.array {
		w.buf.WriteByte(']')
	} else {
		w.buf.WriteByte('}')
	}
}

// member writes the separator and object key or array padding for the next
// child segment of the innermost open container.
func (w *Writer) member(path, seg string) error {
	f := &w.stack[len(w.stack)-1]
	comma := func() {
		if f.n > 0 {
			w.buf.WriteByte(',')
		}
		f.n++
	}
	if !f.array {
		if dbpath.IsIndex(seg) {
			return &ConsistencyError{path, "array index in object"}
		}
		comma()
		writeString(&w.buf, seg)
		w.buf.WriteByte(':')
		return nil
	}

	if !dbpath.IsIndex(seg) {
		return &ConsistencyError{path, "object member in array"}
	}
	idx, err := dbpath.DecodeIndex(seg)
	if err != nil {
		return &ConsistencyError{path, err.Error()}
	}
	if w.opts.Reverse && len(w.stack) == 1 {
		comma()
		return nil
	}
	if idx < f.next {
		return &ConsistencyError{path, fmt.Sprintf("array index %d out of order, expected at least %d", idx, f.next)}
	}
	for f.next < idx {
		comma()
		w.buf.WriteString("null")
		f.next++
	}
	comma()
	f.next++
	return nil
}

func (w *Writer) writeValue(path, value, ovalue string) error {
	if value == "" {
		return &ConsistencyError{path, "empty value"}
	}
	switch value[0] {
	case NullValue[0]:
		w.buf.WriteString("null")
	case FalseValue[0]:
		w.buf.WriteString("false")
	case TrueValue[0]:
		w.buf.WriteString("true")
	case EmptyObjectValue[0]:
		w.buf.WriteString("{}")
	case EmptyArrayValue[0]:
		w.buf.WriteString("[]")
	case StringPrefix:
		writeString(&w.buf, value[1:])
	case NumberPrefix, NegNumberPrefix:
		if ovalue == "" {
			return &ConsistencyError{path, "number without original value"}
		}
		w.buf.WriteString(ovalue)
	default:
		return &ConsistencyError{path, fmt.Sprintf("unknown value type %q", value[0])}
	}
	return nil
}

func writeString(b *bytes.Buffer, s string) {
	enc := json.NewEncoder(b)
	enc.SetEscapeHTML(false)
	enc.Encode(s) // Cannot fail for a string.
	b.Truncate(b.Len() - 1)
}

// Close finishes the document and writes it, if any record was added.
func (w *Writer) Close() error {
	if !w.started {
		return nil
	}
	for len(w.stack) > 0 {
		w.close()
	}

	doc := w.buf.Bytes()
	if w.opts.PrettyPrint {
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, doc, "", "  "); err != nil {
			return fmt.Errorf("indenting document: %v", err)
		}
		doc = pretty.Bytes()
	}
	var err error
	if w.opts.Callback != "" {
		_, err = fmt.Fprintf(w.out, "%s(%s)", w.opts.Callback, doc)
	} else {
		_, err = w.out.Write(doc)
	}
	return err
}

// Unflatten returns the JSON document for records, sorted by path, under base.
// If there are no records, ok is false.
func Unflatten(base string, records []Record, opts Options) (doc string, ok bool, rerr error) {
	var b strings.Builder
	w := NewWriter(&b, base, opts)
	for _, r := range records {
		done, err := w.Add(r)
		if err != nil {
			return "", false, err
		}
		if done {
			break
		}
	}
	if err := w.Close(); err != nil {
		return "", false, err
	}
	return b.String(), w.Started(), nil
}
