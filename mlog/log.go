// Package mlog provides logging with log levels and fields, on top of log/slog.
//
// Each log level has a function to log with and without error. Variable data
// should be in attributes. Logging strings themselves should be constant, for
// easier log processing (e.g. building metrics based on log messages).
//
// The log levels can be configured per originating package, e.g. jsondb,
// migrate. The configuration is application-global, so each Log instance uses
// the same log levels.
//
// Print* should be used for lines that always should be printed, regardless of
// configured log levels. Useful for startup logging and subcommands.
//
// Fatal* stops the program. Its log text is always printed.
package mlog

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"os"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Logfmt enables logfmt output, with l= and m= keys, instead of the more
// human-readable default.
var Logfmt bool

const (
	LevelPrint slog.Level = 12 // Printed regardless of configured log level.
	LevelFatal slog.Level = 10 // Printed regardless of configured log level.
	LevelError slog.Level = slog.LevelError
	LevelWarn  slog.Level = slog.LevelWarn
	LevelInfo  slog.Level = slog.LevelInfo
	LevelDebug slog.Level = slog.LevelDebug
	LevelTrace slog.Level = -8 // Row-level logging of reads and writes.
)

// Levels maps the level names used in configuration files and command-line
// flags to their level.
var Levels = map[string]slog.Level{
	"print": LevelPrint,
	"fatal": LevelFatal,
	"error": LevelError,
	"warn":  LevelWarn,
	"info":  LevelInfo,
	"debug": LevelDebug,
	"trace": LevelTrace,
}

// LevelStrings is the reverse of Levels.
var LevelStrings = map[slog.Level]string{
	LevelPrint: "print",
	LevelFatal: "fatal",
	LevelError: "error",
	LevelWarn:  "warn",
	LevelInfo:  "info",
	LevelDebug: "debug",
	LevelTrace: "trace",
}

// Holds a map[string]slog.Level, mapping a package (field pkg in logs) to a log
// level. The empty string is the default/fallback log level.
var config atomic.Value

func init() {
	config.Store(map[string]slog.Level{"": LevelError})
}

// SetConfig atomically sets the new log levels used by all Log instances.
func SetConfig(c map[string]slog.Level) {
	config.Store(c)
}

// Config returns a copy of the current log level configuration.
func Config() map[string]slog.Level {
	cl := config.Load().(map[string]slog.Level)
	r := make(map[string]slog.Level, len(cl))
	for k, v := range cl {
		r[k] = v
	}
	return r
}

var (
	outputMu sync.Mutex
	output   io.Writer = os.Stderr
	console  slog.Handler
)

// SetOutput changes where log lines are written, e.g. for tests. A nil w
// restores stderr.
func SetOutput(w io.Writer) {
	outputMu.Lock()
	defer outputMu.Unlock()
	if w == nil {
		w = os.Stderr
	}
	output = w
}

// SetConsole makes all enabled log records go to h instead of being formatted
// by mlog. Used by the command-line tool for colored terminal output. Level
// filtering per package still happens in mlog. A nil h restores the default.
func SetConsole(h slog.Handler) {
	outputMu.Lock()
	defer outputMu.Unlock()
	console = h
}

type key string

// CidKey can be used with context.WithValue to store a "cid" in a context, for logging.
var CidKey key = "cid"

// Log wraps a slog.Logger, adding helper functions that take an
// error separately from the message.
type Log struct {
	*slog.Logger
}

// New returns a Log that adds a "pkg" attribute to each line, and uses the
// per-package log level for that package. If logger is nil, a logger with the
// mlog handler is used.
func New(pkg string, logger *slog.Logger) Log {
	if logger == nil {
		logger = slog.New(&handler{})
	}
	return Log{logger.With(slog.String("pkg", pkg))}
}

// WithCid adds attribute "cid".
func (l Log) WithCid(cid int64) Log {
	return l.With(slog.Int64("cid", cid))
}

// WithContext adds cid from context, if present.
func (l Log) WithContext(ctx context.Context) Log {
	cidv := ctx.Value(CidKey)
	if cidv == nil {
		return l
	}
	cid := cidv.(int64)
	return l.WithCid(cid)
}

// With returns a Log that adds attrs to each line.
func (l Log) With(attrs ...slog.Attr) Log {
	if len(attrs) == 0 {
		return l
	}
	args := make([]any, len(attrs))
	for i, a := range attrs {
		args[i] = a
	}
	return Log{l.Logger.With(args...)}
}

func (l Log) logx(level slog.Level, err error, msg string, attrs ...slog.Attr) {
	if err != nil {
		attrs = append([]slog.Attr{errAttr(err)}, attrs...)
	}
	l.Logger.LogAttrs(context.Background(), level, msg, attrs...)
}

func errAttr(err error) slog.Attr {
	return slog.String("err", err.Error())
}

// Check logs an error if err is not nil. Intended for logging errors that are
// good to know, but would not influence program flow.
func (l Log) Check(err error, msg string, attrs ...slog.Attr) {
	if err != nil {
		l.Errorx(msg, err, attrs...)
	}
}

func (l Log) Fatal(msg string, attrs ...slog.Attr) { l.Fatalx(msg, nil, attrs...) }
func (l Log) Fatalx(msg string, err error, attrs ...slog.Attr) {
	l.logx(LevelFatal, err, msg, attrs...)
	os.Exit(1)
}

func (l Log) Print(msg string, attrs ...slog.Attr) {
	l.logx(LevelPrint, nil, msg, attrs...)
}
func (l Log) Printx(msg string, err error, attrs ...slog.Attr) {
	l.logx(LevelPrint, err, msg, attrs...)
}

func (l Log) Debug(msg string, attrs ...slog.Attr) {
	l.logx(LevelDebug, nil, msg, attrs...)
}
func (l Log) Debugx(msg string, err error, attrs ...slog.Attr) {
	l.logx(LevelDebug, err, msg, attrs...)
}

func (l Log) Info(msg string, attrs ...slog.Attr) { l.logx(LevelInfo, nil, msg, attrs...) }
func (l Log) Infox(msg string, err error, attrs ...slog.Attr) {
	l.logx(LevelInfo, err, msg, attrs...)
}

func (l Log) Error(msg string, attrs ...slog.Attr) {
	l.logx(LevelError, nil, msg, attrs...)
}
func (l Log) Errorx(msg string, err error, attrs ...slog.Attr) {
	l.logx(LevelError, err, msg, attrs...)
}

// Trace logs at trace level, e.g. for each row read or written.
func (l Log) Trace(msg string, attrs ...slog.Attr) {
	l.logx(LevelTrace, nil, msg, attrs...)
}

// handler is the slog.Handler for Log instances created without an explicit
// logger. It filters on the per-package level and formats lines itself.
type handler struct {
	attrs  []slog.Attr
	prefix string // Group prefix for attribute keys.
}

var _ slog.Handler = (*handler)(nil)

func (h *handler) pkgs() []string {
	var l []string
	for _, a := range h.attrs {
		if a.Key == "pkg" {
			l = append(l, a.Value.String())
		}
	}
	return l
}

// Enabled matches the level against the configured levels, first for the
// packages of the handler, and falling back to the default level.
func (h *handler) Enabled(ctx context.Context, level slog.Level) bool {
	if level >= LevelFatal {
		return true
	}
	cl := config.Load().(map[string]slog.Level)
	seen := false
	for _, pkg := range h.pkgs() {
		v, ok := cl[pkg]
		if ok && level >= v {
			return true
		}
		seen = seen || ok
	}
	if seen {
		return false
	}
	v, ok := cl[""]
	return ok && level >= v
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := *h
	nh.attrs = append(append([]slog.Attr{}, h.attrs...), h.prefixed(attrs)...)
	return &nh
}

func (h *handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	nh := *h
	nh.prefix += name + "."
	return &nh
}

func (h *handler) prefixed(attrs []slog.Attr) []slog.Attr {
	if h.prefix == "" {
		return attrs
	}
	l := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		l[i] = slog.Attr{Key: h.prefix + a.Key, Value: a.Value}
	}
	return l
}

func (h *handler) Handle(ctx context.Context, r slog.Record) error {
	var attrs []slog.Attr
	attrs = append(attrs, h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, h.prefixed([]slog.Attr{a})...)
		return true
	})

	outputMu.Lock()
	defer outputMu.Unlock()

	if console != nil {
		nr := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
		nr.AddAttrs(attrs...)
		return console.Handle(ctx, nr)
	}

	// We build up a buffer so we can do a single atomic write of the data. Otherwise
	// partial log lines may interleaf.
	b := &bytes.Buffer{}
	level := levelString(r.Level)
	if Logfmt {
		fmt.Fprintf(b, "l=%s m=%s", level, logfmtValue(r.Message))
		for _, a := range attrs {
			fmt.Fprintf(b, " %s=%s", a.Key, logfmtValue(stringValue(a.Key == "cid", false, a.Value.Any())))
		}
	} else {
		fmt.Fprintf(b, "%s: %s", level, logfmtValue(r.Message))
		for _, a := range attrs {
			if a.Key == "err" {
				fmt.Fprintf(b, ": %s", logfmtValue(a.Value.String()))
			}
		}
		var n int
		for _, a := range attrs {
			if a.Key == "err" {
				continue
			}
			if n == 0 {
				b.WriteString(" (")
			} else {
				b.WriteString("; ")
			}
			n++
			fmt.Fprintf(b, "%s: %s", a.Key, logfmtValue(stringValue(a.Key == "cid", false, a.Value.Any())))
		}
		if n > 0 {
			b.WriteString(")")
		}
	}
	b.WriteString("\n")
	_, err := output.Write(b.Bytes())
	return err
}

func levelString(level slog.Level) string {
	if s, ok := LevelStrings[level]; ok {
		return s
	}
	return strings.ToLower(level.String())
}

// escape logfmt string if required, otherwise return original string.
func logfmtValue(s string) string {
	for _, c := range s {
		if c == '"' || c == '\\' || c <= ' ' || c == '=' || c >= 0x7f {
			return fmt.Sprintf("%q", s)
		}
	}
	return s
}

func stringValue(iscid, nested bool, v any) string {
	// Handle some common types first.
	if v == nil {
		return ""
	}
	switch r := v.(type) {
	case string:
		return r
	case int:
		return strconv.Itoa(r)
	case int64:
		if iscid {
			return fmt.Sprintf("%x", v)
		}
		return strconv.FormatInt(r, 10)
	case bool:
		if r {
			return "true"
		}
		return "false"
	case float64:
		return fmt.Sprintf("%v", v)
	case time.Duration:
		return r.String()
	case []byte:
		return base64.RawURLEncoding.EncodeToString(r)
	case []string:
		if nested && len(r) == 0 {
			// Drop field from logging.
			return ""
		}
		return "[" + strings.Join(r, ",") + "]"
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr && rv.IsNil() {
		return ""
	}

	if r, ok := v.(fmt.Stringer); ok {
		return r.String()
	}

	if rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
		return stringValue(iscid, nested, rv.Interface())
	}
	if rv.Kind() == reflect.Slice {
		n := rv.Len()
		if nested && n == 0 {
			// Drop field.
			return ""
		}
		b := &strings.Builder{}
		b.WriteString("[")
		for i := 0; i < n; i++ {
			if i > 0 {
				b.WriteString(";")
			}
			b.WriteString(stringValue(false, true, rv.Index(i).Interface()))
		}
		b.WriteString("]")
		return b.String()
	}
	return fmt.Sprintf("%v", v)
}
