package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mjl-/sconf"

	"github.com/mjl-/jsondb/jsondb"
	"github.com/mjl-/jsondb/mlog"
)

// Config is a parsed and checked configuration file.
type Config struct {
	Static
	Path string                // Of config file.
	Log  map[string]slog.Level // Package log levels, "" for the default.
}

// ParseConfig reads and checks the config file at p.
func ParseConfig(p string) (c *Config, errs []error) {
	c = &Config{Static: Static{DataDir: "."}, Path: p}

	f, err := os.Open(p)
	if err != nil {
		if os.IsNotExist(err) && os.Getenv("JSONDBCONF") == "" {
			return nil, []error{fmt.Errorf("open config file: %v (hint: use jsondb -config ... or set JSONDBCONF=...)", err)}
		}
		return nil, []error{fmt.Errorf("open config file: %v", err)}
	}
	defer f.Close()
	if err := sconf.Parse(f, &c.Static); err != nil {
		return nil, []error{fmt.Errorf("parsing %s%v", p, err)}
	}

	if xerrs := PrepareStaticConfig(c); len(xerrs) > 0 {
		return nil, xerrs
	}
	return c, nil
}

// PrepareStaticConfig checks the config and fills in defaults and the log
// levels.
func PrepareStaticConfig(conf *Config) (errs []error) {
	addErrorf := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	c := &conf.Static

	if logLevel, ok := mlog.Levels[c.LogLevel]; ok {
		conf.Log = map[string]slog.Level{"": logLevel}
	} else {
		addErrorf("invalid log level %q", c.LogLevel)
		conf.Log = map[string]slog.Level{}
	}
	for pkg, s := range c.PackageLogLevels {
		if logLevel, ok := mlog.Levels[s]; ok {
			conf.Log[pkg] = logLevel
		} else {
			addErrorf("invalid package log level %q", s)
		}
	}

	switch c.Backend {
	case "":
		c.Backend = jsondb.BackendBstore
	case jsondb.BackendBstore, jsondb.BackendSQLite:
	default:
		addErrorf("unknown backend %q, must be bstore or sqlite", c.Backend)
	}

	switch jsondb.LookupPolicy(c.UnindexedLookup) {
	case "":
		c.UnindexedLookup = string(jsondb.LookupFail)
	case jsondb.LookupFail, jsondb.LookupScan:
	default:
		addErrorf("unknown unindexed lookup policy %q, must be fail or scan", c.UnindexedLookup)
	}

	seen := map[string]bool{}
	for i, x := range c.Indexes {
		id, err := jsondb.Index{Path: x.Path, Field: x.Field}.ID()
		if err != nil {
			addErrorf("index %d: %v", i, err)
		} else if seen[id] {
			addErrorf("index %d: duplicate index for path %s and field %s", i, x.Path, x.Field)
		}
		seen[id] = true
	}

	if c.OpenTimeout < 0 {
		addErrorf("open timeout cannot be negative")
	} else if c.OpenTimeout == 0 {
		c.OpenTimeout = 5 * time.Second
	}
	if c.SQLite.BusyTimeout < 0 {
		addErrorf("sqlite busy timeout cannot be negative")
	}

	return errs
}

// DataDirPath returns the path to f. Either f itself when absolute, or
// interpreted relative to the data directory, which is relative to the
// directory of the config file.
func (c *Config) DataDirPath(f string) string {
	if filepath.IsAbs(f) {
		return f
	}
	dataDir := c.DataDir
	if !filepath.IsAbs(dataDir) {
		dataDir = filepath.Join(filepath.Dir(c.Path), dataDir)
	}
	return filepath.Join(dataDir, f)
}

// DBPath returns the path of the database file for the configured backend.
func (c *Config) DBPath() string {
	if c.Backend == jsondb.BackendSQLite {
		return c.DataDirPath("jsondb.sqlite")
	}
	return c.DataDirPath("jsondb.db")
}

// StoreOptions returns options for opening the configured store.
func (c *Config) StoreOptions() jsondb.Options {
	var indexes []jsondb.Index
	for _, x := range c.Indexes {
		indexes = append(indexes, jsondb.Index{Path: x.Path, Field: x.Field})
	}
	return jsondb.Options{
		Path:            c.DBPath(),
		Backend:         c.Backend,
		Indexes:         indexes,
		UnindexedLookup: jsondb.LookupPolicy(c.UnindexedLookup),
		Timeout:         c.OpenTimeout,
		SQLite: jsondb.SQLiteOptions{
			JournalMode: c.SQLite.JournalMode,
			BusyTimeout: c.SQLite.BusyTimeout,
		},
	}
}

// OpenStore opens the configured store.
func (c *Config) OpenStore(ctx context.Context, log mlog.Log, events jsondb.EventBus) (*jsondb.Store, error) {
	opts := c.StoreOptions()
	opts.Events = events
	return jsondb.Open(ctx, log, opts)
}
