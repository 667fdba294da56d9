package config

import (
	"time"
)

// Static is the parsed form of the jsondb.conf configuration file.
type Static struct {
	DataDir          string            `sconf-doc:"NOTE: This config file is in 'sconf' format. Indent with tabs. Comments must be on their own line, they don't end a line. Do not escape or quote strings. Details: https://pkg.go.dev/github.com/mjl-/sconf.\n\n\nDirectory where the database file is stored. If this is a relative path, it is relative to the directory of jsondb.conf."`
	Backend          string            `sconf:"optional" sconf-doc:"Storage backend, one of: bstore, sqlite. Default: bstore. The database file is jsondb.db for bstore, and jsondb.sqlite for sqlite."`
	LogLevel         string            `sconf-doc:"Default log level, one of: error, info, debug, trace. Trace logs each replaced range of rows."`
	PackageLogLevels map[string]string `sconf:"optional" sconf-doc:"Overrides of log level per package (e.g. jsondb, migrate, dao)."`
	Indexes          []Index           `sconf:"optional" sconf-doc:"Secondary indexes on a string member of the documents directly under a path. Needed for property value lookups."`
	UnindexedLookup  string            `sconf:"optional" sconf-doc:"What to do for a property value lookup without matching index, one of: fail, scan. Default: fail. With scan, all rows below the path are read, which can be slow for large data sets."`
	OpenTimeout      time.Duration     `sconf:"optional" sconf-doc:"How long to wait for the lock on the bstore database file, held by other processes using it. Default: 5s."`
	SQLite           SQLite            `sconf:"optional" sconf-doc:"Settings for the sqlite backend."`
}

// Index declares a secondary index.
type Index struct {
	Path  string `sconf-doc:"Path of the documents, e.g. /users."`
	Field string `sconf-doc:"Member of each document to index, e.g. name."`
}

// SQLite holds settings for the sqlite backend.
type SQLite struct {
	JournalMode string        `sconf:"optional" sconf-doc:"SQLite journal mode, e.g. wal, delete, truncate. Default: wal."`
	BusyTimeout time.Duration `sconf:"optional" sconf-doc:"How long to wait for locks held by other connections. Default: 5s."`
}
