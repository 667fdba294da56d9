package jsondb

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mjl-/jsondb/dbpath"
	"github.com/mjl-/jsondb/record"
)

// Values are stored as blobs: the encodings start with control characters
// and text must compare bytewise.
var sqliteSchema = []string{
	`create table if not exists jsondb (path text primary key, value blob not null, ovalue text not null default '')`,
	`create table if not exists jsondb_index (path text primary key, idx text not null, value blob not null)`,
	`create index if not exists jsondb_index_idx_value on jsondb_index (idx, value)`,
}

type sqliteBackend struct {
	db *sql.DB
}

// SQLiteOptions configures the SQLite backend.
type SQLiteOptions struct {
	JournalMode string        // Default "wal".
	BusyTimeout time.Duration // Default 5s.
}

func sqliteDSN(path string, opts SQLiteOptions) string {
	mode := opts.JournalMode
	if mode == "" {
		mode = "wal"
	}
	timeout := opts.BusyTimeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("journal_mode(%s)", mode))
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", timeout.Milliseconds()))
	q.Set("_txlock", "immediate")
	return "file:" + path + "?" + q.Encode()
}

func openSQLite(ctx context.Context, path string, opts SQLiteOptions) (*sqliteBackend, error) {
	os.MkdirAll(filepath.Dir(path), 0770)
	db, err := sql.Open("sqlite", sqliteDSN(path, opts))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// Single writer, and transactions must see their own writes.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	b := &sqliteBackend{db}
	if err := b.createTables(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

func (b *sqliteBackend) createTables(ctx context.Context) error {
	for _, stmt := range sqliteSchema {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create tables: %w", err)
		}
	}
	return nil
}

func (b *sqliteBackend) dropTables(ctx context.Context) error {
	for _, stmt := range []string{`drop table if exists jsondb_index`, `drop table if exists jsondb`} {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("drop tables: %w", err)
		}
	}
	return nil
}

func (b *sqliteBackend) read(ctx context.Context, fn func(tx backendTx) error) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()
	return fn(&sqliteTx{ctx, tx})
}

func (b *sqliteBackend) write(ctx context.Context, fn func(tx backendTx) error) (rerr error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if tx != nil {
			tx.Rollback()
		}
	}()
	if err := fn(&sqliteTx{ctx, tx}); err != nil {
		return err
	}
	err = tx.Commit()
	tx = nil
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (b *sqliteBackend) close() error {
	return b.db.Close()
}

type sqliteTx struct {
	ctx context.Context
	tx  *sql.Tx
}

// exactClause returns an SQL "or path in (...)" clause and its arguments.
func exactClause(exact []string) (string, []any) {
	if len(exact) == 0 {
		return "", nil
	}
	return " or path in (" + strings.TrimSuffix(strings.Repeat("?,", len(exact)), ",") + ")", anys(exact)
}

func (t *sqliteTx) deleteTree(prefix string, exact []string) (int, error) {
	clause, xargs := exactClause(exact)
	args := append([]any{prefix, dbpath.IncrementKey(prefix)}, xargs...)
	result, err := t.tx.ExecContext(t.ctx, `delete from jsondb where (path >= ? and path < ?)`+clause, args...)
	if err != nil {
		return 0, fmt.Errorf("delete rows: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete rows: %w", err)
	}
	if _, err := t.tx.ExecContext(t.ctx, `delete from jsondb_index where (path >= ? and path < ?)`+clause, args...); err != nil {
		return 0, fmt.Errorf("delete index entries: %w", err)
	}
	return int(n), nil
}

func (t *sqliteTx) insert(r record.Record) error {
	if _, err := t.tx.ExecContext(t.ctx, `insert into jsondb (path, value, ovalue) values (?, ?, ?)`, r.Path, []byte(r.Value), r.OValue); err != nil {
		return fmt.Errorf("insert row: %w", err)
	}
	if r.Index != "" && indexable(r.Value) {
		if _, err := t.tx.ExecContext(t.ctx, `insert into jsondb_index (path, idx, value) values (?, ?, ?)`, r.Path, r.Index, []byte(r.Value)); err != nil {
			return fmt.Errorf("insert index entry: %w", err)
		}
	}
	return nil
}

func (t *sqliteTx) scan(from, to string, desc bool, fn func(r record.Record) error) (rerr error) {
	order := "asc"
	if desc {
		order = "desc"
	}
	rows, err := t.tx.QueryContext(t.ctx, `select path, value, ovalue from jsondb where path >= ? and path < ? order by path `+order, from, to)
	if err != nil {
		return fmt.Errorf("select rows: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var r record.Record
		var value []byte
		if err := rows.Scan(&r.Path, &value, &r.OValue); err != nil {
			return fmt.Errorf("scan row: %w", err)
		}
		r.Value = string(value)
		if err := fn(r); err == errStop {
			return nil
		} else if err != nil {
			return err
		}
	}
	return rows.Err()
}

func (t *sqliteTx) exists(prefix string) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(t.ctx, `select exists(select 1 from jsondb where path >= ? and path < ?)`, prefix, dbpath.IncrementKey(prefix)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("select exists: %w", err)
	}
	return exists, nil
}

func (t *sqliteTx) indexLookup(idx, value string) ([]string, error) {
	rows, err := t.tx.QueryContext(t.ctx, `select path from jsondb_index where idx = ? and value = ? order by path asc`, idx, []byte(value))
	if err != nil {
		return nil, fmt.Errorf("select index entries: %w", err)
	}
	defer rows.Close()
	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan index entry: %w", err)
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// anys converts l to a slice of any, for use as query arguments.
func anys(l []string) []any {
	r := make([]any, len(l))
	for i, s := range l {
		r[i] = s
	}
	return r
}
