// Package migrate brings a store to a target schema version by running
// versioned scripts.
//
// The current version is stored as a JSON number at VersionPath. Each script
// runs in a write transaction together with storing its version, so a failed
// script leaves the store at the previous version.
package migrate

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"

	"github.com/mjl-/jsondb/jsondb"
	"github.com/mjl-/jsondb/metrics"
	"github.com/mjl-/jsondb/mlog"
)

// VersionPath is the reserved path holding the schema version.
const VersionPath = "/db-version"

var pkglog = mlog.New("migrate", nil)

// Script upgrades the store to its version. It must only use tx.
type Script func(ctx context.Context, tx *jsondb.Tx) error

// Runner runs the scripts needed to bring Store to version Target.
type Runner struct {
	Store   *jsondb.Store
	Target  int
	Scripts map[int]Script // By version. Versions without script only record the version.

	// Reset drops and recreates the tables, removing all data, before running
	// scripts from version 1. This also happens when the stored version is
	// newer than Target.
	Reset bool

	Log mlog.Log // Optional.
}

// Version returns the schema version stored in s, 0 if none.
func Version(ctx context.Context, s *jsondb.Store) (int, error) {
	doc, found, err := s.Get(ctx, VersionPath, jsondb.GetOptions{})
	if err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	} else if !found {
		return 0, nil
	}
	v, err := strconv.Atoi(doc)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("bad schema version %q at %s", doc, VersionPath)
	}
	return v, nil
}

// runScript turns a panic in script into an error, so the transaction is
// rolled back.
func runScript(ctx context.Context, tx *jsondb.Tx, script Script) (rerr error) {
	defer func() {
		x := recover()
		if x != nil {
			pkglog.Error("unhandled panic in migration script", slog.Any("panic", x))
			debug.PrintStack()
			metrics.PanicInc(metrics.Migrate)
			rerr = fmt.Errorf("panic in migration script: %v", x)
		}
	}()
	return script(ctx, tx)
}

// Run upgrades the store, returning the version before and after. If a script
// fails, the store remains at the last version that succeeded.
func (r Runner) Run(ctx context.Context) (from, to int, rerr error) {
	log := r.Log
	if log.Logger == nil {
		log = pkglog
	}
	if r.Target < 0 {
		return 0, 0, fmt.Errorf("target version %d cannot be negative", r.Target)
	}

	v, err := Version(ctx, r.Store)
	if err != nil {
		return 0, 0, err
	}
	from = v
	if r.Reset || v > r.Target {
		log.Print("resetting database", slog.Int("version", v), slog.Int("target", r.Target), slog.Bool("reset", r.Reset))
		if err := r.Store.DropTables(ctx); err != nil {
			return from, v, err
		}
		if err := r.Store.CreateTables(ctx); err != nil {
			return from, v, err
		}
		v = 0
	}

	for next := v + 1; next <= r.Target; next++ {
		err := r.Store.Write(ctx, func(tx *jsondb.Tx) error {
			if script := r.Scripts[next]; script != nil {
				if err := runScript(ctx, tx, script); err != nil {
					return err
				}
			}
			return tx.Set(VersionPath, strconv.Itoa(next))
		})
		if err != nil {
			log.Errorx("migration failed", err, slog.Int("version", next))
			return from, next - 1, fmt.Errorf("migrating to version %d: %w", next, err)
		}
		log.Info("migrated", slog.Int("version", next))
		v = next
	}
	return from, v, nil
}
