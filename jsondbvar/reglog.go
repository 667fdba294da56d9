package jsondbvar

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"testing"
)

var skipRegisterLogging = testing.Testing()

// RegisterLogger returns the logger to pass as bstore.Options.RegisterLogger
// when opening the database file at path.
//
// Under test, nil is returned for a database file that does not exist yet, so
// each fresh test database doesn't log its schema creation.
func RegisterLogger(path string, log *slog.Logger) *slog.Logger {
	if !skipRegisterLogging {
		return log
	}
	if _, err := os.Stat(path); err != nil && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return log
}
