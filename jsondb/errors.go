package jsondb

import (
	"errors"
	"fmt"

	"github.com/mjl-/jsondb/dbpath"
	"github.com/mjl-/jsondb/record"
)

var (
	// ErrInvalidKey is matched for paths and member names that cannot be stored.
	ErrInvalidKey = dbpath.ErrInvalidKey

	// ErrInvalidDocument is matched for input that is not a single valid JSON
	// value, or not of the type an operation needs.
	ErrInvalidDocument = record.ErrSyntax

	// ErrConsistency is matched when stored rows do not form a valid document.
	ErrConsistency = record.ErrConsistency

	// ErrStorage is matched for failures of the underlying database.
	ErrStorage = errors.New("storage error")

	// ErrNoIndex is returned by FetchIDsByPropertyValue for a subtree and field
	// without declared index, unless scanning is allowed.
	ErrNoIndex = errors.New("no index declared")
)

// StorageError is a failure from the database backend.
type StorageError struct {
	Op   string // E.g. "set", "get", "commit".
	Path string // Logical path of the operation, can be empty.
	Err  error
}

func (e *StorageError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %s: %v", ErrStorage, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s %s: %v", ErrStorage, e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Is(err error) bool {
	return err == ErrStorage
}

func storageError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{op, path, err}
}
