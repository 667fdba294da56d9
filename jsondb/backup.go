package jsondb

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mjl-/bstore"
)

// Backup writes a consistent copy of the database to the new file dst.
func (s *Store) Backup(ctx context.Context, dst string) (rerr error) {
	defer s.track("backup", "", time.Now(), &rerr)

	if err := os.MkdirAll(filepath.Dir(dst), 0770); err != nil {
		return fmt.Errorf("creating destination directory: %v", err)
	}
	if _, err := os.Stat(dst); err == nil {
		return fmt.Errorf("destination %s already exists", dst)
	}

	switch b := s.be.(type) {
	case *bstoreBackend:
		df, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0660)
		if err != nil {
			return fmt.Errorf("creating destination file: %v", err)
		}
		defer func() {
			if df != nil {
				err := df.Close()
				s.log.Check(err, "closing destination database after error")
				err = os.Remove(dst)
				s.log.Check(err, "removing destination database after error")
			}
		}()
		err = b.DB.Read(ctx, func(tx *bstore.Tx) error {
			_, err := tx.WriteTo(df)
			return err
		})
		if err != nil {
			return storageError("backup", "", err)
		}
		if err := df.Sync(); err != nil {
			return fmt.Errorf("syncing destination database: %v", err)
		}
		err = df.Close()
		df = nil
		if err != nil {
			return fmt.Errorf("closing destination database: %v", err)
		}
	case *sqliteBackend:
		if _, err := b.db.ExecContext(ctx, `vacuum into ?`, dst); err != nil {
			return storageError("backup", "", err)
		}
	default:
		return fmt.Errorf("backup not supported for backend %T", s.be)
	}
	return nil
}
