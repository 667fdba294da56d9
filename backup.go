package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

func cmdBackup(c *cmd) {
	c.params = "[-verbose] dest-dir"
	c.help = `Creates a backup of the config file and the database.

The backup is written to dest-dir, with the config file in dest-dir/config and
the database in dest-dir/data. The database copy is a consistent snapshot made
in a read transaction, writes can continue during the backup. Files that
already exist in dest-dir are not overwritten, the backup fails instead.

After restoring, the config file needs its DataDir pointing to the data
directory, "../data" works when the directory layout is kept.

Run "jsondb verifydata" on the backup to check the database.
`
	var verbose bool
	c.flag.BoolVar(&verbose, "verbose", false, "print progress")
	args := c.Parse()
	if len(args) != 1 {
		c.Usage()
	}
	dstDir, err := filepath.Abs(args[0])
	xcheckf(err, "making destination path absolute")

	conf, s := xopenStore(c)
	defer xcloseStore(c, s)

	// Set when an error is encountered. At the end, we fail if set.
	var incomplete bool

	// Log an error that causes the backup to be marked as failed. We continue
	// with the other files.
	xerrx := func(text string, err error, attrs ...slog.Attr) {
		incomplete = true
		c.log.Errorx(text, err, attrs...)
	}

	xvlog := func(text string, attrs ...slog.Attr) {
		if verbose {
			c.log.Print(text, attrs...)
		} else {
			c.log.Info(text, attrs...)
		}
	}

	dstConfigDir := filepath.Join(dstDir, "config")
	dstDataDir := filepath.Join(dstDir, "data")
	for _, dir := range []string{dstConfigDir, dstDataDir} {
		if err := os.MkdirAll(dir, 0770); err != nil {
			xerrx("creating destination directory", err, slog.String("dir", dir))
		}
	}

	tmStart := time.Now()

	srcConfig := conf.Path
	dstConfig := filepath.Join(dstConfigDir, filepath.Base(srcConfig))
	if err := copyFile(srcConfig, dstConfig); err != nil {
		xerrx("copying config file", err, slog.String("srcpath", srcConfig), slog.String("dstpath", dstConfig))
	} else {
		xvlog("config file copied", slog.String("path", dstConfig))
	}

	srcDB := conf.DBPath()
	dstDB := filepath.Join(dstDataDir, filepath.Base(srcDB))
	tmDB := time.Now()
	if err := s.Backup(context.Background(), dstDB); err != nil {
		xerrx("backing up database", err, slog.String("srcpath", srcDB), slog.String("dstpath", dstDB))
	} else {
		xvlog("database backed up", slog.String("path", dstDB), slog.Duration("duration", time.Since(tmDB)))
	}

	xvlog("backup finished", slog.Duration("duration", time.Since(tmStart)))
	if incomplete {
		xcloseStore(c, s)
		log.Fatalf("backup incomplete, see errors above")
	}
	fmt.Println("backup ok")
}

// copyFile copies src to the new file dst, and syncs it.
func copyFile(src, dst string) (rerr error) {
	sf, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source file: %v", err)
	}
	defer sf.Close()

	df, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0660)
	if err != nil {
		return fmt.Errorf("creating destination file: %v", err)
	}
	defer func() {
		if df != nil {
			df.Close()
		}
		if rerr != nil {
			os.Remove(dst)
		}
	}()
	if _, err := io.Copy(df, sf); err != nil {
		return fmt.Errorf("copying file: %v", err)
	}
	if err := df.Sync(); err != nil {
		return fmt.Errorf("sync destination file: %v", err)
	}
	err = df.Close()
	df = nil
	if err != nil {
		return fmt.Errorf("closing destination file: %v", err)
	}
	return nil
}
