package migrate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nativestorage/nativestorage/internal/localstorage"
)

// backupPath names the copy <dir>/<file>.backup-pre-migrate-<timestamp>
func backupPath(src, dir string, now time.Time) string {
	return filepath.Join(dir, filepath.Base(src)+".backup-pre-migrate-"+now.Format("20060102-150405"))
}

// backupDatabase snapshots the opened legacy database into dir before any
// row is deleted from it. The copy is taken through SQLite, so rows still
// in the write-ahead log are included.
func backupDatabase(ctx context.Context, db *localstorage.Database, dir string, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("%w: %w", ErrBackupFailed, err)
	}
	dst := backupPath(db.Path(), dir, now)
	if _, err := os.Stat(dst); err == nil {
		return "", fmt.Errorf("%w: %s already exists", ErrBackupFailed, dst)
	}
	if err := db.BackupTo(ctx, dst); err != nil {
		return "", fmt.Errorf("%w: %w", ErrBackupFailed, err)
	}
	return dst, nil
}
