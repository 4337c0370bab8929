package localstorage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"net/url"
	"path/filepath"
	"strings"
	"sync/atomic"
	"unicode/utf8"

	"github.com/nativestorage/nativestorage/internal/types"
	"go.uber.org/zap"
)

var (
	// ErrDatabaseOpenFailed is returned when the database cannot be opened or lacks ItemTable
	ErrDatabaseOpenFailed = errors.New("failed to open local storage database")
	// ErrQueryFailed is returned when the record scan cannot run to completion
	ErrQueryFailed = errors.New("local storage query failed")
	// ErrAlreadyScanned is returned when Records is called a second time
	ErrAlreadyScanned = errors.New("records have already been scanned")
	// ErrReadOnly is returned by DeletePrefixed on a read-only database
	ErrReadOnly = errors.New("database opened read-only")
	// ErrEmptyPrefix is returned when a scan or delete is given an empty prefix
	ErrEmptyPrefix = errors.New("key prefix must not be empty")
)

// Mode is the access mode for Open
type Mode int

// Mode constants
const (
	ReadOnly Mode = iota
	ReadWrite
)

func (m Mode) String() string {
	if m == ReadWrite {
		return "rw"
	}
	return "ro"
}

// The prefix filter compares characters rather than using LIKE, which is
// case-insensitive and treats '_' as a wildcard.
const (
	probeItemTable  = `SELECT key, value FROM ItemTable LIMIT 0`
	selectPrefixed  = `SELECT key, value FROM ItemTable WHERE substr(key, 1, ?) = ?`
	deletePrefixed  = `DELETE FROM ItemTable WHERE substr(key, 1, ?) = ?`
	countAll        = `SELECT COUNT(*) FROM ItemTable`
	vacuumInto      = `VACUUM INTO ?`
	defaultBusyWait = 10000
)

// Stats counts what a scan saw
type Stats struct {
	// Scanned is the number of prefixed rows read
	Scanned int
	// Skipped is the number of rows whose value could not be decoded
	Skipped int
}

// Database is an open legacy local-storage database. A single connection
// is pinned for its lifetime so the scan and the cleanup run on the same
// handle.
type Database struct {
	db      *sql.DB
	conn    *sql.Conn
	path    string
	mode    Mode
	logger  *zap.Logger
	scanned atomic.Bool
	closed  atomic.Bool
	stats   Stats
}

// Option customises Open
type Option func(*Database)

// WithReaderLogger sets the logger for skipped rows
func WithReaderLogger(l *zap.Logger) Option {
	return func(d *Database) {
		if l != nil {
			d.logger = l
		}
	}
}

// connString builds a file: URI. mode=ro/rw never creates a missing file.
func connString(path string, mode Mode) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}
	p := filepath.ToSlash(abs)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	u := url.URL{Scheme: "file", Path: p}
	q := url.Values{}
	q.Set("mode", mode.String())
	u.RawQuery = q.Encode() + fmt.Sprintf("&_pragma=busy_timeout(%d)", defaultBusyWait)
	return u.String(), nil
}

// Open opens the database at path. Any failure, including a missing
// ItemTable, is reported as ErrDatabaseOpenFailed.
func Open(ctx context.Context, path string, mode Mode, opts ...Option) (*Database, error) {
	connStr, err := connString(path, mode)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDatabaseOpenFailed, err)
	}

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDatabaseOpenFailed, err)
	}
	db.SetMaxOpenConns(1)

	conn, err := db.Conn(ctx)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %w", ErrDatabaseOpenFailed, err)
	}

	if _, err := conn.ExecContext(ctx, probeItemTable); err != nil {
		_ = conn.Close()
		_ = db.Close()
		return nil, fmt.Errorf("%w: ItemTable not readable: %w", ErrDatabaseOpenFailed, err)
	}

	d := &Database{
		db:     db,
		conn:   conn,
		path:   path,
		mode:   mode,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Path returns the database file path
func (d *Database) Path() string { return d.path }

// Stats returns the counters of the scan so far
func (d *Database) Stats() Stats { return d.stats }

// Count returns the total number of rows in ItemTable, prefixed or not.
func (d *Database) Count(ctx context.Context) (int, error) {
	var n int
	if err := d.conn.QueryRowContext(ctx, countAll).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	return n, nil
}

// Records returns a single-use sequence of the records whose key starts
// with prefix. Rows are filtered in SQL, and again by key before any value
// decoding, so other rows are never loaded. Rows whose value cannot be
// decoded are logged and skipped. A fatal query error is yielded once as
// the last element. Query resources are released when the sequence ends,
// including when the caller stops early.
func (d *Database) Records(ctx context.Context, prefix string) iter.Seq2[types.Record, error] {
	return func(yield func(types.Record, error) bool) {
		if prefix == "" {
			yield(types.Record{}, ErrEmptyPrefix)
			return
		}
		if !d.scanned.CompareAndSwap(false, true) {
			yield(types.Record{}, ErrAlreadyScanned)
			return
		}

		rows, err := d.conn.QueryContext(ctx, selectPrefixed, utf8.RuneCountInString(prefix), prefix)
		if err != nil {
			yield(types.Record{}, fmt.Errorf("%w: %w", ErrQueryFailed, err))
			return
		}
		defer func() { _ = rows.Close() }()

		for rows.Next() {
			var key sql.NullString
			var raw []byte
			if err := rows.Scan(&key, &raw); err != nil {
				d.stats.Skipped++
				d.logger.Warn("failed to read row, skipping", zap.Error(err))
				continue
			}
			if !key.Valid || !strings.HasPrefix(key.String, prefix) {
				continue
			}
			d.stats.Scanned++

			value, err := DecodeUTF16LE(raw)
			if err != nil {
				d.stats.Skipped++
				d.logger.Warn("failed to convert data blob into string, skipping",
					zap.String("key", key.String), zap.Int("bytes", len(raw)), zap.Error(err))
				continue
			}

			if !yield(types.Record{Key: key.String, Value: value}, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(types.Record{}, fmt.Errorf("%w: %w", ErrQueryFailed, err))
		}
	}
}

// DeletePrefixed removes every row whose key starts with prefix, on the
// same connection the scan used. It must not be called while a Records
// sequence is still being iterated.
func (d *Database) DeletePrefixed(ctx context.Context, prefix string) (int64, error) {
	if prefix == "" {
		return 0, ErrEmptyPrefix
	}
	if d.mode != ReadWrite {
		return 0, ErrReadOnly
	}
	res, err := d.conn.ExecContext(ctx, deletePrefixed, utf8.RuneCountInString(prefix), prefix)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}

// BackupTo writes a consistent copy of the database to dst, which must not
// exist. Committed rows still in the write-ahead log are included. It must
// not be called while a Records sequence is still being iterated.
func (d *Database) BackupTo(ctx context.Context, dst string) error {
	if _, err := d.conn.ExecContext(ctx, vacuumInto, dst); err != nil {
		return fmt.Errorf("failed to back up %s: %w", d.path, err)
	}
	return nil
}

// Close releases the connection and the pool. It is safe to call more
// than once.
func (d *Database) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	connErr := d.conn.Close()
	dbErr := d.db.Close()
	return errors.Join(connErr, dbErr)
}
