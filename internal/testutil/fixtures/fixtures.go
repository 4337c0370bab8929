// Package fixtures builds WebKit-shaped directory trees and local-storage
// databases for tests.
package fixtures

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	// Import SQLite driver
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"golang.org/x/text/encoding/unicode"
)

// itemTableSchema is the schema WebKit creates for local storage
const itemTableSchema = `CREATE TABLE IF NOT EXISTS ItemTable (key TEXT UNIQUE ON CONFLICT REPLACE, value BLOB NOT NULL ON CONFLICT FAIL)`

// Item is a raw ItemTable row
type Item struct {
	Key   string
	Value []byte
}

// TextItem returns an Item whose value is s encoded as UTF-16LE
func TextItem(key, s string) Item {
	return Item{Key: key, Value: UTF16LE(s)}
}

// UTF16LE encodes s as little-endian UTF-16 without a BOM
func UTF16LE(s string) []byte {
	out, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder().Bytes([]byte(s))
	if err != nil {
		panic(fmt.Sprintf("fixtures: encoding %q: %v", s, err))
	}
	return out
}

// OriginBlob mimics the serialized origin file: scheme and host separated
// by length prefixes and control codes, written twice (top frame and frame).
func OriginBlob(scheme, host string) []byte {
	part := func(s string) []byte {
		return append([]byte{byte(len(s)), 0, 0, 0, 1}, s...)
	}
	var one []byte
	one = append(one, part(scheme)...)
	one = append(one, part(host)...)
	one = append(one, 0)
	return append(one, one...)
}

// CreateItemTable creates a local-storage database at path with items,
// creating parent directories as needed.
func CreateItemTable(path string, items ...Item) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if _, err := db.Exec(itemTableSchema); err != nil {
		return fmt.Errorf("failed to create ItemTable: %w", err)
	}
	for _, it := range items {
		if _, err := db.Exec(`INSERT INTO ItemTable (key, value) VALUES (?, ?)`, it.Key, it.Value); err != nil {
			return fmt.Errorf("failed to insert %q: %w", it.Key, err)
		}
	}
	return nil
}

// OpenWALWriter switches the database at path to write-ahead logging with
// automatic checkpoints disabled and inserts items on a connection that
// stays open, so the rows live only in the -wal file until close is
// called.
func OpenWALWriter(path string, items ...Item) (closeFn func() error, err error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	p := filepath.ToSlash(abs)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	u := url.URL{Scheme: "file", Path: p}
	u.RawQuery = "_pragma=journal_mode(wal)&_pragma=wal_autocheckpoint(0)"

	db, err := sql.Open("sqlite3", u.String())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn, err := db.Conn(context.Background())
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open connection: %w", err)
	}
	closeFn = func() error {
		return errors.Join(conn.Close(), db.Close())
	}
	for _, it := range items {
		if _, err := conn.ExecContext(context.Background(), `INSERT INTO ItemTable (key, value) VALUES (?, ?)`, it.Key, it.Value); err != nil {
			_ = closeFn()
			return nil, fmt.Errorf("failed to insert %q: %w", it.Key, err)
		}
	}
	return closeFn, nil
}

// ReadItems returns all rows of the ItemTable at path, sorted by key.
func ReadItems(path string) ([]Item, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	rows, err := db.Query(`SELECT key, value FROM ItemTable`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.Key, &it.Value); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Key < items[j].Key })
	return items, rows.Err()
}

// WebsiteDataDir returns <library>/WebKit[/<bundle>]/WebsiteData
func WebsiteDataDir(library, bundleID string) string {
	if bundleID != "" {
		return filepath.Join(library, "WebKit", bundleID, "WebsiteData")
	}
	return filepath.Join(library, "WebKit", "WebsiteData")
}

// SaltedDir describes one candidate directory under WebsiteData/Default
type SaltedDir struct {
	Name string
	// Origin is the sentinel content; nil writes no sentinel
	Origin []byte
	// Items creates a database when non-nil
	Items []Item
	// File creates a plain file named Name instead of a directory
	File bool
}

// CurrentDatabasePath returns the database path inside salted directory name
func CurrentDatabasePath(websiteData, name string) string {
	return filepath.Join(websiteData, "Default", name, name, "LocalStorage", "localstorage.sqlite3")
}

// WriteCurrentLayout creates salted candidate directories under
// <websiteData>/Default.
func WriteCurrentLayout(websiteData string, dirs ...SaltedDir) error {
	root := filepath.Join(websiteData, "Default")
	if err := os.MkdirAll(root, 0o750); err != nil {
		return err
	}
	for _, d := range dirs {
		if d.File {
			if err := os.WriteFile(filepath.Join(root, d.Name), d.Origin, 0o600); err != nil {
				return err
			}
			continue
		}
		inner := filepath.Join(root, d.Name, d.Name)
		if err := os.MkdirAll(inner, 0o750); err != nil {
			return err
		}
		if d.Origin != nil {
			if err := os.WriteFile(filepath.Join(inner, "origin"), d.Origin, 0o600); err != nil {
				return err
			}
		}
		if d.Items != nil {
			if err := CreateItemTable(CurrentDatabasePath(websiteData, d.Name), d.Items...); err != nil {
				return err
			}
		}
	}
	return nil
}

// LegacyDatabasePath returns the pre-16 database path for the default origin
func LegacyDatabasePath(websiteData string) string {
	return filepath.Join(websiteData, "LocalStorage", "ionic_app_0.localstorage")
}

// WriteLegacyLayout creates the pre-16 database and returns its path
func WriteLegacyLayout(websiteData string, items ...Item) (string, error) {
	path := LegacyDatabasePath(websiteData)
	return path, CreateItemTable(path, items...)
}
