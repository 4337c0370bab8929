package kvstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/nativestorage/nativestorage/internal/types"
	"go.uber.org/zap"
)

const fileFormatVersion = 1

// ErrDirty is returned by Reload when unsynced writes would be discarded
var ErrDirty = errors.New("store has unsynced changes")

// FileStore is a Store persisted as a single JSON document. Numbers are
// written as strings so doubles keep their exact value (including ±Inf)
// and integers are not truncated to float precision.
//
// Several FileStores (in one process or many) may share a file. Each one
// records its own sets and removes, and Sync merges them into the current
// file contents under an advisory lock.
type FileStore struct {
	mu      sync.Mutex
	path    string
	entries map[string]types.Value
	// pending holds unsynced changes; a nil value is a removal
	pending map[string]*types.Value
	cleared bool
	logger  *zap.Logger
}

// FileOption customises OpenFile
type FileOption func(*FileStore)

// WithLogger sets the logger used for non-fatal store events
func WithLogger(l *zap.Logger) FileOption {
	return func(s *FileStore) {
		if l != nil {
			s.logger = l
		}
	}
}

type fileDocument struct {
	Version int                  `json:"version"`
	Entries map[string]fileEntry `json:"entries"`
}

type fileEntry struct {
	Type  types.Kind      `json:"type"`
	Value json.RawMessage `json:"value"`
}

// OpenFile opens the store at path, loading it if the file exists. The
// parent directory is created when missing.
func OpenFile(path string, opts ...FileOption) (*FileStore, error) {
	s := &FileStore{
		path:    path,
		entries: make(map[string]types.Value),
		pending: make(map[string]*types.Value),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	entries, err := readFile(path)
	if err != nil {
		return nil, err
	}
	if entries != nil {
		s.entries = entries
	}
	return s, nil
}

// Path returns the backing file path
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Get(key string) (types.Value, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.entries[key]
	return v, ok
}

func (s *FileStore) Set(key string, value types.Value) error {
	if err := validate(key, value); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = value
	s.pending[key] = &value
	return nil
}

func (s *FileStore) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	s.pending[key] = nil
	return nil
}

func (s *FileStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.entries)
}

func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]types.Value)
	s.pending = make(map[string]*types.Value)
	s.cleared = true
	return nil
}

func (s *FileStore) dirty() bool {
	return s.cleared || len(s.pending) > 0
}

// Sync merges the unsynced changes into the file and writes it atomically.
// The file is re-read under the store lock, so writes synced by other
// FileStores on the same path since the last load are kept. It is a no-op
// when nothing changed.
func (s *FileStore) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty() {
		return nil
	}

	unlock, err := lockFile(s.path + ".lock")
	if err != nil {
		return fmt.Errorf("failed to lock store: %w", err)
	}
	defer unlock()

	merged, err := readFile(s.path)
	if err != nil {
		return err
	}
	if merged == nil || s.cleared {
		merged = make(map[string]types.Value)
	}
	for key, v := range s.pending {
		if v == nil {
			delete(merged, key)
			continue
		}
		merged[key] = *v
	}

	if err := writeFileAtomic(s.path, merged); err != nil {
		return err
	}
	s.entries = merged
	s.pending = make(map[string]*types.Value)
	s.cleared = false
	return nil
}

// Reload replaces the in-memory entries with the file contents. It refuses
// to discard unsynced writes.
func (s *FileStore) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dirty() {
		return ErrDirty
	}
	entries, err := readFile(s.path)
	if err != nil {
		return err
	}
	if entries == nil {
		entries = make(map[string]types.Value)
	}
	s.entries = entries
	return nil
}

func readFile(path string) (map[string]types.Value, error) {
	data, err := os.ReadFile(path) // #nosec G304 - controlled path from config
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading store: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing store %s: %w", path, err)
	}
	if doc.Version > fileFormatVersion {
		return nil, fmt.Errorf("store %s has unsupported format version %d", path, doc.Version)
	}

	entries := make(map[string]types.Value, len(doc.Entries))
	for key, e := range doc.Entries {
		v, err := decodeEntry(e)
		if err != nil {
			return nil, fmt.Errorf("parsing store entry %q: %w", key, err)
		}
		entries[key] = v
	}
	return entries, nil
}

func decodeEntry(e fileEntry) (types.Value, error) {
	switch e.Type {
	case types.KindString:
		var s string
		if err := json.Unmarshal(e.Value, &s); err != nil {
			return types.Value{}, err
		}
		return types.StringValue(s), nil
	case types.KindBool:
		var b bool
		if err := json.Unmarshal(e.Value, &b); err != nil {
			return types.Value{}, err
		}
		return types.BoolValue(b), nil
	case types.KindInt:
		var s string
		if err := json.Unmarshal(e.Value, &s); err != nil {
			return types.Value{}, err
		}
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return types.Value{}, err
		}
		return types.IntValue(i), nil
	case types.KindDouble:
		var s string
		if err := json.Unmarshal(e.Value, &s); err != nil {
			return types.Value{}, err
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return types.Value{}, err
		}
		return types.DoubleValue(f), nil
	}
	return types.Value{}, fmt.Errorf("%w: %q", ErrInvalidKind, string(e.Type))
}

func encodeEntry(v types.Value) (fileEntry, error) {
	var payload interface{}
	switch v.Kind {
	case types.KindString:
		payload = v.Str
	case types.KindBool:
		payload = v.Bool
	case types.KindInt:
		payload = strconv.FormatInt(v.Int, 10)
	case types.KindDouble:
		payload = strconv.FormatFloat(v.Float, 'g', -1, 64)
	default:
		return fileEntry{}, fmt.Errorf("%w: %q", ErrInvalidKind, string(v.Kind))
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fileEntry{}, err
	}
	return fileEntry{Type: v.Kind, Value: raw}, nil
}

// writeFileAtomic writes entries to a PID-suffixed temp file and renames it
// over path.
func writeFileAtomic(path string, entries map[string]types.Value) error {
	doc := fileDocument{
		Version: fileFormatVersion,
		Entries: make(map[string]fileEntry, len(entries)),
	}
	for key, v := range entries {
		e, err := encodeEntry(v)
		if err != nil {
			return fmt.Errorf("failed to encode %q: %w", key, err)
		}
		doc.Entries[key] = e
	}

	tempPath := fmt.Sprintf("%s.tmp.%d", path, os.Getpid())
	f, err := os.Create(tempPath) // #nosec G304 - controlled path from config
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	// Ensure cleanup on failure
	defer func() {
		if f != nil {
			_ = f.Close()
			_ = os.Remove(tempPath)
		}
	}()

	encoder := json.NewEncoder(f)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode store: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to flush temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	f = nil // Prevent defer cleanup

	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}
