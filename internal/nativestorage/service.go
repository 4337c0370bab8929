// Package nativestorage serves typed key-value storage to the host app and
// runs the legacy local-storage migration when the service starts.
package nativestorage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"

	"github.com/nativestorage/nativestorage/internal/configfile"
	"github.com/nativestorage/nativestorage/internal/convert"
	"github.com/nativestorage/nativestorage/internal/kvstore"
	"github.com/nativestorage/nativestorage/internal/localstorage"
	"github.com/nativestorage/nativestorage/internal/migrate"
	"github.com/nativestorage/nativestorage/internal/types"
	"go.uber.org/zap"
)

// Errors returned by Service operations. Code maps them to the numeric
// codes the host bridge reports.
var (
	ErrWriteFailed    = errors.New("write has failed")
	ErrNotFound       = errors.New("item not found")
	ErrNullReference  = errors.New("reference was null")
	ErrWrongParameter = errors.New("wrong parameter")
	// ErrNotInitialized is returned before a store has been opened
	ErrNotInitialized = errors.New("native storage not initialized")
)

// Bridge error codes
const (
	CodeWriteFailed    = 1
	CodeNotFound       = 2
	CodeNullReference  = 3
	CodeWrongParameter = 6
)

// Code returns the bridge error code for err, or 0 if it has none.
func Code(err error) int {
	switch {
	case errors.Is(err, ErrWriteFailed):
		return CodeWriteFailed
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrNullReference):
		return CodeNullReference
	case errors.Is(err, ErrWrongParameter):
		return CodeWrongParameter
	}
	return 0
}

// Opener opens the store backing a suite
type Opener func(suite string) (kvstore.Store, error)

// FileOpener opens suites as files inside storeDir
func FileOpener(storeDir string, cfg *configfile.Config, logger *zap.Logger) Opener {
	return func(suite string) (kvstore.Store, error) {
		path, err := cfg.SuitePath(storeDir, suite)
		if err != nil {
			return nil, err
		}
		return kvstore.OpenFile(path, kvstore.WithLogger(logger))
	}
}

// Service is the storage surface exposed to the host app. All methods are
// safe for concurrent use.
type Service struct {
	mu     sync.Mutex
	open   Opener
	suite  string
	store  kvstore.Store
	env    localstorage.Environment
	logger *zap.Logger

	backupDir string
}

// Option customises a Service
type Option func(*Service)

// WithEnvironment sets the platform environment used to find legacy data
func WithEnvironment(env localstorage.Environment) Option {
	return func(s *Service) { s.env = env }
}

// WithLogger sets the service logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMigrationBackup backs up the legacy database into dir before migrating
func WithMigrationBackup(dir string) Option {
	return func(s *Service) { s.backupDir = dir }
}

// New creates a Service. No store is opened until Initialize or
// InitWithSuiteName.
func New(open Opener, opts ...Option) *Service {
	s := &Service{
		open:   open,
		suite:  configfile.DefaultSuite,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize opens the default suite and migrates legacy local-storage
// data into it if that has not happened yet. A failed migration is logged
// and does not stop the service; only failing to open the store does.
func (s *Service) Initialize(ctx context.Context) (*migrate.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	store, err := s.open(s.suite)
	if err != nil {
		return nil, fmt.Errorf("failed to open suite %q: %w", s.suite, err)
	}
	s.store = store

	m := migrate.New(store, migrate.EnvironmentLocator(s.env),
		migrate.WithLogger(s.logger),
		migrate.WithBackup(s.backupDir))
	report, err := m.RunIfNeeded(ctx)
	if err != nil {
		s.logger.Warn("legacy storage migration failed", zap.Error(err))
	}

	if ce := s.logger.Check(zap.DebugLevel, "native storage values"); ce != nil {
		ce.Write(zap.String("suite", s.suite), zap.Any("values", snapshot(store)))
	}
	return report, nil
}

// InitWithSuiteName switches to the named suite
func (s *Service) InitWithSuiteName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: suite name", ErrNullReference)
	}
	if err := configfile.ValidateSuite(name); err != nil {
		return fmt.Errorf("%w: %w", ErrWrongParameter, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	store, err := s.open(name)
	if err != nil {
		return fmt.Errorf("failed to open suite %q: %w", name, err)
	}
	s.suite = name
	s.store = store
	return nil
}

// Suite returns the current suite name
func (s *Service) Suite() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.suite
}

func (s *Service) write(key string, fn func(kvstore.Store) error) error {
	if key == "" {
		return ErrNullReference
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store == nil {
		return ErrNotInitialized
	}
	if err := fn(s.store); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	if err := s.store.Sync(); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	return nil
}

func (s *Service) put(key string, v types.Value) error {
	return s.write(key, func(st kvstore.Store) error { return st.Set(key, v) })
}

func (s *Service) get(key string) (types.Value, bool, error) {
	if key == "" {
		return types.Value{}, false, ErrNullReference
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store == nil {
		return types.Value{}, false, ErrNotInitialized
	}
	v, ok := s.store.Get(key)
	return v, ok, nil
}

// PutBoolean stores b under key and syncs the suite
func (s *Service) PutBoolean(key string, b bool) error { return s.put(key, types.BoolValue(b)) }

// PutInt stores i under key and syncs the suite
func (s *Service) PutInt(key string, i int64) error { return s.put(key, types.IntValue(i)) }

// PutDouble stores f under key and syncs the suite
func (s *Service) PutDouble(key string, f float64) error { return s.put(key, types.DoubleValue(f)) }

// PutString stores str under key and syncs the suite
func (s *Service) PutString(key, str string) error { return s.put(key, types.StringValue(str)) }

// GetBoolean returns false for a missing key. Numbers are true when
// non-zero and strings are read with the legacy boolean convention.
func (s *Service) GetBoolean(key string) (bool, error) {
	v, ok, err := s.get(key)
	if err != nil || !ok {
		return false, err
	}
	switch v.Kind {
	case types.KindBool:
		return v.Bool, nil
	case types.KindInt:
		return v.Int != 0, nil
	case types.KindDouble:
		return v.Float != 0, nil
	default:
		return convert.ParseBool(v.Str), nil
	}
}

// GetInt returns 0 for a missing key. Doubles are truncated.
func (s *Service) GetInt(key string) (int64, error) {
	v, ok, err := s.get(key)
	if err != nil || !ok {
		return 0, err
	}
	switch v.Kind {
	case types.KindInt:
		return v.Int, nil
	case types.KindBool:
		if v.Bool {
			return 1, nil
		}
		return 0, nil
	case types.KindDouble:
		return truncate(v.Float), nil
	default:
		return truncate(convert.ParseNumber(v.Str)), nil
	}
}

// GetDouble returns 0 for a missing key.
func (s *Service) GetDouble(key string) (float64, error) {
	v, ok, err := s.get(key)
	if err != nil || !ok {
		return 0, err
	}
	switch v.Kind {
	case types.KindDouble:
		return v.Float, nil
	case types.KindInt:
		return float64(v.Int), nil
	case types.KindBool:
		if v.Bool {
			return 1, nil
		}
		return 0, nil
	default:
		return convert.ParseNumber(v.Str), nil
	}
}

// GetString reports ok=false for a missing key. Numbers are formatted and
// booleans read as "1" or "0".
func (s *Service) GetString(key string) (string, bool, error) {
	v, ok, err := s.get(key)
	if err != nil || !ok {
		return "", false, err
	}
	return stringOf(v), true, nil
}

// SetItem stores a string value, as written by the web app's storage API
func (s *Service) SetItem(key, value string) error {
	return s.PutString(key, value)
}

// GetItem returns ErrNotFound for a missing key
func (s *Service) GetItem(key string) (string, error) {
	str, ok, err := s.GetString(key)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	return str, nil
}

// Remove deletes key from the current suite. A missing key is not an error.
func (s *Service) Remove(key string) error {
	return s.write(key, func(st kvstore.Store) error { return st.Remove(key) })
}

// Clear removes every key of the current suite
func (s *Service) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store == nil {
		return ErrNotInitialized
	}
	if err := s.store.Clear(); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	if err := s.store.Sync(); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	return nil
}

// Keys returns the keys of the current suite, sorted
func (s *Service) Keys() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store == nil {
		return nil, ErrNotInitialized
	}
	return s.store.Keys(), nil
}

func stringOf(v types.Value) string {
	switch v.Kind {
	case types.KindString:
		return v.Str
	case types.KindBool:
		if v.Bool {
			return "1"
		}
		return "0"
	case types.KindInt:
		return strconv.FormatInt(v.Int, 10)
	default:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	}
}

// truncate converts f toward zero, saturating at the int64 range.
func truncate(f float64) int64 {
	switch {
	case math.IsNaN(f):
		return 0
	case f >= math.MaxInt64:
		return math.MaxInt64
	case f <= math.MinInt64:
		return math.MinInt64
	}
	return int64(f)
}

func snapshot(store kvstore.Store) map[string]interface{} {
	out := make(map[string]interface{})
	for _, k := range store.Keys() {
		if v, ok := store.Get(k); ok {
			out[k] = v.Interface()
		}
	}
	return out
}

// Lookup returns the stored value of key without coercion
func (s *Service) Lookup(key string) (types.Value, bool, error) {
	return s.get(key)
}
