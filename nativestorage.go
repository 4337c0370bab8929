// Package nativestorage is the public API of the native storage plugin: a
// typed key-value service for the host app that migrates legacy WebKit
// local-storage data on first start.
//
// Hosts running in-process use OpenService; hosts in another process talk
// to `nstore serve` through Dial.
package nativestorage

import (
	"context"

	"go.uber.org/zap"

	"github.com/nativestorage/nativestorage/internal/kvstore"
	"github.com/nativestorage/nativestorage/internal/localstorage"
	"github.com/nativestorage/nativestorage/internal/migrate"
	"github.com/nativestorage/nativestorage/internal/nativestorage"
	"github.com/nativestorage/nativestorage/internal/rpc"
	"github.com/nativestorage/nativestorage/internal/types"
)

// Service is the typed storage surface exposed to the host app
type Service = nativestorage.Service

// Option configures a Service
type Option = nativestorage.Option

// Store is the destination key-value store interface
type Store = kvstore.Store

// Core types
type (
	Value       = types.Value
	Kind        = types.Kind
	Environment = localstorage.Environment
	Origin      = localstorage.Origin
	Report      = migrate.Report
	State       = migrate.State
	Client      = rpc.Client
)

// Kind constants
const (
	KindString = types.KindString
	KindBool   = types.KindBool
	KindInt    = types.KindInt
	KindDouble = types.KindDouble
)

// Error codes reported to the host
const (
	CodeWriteFailed    = nativestorage.CodeWriteFailed
	CodeNotFound       = nativestorage.CodeNotFound
	CodeNullReference  = nativestorage.CodeNullReference
	CodeWrongParameter = nativestorage.CodeWrongParameter
)

// Errors returned by Service operations and the migration
var (
	ErrWriteFailed    = nativestorage.ErrWriteFailed
	ErrNotFound       = nativestorage.ErrNotFound
	ErrNullReference  = nativestorage.ErrNullReference
	ErrWrongParameter = nativestorage.ErrWrongParameter

	ErrDatabaseFileNotFound          = migrate.ErrDatabaseFileNotFound
	ErrIntermediateDirectoryNotFound = migrate.ErrIntermediateDirectoryNotFound
	ErrDatabaseOpenFailed            = migrate.ErrDatabaseOpenFailed
	ErrDestinationWrite              = migrate.ErrDestinationWrite
)

// MigrationPrefix marks the legacy keys that are migrated
const MigrationPrefix = migrate.KeyPrefix

// WithEnvironment sets the platform environment used to find legacy data
func WithEnvironment(env Environment) Option { return nativestorage.WithEnvironment(env) }

// WithLogger sets the service logger
func WithLogger(l *zap.Logger) Option { return nativestorage.WithLogger(l) }

// WithMigrationBackup copies the legacy database into dir before migrating
func WithMigrationBackup(dir string) Option { return nativestorage.WithMigrationBackup(dir) }

// FindStoreDir locates the native storage directory
func FindStoreDir(explicit string) string {
	return nativestorage.FindStoreDir(explicit)
}

// OpenService opens a Service whose suites are files in storeDir. Call
// Initialize before using it.
func OpenService(storeDir string, opts ...Option) (*Service, error) {
	svc, _, err := nativestorage.OpenService(storeDir, opts...)
	return svc, err
}

// NewMemoryStore returns an empty in-memory Store
func NewMemoryStore() Store { return kvstore.NewMemoryStore() }

// OpenFileStore opens the JSON-backed Store at path, creating it on first
// Sync
func OpenFileStore(path string, logger *zap.Logger) (Store, error) {
	store, err := kvstore.OpenFile(path, kvstore.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return store, nil
}

// RunMigrationIfNeeded migrates legacy local-storage data found through env
// into store, unless store already holds migrated keys.
func RunMigrationIfNeeded(ctx context.Context, store Store, env Environment, logger *zap.Logger) (*Report, error) {
	return migrate.New(store, migrate.EnvironmentLocator(env), migrate.WithLogger(logger)).RunIfNeeded(ctx)
}

// HasMigrated reports whether store already holds migrated keys
func HasMigrated(store Store) bool {
	return migrate.HasMigrated(store, migrate.KeyPrefix)
}

// Dial connects to a bridge started with `nstore serve`
func Dial(socketPath string) (*Client, error) {
	return rpc.TryConnect(socketPath)
}
