// Package migrate moves legacy local-storage values into the typed
// destination store exactly once.
package migrate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nativestorage/nativestorage/internal/convert"
	"github.com/nativestorage/nativestorage/internal/kvstore"
	"github.com/nativestorage/nativestorage/internal/localstorage"
	"github.com/nativestorage/nativestorage/internal/types"
	"go.uber.org/zap"
)

// Locator finds the legacy database file
type Locator interface {
	Locate() (localstorage.Resolution, error)
}

// LocatorFunc adapts a function to Locator
type LocatorFunc func() (localstorage.Resolution, error)

// Locate calls f
func (f LocatorFunc) Locate() (localstorage.Resolution, error) { return f() }

// EnvironmentLocator resolves the database from the platform environment
func EnvironmentLocator(env localstorage.Environment) Locator {
	return LocatorFunc(env.Resolve)
}

// Entry describes what happened to one legacy record
type Entry struct {
	Key   string     `json:"key" yaml:"key"`
	Type  string     `json:"type" yaml:"type"`
	Kind  types.Kind `json:"kind,omitempty" yaml:"kind,omitempty"`
	Value string     `json:"value,omitempty" yaml:"value,omitempty"`
	Error string     `json:"error,omitempty" yaml:"error,omitempty"`
}

// Report summarizes a run or a plan
type Report struct {
	RunID        string `json:"run_id" yaml:"run_id"`
	DatabasePath string `json:"database_path,omitempty" yaml:"database_path,omitempty"`
	Layout       string `json:"layout,omitempty" yaml:"layout,omitempty"`
	Candidate    string `json:"candidate,omitempty" yaml:"candidate,omitempty"`
	BackupPath   string `json:"backup_path,omitempty" yaml:"backup_path,omitempty"`
	State        State  `json:"state" yaml:"state"`

	// Migrated counts values written (or, for a plan, that would be written)
	Migrated int `json:"migrated" yaml:"migrated"`
	// Skipped counts rows whose value was not valid UTF-16LE text
	Skipped int `json:"skipped" yaml:"skipped"`
	// Unconverted counts keys with no type rule
	Unconverted int   `json:"unconverted" yaml:"unconverted"`
	Deleted     int64 `json:"deleted" yaml:"deleted"`

	CleanupErr   error  `json:"-" yaml:"-"`
	CleanupError string `json:"cleanup_error,omitempty" yaml:"cleanup_error,omitempty"`

	AlreadyMigrated bool          `json:"already_migrated" yaml:"already_migrated"`
	DryRun          bool          `json:"dry_run" yaml:"dry_run"`
	Entries         []Entry       `json:"entries,omitempty" yaml:"entries,omitempty"`
	Duration        time.Duration `json:"duration" yaml:"duration"`
}

// Migrator runs the legacy data migration against one destination store
type Migrator struct {
	store     kvstore.Store
	locator   Locator
	logger    *zap.Logger
	observer  Observer
	backupDir string
	now       func() time.Time
}

// Option customises a Migrator
type Option func(*Migrator)

// WithLogger sets the logger; every run adds a run_id field
func WithLogger(l *zap.Logger) Option {
	return func(m *Migrator) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithObserver registers fn to receive every state transition
func WithObserver(fn Observer) Option {
	return func(m *Migrator) { m.observer = fn }
}

// WithBackup copies the legacy database into dir before it is opened for
// writing. An empty dir disables the backup.
func WithBackup(dir string) Option {
	return func(m *Migrator) { m.backupDir = dir }
}

// New creates a Migrator writing into store
func New(store kvstore.Store, locator Locator, opts ...Option) *Migrator {
	m := &Migrator{
		store:   store,
		locator: locator,
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RunIfNeeded migrates the legacy data unless the destination already
// holds a migrated key, in which case it returns without touching the
// filesystem. On failure the report is returned alongside an *Error.
func (m *Migrator) RunIfNeeded(ctx context.Context) (*Report, error) {
	return m.run(ctx, false)
}

// Run migrates even when the destination already holds migrated keys.
// Existing destination values under migrated keys are overwritten.
func (m *Migrator) Run(ctx context.Context) (*Report, error) {
	return m.run(ctx, true)
}

// Plan resolves and reads the legacy database read-only and reports what a
// run would write. Nothing is written or deleted.
func (m *Migrator) Plan(ctx context.Context) (*Report, error) {
	r := m.begin(true)

	r.to(Checking)
	r.rep.AlreadyMigrated = HasMigrated(m.store, KeyPrefix)

	r.to(ResolvingPath)
	res, err := m.locator.Locate()
	if err != nil {
		return r.fail(err)
	}
	r.resolved(res)

	r.to(ReadingRecords)
	db, err := localstorage.Open(ctx, res.Path, localstorage.ReadOnly, localstorage.WithReaderLogger(r.log))
	if err != nil {
		return r.fail(err)
	}
	defer r.close(db)

	err = r.scan(ctx, db, func(string, types.Value) error {
		r.rep.Migrated++
		return nil
	})
	if err != nil {
		return r.fail(err)
	}
	return r.finish(), nil
}

func (m *Migrator) run(ctx context.Context, force bool) (*Report, error) {
	r := m.begin(false)

	r.to(Checking)
	if HasMigrated(m.store, KeyPrefix) {
		if !force {
			r.rep.AlreadyMigrated = true
			r.log.Info("legacy data already migrated, skipping")
			return r.finish(), nil
		}
		r.log.Warn("destination already holds migrated keys, migrating anyway")
	}

	r.to(ResolvingPath)
	res, err := m.locator.Locate()
	if err != nil {
		return r.fail(err)
	}
	r.resolved(res)

	r.to(ReadingRecords)
	db, err := localstorage.Open(ctx, res.Path, localstorage.ReadWrite, localstorage.WithReaderLogger(r.log))
	if err != nil {
		return r.fail(err)
	}
	defer r.close(db)

	if m.backupDir != "" {
		path, err := backupDatabase(ctx, db, m.backupDir, m.now())
		if err != nil {
			return r.fail(err)
		}
		r.rep.BackupPath = path
		r.log.Info("backed up legacy database", zap.String("backup", path))
	}

	// Each record is written as it is read. Values already set stay in the
	// store if the scan, a later Set or the Sync fails.
	var setErr error
	err = r.scan(ctx, db, func(key string, value types.Value) error {
		if err := m.store.Set(key, value); err != nil {
			setErr = fmt.Errorf("%w: key %q: %w", ErrDestinationWrite, key, err)
			return setErr
		}
		r.rep.Migrated++
		return nil
	})
	if setErr != nil {
		r.to(WritingDestination)
		return r.fail(setErr)
	}
	if err != nil {
		return r.fail(err)
	}

	r.to(WritingDestination)
	if err := m.store.Sync(); err != nil {
		return r.fail(fmt.Errorf("%w: %w", ErrDestinationWrite, err))
	}

	r.to(CleaningSource)
	n, err := db.DeletePrefixed(ctx, KeyPrefix)
	if err != nil {
		r.rep.CleanupErr = fmt.Errorf("%w: %w", ErrCleanupFailed, err)
		r.rep.CleanupError = r.rep.CleanupErr.Error()
		r.log.Error("failed to delete migrated rows from legacy database", zap.Error(err))
	} else {
		r.rep.Deleted = n
	}

	return r.finish(), nil
}

// runner carries the state of one run
type runner struct {
	m     *Migrator
	rep   *Report
	log   *zap.Logger
	state State
	start time.Time
}

func (m *Migrator) begin(dryRun bool) *runner {
	id := uuid.NewString()
	return &runner{
		m:     m,
		rep:   &Report{RunID: id, State: NotStarted, DryRun: dryRun},
		log:   m.logger.With(zap.String("run_id", id), zap.Bool("dry_run", dryRun)),
		state: NotStarted,
		start: m.now(),
	}
}

func (r *runner) to(s State) {
	from := r.state
	r.state = s
	r.rep.State = s
	r.log.Debug("migration state changed", zap.Stringer("from", from), zap.Stringer("to", s))
	if r.m.observer != nil {
		r.m.observer(from, s)
	}
}

func (r *runner) resolved(res localstorage.Resolution) {
	r.rep.DatabasePath = res.Path
	r.rep.Layout = res.Layout.String()
	r.rep.Candidate = res.Candidate
	r.log.Info("found legacy database",
		zap.String("path", res.Path), zap.Stringer("layout", res.Layout))
}

// scan converts every prefixed record and hands it to emit. Conversion
// failures are recorded in the report and skipped. An emit error stops the
// scan.
func (r *runner) scan(ctx context.Context, db *localstorage.Database, emit func(string, types.Value) error) error {
	defer func() { r.rep.Skipped = db.Stats().Skipped }()
	for rec, err := range db.Records(ctx, KeyPrefix) {
		if err != nil {
			return err
		}
		value, target, err := convert.ConvertKey(rec.Key, rec.Value)
		entry := Entry{Key: rec.Key, Type: target.String()}
		if err != nil {
			r.rep.Unconverted++
			entry.Error = err.Error()
			r.rep.Entries = append(r.rep.Entries, entry)
			r.log.Warn("failed to convert legacy value, skipping", zap.String("key", rec.Key), zap.Error(err))
			continue
		}
		entry.Kind = value.Kind
		entry.Value = value.String()
		r.rep.Entries = append(r.rep.Entries, entry)
		if err := emit(rec.Key, value); err != nil {
			return err
		}
	}
	return nil
}

func (r *runner) close(db *localstorage.Database) {
	if err := db.Close(); err != nil {
		r.log.Warn("failed to close legacy database", zap.Error(err))
	}
}

func (r *runner) finish() *Report {
	r.to(Done)
	r.rep.Duration = r.m.now().Sub(r.start)
	r.log.Info("migration finished",
		zap.Int("migrated", r.rep.Migrated),
		zap.Int("skipped", r.rep.Skipped),
		zap.Int("unconverted", r.rep.Unconverted),
		zap.Int64("deleted", r.rep.Deleted),
		zap.Bool("already_migrated", r.rep.AlreadyMigrated),
		zap.Duration("duration", r.rep.Duration))
	return r.rep
}

func (r *runner) fail(err error) (*Report, error) {
	op := r.state
	r.to(Failed)
	r.rep.Duration = r.m.now().Sub(r.start)
	r.log.Error("migration failed", zap.Stringer("state", op), zap.Error(err))
	return r.rep, &Error{Op: op, Err: err}
}
