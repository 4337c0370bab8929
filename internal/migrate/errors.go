package migrate

import (
	"errors"
	"fmt"

	"github.com/nativestorage/nativestorage/internal/convert"
	"github.com/nativestorage/nativestorage/internal/localstorage"
)

// Errors surfaced by a migration run. The first four originate in the
// packages that detect them and are re-exported so callers only need to
// import migrate.
var (
	ErrDatabaseFileNotFound          = localstorage.ErrDatabaseFileNotFound
	ErrIntermediateDirectoryNotFound = localstorage.ErrIntermediateDirectoryNotFound
	ErrDatabaseOpenFailed            = localstorage.ErrDatabaseOpenFailed
	ErrConversionFailed              = convert.ErrConversionFailed

	// ErrDestinationWrite is returned when migrated values could not be made durable
	ErrDestinationWrite = errors.New("failed to write migrated data to the destination store")
	// ErrCleanupFailed is recorded in the report when migrated rows could not be deleted
	ErrCleanupFailed = errors.New("failed to remove migrated rows from the legacy database")
	// ErrBackupFailed is returned when the legacy database could not be copied before the run
	ErrBackupFailed = errors.New("failed to back up legacy database")
)

// Error is the single failure returned by a run. Op is the state the run
// was in when it failed.
type Error struct {
	Op  State
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("migration failed while %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
