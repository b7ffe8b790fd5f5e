package history

import (
	"errors"
	"fmt"
)

// Failures that abort a whole operation. Everything else (a bad record, an
// unreadable source, a failed per-date aggregation) is isolated and reported.
var (
	// ErrSchemaMismatch means the persisted store layout is newer than this
	// binary understands. Requires a migration or store recreation; never
	// silently coerced.
	ErrSchemaMismatch = errors.New("store schema version mismatch")

	// ErrBackupVerification means a backup copy could not be verified against
	// the live store. No destructive operation may proceed on it.
	ErrBackupVerification = errors.New("backup verification failed")

	// ErrBackupExists means the backup target already exists and the caller
	// did not ask to overwrite it.
	ErrBackupExists = errors.New("backup file already exists")

	// ErrForceRequired means a destructive operation was invoked without force.
	ErrForceRequired = errors.New("destructive operation requires force")

	// ErrNoBackup means no backup exists at the given path.
	ErrNoBackup = errors.New("no backup found")

	// ErrStoreClosed means the store handle was closed or destroyed.
	ErrStoreClosed = errors.New("store is closed")
)

// ParseError reports a single malformed record in a source. Ingestion counts
// these and keeps reading; a source is never aborted for one bad record.
type ParseError struct {
	Path string
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s line %d: %v", e.Path, e.Line, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
