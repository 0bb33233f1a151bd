package memory

import (
	"errors"
	"fmt"

	sqlite3 "github.com/mattn/go-sqlite3"
)

// ErrNotFound marks a missing record or file. Read paths return nil or
// false instead of surfacing it; it exists for errors.Is checks on the
// few operations that require their target to exist.
var ErrNotFound = errors.New("not found")

// StorageError wraps a failed store operation with the operation name.
// Constraint violations, lock timeouts and I/O failures all surface as
// StorageError; the caller decides whether to retry.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("engram: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// storageErr wraps err in a StorageError, or returns nil if err is nil.
func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// IsRetryable reports whether err is a transient lock-wait failure.
// Concurrent writers serialize on a bounded busy timeout; when the
// timeout elapses the write fails with SQLITE_BUSY and may simply be
// retried.
func IsRetryable(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}
