// Package walerr defines the error taxonomy shared by storage and wal: the
// caller-bug class (OutOfRange, BadState), the recoverable conflict class
// (ConcurrentWrite), and the fatal/log-integrity class (CorruptLog).
//
// Following the sentinel-plus-errors.Is convention used throughout the
// retrieved corpus (calvinalkan-agent-task/internal/store's ErrWALCorrupt,
// ErrWALReplay), each class has a base sentinel that wraps richer values
// where context is needed.
package walerr

import (
	"errors"
	"fmt"
	"time"
)

// ErrOutOfRange reports an index or length outside a required bound. It is
// always a caller bug and is never retried.
var ErrOutOfRange = errors.New("walcore: out of range")

// ErrBadState reports an operation invoked on a closed WAL, a non-Running
// transaction, or from the wrong executor. Always a caller bug.
var ErrBadState = errors.New("walcore: bad state")

// ErrConcurrentWrite reports a commit conflict. Recoverable: the caller may
// retry with a fresh transaction. Use errors.As to recover the conflicting
// sequence number and its commit timestamp.
var ErrConcurrentWrite = errors.New("walcore: concurrent write")

// ErrCorruptLog reports a header magic mismatch on reload. Fatal: the
// caller must not proceed with this log file.
var ErrCorruptLog = errors.New("walcore: corrupt log")

// ErrIo wraps an underlying storage I/O failure. The transaction that
// triggered it is moved to Aborted.
var ErrIo = errors.New("walcore: io error")

// OutOfRange builds an ErrOutOfRange with context.
func OutOfRange(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrOutOfRange)
}

// BadState builds an ErrBadState with context.
func BadState(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrBadState)
}

// Io wraps an underlying error as ErrIo.
func Io(op string, err error) error {
	return fmt.Errorf("walcore: %s: %w: %w", op, ErrIo, err)
}

// ConcurrentWriteError carries enough context for a caller to identify the
// first conflicting record (spec §4.9.7).
type ConcurrentWriteError struct {
	FirstConflictSeq uint64
	Timestamp        time.Time
}

func (e *ConcurrentWriteError) Error() string {
	return fmt.Sprintf("walcore: concurrent write: conflicts with committed sequence %d at %s",
		e.FirstConflictSeq, e.Timestamp.Format(time.RFC3339Nano))
}

func (e *ConcurrentWriteError) Unwrap() error { return ErrConcurrentWrite }

// NewConcurrentWrite builds a ConcurrentWriteError.
func NewConcurrentWrite(seq uint64, ts time.Time) error {
	return &ConcurrentWriteError{FirstConflictSeq: seq, Timestamp: ts}
}
