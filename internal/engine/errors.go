package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/docstore/document"
	"github.com/hupe1980/docstore/internal/autoid"
	"github.com/hupe1980/docstore/internal/lock"
	"github.com/hupe1980/docstore/internal/pager"
)

var (
	// ErrClosed is returned when an operation is attempted on a closed engine.
	ErrClosed = errors.New("engine closed")

	// ErrInvalidArgument is returned for malformed input (empty collection name, nil document, bad _id).
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrDuplicateKey is returned when an insert would create a second live entry
	// for a key in a unique index. Match it with errors.Is; the concrete error is
	// a *DuplicateKeyError.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrStorageExhausted is returned when the page allocator or an id sequence runs out.
	ErrStorageExhausted = errors.New("storage exhausted")

	// ErrTransientConflict is returned when a collection lock could not be acquired in time.
	// RunInTransaction retries it.
	ErrTransientConflict = errors.New("transient conflict")

	// ErrCancelled is returned when the caller's context ends during a transaction.
	ErrCancelled = errors.New("operation cancelled")

	// ErrNotFound is returned when a requested document or collection does not exist.
	ErrNotFound = errors.New("not found")

	// ErrCorrupt is returned when data corruption is detected (checksum mismatch, etc.).
	ErrCorrupt = errors.New("data corruption detected")
)

// DuplicateKeyError describes a unique index violation.
type DuplicateKeyError struct {
	Collection string
	Index      string
	Key        document.Value
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate key in %s.%s: %s", e.Collection, e.Index, e.Key)
}

// Is makes errors.Is(err, ErrDuplicateKey) hold.
func (e *DuplicateKeyError) Is(target error) bool {
	return target == ErrDuplicateKey
}

// cancelledError matches both ErrCancelled and the context error it wraps.
type cancelledError struct {
	cause error
}

func (e *cancelledError) Error() string {
	return fmt.Sprintf("%s: %v", ErrCancelled, e.cause)
}

func (e *cancelledError) Is(target error) bool {
	return target == ErrCancelled
}

func (e *cancelledError) Unwrap() error {
	return e.cause
}

func cancelled(cause error) error {
	if cause == nil {
		cause = context.Canceled
	}
	return &cancelledError{cause: cause}
}

// translate maps errors of the storage layers onto the engine sentinels.
// Errors that already carry an engine sentinel pass through unchanged.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrCancelled), errors.Is(err, ErrDuplicateKey),
		errors.Is(err, ErrInvalidArgument), errors.Is(err, ErrStorageExhausted),
		errors.Is(err, ErrTransientConflict), errors.Is(err, ErrCorrupt),
		errors.Is(err, ErrNotFound), errors.Is(err, ErrClosed):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return cancelled(err)
	case errors.Is(err, lock.ErrTimeout):
		return fmt.Errorf("%w: %w", ErrTransientConflict, err)
	case errors.Is(err, autoid.ErrMissingID), errors.Is(err, autoid.ErrInvalidID):
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	case errors.Is(err, autoid.ErrSequenceExhausted), errors.Is(err, pager.ErrStorageExhausted):
		return fmt.Errorf("%w: %w", ErrStorageExhausted, err)
	case errors.Is(err, pager.ErrChecksum), errors.Is(err, pager.ErrCorrupt), errors.Is(err, pager.ErrInvalidPage):
		return fmt.Errorf("%w: %w", ErrCorrupt, err)
	case errors.Is(err, pager.ErrClosed):
		return fmt.Errorf("%w: %w", ErrClosed, err)
	default:
		return err
	}
}
