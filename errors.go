package docstore

import (
	"errors"
	"fmt"

	"github.com/hupe1980/docstore/internal/engine"
)

var (
	// ErrInvalidArgument is returned for malformed input: an empty or reserved
	// collection name, a nil document, or an _id that cannot be stored.
	ErrInvalidArgument = engine.ErrInvalidArgument

	// ErrDuplicateKey is returned when a write would add a second entry for a
	// key of a unique index. The concrete error is a *DuplicateKeyError.
	ErrDuplicateKey = engine.ErrDuplicateKey

	// ErrStorageExhausted is returned when no page or identifier is left.
	ErrStorageExhausted = engine.ErrStorageExhausted

	// ErrTransientConflict is returned when a collection lock could not be
	// taken in time, after the configured retries.
	ErrTransientConflict = engine.ErrTransientConflict

	// ErrCancelled is returned when the context ends during a write. It also
	// matches the context error with errors.Is.
	ErrCancelled = engine.ErrCancelled

	// ErrNotFound is returned when a document or collection does not exist.
	ErrNotFound = engine.ErrNotFound

	// ErrClosed is returned when the database is used after Close.
	ErrClosed = engine.ErrClosed

	// ErrCorrupt is returned when stored data fails validation.
	ErrCorrupt = engine.ErrCorrupt

	// ErrInvalidBackend is returned by Open for a zero Backend.
	ErrInvalidBackend = errors.New("invalid backend")
)

// DuplicateKeyError describes a unique index violation.
type DuplicateKeyError = engine.DuplicateKeyError

// ErrOpen wraps a failure to open a database.
//
// The original underlying error can be accessed via errors.Unwrap.
type ErrOpen struct {
	Backend string
	cause   error
}

func (e *ErrOpen) Error() string {
	return fmt.Sprintf("open %s database: %v", e.Backend, e.cause)
}

func (e *ErrOpen) Unwrap() error { return e.cause }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	// Errors that already carry a docstore sentinel are returned as-is.
	for _, sentinel := range []error{
		ErrInvalidArgument, ErrDuplicateKey, ErrStorageExhausted, ErrTransientConflict,
		ErrCancelled, ErrNotFound, ErrClosed, ErrCorrupt, ErrInvalidBackend,
	} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	return fmt.Errorf("docstore: %w", err)
}
