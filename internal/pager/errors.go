package pager

import "errors"

var (
	// ErrStorageExhausted is returned when an allocation would exceed MaxPages.
	ErrStorageExhausted = errors.New("pager: storage exhausted")
	// ErrChecksum is returned when a page fails verification.
	ErrChecksum = errors.New("pager: page checksum mismatch")
	// ErrCorrupt is returned for unreadable headers and inconsistent logs.
	ErrCorrupt = errors.New("pager: corrupt storage")
	// ErrInvalidPage is returned for reads of unallocated or freed pages.
	ErrInvalidPage = errors.New("pager: invalid page")
	// ErrPageTooLarge is returned when data exceeds the page capacity.
	ErrPageTooLarge = errors.New("pager: data exceeds page capacity")
	// ErrTxDone is returned when a finished transaction is used.
	ErrTxDone = errors.New("pager: transaction already finished")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("pager: closed")
	// ErrFailed is returned after a commit could not be applied. The pager
	// must be reopened, which replays the log.
	ErrFailed = errors.New("pager: failed, reopen required")
)
