package browser

import (
	"errors"
	"fmt"
)

var (
	// ErrLoadInProgress is returned when a different page is already loading
	ErrLoadInProgress = errors.New("another page load is in progress")

	// ErrDuplicateLoad is returned by the guard when the same page is already loading
	ErrDuplicateLoad = errors.New("page is already loading")

	// ErrChainBroken is returned when page n is requested before page n-1 exists
	ErrChainBroken = errors.New("previous page is not loaded")

	// ErrStaleResult marks a load whose session or guard was reset while it ran
	ErrStaleResult = errors.New("load result is stale")

	// ErrEndOfData is matched by ChainRebuildError
	ErrEndOfData = errors.New("scan ended before the requested page")

	// ErrNoNextPage is returned when the current page is the last one
	ErrNoNextPage = errors.New("no next page")

	// ErrNoPreviousPage is returned when the current page is the first one
	ErrNoPreviousPage = errors.New("no previous page")

	// ErrInvalidPage is returned for page numbers below 1
	ErrInvalidPage = errors.New("invalid page number")
)

// ScanError wraps a failed call to the scan primitive. The session is left as
// it was before the load started.
type ScanError struct {
	Page   int
	Cursor string
	Err    error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("scan for page %d (cursor %q) failed: %v", e.Page, e.Cursor, e.Err)
}

func (e *ScanError) Unwrap() error { return e.Err }

// ChainRebuildError is returned by a backward load when the data ran out before
// the target page could be rebuilt. LastPage is the last page that exists.
type ChainRebuildError struct {
	Target   int
	LastPage int
}

func (e *ChainRebuildError) Error() string {
	return fmt.Sprintf("cannot rebuild page %d: data ends at page %d", e.Target, e.LastPage)
}

func (e *ChainRebuildError) Is(target error) bool { return target == ErrEndOfData }
