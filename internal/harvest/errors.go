package harvest

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptySource is returned when a source reports zero usable records.
	ErrEmptySource = errors.New("harvest: source has no records")

	// ErrUnparsableMetadata is returned when a payload violates the known shape.
	ErrUnparsableMetadata = errors.New("harvest: unparsable metadata")

	// ErrMalformedLink is returned for a truncated resource descriptor.
	ErrMalformedLink = errors.New("harvest: malformed resource link")

	// ErrPaginationStall is returned when the server cursor does not advance.
	ErrPaginationStall = errors.New("harvest: pagination stalled")

	// ErrMissingTitle is returned when a record carries no title.
	ErrMissingTitle = errors.New("harvest: record has no title")

	// ErrMissingIdentifier is returned when a record carries no remote id.
	ErrMissingIdentifier = errors.New("harvest: record has no identifier")

	// ErrJobInProgress is returned when a job for the same source is already running.
	ErrJobInProgress = errors.New("harvest: job already running for source")
)

// MalformedLinkError describes a descriptor with fewer than linkFields parts.
type MalformedLinkError struct {
	Raw    string
	Fields int
}

func (e *MalformedLinkError) Error() string {
	return fmt.Sprintf("harvest: malformed resource link %q: %d fields, want at least %d", e.Raw, e.Fields, linkFields)
}

func (e *MalformedLinkError) Is(target error) bool { return target == ErrMalformedLink }

// PaginationStallError reports a nextRecord cursor that failed to move forward.
type PaginationStallError struct {
	Start   int
	Next    int
	Matches int
}

func (e *PaginationStallError) Error() string {
	return fmt.Sprintf("harvest: pagination stalled at %d: server returned nextRecord %d (matches %d)", e.Start, e.Next, e.Matches)
}

func (e *PaginationStallError) Is(target error) bool { return target == ErrPaginationStall }

// ItemError is a failure confined to one record. The job moves on to the next one.
// RemoteID is empty when the record carries no identifier; Title then names it.
type ItemError struct {
	RemoteID string
	Title    string
	Err      error
}

func (e *ItemError) Error() string {
	if e.RemoteID == "" {
		return fmt.Sprintf("item %q: %v", e.Title, e.Err)
	}
	return fmt.Sprintf("item %s: %v", e.RemoteID, e.Err)
}

func (e *ItemError) Unwrap() error { return e.Err }
