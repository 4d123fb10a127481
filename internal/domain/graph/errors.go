package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound means a required single row was missing. Edge existence
	// checks never return it.
	ErrNotFound = errors.New("not found")

	// ErrUniqueViolation is reported by backends for duplicate edge inserts.
	ErrUniqueViolation = errors.New("unique violation")

	// ErrSelfEdge rejects follow, block and mute edges from a user to itself.
	ErrSelfEdge = errors.New("self edge not allowed")

	// ErrInvalidKind rejects unknown edge kinds.
	ErrInvalidKind = errors.New("invalid edge kind")

	// ErrInvalidCursor rejects malformed pagination cursors.
	ErrInvalidCursor = errors.New("invalid cursor")

	// ErrMissingID rejects empty user or post identifiers.
	ErrMissingID = errors.New("missing identifier")

	// ErrNoPosts is returned when stats are requested for an empty post list.
	ErrNoPosts = errors.New("post id list is empty")

	// ErrToggleInFlight rejects a toggle while another one for the same
	// edge is still running.
	ErrToggleInFlight = errors.New("toggle already in flight")

	// ErrNoViewer rejects mutations without a signed-in user.
	ErrNoViewer = errors.New("no signed-in user")

	// ErrBlocked rejects a follow between two users when either blocks the
	// other.
	ErrBlocked = errors.New("users are blocked")
)

// PartialCascadeError reports follow deletions that failed while a block was
// recorded. The block itself succeeded.
type PartialCascadeError struct {
	Blocker  string
	Blocked  string
	Failures []CascadeFailure
}

// CascadeFailure is one failed follow deletion.
type CascadeFailure struct {
	Follower  string
	Following string
	Err       error
}

func (e *PartialCascadeError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("unfollow %s->%s: %v", f.Follower, f.Following, f.Err))
	}
	return fmt.Sprintf("block %s->%s recorded with cascade failures: %s", e.Blocker, e.Blocked, strings.Join(parts, "; "))
}

// Unwrap exposes the individual deletion errors.
func (e *PartialCascadeError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// IsPartialCascade reports whether err carries a PartialCascadeError.
func IsPartialCascade(err error) bool {
	var pce *PartialCascadeError
	return errors.As(err, &pce)
}

// IsTransient reports whether err looks like an I/O failure the caller may
// retry, as opposed to a validation or state error.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	for _, known := range []error{
		ErrNotFound, ErrUniqueViolation, ErrSelfEdge, ErrInvalidKind,
		ErrInvalidCursor, ErrMissingID, ErrNoPosts, ErrToggleInFlight, ErrNoViewer, ErrBlocked,
	} {
		if errors.Is(err, known) {
			return false
		}
	}
	return true
}
