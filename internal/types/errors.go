// README: Error kinds shared across modules; callers match them with errors.Is.
package types

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition: illegal status/action/actor combination. Never retried.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrConcurrentModification: the status changed between read and write.
	// The caller may retry the whole operation once.
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrInvalidCoordinate      = errors.New("invalid coordinate")
	ErrNotFound               = errors.New("not found")
	ErrDependencyFailure      = errors.New("dependency failure")
	ErrBadRequest             = errors.New("bad request")
	// ErrActiveRequest: the requester already holds a pending or accepted
	// request for the same donation.
	ErrActiveRequest = errors.New("active request exists")
	// ErrConflict: a uniqueness rule outside the lifecycle, such as category names.
	ErrConflict = errors.New("conflict")
	// ErrForbidden: the caller may not change a resource it does not own.
	ErrForbidden = errors.New("forbidden")
)

var kinds = []error{
	ErrInvalidTransition,
	ErrConcurrentModification,
	ErrInvalidCoordinate,
	ErrNotFound,
	ErrDependencyFailure,
	ErrBadRequest,
	ErrActiveRequest,
	ErrConflict,
	ErrForbidden,
}

// Dependency wraps a persistence or transport error so that both the kind and
// the cause stay visible to errors.Is. Nil and already-classified errors pass
// through unchanged.
func Dependency(err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return err
		}
	}
	return fmt.Errorf("%w: %w", ErrDependencyFailure, err)
}
