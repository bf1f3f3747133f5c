// Package apperr defines the error taxonomy shared by the coordination core.
// Callers wrap these with fmt.Errorf("%w") and match with errors.Is.
package apperr

import "errors"

var (
	// ErrInvalidTransition: the requested status edge does not exist for the
	// row's current state. Re-read before retrying.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrUnauthorized: the actor's role or identity does not satisfy the
	// operation's precondition. Not retryable with the same actor.
	ErrUnauthorized = errors.New("unauthorized")

	ErrNotFound = errors.New("not found")

	// ErrLocationUnavailable: both location attempts failed.
	ErrLocationUnavailable = errors.New("location unavailable")

	// ErrPersistence: a storage write failed; the change is not applied.
	ErrPersistence = errors.New("persistence failure")

	ErrInvalidToken = errors.New("invalid room token")

	// ErrConflict: a unique identity such as an account email is taken.
	ErrConflict = errors.New("already exists")
)
