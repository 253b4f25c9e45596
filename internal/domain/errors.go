package domain

import "errors"

// Sentinel errors for the coordination layer.
var (
	// ErrNotFound: a referenced message, conversation or call does not exist.
	ErrNotFound = errors.New("resource not found")
	// ErrForbidden: the action was attempted by a non-owner.
	ErrForbidden = errors.New("forbidden")
	// ErrConflict: the resource id is already taken by a live resource.
	ErrConflict = errors.New("conflict")
	// ErrUnreachable: the target identity has no live connection. Soft;
	// callers treat it as a fallback condition, not a failure.
	ErrUnreachable = errors.New("identity unreachable")
	// ErrPersistence: the external store call failed. The affected record is
	// marked failed locally and surfaced to the initiating client.
	ErrPersistence = errors.New("persistence failure")
	// ErrInvalidInput: the event payload was structurally unusable.
	ErrInvalidInput = errors.New("invalid input")
)
