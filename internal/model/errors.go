package model

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes workflow errors.
type ErrorKind string

const (
	// ErrCatalogLoad indicates one of the source catalog fetches failed.
	// No partial catalog is ever used.
	ErrCatalogLoad ErrorKind = "CATALOG_LOAD"

	// ErrStagingConflict indicates a proposal failed validation.
	// Reported inline on the current item; the machine does not move.
	ErrStagingConflict ErrorKind = "STAGING_CONFLICT"

	// ErrCheckpointCorrupt indicates a stored checkpoint could not be parsed.
	// Treated as an absent checkpoint.
	ErrCheckpointCorrupt ErrorKind = "CHECKPOINT_CORRUPT"

	// ErrCommitItem indicates one staged item failed to create.
	ErrCommitItem ErrorKind = "COMMIT_ITEM"

	// ErrCommitFatal indicates the whole batch could not proceed.
	ErrCommitFatal ErrorKind = "COMMIT_FATAL"

	// ErrInvalidTransition indicates an event not accepted in the current phase.
	ErrInvalidTransition ErrorKind = "INVALID_TRANSITION"

	// ErrNothingStaged indicates a recap or commit was requested on an empty track.
	ErrNothingStaged ErrorKind = "NOTHING_STAGED"

	// ErrNoSavedState indicates a resume was requested without a usable checkpoint.
	ErrNoSavedState ErrorKind = "NO_SAVED_STATE"

	// ErrBusy indicates an event arrived while a load or commit was in flight.
	ErrBusy ErrorKind = "BUSY"
)

// Error is the structured error carried by the workflow.
//
// Boundary packages (source, checkpoint, commit) convert transport and
// storage failures into an Error before they reach the state machine, so
// the UI can render Message without inspecting raw causes.
type Error struct {
	// Kind identifies the error category.
	Kind ErrorKind `json:"kind"`

	// Message is a human-readable description.
	Message string `json:"message"`

	// SourceID identifies the source entity concerned, if any.
	SourceID string `json:"sourceId,omitempty"`

	// Result carries batch progress for ErrCommitFatal.
	Result *CommitResult `json:"result,omitempty"`

	// Cause is the underlying error.
	Cause error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.SourceID != "" {
		msg = fmt.Sprintf("%s (source=%s)", msg, e.SourceID)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates an Error of the given kind.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WrapError creates an Error of the given kind around cause.
func WrapError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// NewStagingConflict creates a staging conflict for one source id.
func NewStagingConflict(sourceID, message string) *Error {
	return &Error{Kind: ErrStagingConflict, Message: message, SourceID: sourceID}
}

// KindOf returns the kind of err, or "" when err is not an Error.
// Uses errors.As to handle wrapped errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err is an Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// AsError converts err into an Error, wrapping unknown errors with fallback.
func AsError(err error, fallback ErrorKind) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return WrapError(fallback, err.Error(), err)
}
