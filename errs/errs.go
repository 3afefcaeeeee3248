// Package errs defines the error taxonomy shared by every riftdb package.
//
// Sentinel errors are used where callers only need to branch on kind; typed
// structs carry the detail needed to build a useful message or to recover
// programmatically (e.g. which index collided, which revisions conflicted).
// Typed errors that have a matching sentinel implement Is, so
// errors.Is(err, ErrXxx) works on them; TransportError instead implements
// Unwrap to expose its cause, and InternalError has no sentinel.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by Get/Update/Delete on a missing document.
	ErrNotFound = errors.New("riftdb: document not found")

	// ErrUniqueConstraint is returned when a write would collide with a
	// unique index entry.
	ErrUniqueConstraint = errors.New("riftdb: unique constraint violation")

	// ErrValidation is returned when a document fails schema validation.
	ErrValidation = errors.New("riftdb: schema validation failed")

	// ErrConflict signals a revision conflict: a replication conflict the
	// resolver could not resolve automatically, or a stale read revision
	// passed to collection.UpdateSection.
	ErrConflict = errors.New("riftdb: replication conflict")

	// ErrOutOfBounds is returned by collaborative text operations that
	// reference a position outside the current sequence.
	ErrOutOfBounds = errors.New("riftdb: text position out of bounds")

	// ErrTextLengthExceeded is returned when an insert would exceed a
	// text attribute's configured maximum length.
	ErrTextLengthExceeded = errors.New("riftdb: text length exceeded")

	// ErrCancelled is returned by suspending operations whose cancellation
	// signal fired before completion.
	ErrCancelled = errors.New("riftdb: operation cancelled")

	// ErrClosed is returned by operations on a closed database, store, or
	// subscription.
	ErrClosed = errors.New("riftdb: closed")

	// ErrStopped is returned when a replication engine or subscriber has
	// already been stopped.
	ErrStopped = errors.New("riftdb: stopped")
)

// FieldError is one validation failure at a dotted path.
type FieldError struct {
	Path    string
	Message string
}

func (e FieldError) String() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ValidationError reports every schema violation found for a document; it
// never short-circuits on the first failure.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("riftdb: validation failed: %s", e.Errors[0].String())
	}
	return fmt.Sprintf("riftdb: validation failed with %d errors: %s (+%d more)",
		len(e.Errors), e.Errors[0].String(), len(e.Errors)-1)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// UniqueConstraintError identifies the index and field values that collided.
type UniqueConstraintError struct {
	Index  string
	Values []any
}

func (e *UniqueConstraintError) Error() string {
	return fmt.Sprintf("riftdb: unique constraint %q violated by %v", e.Index, e.Values)
}

func (e *UniqueConstraintError) Is(target error) bool { return target == ErrUniqueConstraint }

// NotFoundError names the collection and id that were missing.
type NotFoundError struct {
	Collection string
	ID         string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("riftdb: document %q not found in collection %q", e.ID, e.Collection)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ConflictError carries the competing revisions observed during a push.
type ConflictError struct {
	DocID      string
	ServerRev  string
	LocalRev   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("riftdb: conflict on %q: server=%s local=%s", e.DocID, e.ServerRev, e.LocalRev)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// TransportError wraps a replication transport failure with a retry hint.
type TransportError struct {
	Retryable bool
	Cause     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("riftdb: transport error (retryable=%v): %v", e.Retryable, e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }

// OutOfBoundsError names the offending position and the sequence length it
// was checked against.
type OutOfBoundsError struct {
	Position int
	Length   int
}

func (e *OutOfBoundsError) Error() string {
	return fmt.Sprintf("riftdb: position %d out of bounds (length %d)", e.Position, e.Length)
}

func (e *OutOfBoundsError) Is(target error) bool { return target == ErrOutOfBounds }

// TextLengthExceededError names the attempted and configured lengths.
type TextLengthExceededError struct {
	Attempted int
	Max       int
}

func (e *TextLengthExceededError) Error() string {
	return fmt.Sprintf("riftdb: text length %d exceeds max %d", e.Attempted, e.Max)
}

func (e *TextLengthExceededError) Is(target error) bool { return target == ErrTextLengthExceeded }

// InternalError signals an invariant violation; it is always a bug, never a
// condition callers should branch on.
type InternalError struct {
	Description string
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("riftdb: internal error: %s", e.Description)
}
