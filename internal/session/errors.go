package session

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Engine error taxonomy. Every failure is caller-visible; a dropped event or
// a silently ignored end-session call would undermine the audit trail.
var (
	// ErrInvalidConsent means the session cannot start because the consent
	// or compliance flags are not both set.
	ErrInvalidConsent = errors.New("session: consent and compliance required")

	// ErrNotFound means no session exists for the given id.
	ErrNotFound = errors.New("session: not found")

	// ErrNotActive means a mutation was attempted on a terminal session.
	ErrNotActive = errors.New("session: not active")

	// ErrAlreadyEnded means EndSession was called on a terminal session.
	ErrAlreadyEnded = errors.New("session: already ended")

	// ErrViolationNotFound means the event index is out of range.
	ErrViolationNotFound = errors.New("session: violation not found")

	// ErrAlreadyResolved means the violation already carries a resolution.
	// Idempotent callers should treat this as success; it is reported
	// distinctly so retries can be audited.
	ErrAlreadyResolved = errors.New("session: violation already resolved")
)

// Error wraps engine errors with the operation and session involved.
type Error struct {
	Op        string
	SessionID uuid.UUID
	Err       error
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.SessionID != uuid.Nil {
		return fmt.Sprintf("session.%s(%s): %v", e.Op, e.SessionID, e.Err)
	}
	return fmt.Sprintf("session.%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a wrapped engine error.
func NewError(op string, id uuid.UUID, err error) *Error {
	return &Error{Op: op, SessionID: id, Err: err}
}

// IsNotFound checks if the error is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsTerminalState checks if the error was caused by a terminal session.
func IsTerminalState(err error) bool {
	return errors.Is(err, ErrNotActive) || errors.Is(err, ErrAlreadyEnded)
}
