package provider

import (
	"errors"
	"fmt"
)

// ErrUnknownID signals that an operation's prior provider id does not
// name any live remote object. Providers wrap it so the engine can
// surface a state consistency problem instead of a generic failure.
var ErrUnknownID = errors.New("provider id not recognized")

// ErrorClass classifies an Execute failure for retry handling.
type ErrorClass string

const (
	// ClassTransient failures (throttling, timeouts, connection
	// resets) are retried with bounded exponential backoff.
	ClassTransient ErrorClass = "transient"

	// ClassPermanent failures mark the instance failed immediately.
	ClassPermanent ErrorClass = "permanent"

	// ClassAmbiguous failures left the remote outcome unknown. The
	// engine never retries these; an operator has to reconcile.
	ClassAmbiguous ErrorClass = "ambiguous"
)

// Error is a classified provider failure.
type Error struct {
	Class ErrorClass
	Op    string // e.g. "create network.main"
	Err   error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Op, e.Err, e.Class)
	}
	return fmt.Sprintf("%s (%s)", e.Err, e.Class)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient wraps err as a retryable failure.
func Transient(op string, err error) *Error {
	return &Error{Class: ClassTransient, Op: op, Err: err}
}

// Permanent wraps err as a non-retryable failure.
func Permanent(op string, err error) *Error {
	return &Error{Class: ClassPermanent, Op: op, Err: err}
}

// Ambiguous wraps err as an unknown-outcome failure.
func Ambiguous(op string, err error) *Error {
	return &Error{Class: ClassAmbiguous, Op: op, Err: err}
}

// IsTransient reports whether err is classified transient. Unclassified
// errors count as permanent.
func IsTransient(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Class == ClassTransient
}

// IsAmbiguous reports whether err is an unknown-outcome failure.
func IsAmbiguous(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Class == ClassAmbiguous
}
