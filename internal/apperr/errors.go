package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError is returned before any request is sent when required
// input is missing or malformed.
type ValidationError struct {
	Entity string
	Fields []string
	Reason string
}

func (e *ValidationError) Error() string {
	msg := e.Entity + ": validation failed"
	if len(e.Fields) > 0 {
		msg += ": missing " + strings.Join(e.Fields, ", ")
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// TransportError covers failed requests and malformed or rejected responses.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: remote returned status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// NotFoundError means the login phone has no matching account.
type NotFoundError struct {
	Phone string
}

func (e *NotFoundError) Error() string {
	return "no account for phone " + e.Phone
}

// PinMismatchError is reported by the emergency gate for a wrong PIN.
type PinMismatchError struct{}

func (e *PinMismatchError) Error() string { return "sos pin does not match" }

var (
	// ErrPinUnavailable means the session holds no PIN to compare against,
	// typically after logging in on a device that never saw registration.
	ErrPinUnavailable = errors.New("sos pin is not available for this session")

	// ErrNoSession is returned by operations that need an authenticated user.
	ErrNoSession = errors.New("no active session")
)

func Validation(entity string, fields ...string) error {
	return &ValidationError{Entity: entity, Fields: fields}
}

func Invalid(entity, reason string) error {
	return &ValidationError{Entity: entity, Reason: reason}
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsTransport(err error) bool {
	var t *TransportError
	return errors.As(err, &t)
}

func IsNotFound(err error) bool {
	var n *NotFoundError
	return errors.As(err, &n)
}

func IsPinMismatch(err error) bool {
	var p *PinMismatchError
	return errors.As(err, &p)
}
