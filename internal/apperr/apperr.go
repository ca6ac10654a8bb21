// Package apperr carries the error taxonomy services use to report failures
// up through the dispatcher and the HTTP surface without leaking storage- or
// transport-specific error types.
package apperr

import "fmt"

// Code classifies an Error into one of the buckets the dispatcher and the
// HTTP handlers know how to translate into a client-visible outcome.
type Code int

const (
	// Unauthorized means no valid session is attached to the request.
	Unauthorized Code = iota
	// Forbidden means the session is valid but not permitted to perform
	// the action (not the message owner, not a talk member, ...).
	Forbidden
	// NotFound means the referenced entity does not exist.
	NotFound
	// Conflict means the action would violate a uniqueness or state
	// precondition (chat already exists, already a member, ...).
	Conflict
	// Invalid means the request itself is malformed at the domain level
	// (empty text, not enough members, unsupported status transition).
	Invalid
	// Transient means a downstream dependency failed in a way that is
	// expected to succeed on retry.
	Transient
	// Fatal means the connection protocol was violated in a way that
	// cannot be recovered from; the caller must close the connection.
	Fatal
)

func (c Code) String() string {
	switch c {
	case Unauthorized:
		return "unauthorized"
	case Forbidden:
		return "forbidden"
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	case Invalid:
		return "invalid"
	case Transient:
		return "transient"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Reason is a fine-grained label nested under a Code, used by callers that
// need to distinguish e.g. NotOwner from NotMember without inventing a new
// Code for every case.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonNotOwner         Reason = "not_owner"
	ReasonNotMember        Reason = "not_member"
	ReasonEmptyText        Reason = "empty_text"
	ReasonAlreadyExists    Reason = "already_exists"
	ReasonNotEnoughMembers Reason = "not_enough_members"
	ReasonUnsupportedState Reason = "unsupported_status"
)

// Error is the tagged error every service in this repository returns.
type Error struct {
	Code   Code
	Reason Reason
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a tagged error with no reason or wrapped cause.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

// Wrap builds a tagged error around an underlying cause, typically from a
// repository or transport client.
func Wrap(code Code, msg string, err error) *Error {
	return &Error{Code: code, Msg: msg, Err: err}
}

// WithReason builds a tagged error carrying a fine-grained Reason.
func WithReason(code Code, reason Reason, msg string) *Error {
	return &Error{Code: code, Reason: reason, Msg: msg}
}

// Is reports whether err is an *Error of the given code. It does not chase
// Reason, only Code, which is all the dispatcher needs to pick an outcome.
func Is(err error, code Code) bool {
	var e *Error
	if as, ok := err.(*Error); ok {
		e = as
	} else {
		return false
	}
	return e.Code == code
}

// HasReason reports whether err is an *Error carrying the given Reason.
func HasReason(err error, reason Reason) bool {
	e, ok := err.(*Error)
	return ok && e.Reason == reason
}
