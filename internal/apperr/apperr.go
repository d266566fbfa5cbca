// Package apperr defines the error taxonomy shared by every component of
// the execution subsystem. Components wrap the errors they classify in an
// *Error so callers (the worker's in-task retries, ExecutionAPI) can decide
// retry/response behavior by Kind. Is and KindOf inspect err itself, not
// the errors it wraps, so an *Error wrapped again by fmt.Errorf reports
// KindFatal.
package apperr

import "fmt"

// Kind classifies an error for the purposes of retry and HTTP mapping.
type Kind string

const (
	KindValidation           Kind = "validation"
	KindNotFound             Kind = "not_found"
	KindUnauthorized         Kind = "unauthorized"
	KindInvalidState         Kind = "invalid_state"
	KindTransient            Kind = "transient"
	KindAuthFailure          Kind = "auth_failure"
	KindInvalidInputUpstream Kind = "invalid_input_upstream"
	KindQuotaExhausted       Kind = "quota_exhausted"
	KindFatal                Kind = "fatal"
)

// Error is the canonical application error. Code is a short machine-readable
// token (e.g. "EMPTY_PROMPTS"); Message is human-readable; Details carries
// optional structured context surfaced to API clients.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds an Error with no wrapped cause.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap builds an Error that carries cause, preserving it for errors.Is/As.
func Wrap(kind Kind, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, cause: cause}
}

// WithDetails attaches structured detail to an Error and returns it.
func (e *Error) WithDetails(d any) *Error {
	e.Details = d
	return e
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	ae, ok := err.(*Error)
	if !ok {
		return false
	}
	return ae.Kind == kind
}

// KindOf returns the Kind of err if it is an *Error, or KindFatal otherwise
// -- an unclassified error is the worst case for retry purposes.
func KindOf(err error) Kind {
	if ae, ok := err.(*Error); ok {
		return ae.Kind
	}
	return KindFatal
}

// Retryable reports whether an error kind is worth retrying. The worker
// uses it for its in-task retries of generation and upload calls; JobQueue
// implementations reschedule every failed delivery without consulting it.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindQuotaExhausted:
		return true
	default:
		return false
	}
}
