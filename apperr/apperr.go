// Package apperr defines the error taxonomy shared by every component of
// the expense engine. Surfaces outside the core (HTTP handlers, batch
// callers) switch on Kind rather than inspecting error strings.
package apperr

import "fmt"

// Kind is one of the error kinds every surface of the engine reports.
type Kind string

const (
	KindNotFound          Kind = "not_found"
	KindInvalidState      Kind = "invalid_state"
	KindValidation        Kind = "validation_error"
	KindServiceUnavailable Kind = "service_unavailable"
	KindTransientFault    Kind = "transient_fault"
	KindParseError        Kind = "parse_error"
)

// Error is a structured problem report: a stable Kind/Code, a human message,
// and the offending field or id when known.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Field   string
	Err     error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field=%s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func new_(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

// NotFound reports that an owned entity does not exist for the caller.
func NotFound(code, msg string) *Error { return new_(KindNotFound, code, msg) }

// InvalidState reports an illegal state transition.
func InvalidState(code, msg string) *Error { return new_(KindInvalidState, code, msg) }

// Validation reports a constraint violation on caller-supplied data.
func Validation(code, msg string) *Error { return new_(KindValidation, code, msg) }

// ServiceUnavailable reports that an external collaborator (embedder, AI,
// statement AI) failed with no lower-tier fallback left.
func ServiceUnavailable(code, msg string) *Error { return new_(KindServiceUnavailable, code, msg) }

// TransientFault reports a retryable adapter-boundary failure (DB timeout,
// transient SQL error).
func TransientFault(code, msg string) *Error { return new_(KindTransientFault, code, msg) }

// ParseError reports that an AI response could not be interpreted as the
// expected JSON shape.
func ParseError(code, msg string) *Error { return new_(KindParseError, code, msg) }

// WithField attaches the offending field or id to the error, returning the
// same *Error for chaining.
func (e *Error) WithField(field string) *Error {
	e.Field = field
	return e
}

// WithCause wraps an underlying error, preserved for logging via Unwrap.
func (e *Error) WithCause(cause error) *Error {
	e.Err = cause
	return e
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if as, ok := err.(*Error); ok {
		e = as
	} else {
		return false
	}
	return e.Kind == kind
}
