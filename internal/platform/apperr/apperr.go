// Package apperr defines the error taxonomy surfaced by the HTTP API and the
// echo error handler that renders it.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindOrgRequired
	KindFeatureDisabled
	KindValidation
	KindNotFound
	KindForbidden
)

// Stable codes for API clients.
const (
	CodeOrgRequired       = "ORG_REQUIRED"
	CodeFeatureDisabled   = "FEATURE_DISABLED"
	CodeValidation        = "VALIDATION_ERROR"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeNotFound          = "NOT_FOUND"
	CodeForbidden         = "FORBIDDEN"
	CodeInternal          = "INTERNAL_ERROR"
)

func (k Kind) String() string {
	switch k {
	case KindOrgRequired:
		return "org_required"
	case KindFeatureDisabled:
		return "feature_disabled"
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	default:
		return "internal"
	}
}

// Status maps a kind to its HTTP status code.
func (k Kind) Status() int {
	switch k {
	case KindOrgRequired:
		return http.StatusConflict
	case KindFeatureDisabled, KindNotFound:
		return http.StatusNotFound
	case KindValidation:
		return http.StatusBadRequest
	case KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func (k Kind) defaultCode() string {
	switch k {
	case KindOrgRequired:
		return CodeOrgRequired
	case KindFeatureDisabled:
		return CodeFeatureDisabled
	case KindValidation:
		return CodeValidation
	case KindNotFound:
		return CodeNotFound
	case KindForbidden:
		return CodeForbidden
	default:
		return CodeInternal
	}
}

type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Code: k.defaultCode(), Message: fmt.Sprintf(format, args...)}
}

func OrgRequired(msg string) *Error {
	return newErr(KindOrgRequired, "%s", msg)
}

func FeatureDisabled(feature string) *Error {
	return newErr(KindFeatureDisabled, "%s is not enabled", feature)
}

func Validation(format string, args ...any) *Error {
	return newErr(KindValidation, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return newErr(KindNotFound, format, args...)
}

func Forbidden(format string, args ...any) *Error {
	return newErr(KindForbidden, format, args...)
}

// Internal wraps an unexpected failure. The cause is kept for logging and is
// never rendered outside development.
func Internal(err error, msg string) *Error {
	return &Error{Kind: KindInternal, Code: CodeInternal, Message: msg, Err: err}
}

// WithCode overrides the stable code.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// Wrap attaches a cause to e.
func (e *Error) Wrap(err error) *Error {
	e.Err = err
	return e
}

// KindOf reports the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// Is reports whether err carries kind k.
func Is(err error, k Kind) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Kind == k
}
