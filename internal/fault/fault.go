// Package fault defines the closed error taxonomy shared by every gateway
// component. Callers branch on Kind instead of matching error strings.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a gateway error.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindAuth
	KindNotFound
	KindRateLimited
	KindTimeout
	KindUpstream
	KindInUse
	KindDuplicate
	KindDenied
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation_error"
	case KindAuth:
		return "auth_error"
	case KindNotFound:
		return "not_found"
	case KindRateLimited:
		return "rate_limited"
	case KindTimeout:
		return "timeout"
	case KindUpstream:
		return "upstream_error"
	case KindInUse:
		return "in_use"
	case KindDuplicate:
		return "duplicate"
	case KindDenied:
		return "denied_by_policy"
	default:
		return "unknown"
	}
}

// Error is the single error type surfaced by gateway components.
// Dependents is populated only for KindInUse.
type Error struct {
	Kind       Kind
	Msg        string
	Dependents []string
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Msg + ": " + e.cause.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.cause
}

// New creates an error with the given kind and message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf creates an error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying cause.
func Wrap(kind Kind, cause error, msg string) *Error {
	return &Error{Kind: kind, Msg: msg, cause: cause}
}

// Validationf creates a KindValidation error.
func Validationf(format string, args ...any) *Error {
	return Newf(KindValidation, format, args...)
}

// NotFoundf creates a KindNotFound error.
func NotFoundf(format string, args ...any) *Error {
	return Newf(KindNotFound, format, args...)
}

// Duplicatef creates a KindDuplicate error.
func Duplicatef(format string, args ...any) *Error {
	return Newf(KindDuplicate, format, args...)
}

// Deniedf creates a KindDenied error.
func Deniedf(format string, args ...any) *Error {
	return Newf(KindDenied, format, args...)
}

// InUse creates a KindInUse error carrying the blocking dependents.
func InUse(msg string, dependents []string) *Error {
	return &Error{Kind: KindInUse, Msg: msg, Dependents: dependents}
}

// KindOf extracts the Kind from an error chain. Returns KindUnknown for
// nil or foreign errors.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// IsKind reports whether the error chain contains a fault of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// DependentsOf extracts the dependent set from a KindInUse error, or nil.
func DependentsOf(err error) []string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Dependents
	}
	return nil
}
