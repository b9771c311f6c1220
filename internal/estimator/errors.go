package estimator

import (
	"errors"
	"fmt"
)

// Kind classifies an estimate failure. Provider-local kinds become error
// entries in that provider's response slot; request-scope kinds fail the
// whole request.
type Kind string

const (
	KindRequestInvalid    Kind = "REQUEST_INVALID"
	KindMemberNotFound    Kind = "MEMBER_NOT_FOUND"
	KindBenefitsNotFound  Kind = "BENEFITS_NOT_FOUND"
	KindRateMissing       Kind = "RATE_MISSING"
	KindSourceUnavailable Kind = "SOURCE_UNAVAILABLE"
	KindAuthExpired       Kind = "AUTH_EXPIRED"
	KindEngineConfig      Kind = "ENGINE_CONFIG"
	KindCancelled         Kind = "CANCELLED"
)

// Error carries a Kind alongside the usual wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// E builds an *Error wrapping cause. cause may be nil.
func E(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: cause}
}

// KindOf extracts the Kind from err, or KindSourceUnavailable when err is
// not a taxonomy error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindSourceUnavailable
}
