// Package rxerr defines the error taxonomy shared by every core module.
//
// Pure modules (DUR, fill validation, PDMP analysis) return result values
// and never wrap these; orchestration modules surface them to callers.
// Transient errors are the only retryable category.
package rxerr

import (
	"errors"
	"fmt"
)

// Category buckets an error for propagation policy.
type Category string

const (
	CategoryValidation Category = "VALIDATION"
	CategoryPolicy     Category = "POLICY"
	CategorySafety     Category = "SAFETY"
	CategoryConflict   Category = "CONFLICT"
	CategoryTransient  Category = "TRANSIENT"
	CategoryExternal   Category = "EXTERNAL"
	CategorySystem     Category = "SYSTEM"
)

// Sentinel errors. Callers match with errors.Is.
var (
	// Validation
	ErrInvalidField      = &Error{Code: "InvalidField", Category: CategoryValidation}
	ErrMissingRequired   = &Error{Code: "MissingRequired", Category: CategoryValidation}
	ErrInvalidTransition = &Error{Code: "InvalidTransition", Category: CategoryValidation}

	// Policy
	ErrNotAuthorized    = &Error{Code: "NotAuthorized", Category: CategoryPolicy}
	ErrNonOverridable   = &Error{Code: "NonOverridable", Category: CategoryPolicy}
	ErrScheduleIIRefill = &Error{Code: "ScheduleIIRefill", Category: CategoryPolicy}
	ErrControlledWindow = &Error{Code: "ControlledWindow", Category: CategoryPolicy}

	// Safety
	ErrSafetyHold = &Error{Code: "SafetyHold", Category: CategorySafety}

	// Conflict
	ErrConcurrentMutation = &Error{Code: "ConcurrentMutation", Category: CategoryConflict}
	ErrDuplicateFill      = &Error{Code: "DuplicateFill", Category: CategoryConflict}
	ErrDuplicateRx        = &Error{Code: "DuplicatePrescription", Category: CategoryConflict}
	ErrOversold           = &Error{Code: "Oversold", Category: CategoryConflict}

	// Transient
	ErrExternalTimeout     = &Error{Code: "ExternalTimeout", Category: CategoryTransient}
	ErrExternalUnavailable = &Error{Code: "ExternalUnavailable", Category: CategoryTransient}

	// Permanent external
	ErrExternalReject = &Error{Code: "ExternalReject", Category: CategoryExternal}

	// System
	ErrSystemFailure = &Error{Code: "SystemFailure", Category: CategorySystem}

	// Store-level
	ErrNotFound = &Error{Code: "NotFound", Category: CategoryValidation}
)

// Error is a typed core error. PHI never appears in Detail.
type Error struct {
	Code     string
	Category Category
	// Field names the offending input field for validation errors.
	Field string
	// Detail is a PHI-free human message.
	Detail string
	// Wrapped holds the underlying cause, if any.
	Wrapped error
}

func (e *Error) Error() string {
	msg := e.Code
	if e.Field != "" {
		msg += ": field " + e.Field
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Wrapped != nil {
		msg += ": " + e.Wrapped.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Wrapped }

// Is matches on Code so that derived errors (via With*) satisfy
// errors.Is against the sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithField returns a copy carrying the offending field name.
func (e *Error) WithField(field string) *Error {
	c := *e
	c.Field = field
	return &c
}

// WithDetail returns a copy carrying a PHI-free detail message.
func (e *Error) WithDetail(format string, args ...any) *Error {
	c := *e
	c.Detail = fmt.Sprintf(format, args...)
	return &c
}

// Wrap returns a copy wrapping the underlying cause.
func (e *Error) Wrap(err error) *Error {
	c := *e
	c.Wrapped = err
	return &c
}

// CategoryOf extracts the taxonomy category, or CategorySystem for
// unclassified errors.
func CategoryOf(err error) Category {
	var e *Error
	if errors.As(err, &e) {
		return e.Category
	}
	return CategorySystem
}

// IsRetryable reports whether the error may be retried with backoff.
func IsRetryable(err error) bool {
	return CategoryOf(err) == CategoryTransient
}

// UserMessage renders the caller-facing message for an error after
// retry exhaustion or immediate surfacing. PHI-free by construction.
func UserMessage(err error) string {
	switch CategoryOf(err) {
	case CategoryTransient:
		return "temporarily unavailable, please retry"
	case CategorySafety:
		return "safety hold: review required alerts before proceeding"
	default:
		var e *Error
		if errors.As(err, &e) {
			return e.Error()
		}
		return "internal error"
	}
}
