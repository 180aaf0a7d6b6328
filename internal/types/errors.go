package types

import (
	"errors"
	"fmt"
)

// ErrorCode is the stable machine-readable taxonomy surfaced on every
// failed operation, identical across the REST and tool surfaces.
type ErrorCode string

const (
	ErrInvariantViolation       ErrorCode = "INVARIANT_VIOLATION"
	ErrDependencyCycle          ErrorCode = "DEPENDENCY_CYCLE"
	ErrPlanStale                ErrorCode = "PLAN_STALE"
	ErrLeaseStale               ErrorCode = "LEASE_STALE"
	ErrLeaseFenced              ErrorCode = "LEASE_FENCED"
	ErrReservationConflict      ErrorCode = "RESERVATION_CONFLICT"
	ErrInvalidCapabilities      ErrorCode = "INVALID_CAPABILITIES"
	ErrInvalidTaskClass         ErrorCode = "INVALID_TASK_CLASS"
	ErrInvalidWorkSpec          ErrorCode = "INVALID_WORK_SPEC"
	ErrAmbiguousReference       ErrorCode = "AMBIGUOUS_REFERENCE"
	ErrIdentifierParentRequired ErrorCode = "IDENTIFIER_PARENT_REQUIRED"
	ErrAuthDenied               ErrorCode = "AUTH_DENIED"
	ErrConflict                 ErrorCode = "CONFLICT"
	ErrNotFound                 ErrorCode = "NOT_FOUND"
)

// Sub-codes refine INVARIANT_VIOLATION on state transitions.
const (
	SubMissingPassedCheck = "MISSING_PASSED_CHECK"
	SubSelfReview         = "SELF_REVIEW"
	SubMissingEvidence    = "MISSING_EVIDENCE"
	SubGateNotPassed      = "GATE_NOT_PASSED"
	SubNotIntegrated      = "NOT_INTEGRATED"
	SubTaskInFlight       = "TASK_IN_FLIGHT"
	SubUnknownPlanOp      = "UNKNOWN_PLAN_OP"
	SubIllegalTransition  = "ILLEGAL_TRANSITION"
	SubDepsUnsatisfied    = "DEPS_UNSATISFIED"
	SubProjectArchived    = "PROJECT_ARCHIVED"
	SubMaterialField      = "MATERIAL_FIELD"
)

// Error is the domain error carried across every kernel boundary. Code maps
// to an HTTP status at the REST surface; SubCode and Details refine it for
// programmatic consumers.
type Error struct {
	Code    ErrorCode      `json:"code"`
	SubCode string         `json:"sub_code,omitempty"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.SubCode != "" {
		return fmt.Sprintf("%s/%s: %s", e.Code, e.SubCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError constructs a domain error with a formatted message.
func NewError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithSub attaches a sub-code and returns the error for chaining.
func (e *Error) WithSub(sub string) *Error {
	e.SubCode = sub
	return e
}

// WithDetail attaches one structured detail and returns the error.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// AsError unwraps err to a domain *Error if one is in the chain.
func AsError(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// CodeOf returns the domain code of err, or empty when err carries none.
func CodeOf(err error) ErrorCode {
	if de, ok := AsError(err); ok {
		return de.Code
	}
	return ""
}

// IsCode reports whether err carries the given domain code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// NotFound constructs the standard missing-entity error.
func NotFound(kind, ref string) *Error {
	return NewError(ErrNotFound, "%s not found: %s", kind, ref)
}
