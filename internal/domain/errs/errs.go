// Package errs is the boundary error taxonomy: NOT_FOUND,
// DUPLICATE_IDEMPOTENCY, DUPLICATE_NAME, INVALID_TRANSITION, VALIDATION,
// UNAVAILABLE, CONFLICT. Each is a templated oss.nandlabs.io/golly/errutils
// CustomError so callers get a consistent Code() plus a formatted message,
// rather than ad hoc fmt.Errorf scattered across packages.
package errs

import (
	"errors"

	"oss.nandlabs.io/golly/errutils"
)

// Code is the stable machine-readable identifier surfaced at the boundary.
type Code string

const (
	NotFound             Code = "NOT_FOUND"
	DuplicateIdempotency Code = "DUPLICATE_IDEMPOTENCY"
	DuplicateName        Code = "DUPLICATE_NAME"
	InvalidTransition    Code = "INVALID_TRANSITION"
	Validation           Code = "VALIDATION"
	Unavailable          Code = "UNAVAILABLE"
	Conflict             Code = "CONFLICT"
)

// CodedError carries a stable Code alongside the formatted message produced
// by the underlying golly CustomError template.
type CodedError struct {
	code Code
	err  error
}

func (e *CodedError) Error() string { return e.err.Error() }
func (e *CodedError) Unwrap() error { return e.err }
func (e *CodedError) Code() Code    { return e.code }

var templates = map[Code]*errutils.CustomError{
	NotFound:             errutils.NewCustomError("%s not found: %s"),
	DuplicateIdempotency: errutils.NewCustomError("idempotency key already in use: %s"),
	DuplicateName:        errutils.NewCustomError("name already in use: %s"),
	InvalidTransition:    errutils.NewCustomError("illegal transition %s -> %s for %s"),
	Validation:           errutils.NewCustomError("validation failed: %s"),
	Unavailable:          errutils.NewCustomError("%s unavailable: %s"),
	Conflict:             errutils.NewCustomError("conflict on %s: expected status %s"),
}

func build(code Code, params ...any) *CodedError {
	return &CodedError{code: code, err: templates[code].Err(params...)}
}

// NewNotFound reports a missing entity (job, workflow, worker) by kind + id.
func NewNotFound(kind, id string) error { return build(NotFound, kind, id) }

// NewDuplicateIdempotency reports an idempotency-key collision on create-job.
func NewDuplicateIdempotency(key string) error { return build(DuplicateIdempotency, key) }

// NewDuplicateName reports a workflow name collision on create-workflow.
func NewDuplicateName(name string) error { return build(DuplicateName, name) }

// NewInvalidTransition reports an illegal state-machine edge.
func NewInvalidTransition(from, to, entity string) error {
	return build(InvalidTransition, from, to, entity)
}

// NewValidation reports a rejected input.
func NewValidation(reason string) error { return build(Validation, reason) }

// NewUnavailable reports a Store/Broker call that failed past its retry
// deadline.
func NewUnavailable(component string, cause error) error {
	return build(Unavailable, component, cause)
}

// NewConflict reports a compare-and-set miss: the row's status no longer
// matched the caller's expected prior status.
func NewConflict(entity string, expected string) error {
	return build(Conflict, entity, expected)
}

// As extracts the Code from err if it (or something it wraps) is a
// *CodedError, for HTTP-layer mapping.
func As(err error) (Code, bool) {
	var ce *CodedError
	if errors.As(err, &ce) {
		return ce.code, true
	}
	return "", false
}
