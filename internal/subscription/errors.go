package subscription

import (
	"errors"
	"fmt"
)

// ValidationError indicates an illegal transition or a rejected intent.
// Never retried; the reason is surfaced verbatim to the caller.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

func IsValidationError(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

// NotFoundError indicates an unknown plan or subscription identifier.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return e.Entity + " not found"
	}
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

func IsNotFoundError(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

// ConflictError indicates a write against a stale record version.
// The caller should re-read the record and retry once.
type ConflictError struct {
	Entity string
}

func (e *ConflictError) Error() string {
	return e.Entity + " was modified concurrently"
}

func IsConflictError(err error) bool {
	var e *ConflictError
	return errors.As(err, &e)
}

// ExternalError indicates the payment processor was unreachable or
// returned an error. Safe to retry only for idempotent calls.
type ExternalError struct {
	Op  string
	Err error
}

func (e *ExternalError) Error() string {
	return fmt.Sprintf("payment processor %s failed: %v", e.Op, e.Err)
}

func (e *ExternalError) Unwrap() error {
	return e.Err
}

func NewExternalError(op string, err error) *ExternalError {
	return &ExternalError{Op: op, Err: err}
}

func IsExternalError(err error) bool {
	var e *ExternalError
	return errors.As(err, &e)
}

// Predefined domain errors. Compare with errors.Is, or classify with the
// Is*Error helpers above.
var (
	ErrNotSubscribed       = &NotFoundError{Entity: "subscription"}
	ErrAlreadySubscribed   = &ValidationError{Reason: "an active subscription already exists"}
	ErrAlreadyOnPlan       = &ValidationError{Reason: "already on this plan"}
	ErrTrialAlreadyUsed    = &ValidationError{Reason: "trial already used"}
	ErrNoScheduledChange   = &ValidationError{Reason: "no plan change is scheduled"}
	ErrRefundNotAllowed    = &ValidationError{Reason: "subscription is not refundable in its current state"}
	ErrReasonRequired      = &ValidationError{Reason: "a reason is required for this operation"}
	ErrVersionConflict     = &ConflictError{Entity: "subscription"}
	ErrDuplicateWebhook    = errors.New("webhook event already processed")
	ErrProviderUnavailable = &ExternalError{Op: "request", Err: errors.New("provider unavailable")}
)
