package utils

import (
	"errors"
	"fmt"
	"net/http"
)

var ErrorRecordNotFound = errors.New("record not found")

// ValidationError reports missing or malformed input. Never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func NewValidationError(field string, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a referenced product, invoice or supplier record that does not exist.
type NotFoundError struct {
	Resource string
	Id       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.Id)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrorRecordNotFound
}

func NewNotFoundError(resource string, id string) error {
	return &NotFoundError{Resource: resource, Id: id}
}

// InsufficientStockError is returned when a deduction would drive stock below zero.
// The triggering write is never applied.
type InsufficientStockError struct {
	ProductId string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %q: available %d, requested %d", e.ProductId, e.Available, e.Requested)
}

// ConflictError is surfaced once the store gave up retrying a contended transaction.
type ConflictError struct {
	Resource string
	Attempts int
	Err      error
}

func (e *ConflictError) Error() string {
	msg := fmt.Sprintf("concurrent write conflict on %s after %d attempt(s)", e.Resource, e.Attempts)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConflictError) Unwrap() error { return e.Err }

// DependencyError wraps a notifier (email/SMS) failure. It is logged, never propagated
// as a failure of the business operation that triggered it.
type DependencyError struct {
	Dependency string
	Err        error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s: %v", e.Dependency, e.Err)
}

func (e *DependencyError) Unwrap() error { return e.Err }

// PartialFailureError reports a multi-step operation that applied some steps and then stopped.
// Completed steps are not rolled back.
type PartialFailureError struct {
	Operation string
	Completed []string
	FailedAt  string
	Err       error
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("%s partially applied (completed %v, failed at %s): %v", e.Operation, e.Completed, e.FailedAt, e.Err)
}

func (e *PartialFailureError) Unwrap() error { return e.Err }

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrorRecordNotFound)
}

func IsInsufficientStock(err error) bool {
	var target *InsufficientStockError
	return errors.As(err, &target)
}

func IsConflict(err error) bool {
	var target *ConflictError
	return errors.As(err, &target)
}

func IsPartialFailure(err error) bool {
	var target *PartialFailureError
	return errors.As(err, &target)
}

// HTTPStatus maps the error taxonomy onto response codes.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsPartialFailure(err):
		return http.StatusMultiStatus
	case IsValidation(err):
		return http.StatusBadRequest
	case IsNotFound(err):
		return http.StatusNotFound
	case IsInsufficientStock(err):
		return http.StatusConflict
	case IsConflict(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
