// Package errors provides the typed error taxonomy of the ledger engine.
// Every service-layer error is an *AppError carrying a Kind, so callers can
// branch on the failure class without parsing messages, and handlers can
// render consistent responses that never leak internal details.
package errors

import (
	stderrors "errors"
	"net/http"
)

// Kind discriminates the error classes the engine can surface.
type Kind string

const (
	KindValidation          Kind = "VALIDATION"
	KindAccessDenied        Kind = "ACCESS_DENIED"
	KindReferenceNotFound   Kind = "REFERENCE_NOT_FOUND"
	KindInsufficientBalance Kind = "INSUFFICIENT_BALANCE"
	KindConcurrencyConflict Kind = "CONCURRENCY_CONFLICT"
	KindPartialFailure      Kind = "PARTIAL_FAILURE"
	KindUnauthorized        Kind = "UNAUTHORIZED"
	KindInternal            Kind = "INTERNAL"
)

// AppError represents a structured application error with a kind, an error
// code, a human-readable message, an HTTP status code, and an optional
// internal error.
type AppError struct {
	Kind       Kind   `json:"kind"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Internal   error  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string { return e.Message }

// Unwrap returns the internal error for use with errors.Is/As.
func (e *AppError) Unwrap() error { return e.Internal }

// Is matches two AppErrors by code so sentinels compare equal to their
// wrapped or re-messaged copies.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Wrap creates a new AppError with the same kind/code/message/status but wraps an internal error.
func Wrap(sentinel *AppError, internal error) *AppError {
	return &AppError{
		Kind:       sentinel.Kind,
		Code:       sentinel.Code,
		Message:    sentinel.Message,
		StatusCode: sentinel.StatusCode,
		Internal:   internal,
	}
}

// WithMessage creates a new AppError with a custom message.
func WithMessage(sentinel *AppError, message string) *AppError {
	return &AppError{
		Kind:       sentinel.Kind,
		Code:       sentinel.Code,
		Message:    message,
		StatusCode: sentinel.StatusCode,
		Internal:   sentinel.Internal,
	}
}

// KindOf returns the kind of err, or KindInternal for errors that are not AppErrors.
func KindOf(err error) Kind {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// IsKind reports whether err is an AppError of the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsConflict reports whether err is a retryable optimistic-concurrency conflict.
func IsConflict(err error) bool { return IsKind(err, KindConcurrencyConflict) }

// IsNotFound reports whether err is a missing or inactive reference.
func IsNotFound(err error) bool { return IsKind(err, KindReferenceNotFound) }

func validation(code, message string) *AppError {
	return &AppError{Kind: KindValidation, Code: code, Message: message, StatusCode: http.StatusBadRequest}
}

func notFound(code, message string) *AppError {
	return &AppError{Kind: KindReferenceNotFound, Code: code, Message: message, StatusCode: http.StatusNotFound}
}

// Authentication & authorization errors.
var (
	ErrUnauthorized = &AppError{Kind: KindUnauthorized, Code: "UNAUTHORIZED", Message: "Authentication required", StatusCode: http.StatusUnauthorized}
	ErrAccessDenied = &AppError{Kind: KindAccessDenied, Code: "ACCESS_DENIED", Message: "Access denied", StatusCode: http.StatusForbidden}
)

// General errors.
var (
	ErrInvalidInput        = validation("INVALID_INPUT", "Invalid input")
	ErrNotFound            = notFound("NOT_FOUND", "Resource not found")
	ErrInternalServer      = &AppError{Kind: KindInternal, Code: "INTERNAL_ERROR", Message: "An internal error occurred", StatusCode: http.StatusInternalServerError}
	ErrConcurrencyConflict = &AppError{Kind: KindConcurrencyConflict, Code: "CONCURRENCY_CONFLICT", Message: "The resource was modified concurrently; re-read and retry", StatusCode: http.StatusConflict}
	ErrCrossPartitionQuery = validation("CROSS_PARTITION_QUERY", "Query must be scoped to a single budget")
)

// User errors.
var (
	ErrUserNotFound = notFound("USER_NOT_FOUND", "User not found")
)

// Budget errors.
var (
	ErrBudgetNotFound          = notFound("BUDGET_NOT_FOUND", "Budget not found")
	ErrInvalidDateRange        = validation("INVALID_DATE_RANGE", "Start date must be before end date")
	ErrBudgetOverlap           = validation("BUDGET_OVERLAP", "Budget period overlaps another draft or active budget")
	ErrBudgetNotWritable       = validation("BUDGET_NOT_WRITABLE", "Budget is closed or archived")
	ErrInvalidStatusTransition = validation("INVALID_STATUS_TRANSITION", "Invalid status transition")
	ErrBudgetHasTransactions   = validation("BUDGET_HAS_TRANSACTIONS", "Budget has transactions and cannot return to draft")
	ErrShareLimitExceeded      = validation("SHARE_LIMIT_EXCEEDED", "Too many principals share this budget")
	ErrCannotShareWithOwner    = validation("CANNOT_SHARE_WITH_OWNER", "The budget owner cannot be added as a participant")
)

// Envelope errors.
var (
	ErrEnvelopeNotFound     = notFound("ENVELOPE_NOT_FOUND", "Envelope not found")
	ErrEnvelopeNotActive    = validation("ENVELOPE_NOT_ACTIVE", "Envelope is paused or closed")
	ErrDuplicateEnvelope    = validation("DUPLICATE_ENVELOPE", "An envelope with this name or sort order already exists in the budget")
	ErrRolloverCollision    = validation("ROLLOVER_COLLISION", "Rolled-over envelopes collide by name or sort order")
	ErrEnvelopeNotClosed    = validation("ENVELOPE_NOT_CLOSED", "Only closed envelopes can be deleted")
	ErrInsufficientBalance  = &AppError{Kind: KindInsufficientBalance, Code: "INSUFFICIENT_BALANCE", Message: "Envelope balance would exceed its overspend limit", StatusCode: http.StatusUnprocessableEntity}
	ErrInvalidEnvelopeInput = validation("INVALID_ENVELOPE", "Invalid envelope")
)

// Transaction errors.
var (
	ErrTransactionNotFound    = notFound("TRANSACTION_NOT_FOUND", "Transaction not found")
	ErrInvalidTransactionType = validation("INVALID_TRANSACTION_TYPE", "Unsupported transaction type")
	ErrSameEnvelopeTransfer   = validation("SAME_ENVELOPE_TRANSFER", "Cannot transfer to the same envelope")
	ErrTransactionNotEditable = validation("TRANSACTION_NOT_EDITABLE", "Only pending transactions can be edited")
	ErrPartialFailure         = &AppError{Kind: KindPartialFailure, Code: "PARTIAL_FAILURE", Message: "Transfer could not complete atomically; no changes were applied", StatusCode: http.StatusInternalServerError}
)
