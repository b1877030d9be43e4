package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/neelvaidya133/bankify/internal/store"
)

// ErrorCode is the machine-readable failure reason returned to callers.
type ErrorCode string

const (
	CodeValidation          ErrorCode = "VALIDATION_ERROR"
	CodeCardFrozen          ErrorCode = "CARD_FROZEN"
	CodeNotFound            ErrorCode = "NOT_FOUND"
	CodeInsufficientFunds   ErrorCode = "INSUFFICIENT_FUNDS"
	CodeAlreadyPaid         ErrorCode = "ALREADY_PAID"
	CodeOverpayment         ErrorCode = "OVERPAYMENT"
	CodeRateLimited         ErrorCode = "RATE_LIMITED"
	CodeConcurrencyConflict ErrorCode = "CONCURRENCY_CONFLICT"
	CodeStoreUnavailable    ErrorCode = "STORE_UNAVAILABLE"
)

// OperationError is the only error type a settlement operation returns.
type OperationError struct {
	Code    ErrorCode
	Message string
	cause   error
}

func (e *OperationError) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return e.Message
}

func (e *OperationError) Unwrap() error { return e.cause }

// Is matches any OperationError with the same code, so the sentinels below work with errors.Is.
func (e *OperationError) Is(target error) bool {
	t, ok := target.(*OperationError)
	return ok && t.Code == e.Code
}

var (
	ErrValidation          = &OperationError{Code: CodeValidation}
	ErrCardFrozen          = &OperationError{Code: CodeCardFrozen}
	ErrNotFound            = &OperationError{Code: CodeNotFound}
	ErrInsufficientFunds   = &OperationError{Code: CodeInsufficientFunds}
	ErrAlreadyPaid         = &OperationError{Code: CodeAlreadyPaid}
	ErrOverpayment         = &OperationError{Code: CodeOverpayment}
	ErrRateLimited         = &OperationError{Code: CodeRateLimited}
	ErrConcurrencyConflict = &OperationError{Code: CodeConcurrencyConflict}
	ErrStoreUnavailable    = &OperationError{Code: CodeStoreUnavailable}
)

func newOpError(code ErrorCode, format string, args ...interface{}) *OperationError {
	return &OperationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func validationError(format string, args ...interface{}) *OperationError {
	return newOpError(CodeValidation, format, args...)
}

func notFoundError(format string, args ...interface{}) *OperationError {
	return newOpError(CodeNotFound, format, args...)
}

func insufficientFunds(format string, args ...interface{}) *OperationError {
	return newOpError(CodeInsufficientFunds, format, args...)
}

// classify maps any error escaping a unit of work onto the caller-facing taxonomy.
func classify(err error) *OperationError {
	if err == nil {
		return nil
	}
	var opErr *OperationError
	if errors.As(err, &opErr) {
		return opErr
	}

	switch {
	case errors.Is(err, store.ErrUserNotFound):
		return &OperationError{Code: CodeNotFound, Message: "user not found", cause: err}
	case errors.Is(err, store.ErrAccountNotFound):
		return &OperationError{Code: CodeNotFound, Message: "account not found", cause: err}
	case errors.Is(err, store.ErrCardNotFound):
		return &OperationError{Code: CodeNotFound, Message: "card not found", cause: err}
	case errors.Is(err, store.ErrTemporaryCardNotFound):
		return &OperationError{Code: CodeNotFound, Message: "invalid or expired temporary card", cause: err}
	case errors.Is(err, store.ErrStatementNotFound):
		return &OperationError{Code: CodeNotFound, Message: "statement not found", cause: err}
	case errors.Is(err, store.ErrProductNotFound):
		return &OperationError{Code: CodeNotFound, Message: "product not found", cause: err}
	case errors.Is(err, store.ErrEMIPlanNotFound):
		return &OperationError{Code: CodeNotFound, Message: "emi plan not found", cause: err}
	case errors.Is(err, store.ErrConflict):
		return &OperationError{Code: CodeConcurrencyConflict, Message: "the operation conflicted with a concurrent update; please retry", cause: err}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return &OperationError{Code: CodeStoreUnavailable, Message: "the operation timed out before it committed; it is safe to retry", cause: err}
	default:
		return &OperationError{Code: CodeStoreUnavailable, Message: "the ledger store is unavailable; nothing was committed", cause: err}
	}
}
