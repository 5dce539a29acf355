// Package apperr defines the application error taxonomy. Business-rule
// violations are values, not panics: callers branch on the code with
// errors.As / Is instead of matching message strings, and the settlement
// worker uses IsRetryable to decide between redelivery and terminal failure.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation          Code = "VALIDATION_ERROR"
	CodeUnauthorized        Code = "UNAUTHORIZED"
	CodeForbidden           Code = "FORBIDDEN"
	CodeNotFound            Code = "NOT_FOUND"
	CodeUserBlocked         Code = "USER_BLOCKED"
	CodeWalletFrozen        Code = "WALLET_FROZEN"
	CodeInsufficientBalance Code = "INSUFFICIENT_BALANCE"
	CodeLimitExceeded       Code = "LIMIT_EXCEEDED"
	CodeRateLimitExceeded   Code = "RATE_LIMIT_EXCEEDED"
	CodeConflict            Code = "CONFLICT"
	CodeInvalidTransition   Code = "INVALID_TRANSITION"
	CodeLedger              Code = "LEDGER_ERROR"
	CodeCrypto              Code = "CRYPTO_ERROR"
	CodeInternal            Code = "INTERNAL_ERROR"
)

// Error is the uniform application error. Metadata is exposed verbatim in the
// HTTP error envelope (e.g. required/available on insufficient balance).
type Error struct {
	Code     Code
	Message  string
	Metadata map[string]string
	cause    error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches two apperr.Errors by code, so sentinel-style comparisons like
// errors.Is(err, apperr.New(apperr.CodeWalletFrozen, "")) work.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause while keeping the taxonomy code.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// WithMeta returns a copy carrying the given metadata.
func (e *Error) WithMeta(meta map[string]string) *Error {
	cp := *e
	cp.Metadata = meta
	return &cp
}

// CodeOf extracts the taxonomy code, defaulting to CodeInternal for plain
// errors from infrastructure.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// HTTPStatus maps a code to its response status: validation 400, auth
// 401/403, not found 404, conflict 409, rate limit 429, external and
// internal failures 500.
func HTTPStatus(code Code) int {
	switch code {
	case CodeValidation, CodeLimitExceeded, CodeInsufficientBalance, CodeWalletFrozen:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden, CodeUserBlocked:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict, CodeInvalidTransition:
		return http.StatusConflict
	case CodeRateLimitExceeded:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// IsRetryable reports whether the settlement worker should let the queue
// redeliver after this error. Business rejections and integrity failures are
// final; only infrastructure and ledger failures are worth another attempt.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case CodeLedger, CodeInternal:
		return true
	default:
		return false
	}
}
