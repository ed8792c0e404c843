package apperror

import (
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// ---- Authentication (AUTH) ----

// ErrVerificationFailed is the single outcome for every failed challenge check.
// It deliberately carries no detail about which check failed.
func ErrVerificationFailed() *AppError {
	return New("AUTH_001", "Verification failed", http.StatusUnauthorized)
}

func ErrWalletRegistered() *AppError {
	return New("AUTH_002", "Wallet already registered", http.StatusConflict)
}

func ErrInvalidToken() *AppError {
	return New("AUTH_003", "Invalid or expired token", http.StatusUnauthorized)
}

func ErrNotTransactionOwner() *AppError {
	return New("AUTH_004", "Transaction not found or unauthorized", http.StatusForbidden)
}

// ---- Resources (RES) ----

func ErrNotFound(entity string) *AppError {
	return New("RES_001", fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

// ---- Purchases & settlement (PUR) ----

func ErrDuplicateReference() *AppError {
	return New("PUR_001", "Transaction reference already claimed", http.StatusConflict)
}

func ErrNotSettled() *AppError {
	return New("PUR_002", "Transaction is not settled", http.StatusConflict)
}

func ErrAlreadyRated() *AppError {
	return New("PUR_003", "This dataset has already been rated", http.StatusConflict)
}

func ErrRatingNotAnchored() *AppError {
	return New("PUR_004", "Ratings do not match ledger metadata", http.StatusUnprocessableEntity)
}

func ErrNotRated() *AppError {
	return New("PUR_005", "Transaction has no rating", http.StatusConflict)
}

// ---- Integrity (INT) ----

func ErrFileMissing() *AppError {
	return New("INT_001", "File not found in the file store", http.StatusNotFound)
}

func ErrChecksumMismatch() *AppError {
	return New("INT_002", "Checksum verification failed", http.StatusUnprocessableEntity)
}

func ErrLedgerChecksumMissing() *AppError {
	return New("INT_003", "Checksum not found in transaction metadata", http.StatusUnprocessableEntity)
}

// ---- External dependencies (EXT) ----

func ErrLedgerUnavailable(err error) *AppError {
	return Wrap("EXT_001", "Ledger unavailable", http.StatusServiceUnavailable, err)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New("RATE_001", "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}

// Validation returns a VAL_001 validation error.
func Validation(message string) *AppError {
	return New("VAL_001", message, http.StatusBadRequest)
}
