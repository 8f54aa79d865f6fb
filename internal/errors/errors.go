// Package errors defines the categorized error taxonomy of the purchase flow.
//
// Validation errors are resolved locally by the caller (disabled button,
// inline message) and never reach the chain. Chain errors surface through
// the transaction status modal. A recording error is the only kind allowed
// to coexist with a successful purchase: the on-chain transaction already
// succeeded independent of the bookkeeping call, so it must never downgrade
// a success.
package errors

import (
	"fmt"
	"net/http"

	"github.com/presale-coordinator/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryValidation represents pre-flight purchase validation errors
	CategoryValidation ErrorCategory = "validation"
	// CategoryChain represents errors surfaced by a chain adapter
	CategoryChain ErrorCategory = "chain"
	// CategoryRecording represents purchase-recording bookkeeping errors
	CategoryRecording ErrorCategory = "recording"
	// CategoryProvider represents external collaborator (oracle, referral) errors
	CategoryProvider ErrorCategory = "provider"
	// CategoryDatabase represents database errors
	CategoryDatabase ErrorCategory = "database"
	// CategoryNotFound represents not found errors
	CategoryNotFound ErrorCategory = "not_found"
	// CategorySystem represents internal errors
	CategorySystem ErrorCategory = "system"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to a ServiceError
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// IsValidation reports whether err is a pre-flight validation error
func IsValidation(err error) bool {
	ce, ok := err.(*CategorizedError)
	return ok && ce.Category == CategoryValidation
}

// Validation errors (pre-flight, never reach the chain)

// NewEmptyAmountError creates an error for a missing amount or currency
func NewEmptyAmountError() *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       "EMPTY_AMOUNT",
		Message:    "purchase amount and currency are required",
	}
}

// NewInvalidAmountError creates an error for an amount that is present but
// cannot be priced, typically unparseable or out of range
func NewInvalidAmountError(amount string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       "INVALID_AMOUNT",
		Message:    fmt.Sprintf("purchase amount %q is not a valid amount", amount),
		Cause:      cause,
	}
}

// NewInvalidReferralError creates an error for a referral code rejected by
// the validation collaborator
func NewInvalidReferralError(message string) *CategorizedError {
	if message == "" {
		message = "Invalid referral code. Please correct it before purchasing."
	}
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       "INVALID_REFERRAL",
		Message:    message,
	}
}

// NewAllocationExceededError creates an error for a purchase exceeding the
// active stage's remaining USD allocation
func NewAllocationExceededError(stageName string, usdValue, remaining float64) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusUnprocessableEntity,
		Code:       "ALLOCATION_EXCEEDED",
		Message: fmt.Sprintf(
			"Purchase amount ($%.2f) exceeds the remaining allocation for %s. Remaining allocation: $%.2f. Please reduce your purchase amount or wait for the next round.",
			usdValue, stageName, remaining,
		),
		Details: map[string]interface{}{
			"stage":               stageName,
			"usdValue":            usdValue,
			"remainingAllocation": remaining,
			"requiredReduction":   usdValue - remaining,
		},
	}
}

// NewInsufficientBalanceError creates an error for a wallet balance below
// the requested amount. Surfaced inline, not through the status modal.
func NewInsufficientBalanceError(currency types.Currency, balance, required string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusUnprocessableEntity,
		Code:       "INSUFFICIENT_BALANCE",
		Message:    fmt.Sprintf("insufficient %s balance for the requested amount", currency),
		Details: map[string]interface{}{
			"currency": string(currency),
			"balance":  balance,
			"required": required,
		},
	}
}

// NewApprovalRequiredError creates an error for a stablecoin purchase whose
// allowance does not yet cover the requested amount
func NewApprovalRequiredError(currency types.Currency) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusPreconditionRequired,
		Code:       "APPROVAL_REQUIRED",
		Message:    fmt.Sprintf("%s spending approval is required before purchase", currency),
	}
}

// NewPurchaseInFlightError creates an error for a submit while an attempt
// is already in progress
func NewPurchaseInFlightError() *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusConflict,
		Code:       "PURCHASE_IN_FLIGHT",
		Message:    "a purchase attempt is already in progress",
	}
}

// Chain and bookkeeping errors

// NewChainError creates an error for a terminal chain adapter failure
func NewChainError(code, message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryChain,
		StatusCode: http.StatusBadGateway,
		Code:       code,
		Message:    message,
		Cause:      cause,
	}
}

// NewRecordingError creates a non-fatal error for a failed recording call.
// Callers must surface it as a warning alongside the success state.
func NewRecordingError(hash string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryRecording,
		StatusCode: http.StatusBadGateway,
		Code:       "RECORDING_FAILED",
		Message:    "purchase succeeded on-chain but could not be recorded",
		Cause:      cause,
		Details: map[string]interface{}{
			"transactionHash": hash,
		},
	}
}

// Collaborator and system errors

// NewProviderError creates an external collaborator error
func NewProviderError(provider string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryProvider,
		StatusCode: http.StatusBadGateway,
		Code:       "PROVIDER_ERROR",
		Message:    fmt.Sprintf("external provider error: %s", provider),
		Cause:      cause,
		Details: map[string]interface{}{
			"provider": provider,
		},
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string, id string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}
}

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Cause:      cause,
	}
}

// NewDatabaseError creates a database error
func NewDatabaseError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryDatabase,
		StatusCode: http.StatusInternalServerError,
		Code:       "DATABASE_ERROR",
		Message:    fmt.Sprintf("database error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}
