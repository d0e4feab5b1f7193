// Package errors provides the standardized error taxonomy for the loan
// navigator orchestration core.
package errors

import (
	"fmt"
	"strings"
	"time"
)

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	// Request-level failures.
	ErrCodeClassificationFailed ErrorCode = "CLASSIFICATION_FAILED"
	ErrCodeOrchestrationFailed  ErrorCode = "ORCHESTRATION_FAILED"

	// Branch-local infrastructure failures, absorbed at the orchestrator.
	ErrCodeDataAccessFailed ErrorCode = "DATA_ACCESS_FAILED"
	ErrCodeIndexUnavailable ErrorCode = "INDEX_UNAVAILABLE"

	// Local validation failure in the simulation branch; surfaced to the
	// user as a clarification request, not a generic error.
	ErrCodeInvalidParameters ErrorCode = "INVALID_PARAMETERS"

	// Inference-service transport failures.
	ErrCodeGenAITimeout           ErrorCode = "GENAI_TIMEOUT"
	ErrCodeGenAIRateLimited       ErrorCode = "GENAI_RATE_LIMITED"
	ErrCodeGenAIMalformedResponse ErrorCode = "GENAI_MALFORMED_RESPONSE"

	// Audit sink failures (never block the request path).
	ErrCodeAuditAppendFailed ErrorCode = "AUDIT_APPEND_FAILED"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// ==========================
// Error Constructors
// ==========================

// NewClassificationFailedError marks the intent service as unusable after
// retries were exhausted.
func NewClassificationFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeClassificationFailed,
		Message:   "Intent classification failed after retries",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewOrchestrationFailedError is raised only when every invoked branch
// failed or timed out and no partial answer could be assembled.
func NewOrchestrationFailedError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeOrchestrationFailed,
		Message:   "All branches failed for this request",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewDataAccessFailedError creates a retryable loan-datastore error.
func NewDataAccessFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDataAccessFailed,
		Message:   "Loan datastore access error",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewIndexUnavailableError creates a retryable policy-index error.
func NewIndexUnavailableError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeIndexUnavailable,
		Message:   "Policy index unreachable",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidParametersError names the parameter that failed validation.
func NewInvalidParametersError(param, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidParameters,
		Message:   fmt.Sprintf("Invalid parameter %q", param),
		Details:   details,
		Retryable: false,
		Metadata:  map[string]interface{}{"parameter": param},
		Timestamp: time.Now().UTC(),
	}
}

// NewGenAITimeoutError creates a retryable inference timeout error.
func NewGenAITimeoutError() *StandardError {
	return &StandardError{
		Code:      ErrCodeGenAITimeout,
		Message:   "Inference service timeout",
		Details:   "call exceeded timeout threshold",
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewGenAIRateLimitedError creates a retryable rate-limit error.
func NewGenAIRateLimitedError() *StandardError {
	return &StandardError{
		Code:      ErrCodeGenAIRateLimited,
		Message:   "Inference service rate limited",
		Details:   "received HTTP 429",
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewGenAIMalformedResponseError creates a non-retryable decode error.
func NewGenAIMalformedResponseError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeGenAIMalformedResponse,
		Message:   "Inference service returned an unparsable structure",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewAuditAppendFailedError creates a retryable audit sink error.
func NewAuditAppendFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeAuditAppendFailed,
		Message:   "Audit event append failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// Retry Policy
// ==========================

// GetRetryCount returns the recommended retry count per error code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeDataAccessFailed,
		ErrCodeIndexUnavailable,
		ErrCodeAuditAppendFailed:
		return 3 // Retryable technical errors

	case ErrCodeGenAITimeout,
		ErrCodeGenAIRateLimited:
		return 2 // Transient upstream conditions

	default:
		return 0 // Validation and total failures: no retry
	}
}

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// GetErrorCategory returns the coarse category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "GENAI") || strings.Contains(codeStr, "CLASSIFICATION"):
		return "AI"
	case strings.Contains(codeStr, "DATA_ACCESS"):
		return "DATABASE"
	case strings.Contains(codeStr, "INDEX"):
		return "SEARCH"
	case strings.Contains(codeStr, "INVALID"):
		return "VALIDATION"
	case strings.Contains(codeStr, "AUDIT"):
		return "AUDIT"
	default:
		return "OTHER"
	}
}
