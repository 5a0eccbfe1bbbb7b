// Package errors provides structured error handling for nrtsearch.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Store and I/O errors (open, write, teardown)
//   - 4XX: Contract and request errors (release, timeout, query)
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates store and disk I/O errors.
	CategoryIO Category = "IO"
	// CategoryContract indicates misuse of an API contract or an unmet request.
	CategoryContract Category = "CONTRACT"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates a programming error that must not be ignored.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates the operation failed but the index stays usable.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
	// SeverityInfo indicates an expected condition rather than a fault.
	SeverityInfo Severity = "INFO"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Store errors (200-299)
	ErrCodeStoreUnavailable = "ERR_201_STORE_UNAVAILABLE"
	ErrCodeWriteFailed      = "ERR_202_WRITE_FAILED"
	ErrCodeTeardownFailed   = "ERR_203_TEARDOWN_FAILED"

	// Contract errors (400-499)
	ErrCodeInvalidRelease = "ERR_401_INVALID_RELEASE"
	ErrCodeTimedOut       = "ERR_402_TIMED_OUT"
	ErrCodeInvalidQuery   = "ERR_403_INVALID_QUERY"

	// Internal errors (500-599)
	ErrCodeInternal = "ERR_501_INTERNAL"
	ErrCodeClosed   = "ERR_502_CLOSED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Extract numeric portion (e.g., "201" from "ERR_201_STORE_UNAVAILABLE")
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '4':
		return CategoryContract
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeInvalidRelease:
		return SeverityFatal
	case ErrCodeTimedOut:
		return SeverityInfo
	case ErrCodeTeardownFailed:
		return SeverityWarning
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeWriteFailed, ErrCodeTimedOut:
		return true
	default:
		return false
	}
}
