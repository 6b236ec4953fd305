package errors

// ErrorCode represents a machine-readable error code.
type ErrorCode string

// Pipeline errors
const (
	// ErrCodeStageFailed indicates a stage completed with a nonzero status.
	ErrCodeStageFailed ErrorCode = "STAGE_FAILED"
	// ErrCodeAborted indicates the scheduler was aborted.
	ErrCodeAborted ErrorCode = "ABORTED"
	// ErrCodeTeardownTimeout indicates a stage did not acknowledge cancellation in time.
	ErrCodeTeardownTimeout ErrorCode = "TEARDOWN_TIMEOUT"
)

// Source errors
const (
	// ErrCodeClaimLost indicates another engine won the compare-and-swap on an item.
	ErrCodeClaimLost ErrorCode = "CLAIM_LOST"
	// ErrCodeNoItem indicates the backlog holds nothing claimable right now.
	ErrCodeNoItem ErrorCode = "NO_ITEM"
	// ErrCodeSourceClosed indicates the source no longer hands out items.
	ErrCodeSourceClosed ErrorCode = "SOURCE_CLOSED"
)

// Connection/Availability errors (retryable)
const (
	// ErrCodeServiceUnavailable indicates the service is temporarily unavailable.
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	// ErrCodeConnectionFailed indicates a failed connection to a service.
	ErrCodeConnectionFailed ErrorCode = "CONNECTION_FAILED"
	// ErrCodeTimeout indicates the request timed out.
	ErrCodeTimeout ErrorCode = "TIMEOUT"
)

// Resource errors
const (
	// ErrCodeNotFound indicates the requested resource was not found.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrCodeConflict indicates a conflict with the current state of the resource.
	ErrCodeConflict ErrorCode = "CONFLICT"
)

// Resilience errors
const (
	// ErrCodeCircuitOpen indicates a circuit breaker is rejecting calls.
	ErrCodeCircuitOpen ErrorCode = "CIRCUIT_OPEN"
	// ErrCodeRateLimited indicates a call was rejected by a rate limiter.
	ErrCodeRateLimited ErrorCode = "RATE_LIMITED"
	// ErrCodeBulkheadFull indicates no concurrency slot was available.
	ErrCodeBulkheadFull ErrorCode = "BULKHEAD_FULL"
)

// Validation and internal errors
const (
	ErrCodeInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrCodeInternal        ErrorCode = "INTERNAL_ERROR"
	ErrCodeDatabaseError   ErrorCode = "DATABASE_ERROR"
	ErrCodeExternalService ErrorCode = "EXTERNAL_SERVICE_ERROR"
)

var retryableCodes = map[ErrorCode]bool{
	ErrCodeServiceUnavailable: true,
	ErrCodeConnectionFailed:   true,
	ErrCodeTimeout:            true,
	ErrCodeDatabaseError:      true,
	ErrCodeExternalService:    true,
	ErrCodeClaimLost:          true,
	ErrCodeNoItem:             true,
	ErrCodeRateLimited:        true,
}

// IsRetryableCode returns true if the error code indicates a retryable error.
func IsRetryableCode(code ErrorCode) bool {
	return retryableCodes[code]
}
