package core

import (
	"errors"
	"fmt"
)

// Standard sentinel errors for comparison using errors.Is().
// These are generic errors that can be wrapped with additional context.
var (
	// Storage errors
	ErrConditionFailed = errors.New("conditional write failed")
	ErrItemNotFound    = errors.New("item not found")

	// Execution lock errors
	ErrExecutionInProgress = errors.New("execution already in progress")
	ErrExecutionCompleted  = errors.New("execution already completed")
	ErrRaceCondition       = errors.New("record vanished between conditional write and read")

	// Intent errors
	ErrIntentNotFound = errors.New("action intent not found")
	ErrIntentExpired  = errors.New("action intent expired")

	// Idempotency errors
	ErrIdempotencyCollision = errors.New("idempotency key collision")

	// Resilience errors
	ErrCircuitOpen      = errors.New("circuit breaker open")
	ErrKillSwitchActive = errors.New("kill switch active")

	// Registry errors
	ErrMappingNotFound      = errors.New("tool mapping not found")
	ErrMappingAlreadyExists = errors.New("tool mapping already exists")

	// Configuration errors
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrMissingConfiguration = errors.New("missing required configuration")
)

// ValidationError carries a stable machine-readable code alongside the
// operator-facing message. Codes are alarm-wiring surface; treat them as API.
type ValidationError struct {
	Code    string // e.g. "MISSING_REGISTRY_VERSION", "TOOL_MAPPING_NOT_FOUND"
	Message string
	Err     error // optional underlying error for wrapping
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError creates a ValidationError with a stable code.
func NewValidationError(code, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Stable validation codes surfaced through outcomes and alarms.
const (
	CodeMissingRegistryVersion = "MISSING_REGISTRY_VERSION"
	CodeRegistryVersionMissing = "REGISTRY_VERSION_MISSING"
	CodeToolMappingNotFound    = "TOOL_MAPPING_NOT_FOUND"
	CodeIntentNotFound         = "INTENT_NOT_FOUND"
	CodeIntentExpired          = "INTENT_EXPIRED"
	CodeKillSwitchActive       = "KILL_SWITCH_ACTIVE"
	CodeMissingRequiredField   = "MISSING_REQUIRED_FIELD"
	CodeProvenanceMismatch     = "PROVENANCE_MISMATCH"
	CodeArgumentsTooLarge      = "TOOL_ARGUMENTS_TOO_LARGE"
	CodeInvalidEnvelope        = "INVALID_ENVELOPE"
)

// StoreError wraps storage failures with the operation and key involved.
type StoreError struct {
	Op  string // operation that failed (e.g. "kv.Put")
	Key string // composite key, "pk|sk"
	Err error
}

func (e *StoreError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s [%s]: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsConditionFailed reports whether err is the conditional-write sentinel.
// Every store in the pipeline relies on this being distinguishable from
// generic I/O errors.
func IsConditionFailed(err error) bool {
	return errors.Is(err, ErrConditionFailed)
}

// IsNotFound reports whether err represents a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrItemNotFound) ||
		errors.Is(err, ErrIntentNotFound) ||
		errors.Is(err, ErrMappingNotFound)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsRetryable reports whether err is a transient failure the orchestration
// runtime may retry. Conditional-write failures and validation failures are
// correctness signals and never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsConditionFailed(err) || IsValidation(err) || IsNotFound(err) {
		return false
	}
	if errors.Is(err, ErrExecutionInProgress) ||
		errors.Is(err, ErrExecutionCompleted) ||
		errors.Is(err, ErrIdempotencyCollision) ||
		errors.Is(err, ErrCircuitOpen) ||
		errors.Is(err, ErrKillSwitchActive) {
		return false
	}
	return true
}
