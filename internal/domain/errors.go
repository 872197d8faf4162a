package domain

import (
	"errors"
	"fmt"
	"time"
)

// EngineError is the standardized error envelope returned on API surfaces.
type EngineError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// Error implements the error interface
func (e *EngineError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error codes for the failure taxonomy. Degradable failures (cache, single
// rules) never reach callers as errors; these codes cover the surfaces that
// do return errors plus the annotations attached to rule results.
const (
	ErrCodeInvalidInput     = "INVALID_INPUT"
	ErrCodeClassification   = "CLASSIFICATION_ERROR"
	ErrCodeRuleTimeout      = "RULE_TIMEOUT"
	ErrCodeRuleEvaluation   = "RULE_EVALUATION_ERROR"
	ErrCodeCacheUnavailable = "CACHE_UNAVAILABLE"
	ErrCodeConfiguration    = "CONFIGURATION_ERROR"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeUpstream         = "UPSTREAM_ERROR"
	ErrCodeStorage          = "STORAGE_ERROR"
	ErrCodeInternal         = "INTERNAL_SERVER_ERROR"
)

// Sentinel errors shared across packages.
var (
	// ErrNotFound reports a missing record in any persistence collaborator.
	ErrNotFound = errors.New("not found")
	// ErrRuleTimeout marks a rule evaluation that exceeded its per-rule deadline.
	ErrRuleTimeout = errors.New("rule evaluation timed out")
)

// NewEngineError creates a new EngineError with timestamp.
func NewEngineError(code, message, details, requestID string) *EngineError {
	return &EngineError{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
	}
}

// ValidationError represents input validation errors
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// ConfigurationError is fatal at startup: the engine refuses to initialize
// rather than silently evaluating nothing (empty registry, malformed
// threshold table, invalid config values).
type ConfigurationError struct {
	Reason string
}

// Error implements the error interface
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

// NewConfigurationError creates a new ConfigurationError
func NewConfigurationError(format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

// RuleError wraps a single rule's evaluation failure. It is recovered
// per-rule into a non-fired RuleResult annotation and never aborts a batch.
type RuleError struct {
	RuleID string
	Err    error
}

// Error implements the error interface
func (e *RuleError) Error() string {
	return fmt.Sprintf("rule %s: %v", e.RuleID, e.Err)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *RuleError) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether the rule failed by exceeding its deadline.
func (e *RuleError) IsTimeout() bool {
	return errors.Is(e.Err, ErrRuleTimeout)
}

// CacheError wraps a cache-tier failure. It is absorbed by the cache layer
// and engine, surfacing only as a metrics counter increment.
type CacheError struct {
	Op  string
	Err error
}

// Error implements the error interface
func (e *CacheError) Error() string {
	return fmt.Sprintf("cache %s: %v", e.Op, e.Err)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *CacheError) Unwrap() error {
	return e.Err
}

// IsCacheUnavailable reports whether the error is an absorbed cache failure.
func IsCacheUnavailable(err error) bool {
	var ce *CacheError
	return errors.As(err, &ce)
}
