// Package engine provides the core types and components of the OpenConform
// compliance engine. It implements the pipeline: Normalize -> Diff ->
// Remediate -> Plan -> Deploy.
package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for retry and recovery logic.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure that may succeed on retry.
	// Examples: connection timeouts, connection resets, device briefly unreachable.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassValidation indicates malformed input supplied by the caller.
	// Examples: unparseable structured config, unknown filter values.
	ErrorClassValidation ErrorClass = "validation"

	// ErrorClassRejected indicates the device deterministically refused the
	// operation. Examples: authentication failure, command rejected by the
	// device CLI. Retrying wastes time and risk.
	ErrorClassRejected ErrorClass = "rejected"

	// ErrorClassPermanent indicates a non-recoverable error.
	// Examples: no remediation rule for a diff element, device not found.
	ErrorClassPermanent ErrorClass = "permanent"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification for retry logic.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Device is the device ID that caused the error, if applicable.
	Device string `json:"device,omitempty"`

	// Feature is the configuration feature being processed, if applicable.
	Feature string `json:"feature,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.Device != "" && e.Feature != "" {
		return fmt.Sprintf("[%s] %s (device=%s, feature=%s): %s",
			e.Class, e.Message, e.Device, e.Feature, e.unwrapMessage())
	}
	if e.Device != "" {
		return fmt.Sprintf("[%s] %s (device=%s): %s",
			e.Class, e.Message, e.Device, e.unwrapMessage())
	}
	if e.Feature != "" {
		return fmt.Sprintf("[%s] %s (feature=%s): %s",
			e.Class, e.Message, e.Feature, e.unwrapMessage())
	}
	return fmt.Sprintf("[%s] %s: %s", e.Class, e.Message, e.unwrapMessage())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// unwrapMessage returns the error message from the underlying error chain.
func (e *EngineError) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassTransient,
		Message: message,
		Err:     err,
	}
}

// NewValidationError creates a new validation error.
func NewValidationError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassValidation,
		Message: message,
		Err:     err,
	}
}

// NewRejectedError creates a new rejected error.
func NewRejectedError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassRejected,
		Message: message,
		Err:     err,
	}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassPermanent,
		Message: message,
		Err:     err,
	}
}

// NewMalformedInputError creates the error raised when configuration input
// cannot be parsed or scrubbed. The failure is local to one feature and must
// not abort sibling features.
func NewMalformedInputError(feature string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassValidation,
		Message: "malformed configuration input",
		Code:    ErrCodeMalformedInput,
		Feature: feature,
		Err:     err,
	}
}

// NewUnsupportedRemediationError creates the error raised when a diff element
// has no matching remediation rule for the device's platform. The offending
// element is named so the caller can extend the rule set.
func NewUnsupportedRemediationError(platform, element string) *EngineError {
	return &EngineError{
		Class:   ErrorClassPermanent,
		Message: fmt.Sprintf("no remediation rule for element %q", element),
		Code:    ErrCodeUnsupportedRemediation,
		Err:     nil,
		Details: map[string]interface{}{
			"platform": platform,
			"element":  element,
		},
	}
}

// NewFilterError creates the error raised when a device filter cannot be
// resolved. Zero matching devices is NOT this error; only malformed filter
// values are.
func NewFilterError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassValidation,
		Message: message,
		Code:    ErrCodeFilterResolution,
		Err:     err,
	}
}

// WithDevice adds device context to an error.
func (e *EngineError) WithDevice(deviceID string) *EngineError {
	e.Device = deviceID
	return e
}

// WithFeature adds feature context to an error.
func (e *EngineError) WithFeature(feature string) *EngineError {
	e.Feature = feature
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient
	}
	return false
}

// IsValidation returns true if the error is classified as a validation error.
func IsValidation(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassValidation
	}
	return false
}

// IsRejected returns true if the error is classified as rejected.
func IsRejected(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassRejected
	}
	return false
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassPermanent
	}
	return false
}

// IsRetryable returns true if the error can be retried.
// Only transient failures are retryable: validation errors are deterministic,
// rejected errors mean the device refused the operation, and permanent errors
// are unrecoverable by definition.
func IsRetryable(err error) bool {
	return IsTransient(err)
}

// Common error codes.
const (
	ErrCodeMalformedInput         = "MALFORMED_INPUT"
	ErrCodeUnsupportedRemediation = "UNSUPPORTED_REMEDIATION"
	ErrCodeFilterResolution       = "FILTER_RESOLUTION"
	ErrCodeConnection             = "CONNECTION_FAILED"
	ErrCodeCommandRejected        = "COMMAND_REJECTED"
	ErrCodeAuthFailed             = "AUTH_FAILED"
	ErrCodeTimeout                = "TIMEOUT"
	ErrCodeValidation             = "VALIDATION_ERROR"
	ErrCodeNotFound               = "NOT_FOUND"
	ErrCodePolicyDenied           = "POLICY_DENIED"
	ErrCodeInternal               = "INTERNAL_ERROR"
)
