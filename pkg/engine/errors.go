package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for retry and recovery logic.
// The string values are persisted in LastError.
type ErrorClass string

const (
	// ErrorClassValidation indicates a malformed or incomplete client record.
	// Never retried; the run fails before any external call.
	ErrorClassValidation ErrorClass = "ValidationError"

	// ErrorClassTransient indicates a temporary provider failure.
	// Examples: rate limiting, 5xx responses, timeouts.
	ErrorClassTransient ErrorClass = "TransientProviderError"

	// ErrorClassAlreadyExists indicates the resource is already present.
	// Treated as success by every step.
	ErrorClassAlreadyExists ErrorClass = "AlreadyExistsConflict"

	// ErrorClassPermanent indicates a non-recoverable provider failure.
	// Examples: permission denied, quota hard-exceeded, invalid identifier.
	ErrorClassPermanent ErrorClass = "PermanentProviderError"

	// ErrorClassManifestConflict indicates the manifest conditional write lost
	// the race more times than the retry bound allows.
	ErrorClassManifestConflict ErrorClass = "ManifestConflict"

	// ErrorClassManifestCorrupt indicates the manifest exists but cannot be
	// parsed or violates its structure. Requires operator intervention.
	ErrorClassManifestCorrupt ErrorClass = "ManifestCorruptError"

	// ErrorClassClaimConflict indicates another run holds the client claim.
	ErrorClassClaimConflict ErrorClass = "ClaimConflict"
)

// Common error codes.
const (
	ErrCodeInvalidRecord    = "INVALID_RECORD"
	ErrCodePolicyDenied     = "POLICY_DENIED"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeAlreadyExists    = "ALREADY_EXISTS"
	ErrCodePermissionDenied = "PERMISSION_DENIED"
	ErrCodeQuotaExceeded    = "QUOTA_EXCEEDED"
	ErrCodeTimeout          = "TIMEOUT"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeUnavailable      = "UNAVAILABLE"
	ErrCodeInvalidArgument  = "INVALID_ARGUMENT"
	ErrCodeHorizonExceeded  = "RETRY_HORIZON_EXCEEDED"
	ErrCodeInternal         = "INTERNAL_ERROR"
)

// Sentinel errors shared by tracker and source implementations.
var (
	ErrStateNotFound  = errors.New("provisioning state not found")
	ErrClaimLost      = errors.New("provisioning claim lost")
	ErrRecordNotFound = errors.New("client record not found")
)

// Error represents a classified error with context.
type Error struct {
	// Class is the error classification for retry logic.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Step is the workflow step that produced the error, if any.
	Step Step `json:"step,omitempty"`

	// Resource is the external resource that caused the error, if applicable.
	Resource string `json:"resource,omitempty"`

	// Operation is the provider call being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Resource != "" && e.Operation != "" {
		msg += fmt.Sprintf(" (resource=%s, operation=%s)", e.Resource, e.Operation)
	} else if e.Resource != "" {
		msg += fmt.Sprintf(" (resource=%s)", e.Resource)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

func newError(class ErrorClass, message string, err error) *Error {
	return &Error{Class: class, Message: message, Err: err}
}

// NewValidationError creates a new validation error.
func NewValidationError(message string, err error) *Error {
	return newError(ErrorClassValidation, message, err).WithCode(ErrCodeInvalidRecord)
}

// NewTransientError creates a new transient provider error.
func NewTransientError(message string, err error) *Error {
	return newError(ErrorClassTransient, message, err)
}

// NewAlreadyExistsError creates a new already-exists conflict.
func NewAlreadyExistsError(message string, err error) *Error {
	return newError(ErrorClassAlreadyExists, message, err).WithCode(ErrCodeAlreadyExists)
}

// NewPermanentError creates a new permanent provider error.
func NewPermanentError(message string, err error) *Error {
	return newError(ErrorClassPermanent, message, err)
}

// NewManifestConflictError creates a new manifest conflict error.
func NewManifestConflictError(message string, err error) *Error {
	return newError(ErrorClassManifestConflict, message, err)
}

// NewManifestCorruptError creates a new manifest corruption error.
func NewManifestCorruptError(message string, err error) *Error {
	return newError(ErrorClassManifestCorrupt, message, err)
}

// NewClaimConflictError creates a new claim conflict error.
func NewClaimConflictError(message string, err error) *Error {
	return newError(ErrorClassClaimConflict, message, err)
}

// WithStep adds step context to an error.
func (e *Error) WithStep(step Step) *Error {
	e.Step = step
	return e
}

// WithResource adds resource context to an error.
func (e *Error) WithResource(resource string) *Error {
	e.Resource = resource
	return e
}

// WithOperation adds operation context to an error.
func (e *Error) WithOperation(operation string) *Error {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

func hasClass(err error, class ErrorClass) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == class
	}
	return false
}

// IsValidation returns true if the error is classified as a validation error.
func IsValidation(err error) bool { return hasClass(err, ErrorClassValidation) }

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool { return hasClass(err, ErrorClassTransient) }

// IsAlreadyExists returns true if the error is classified as already-exists.
func IsAlreadyExists(err error) bool { return hasClass(err, ErrorClassAlreadyExists) }

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool { return hasClass(err, ErrorClassPermanent) }

// IsManifestConflict returns true if the error is a manifest conflict.
func IsManifestConflict(err error) bool { return hasClass(err, ErrorClassManifestConflict) }

// IsManifestCorrupt returns true if the error is a manifest corruption error.
func IsManifestCorrupt(err error) bool { return hasClass(err, ErrorClassManifestCorrupt) }

// IsClaimConflict returns true if the error is a claim conflict.
func IsClaimConflict(err error) bool { return hasClass(err, ErrorClassClaimConflict) }

// ClassOf returns the class of a classified error. Unclassified errors are
// treated as permanent so they are never retried blindly.
func ClassOf(err error) ErrorClass {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return ErrorClassPermanent
}

// CodeOf returns the code of a classified error, or "".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
