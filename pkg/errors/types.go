// Package errors provides structured error handling for the MCP engine.
// Every error the engine surfaces to an application is an MCPError carrying
// a JSON-RPC code, a Kind from the engine's taxonomy, and optional context.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"
)

// Category represents the type/category of an error for classification and handling
type Category string

const (
	CategoryValidation Category = "validation"
	CategoryAuth       Category = "auth"
	CategoryNotFound   Category = "not_found"
	CategoryTransport  Category = "transport"
	CategoryInternal   Category = "internal"
	CategoryTimeout    Category = "timeout"
	CategoryCancelled  Category = "cancelled"
	CategoryProtocol   Category = "protocol"
	CategoryRateLimit  Category = "rate_limit"
	CategoryRemote     Category = "remote"
)

// Severity indicates how critical an error is
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Kind is the engine-level classification of an error. Codes may be
// reconfigured per deployment; kinds never change.
type Kind string

const (
	KindParse                 Kind = "parse_error"
	KindInvalidRequest        Kind = "invalid_request"
	KindMethodNotFound        Kind = "method_not_found"
	KindInvalidParams         Kind = "invalid_params"
	KindInternal              Kind = "internal"
	KindNotInitialized        Kind = "not_initialized"
	KindCapabilityUnavailable Kind = "capability_unavailable"
	KindRateLimited           Kind = "rate_limited"
	KindCancelled             Kind = "cancelled"
	KindTimeout               Kind = "timeout"
	KindProtocolViolation     Kind = "protocol_violation"
	KindUnsupportedVersion    Kind = "unsupported_version"
	KindTransport             Kind = "transport"
	KindUnauthorized          Kind = "unauthorized"
	KindSessionNotFound       Kind = "session_not_found"
	KindRemote                Kind = "remote"
)

// Context provides additional context about where and when an error occurred
type Context struct {
	RequestID  string                 `json:"request_id,omitempty"`
	Method     string                 `json:"method,omitempty"`
	SessionID  string                 `json:"session_id,omitempty"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	Component  string                 `json:"component,omitempty"`
	Operation  string                 `json:"operation,omitempty"`
	TraceID    string                 `json:"trace_id,omitempty"`
}

// MCPError defines the interface for all engine errors
type MCPError interface {
	error

	// Code returns the JSON-RPC error code
	Code() int

	// Kind returns the engine taxonomy entry
	Kind() Kind

	// Message returns a human-readable error message
	Message() string

	// Details returns detailed technical description for debugging
	Details() string

	// Data returns structured error data for programmatic handling
	Data() interface{}

	// Category returns the error category for classification
	Category() Category

	// Severity returns the error severity level
	Severity() Severity

	// Context returns the error context information
	Context() *Context

	// WithContext returns a new error with the provided context
	WithContext(ctx *Context) MCPError

	// WithDetail returns a new error with additional detail
	WithDetail(detail string) MCPError

	// WithData returns a new error with structured data
	WithData(data interface{}) MCPError

	// Unwrap returns the underlying error for error chain traversal
	Unwrap() error

	// ToJSON returns the error as a JSON-serializable map
	ToJSON() map[string]interface{}
}

type baseError struct {
	code     int
	kind     Kind
	message  string
	details  string
	data     interface{}
	category Category
	severity Severity
	context  *Context
	cause    error
}

func (e *baseError) Error() string {
	if e.details != "" {
		return fmt.Sprintf("%s: %s", e.message, e.details)
	}
	return e.message
}

func (e *baseError) Code() int              { return e.code }
func (e *baseError) Kind() Kind             { return e.kind }
func (e *baseError) Message() string        { return e.message }
func (e *baseError) Details() string        { return e.details }
func (e *baseError) Data() interface{}      { return e.data }
func (e *baseError) Category() Category     { return e.category }
func (e *baseError) Severity() Severity     { return e.severity }
func (e *baseError) Context() *Context      { return e.context }
func (e *baseError) Unwrap() error          { return e.cause }

// WithContext returns a new error with the provided context
func (e *baseError) WithContext(ctx *Context) MCPError {
	newErr := *e
	if ctx != nil && ctx.Timestamp.IsZero() {
		stamped := *ctx
		stamped.Timestamp = time.Now()
		ctx = &stamped
	}
	newErr.context = ctx
	return &newErr
}

// WithDetail returns a new error with additional detail
func (e *baseError) WithDetail(detail string) MCPError {
	newErr := *e
	if newErr.details != "" {
		newErr.details = fmt.Sprintf("%s; %s", newErr.details, detail)
	} else {
		newErr.details = detail
	}
	return &newErr
}

// WithData returns a new error with structured data
func (e *baseError) WithData(data interface{}) MCPError {
	newErr := *e
	newErr.data = data
	return &newErr
}

// ToJSON returns the error as a JSON-serializable map
func (e *baseError) ToJSON() map[string]interface{} {
	result := map[string]interface{}{
		"code":     e.code,
		"kind":     string(e.kind),
		"message":  e.message,
		"category": string(e.category),
		"severity": string(e.severity),
	}

	if e.details != "" {
		result["details"] = e.details
	}
	if e.data != nil {
		result["data"] = e.data
	}
	if e.context != nil {
		result["context"] = e.context
	}
	if e.cause != nil {
		result["cause"] = e.cause.Error()
	}

	return result
}

// MarshalJSON implements json.Marshaler for baseError
func (e *baseError) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.ToJSON())
}

// NewError creates a new MCPError with the specified parameters
func NewError(code int, kind Kind, message string, category Category, severity Severity) MCPError {
	return &baseError{
		code:     code,
		kind:     kind,
		message:  message,
		category: category,
		severity: severity,
		context:  &Context{Timestamp: time.Now()},
	}
}

// NewErrorf creates a new MCPError with formatted message
func NewErrorf(code int, kind Kind, category Category, severity Severity, format string, args ...interface{}) MCPError {
	return NewError(code, kind, fmt.Sprintf(format, args...), category, severity)
}

// WrapError wraps an existing error as an MCPError
func WrapError(err error, code int, kind Kind, message string, category Category, severity Severity) MCPError {
	return &baseError{
		code:     code,
		kind:     kind,
		message:  message,
		category: category,
		severity: severity,
		cause:    err,
		context:  &Context{Timestamp: time.Now()},
	}
}

// AsMCPError extracts the first MCPError from err's chain
func AsMCPError(err error) (MCPError, bool) {
	if err == nil {
		return nil, false
	}
	var mcpErr MCPError
	if stderrors.As(err, &mcpErr) {
		return mcpErr, true
	}
	return nil, false
}

// IsMCPError checks if an error is an MCPError
func IsMCPError(err error) bool {
	_, ok := AsMCPError(err)
	return ok
}

// IsKind checks if an error carries the given kind
func IsKind(err error, kind Kind) bool {
	if mcpErr, ok := AsMCPError(err); ok {
		return mcpErr.Kind() == kind
	}
	return false
}

// IsCategory checks if an error is of a specific category
func IsCategory(err error, category Category) bool {
	if mcpErr, ok := AsMCPError(err); ok {
		return mcpErr.Category() == category
	}
	return false
}

// IsCode checks if an error has a specific error code
func IsCode(err error, code int) bool {
	if mcpErr, ok := AsMCPError(err); ok {
		return mcpErr.Code() == code
	}
	return false
}
