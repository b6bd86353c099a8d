package errors

import (
	"fmt"
	"time"
)

// RateLimitData is attached to RateLimited errors.
type RateLimitData struct {
	Category string        `json:"category"`
	Limit    int           `json:"limit"`
	Window   time.Duration `json:"window"`
}

// CapabilityErrorData contains structured data for capability-related errors
type CapabilityErrorData struct {
	Method     string `json:"method"`
	Capability string `json:"capability"`
	Feature    string `json:"feature,omitempty"`
}

// UnauthorizedData carries the challenge returned by an HTTP server.
type UnauthorizedData struct {
	StatusCode      int    `json:"status_code"`
	WWWAuthenticate string `json:"www_authenticate,omitempty"`
}

// ParseError reports a frame that was not valid JSON.
func ParseError(reason string) MCPError {
	return NewError(CodeParseError, KindParse, "Parse error", CategoryProtocol, SeverityWarning).WithDetail(reason)
}

// InvalidRequest reports a structurally invalid message or an illegal request.
func InvalidRequest(reason string) MCPError {
	return NewError(CodeInvalidRequest, KindInvalidRequest, "Invalid request", CategoryProtocol, SeverityWarning).WithDetail(reason)
}

// MethodNotFound reports a method without a registered handler.
func MethodNotFound(method string) MCPError {
	return NewError(CodeMethodNotFound, KindMethodNotFound, "Method not found", CategoryProtocol, SeverityWarning).
		WithDetail(method)
}

// InvalidParams reports params that could not be decoded or validated.
func InvalidParams(reason string) MCPError {
	return NewError(CodeInvalidParams, KindInvalidParams, "Invalid params", CategoryValidation, SeverityWarning).WithDetail(reason)
}

// InternalError wraps a failure inside a handler.
func InternalError(cause error) MCPError {
	message := "Internal error"
	if cause != nil {
		message = cause.Error()
	}
	return WrapError(cause, CodeInternalError, KindInternal, message, CategoryInternal, SeverityError)
}

// NotInitialized rejects a request that arrived before the handshake finished.
func NotInitialized(code int) MCPError {
	return NewError(code, KindNotInitialized, "Server not initialized", CategoryProtocol, SeverityWarning)
}

// CapabilityUnavailable rejects a method whose capability the callee did not
// declare. It travels with the method-not-found code.
func CapabilityUnavailable(method, capability, feature string) MCPError {
	msg := fmt.Sprintf("Capability %s not available", capability)
	if feature != "" {
		msg = fmt.Sprintf("Capability %s.%s not available", capability, feature)
	}
	return NewError(CodeMethodNotFound, KindCapabilityUnavailable, msg, CategoryProtocol, SeverityWarning).
		WithData(&CapabilityErrorData{Method: method, Capability: capability, Feature: feature})
}

// RateLimited reports an exhausted category budget.
func RateLimited(category string, code, limit int, window time.Duration) MCPError {
	return NewErrorf(code, KindRateLimited, CategoryRateLimit, SeverityWarning, "Rate limit exceeded: %s", category).
		WithData(&RateLimitData{Category: category, Limit: limit, Window: window})
}

// Cancelled is the local result of a request that was cancelled.
func Cancelled(reason string) MCPError {
	msg := "Request cancelled"
	if reason != "" {
		msg = fmt.Sprintf("Request cancelled: %s", reason)
	}
	return NewError(CodeOperationCancelled, KindCancelled, msg, CategoryCancelled, SeverityInfo)
}

// ConnectionClosed is the local result of every request outstanding when a
// connection shuts down.
func ConnectionClosed() MCPError {
	return Cancelled("connection closed")
}

// Timeout is the local result of a request whose caller-side deadline passed.
func Timeout(method string, after time.Duration) MCPError {
	return NewErrorf(CodeOperationTimeout, KindTimeout, CategoryTimeout, SeverityWarning,
		"Request %s timed out after %s", method, after)
}

// ProtocolViolation describes a message that breaks the protocol and is dropped.
func ProtocolViolation(format string, args ...interface{}) MCPError {
	return NewErrorf(CodeProtocolError, KindProtocolViolation, CategoryProtocol, SeverityWarning, format, args...)
}

// UnsupportedVersion reports a negotiated version the client does not speak.
func UnsupportedVersion(version string, supported []string) MCPError {
	return NewErrorf(CodeVersionMismatch, KindUnsupportedVersion, CategoryProtocol, SeverityError,
		"Unsupported protocol version %s", version).
		WithData(map[string]interface{}{"supported": supported, "requested": version})
}

// Unauthorized reports an HTTP 401 from the peer.
func Unauthorized(challenge string) MCPError {
	return NewError(CodeUnauthorized, KindUnauthorized, "Unauthorized", CategoryAuth, SeverityError).
		WithData(&UnauthorizedData{StatusCode: 401, WWWAuthenticate: challenge})
}
