package errors

import (
	"fmt"
)

// TransportErrorData contains structured data for transport-related errors
type TransportErrorData struct {
	Transport  string `json:"transport"`
	Operation  string `json:"operation,omitempty"`
	Endpoint   string `json:"endpoint,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// TransportError creates a generic transport error
func TransportError(transport, operation string, cause error) MCPError {
	message := fmt.Sprintf("%s transport error", transport)
	if operation != "" {
		message = fmt.Sprintf("%s transport error during %s", transport, operation)
	}
	data := &TransportErrorData{Transport: transport, Operation: operation}
	if cause != nil {
		message = fmt.Sprintf("%s: %s", message, cause.Error())
		data.Reason = cause.Error()
	}

	return WrapError(cause, CodeTransportError, KindTransport, message, CategoryTransport, SeverityError).WithData(data)
}

// StdioTransportError creates an error for stdio transport failures
func StdioTransportError(operation string, cause error) MCPError {
	return TransportError("stdio", operation, cause)
}

// HTTPTransportError creates an error for HTTP transport failures. A status
// of zero means the request never produced a response.
func HTTPTransportError(operation, endpoint string, status int, cause error) MCPError {
	message := fmt.Sprintf("http transport error during %s", operation)
	if status != 0 {
		message = fmt.Sprintf("%s: unexpected status %d", message, status)
	}
	data := &TransportErrorData{Transport: "http", Operation: operation, Endpoint: endpoint, StatusCode: status}
	if cause != nil {
		message = fmt.Sprintf("%s: %s", message, cause.Error())
		data.Reason = cause.Error()
	}
	return WrapError(cause, CodeTransportError, KindTransport, message, CategoryTransport, SeverityError).WithData(data)
}

// TransportClosed reports use of a transport after Close.
func TransportClosed(transport string) MCPError {
	return NewErrorf(CodeTransportError, KindTransport, CategoryTransport, SeverityWarning,
		"%s transport is closed", transport)
}

// SessionNotFound reports an unknown or expired HTTP session.
func SessionNotFound(sessionID string) MCPError {
	return NewError(CodeSessionNotFound, KindSessionNotFound, "Session not found or expired", CategoryNotFound, SeverityWarning).
		WithContext(&Context{SessionID: sessionID, Component: "StreamableHTTP"})
}
