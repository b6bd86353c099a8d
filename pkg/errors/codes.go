package errors

// JSON-RPC 2.0 Standard Error Codes
const (
	// CodeParseError indicates invalid JSON was received
	CodeParseError int = -32700

	// CodeInvalidRequest indicates the JSON sent is not a valid Request object
	CodeInvalidRequest int = -32600

	// CodeMethodNotFound indicates the method does not exist / is not available
	CodeMethodNotFound int = -32601

	// CodeInvalidParams indicates invalid method parameter(s)
	CodeInvalidParams int = -32602

	// CodeInternalError indicates internal JSON-RPC error
	CodeInternalError int = -32603
)

// Engine defaults for the deployment-configurable codes
const (
	DefaultRateLimitedCode    int = -32001
	DefaultNotInitializedCode int = -32002
)

// Codes for errors that never leave the process. They are only visible to
// the local caller and are kept out of the -32000..-32099 server range.
const (
	CodeUnauthorized       int = -32100
	CodeTransportError     int = -32500
	CodeOperationCancelled int = -32300
	CodeOperationTimeout   int = -32301
	CodeProtocolError      int = -32900
	CodeVersionMismatch    int = -32901
	CodeSessionNotFound    int = -32902
)

// Codes carries the codes a deployment assigns to engine-specific errors.
type Codes struct {
	NotInitialized int `yaml:"not_initialized" json:"not_initialized"`
	RateLimited    int `yaml:"rate_limited" json:"rate_limited"`
}

// DefaultCodes returns the stock engine codes.
func DefaultCodes() Codes {
	return Codes{
		NotInitialized: DefaultNotInitializedCode,
		RateLimited:    DefaultRateLimitedCode,
	}
}

// ErrorCodeInfo provides human-readable information about error codes
type ErrorCodeInfo struct {
	Code        int
	Name        string
	Description string
	Kind        Kind
	Category    Category
	Severity    Severity
}

var errorCodeRegistry = map[int]ErrorCodeInfo{
	CodeParseError:     {CodeParseError, "ParseError", "Invalid JSON was received", KindParse, CategoryProtocol, SeverityError},
	CodeInvalidRequest: {CodeInvalidRequest, "InvalidRequest", "Invalid Request object", KindInvalidRequest, CategoryProtocol, SeverityError},
	CodeMethodNotFound: {CodeMethodNotFound, "MethodNotFound", "Method does not exist", KindMethodNotFound, CategoryProtocol, SeverityError},
	CodeInvalidParams:  {CodeInvalidParams, "InvalidParams", "Invalid method parameters", KindInvalidParams, CategoryValidation, SeverityError},
	CodeInternalError:  {CodeInternalError, "InternalError", "Internal JSON-RPC error", KindInternal, CategoryInternal, SeverityError},
}

// GetErrorCodeInfo returns information about a standard error code
func GetErrorCodeInfo(code int) (ErrorCodeInfo, bool) {
	info, exists := errorCodeRegistry[code]
	return info, exists
}

// GetErrorCodeName returns the name of an error code
func GetErrorCodeName(code int) string {
	if info, exists := errorCodeRegistry[code]; exists {
		return info.Name
	}
	return "UnknownError"
}

// IsStandardJSONRPCCode checks if a code is in the reserved JSON-RPC range
func IsStandardJSONRPCCode(code int) bool {
	return code >= -32768 && code <= -32000
}
