package errors

import (
	"github.com/ajitpratap0/mcp-engine/pkg/protocol"
)

// ToProtocolError converts any error to the JSON-RPC error object sent to the
// peer. Non-MCP errors become internal errors.
func ToProtocolError(err error) *protocol.Error {
	if err == nil {
		return nil
	}

	if rpcErr, ok := err.(*protocol.Error); ok {
		return rpcErr
	}

	if mcpErr, ok := AsMCPError(err); ok {
		data := mcpErr.Data()
		if data == nil && mcpErr.Details() != "" {
			data = mcpErr.Details()
		}
		return &protocol.Error{
			Code:    protocol.ErrorCode(mcpErr.Code()),
			Message: mcpErr.Message(),
			Data:    data,
		}
	}

	return &protocol.Error{
		Code:    protocol.InternalError,
		Message: err.Error(),
	}
}

// FromProtocolError converts an error object received from the peer into an
// MCPError. codes resolves the deployment-specific engine codes.
func FromProtocolError(rpcErr *protocol.Error, codes Codes) MCPError {
	if rpcErr == nil {
		return nil
	}

	code := int(rpcErr.Code)
	var kind Kind
	category := CategoryRemote
	switch {
	case code == codes.NotInitialized:
		kind, category = KindNotInitialized, CategoryProtocol
	case code == codes.RateLimited:
		kind, category = KindRateLimited, CategoryRateLimit
	default:
		if info, ok := GetErrorCodeInfo(code); ok {
			kind, category = info.Kind, info.Category
		} else {
			kind = KindRemote
		}
	}

	err := NewError(code, kind, rpcErr.Message, category, SeverityError)
	if rpcErr.Data != nil {
		err = err.WithData(rpcErr.Data)
	}
	return err
}

// FromDecodeError converts a codec failure into an MCPError.
func FromDecodeError(de *protocol.DecodeError) MCPError {
	if de.Code == protocol.ParseError {
		return ParseError(de.Reason)
	}
	return InvalidRequest(de.Reason)
}
