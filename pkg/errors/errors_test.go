package errors

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/ajitpratap0/mcp-engine/pkg/protocol"
)

func TestEngineErrorKinds(t *testing.T) {
	tests := []struct {
		name     string
		err      MCPError
		wantCode int
		wantKind Kind
		wantCat  Category
	}{
		{name: "parse", err: ParseError("bad json"), wantCode: CodeParseError, wantKind: KindParse, wantCat: CategoryProtocol},
		{name: "invalid request", err: InvalidRequest("x"), wantCode: CodeInvalidRequest, wantKind: KindInvalidRequest, wantCat: CategoryProtocol},
		{name: "method not found", err: MethodNotFound("foo"), wantCode: CodeMethodNotFound, wantKind: KindMethodNotFound, wantCat: CategoryProtocol},
		{name: "invalid params", err: InvalidParams("cursor"), wantCode: CodeInvalidParams, wantKind: KindInvalidParams, wantCat: CategoryValidation},
		{name: "not initialized", err: NotInitialized(-32002), wantCode: -32002, wantKind: KindNotInitialized, wantCat: CategoryProtocol},
		{name: "not initialized custom code", err: NotInitialized(-32050), wantCode: -32050, wantKind: KindNotInitialized, wantCat: CategoryProtocol},
		{name: "capability", err: CapabilityUnavailable("prompts/list", "prompts", ""), wantCode: CodeMethodNotFound, wantKind: KindCapabilityUnavailable, wantCat: CategoryProtocol},
		{name: "rate limited", err: RateLimited("tools", -32001, 5, time.Second), wantCode: -32001, wantKind: KindRateLimited, wantCat: CategoryRateLimit},
		{name: "cancelled", err: Cancelled("user"), wantCode: CodeOperationCancelled, wantKind: KindCancelled, wantCat: CategoryCancelled},
		{name: "connection closed", err: ConnectionClosed(), wantCode: CodeOperationCancelled, wantKind: KindCancelled, wantCat: CategoryCancelled},
		{name: "timeout", err: Timeout("ping", time.Second), wantCode: CodeOperationTimeout, wantKind: KindTimeout, wantCat: CategoryTimeout},
		{name: "violation", err: ProtocolViolation("dup id %d", 1), wantCode: CodeProtocolError, wantKind: KindProtocolViolation, wantCat: CategoryProtocol},
		{name: "unauthorized", err: Unauthorized(`Bearer realm="x"`), wantCode: CodeUnauthorized, wantKind: KindUnauthorized, wantCat: CategoryAuth},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Code(); got != tt.wantCode {
				t.Errorf("Code() = %v, want %v", got, tt.wantCode)
			}
			if got := tt.err.Kind(); got != tt.wantKind {
				t.Errorf("Kind() = %v, want %v", got, tt.wantKind)
			}
			if got := tt.err.Category(); got != tt.wantCat {
				t.Errorf("Category() = %v, want %v", got, tt.wantCat)
			}
			if msg := tt.err.Error(); msg == "" {
				t.Error("Error() returned empty string")
			}
		})
	}
}

func TestConnectionClosedMessage(t *testing.T) {
	if got := ConnectionClosed().Message(); got != "Request cancelled: connection closed" {
		t.Errorf("Message() = %q", got)
	}
}

func TestErrorContext(t *testing.T) {
	err := InvalidParams("test error")

	if ctx := err.Context(); ctx == nil {
		t.Fatal("Context() should never return nil")
	}

	requestCtx := &Context{
		RequestID: "123",
		Method:    "tools/call",
		Component: "Connection",
	}

	errWithCtx := err.WithContext(requestCtx)
	if got := errWithCtx.Context(); got.RequestID != "123" || got.Timestamp.IsZero() {
		t.Errorf("WithContext() did not keep context: %+v", got)
	}

	if err.Context().RequestID != "" {
		t.Error("Original error was modified by WithContext()")
	}
}

func TestErrorChaining(t *testing.T) {
	cause := fmt.Errorf("underlying cause")
	err := InternalError(cause)

	if unwrapped := err.Unwrap(); unwrapped != cause {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, cause)
	}

	wrapped := fmt.Errorf("outer: %w", Timeout("ping", time.Second))
	if !IsKind(wrapped, KindTimeout) {
		t.Error("IsKind should follow wrapped chains")
	}
	if !IsCategory(wrapped, CategoryTimeout) {
		t.Error("IsCategory should follow wrapped chains")
	}
	if IsCode(fmt.Errorf("plain"), CodeInternalError) {
		t.Error("plain errors carry no code")
	}
}

func TestErrorSerialization(t *testing.T) {
	err := MethodNotFound("x/y").WithContext(&Context{RequestID: "123"})

	jsonBytes, mErr := json.Marshal(err)
	if mErr != nil {
		t.Fatalf("Failed to marshal error: %v", mErr)
	}

	var unmarshaled map[string]interface{}
	if uErr := json.Unmarshal(jsonBytes, &unmarshaled); uErr != nil {
		t.Fatalf("Failed to unmarshal error: %v", uErr)
	}

	if unmarshaled["code"] != float64(CodeMethodNotFound) {
		t.Errorf("code = %v, want %v", unmarshaled["code"], CodeMethodNotFound)
	}
	if unmarshaled["kind"] != string(KindMethodNotFound) {
		t.Errorf("kind = %v", unmarshaled["kind"])
	}
}

func TestToProtocolError(t *testing.T) {
	rpcErr := ToProtocolError(RateLimited("tools", -32001, 5, time.Second))
	if rpcErr.Code != -32001 {
		t.Errorf("Code = %d", rpcErr.Code)
	}
	if rpcErr.Message != "Rate limit exceeded: tools" {
		t.Errorf("Message = %q", rpcErr.Message)
	}

	plain := ToProtocolError(fmt.Errorf("boom"))
	if plain.Code != protocol.InternalError || plain.Message != "boom" {
		t.Errorf("plain error converted to %+v", plain)
	}

	detailed := ToProtocolError(InvalidParams("invalid cursor"))
	if detailed.Data != "invalid cursor" {
		t.Errorf("details should travel as data, got %v", detailed.Data)
	}

	if ToProtocolError(nil) != nil {
		t.Error("nil error must convert to nil")
	}
}

func TestFromProtocolError(t *testing.T) {
	codes := DefaultCodes()

	tests := []struct {
		code int
		want Kind
	}{
		{code: -32002, want: KindNotInitialized},
		{code: -32001, want: KindRateLimited},
		{code: CodeMethodNotFound, want: KindMethodNotFound},
		{code: CodeInvalidParams, want: KindInvalidParams},
		{code: 42, want: KindRemote},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("code_%d", tt.code), func(t *testing.T) {
			err := FromProtocolError(&protocol.Error{Code: protocol.ErrorCode(tt.code), Message: "m", Data: "d"}, codes)
			if err.Kind() != tt.want {
				t.Errorf("Kind() = %v, want %v", err.Kind(), tt.want)
			}
			if err.Code() != tt.code {
				t.Errorf("Code() = %v, want %v", err.Code(), tt.code)
			}
			if err.Data() != "d" {
				t.Errorf("Data() = %v", err.Data())
			}
		})
	}
}

func TestFromDecodeError(t *testing.T) {
	if got := FromDecodeError(&protocol.DecodeError{Code: protocol.ParseError}); got.Kind() != KindParse {
		t.Errorf("Kind() = %v", got.Kind())
	}
	if got := FromDecodeError(&protocol.DecodeError{Code: protocol.InvalidRequest}); got.Kind() != KindInvalidRequest {
		t.Errorf("Kind() = %v", got.Kind())
	}
}

func TestTransportErrors(t *testing.T) {
	err := HTTPTransportError("post", "http://x", 500, fmt.Errorf("boom"))
	data, ok := err.Data().(*TransportErrorData)
	if !ok {
		t.Fatalf("Data() = %T", err.Data())
	}
	if data.StatusCode != 500 || data.Reason != "boom" {
		t.Errorf("unexpected data %+v", data)
	}
	if !IsKind(StdioTransportError("read", fmt.Errorf("eof")), KindTransport) {
		t.Error("stdio errors must be transport kind")
	}
	if SessionNotFound("abc").Context().SessionID != "abc" {
		t.Error("session id must be recorded")
	}
}
