package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

const (
	// JSONRPCVersion is the supported JSON-RPC version
	JSONRPCVersion = "2.0"
)

// ErrorCode represents standard JSON-RPC 2.0 error codes
type ErrorCode int

// Standard JSON-RPC 2.0 error codes
const (
	ParseError     ErrorCode = -32700
	InvalidRequest ErrorCode = -32600
	MethodNotFound ErrorCode = -32601
	InvalidParams  ErrorCode = -32602
	InternalError  ErrorCode = -32603
)

// Kind classifies a decoded message.
type Kind int

const (
	KindInvalid Kind = iota
	KindRequest
	KindResponse
	KindErrorResponse
	KindNotification
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	case KindErrorResponse:
		return "error"
	case KindNotification:
		return "notification"
	default:
		return "invalid"
	}
}

// Error represents a JSON-RPC 2.0 error object
type Error struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("rpc error: code = %d desc = %s", e.Code, e.Message)
}

// Message is a single JSON-RPC 2.0 frame. Exactly one of the four shapes is
// populated; Kind reports which.
type Message struct {
	JSONRPC string
	ID      RequestID
	Method  string
	Params  json.RawMessage
	Result  json.RawMessage
	Error   *Error
}

// Kind reports the shape of the message.
func (m *Message) Kind() Kind {
	switch {
	case m.Method != "" && !m.ID.IsNone():
		return KindRequest
	case m.Method != "":
		return KindNotification
	case m.Error != nil:
		return KindErrorResponse
	case !m.ID.IsNone():
		return KindResponse
	default:
		return KindInvalid
	}
}

type wireMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

var emptyObject = json.RawMessage("{}")

// MarshalJSON implements json.Marshaler. Notifications carry no id; error
// responses without a recoverable id carry "id": null.
func (m *Message) MarshalJSON() ([]byte, error) {
	w := wireMessage{JSONRPC: JSONRPCVersion}
	kind := m.Kind()
	switch kind {
	case KindRequest:
		w.Method, w.Params = m.Method, m.Params
	case KindNotification:
		w.Method, w.Params = m.Method, m.Params
	case KindResponse:
		w.Result = m.Result
		if len(w.Result) == 0 {
			w.Result = emptyObject
		}
	case KindErrorResponse:
		w.Error = m.Error
	default:
		return nil, fmt.Errorf("cannot marshal message without method, id or error")
	}
	if kind != KindNotification {
		id, err := m.ID.MarshalJSON()
		if err != nil {
			return nil, err
		}
		w.ID = id
	}
	return json.Marshal(w)
}

// DecodeError reports a frame that could not be turned into a Message. ID is
// set when the offending frame still carried a usable request id.
type DecodeError struct {
	Code   ErrorCode
	ID     RequestID
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode error %d: %s", e.Code, e.Reason)
}

// RPCError converts the decode failure into the error object sent back to the
// peer.
func (e *DecodeError) RPCError() *Error {
	msg := "Invalid request"
	if e.Code == ParseError {
		msg = "Parse error"
	}
	return &Error{Code: e.Code, Message: msg, Data: e.Reason}
}

// Decode parses one frame and validates its JSON-RPC structure.
func Decode(data []byte) (*Message, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, &DecodeError{Code: ParseError, Reason: "empty frame"}
	}
	if !json.Valid(trimmed) {
		return nil, &DecodeError{Code: ParseError, Reason: "malformed JSON"}
	}
	if trimmed[0] == '[' {
		return nil, &DecodeError{Code: InvalidRequest, Reason: "batch messages are not supported"}
	}
	if trimmed[0] != '{' {
		return nil, &DecodeError{Code: InvalidRequest, Reason: "message must be a JSON object"}
	}

	var w wireMessage
	if err := json.Unmarshal(trimmed, &w); err != nil {
		return nil, &DecodeError{Code: InvalidRequest, Reason: err.Error()}
	}

	msg := &Message{
		JSONRPC: w.JSONRPC,
		Method:  w.Method,
		Params:  w.Params,
		Result:  w.Result,
		Error:   w.Error,
	}

	hasID := len(w.ID) > 0
	if hasID {
		if err := msg.ID.UnmarshalJSON(w.ID); err != nil {
			return nil, &DecodeError{Code: InvalidRequest, Reason: err.Error()}
		}
	}

	invalid := func(reason string) error {
		return &DecodeError{Code: InvalidRequest, ID: msg.ID, Reason: reason}
	}

	if w.JSONRPC != JSONRPCVersion {
		return nil, invalid(fmt.Sprintf("unsupported jsonrpc version %q", w.JSONRPC))
	}

	if w.Method != "" {
		if len(w.Result) > 0 || w.Error != nil {
			return nil, invalid("message cannot carry both method and result or error")
		}
		if hasID && msg.ID.IsNone() {
			return nil, invalid("request id must not be null")
		}
		if len(w.Params) > 0 && !isStructured(w.Params) {
			return nil, invalid("params must be an object or array")
		}
		return msg, nil
	}

	if !hasID {
		return nil, invalid("message has neither method nor id")
	}
	switch {
	case len(w.Result) > 0 && w.Error != nil:
		return nil, invalid("response cannot carry both result and error")
	case w.Error != nil:
		return msg, nil
	case len(w.Result) > 0:
		if msg.ID.IsNone() {
			return nil, invalid("response id must not be null")
		}
		return msg, nil
	default:
		return nil, invalid("response carries neither result nor error")
	}
}

// Encode serializes a message as a single line of JSON.
func Encode(msg *Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return data, nil
}

func isStructured(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && (raw[0] == '{' || raw[0] == '[' || bytes.Equal(raw, []byte("null")))
}

func marshalRaw(v interface{}, what string) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", what, err)
	}
	return data, nil
}

// NewRequest creates a new JSON-RPC 2.0 request
func NewRequest(id RequestID, method string, params interface{}) (*Message, error) {
	if id.IsNone() {
		return nil, fmt.Errorf("request %q requires an id", method)
	}
	paramsJSON, err := marshalRaw(params, "params")
	if err != nil {
		return nil, err
	}
	return &Message{JSONRPC: JSONRPCVersion, ID: id, Method: method, Params: paramsJSON}, nil
}

// NewNotification creates a new JSON-RPC 2.0 notification
func NewNotification(method string, params interface{}) (*Message, error) {
	paramsJSON, err := marshalRaw(params, "params")
	if err != nil {
		return nil, err
	}
	return &Message{JSONRPC: JSONRPCVersion, Method: method, Params: paramsJSON}, nil
}

// NewResponse creates a new JSON-RPC 2.0 success response
func NewResponse(id RequestID, result interface{}) (*Message, error) {
	resultJSON, err := marshalRaw(result, "result")
	if err != nil {
		return nil, err
	}
	if len(resultJSON) == 0 {
		resultJSON = emptyObject
	}
	return &Message{JSONRPC: JSONRPCVersion, ID: id, Result: resultJSON}, nil
}

// NewErrorResponse creates a new JSON-RPC 2.0 error response
func NewErrorResponse(id RequestID, rpcErr *Error) *Message {
	return &Message{JSONRPC: JSONRPCVersion, ID: id, Error: rpcErr}
}

// RequestMeta is the reserved _meta object carried inside params.
type RequestMeta struct {
	ProgressToken *ProgressToken `json:"progressToken,omitempty"`
}

// ParamsMeta extracts params._meta from a request. Missing or malformed
// metadata yields a zero value.
func (m *Message) ParamsMeta() RequestMeta {
	var holder struct {
		Meta RequestMeta `json:"_meta"`
	}
	params := bytes.TrimSpace(m.Params)
	if len(params) == 0 || params[0] != '{' {
		return RequestMeta{}
	}
	if err := json.Unmarshal(params, &holder); err != nil {
		return RequestMeta{}
	}
	return holder.Meta
}
