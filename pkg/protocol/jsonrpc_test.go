package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestIDJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    RequestID
		wantErr bool
	}{
		{name: "integer", input: `7`, want: NumberID(7)},
		{name: "negative integer", input: `-3`, want: NumberID(-3)},
		{name: "string", input: `"abc"`, want: StringID("abc")},
		{name: "numeric string stays string", input: `"7"`, want: StringID("7")},
		{name: "null", input: `null`, want: NoID},
		{name: "fraction", input: `1.5`, wantErr: true},
		{name: "object", input: `{}`, wantErr: true},
		{name: "bool", input: `true`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var id RequestID
			err := json.Unmarshal([]byte(tt.input), &id)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, id)

			out, err := json.Marshal(id)
			require.NoError(t, err)
			assert.JSONEq(t, tt.input, string(out))
		})
	}
}

func TestRequestIDStringDoesNotCollide(t *testing.T) {
	assert.NotEqual(t, NumberID(7).String(), StringID("7").String())
	assert.Equal(t, "7", NumberID(7).String())
	assert.Equal(t, `"7"`, StringID("7").String())
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		kind     Kind
		code     ErrorCode
		errID    RequestID
		checkMsg func(t *testing.T, m *Message)
	}{
		{
			name:  "request",
			input: `{"jsonrpc":"2.0","id":1,"method":"ping"}`,
			kind:  KindRequest,
			checkMsg: func(t *testing.T, m *Message) {
				assert.Equal(t, NumberID(1), m.ID)
				assert.Equal(t, MethodPing, m.Method)
			},
		},
		{
			name:  "notification",
			input: `{"jsonrpc":"2.0","method":"notifications/initialized"}`,
			kind:  KindNotification,
		},
		{
			name:  "response",
			input: `{"jsonrpc":"2.0","id":"a","result":{}}`,
			kind:  KindResponse,
		},
		{
			name:  "error response with null id",
			input: `{"jsonrpc":"2.0","id":null,"error":{"code":-32700,"message":"Parse error"}}`,
			kind:  KindErrorResponse,
			checkMsg: func(t *testing.T, m *Message) {
				assert.True(t, m.ID.IsNone())
				assert.Equal(t, ParseError, m.Error.Code)
			},
		},
		{name: "malformed json", input: `{"jsonrpc":`, code: ParseError},
		{name: "empty frame", input: `   `, code: ParseError},
		{name: "batch", input: `[{"jsonrpc":"2.0","id":1,"method":"ping"}]`, code: InvalidRequest},
		{name: "scalar", input: `42`, code: InvalidRequest},
		{name: "wrong version", input: `{"jsonrpc":"1.0","id":3,"method":"ping"}`, code: InvalidRequest, errID: NumberID(3)},
		{name: "null request id", input: `{"jsonrpc":"2.0","id":null,"method":"ping"}`, code: InvalidRequest},
		{name: "result and error", input: `{"jsonrpc":"2.0","id":1,"result":{},"error":{"code":1,"message":"x"}}`, code: InvalidRequest, errID: NumberID(1)},
		{name: "method and result", input: `{"jsonrpc":"2.0","id":1,"method":"x","result":{}}`, code: InvalidRequest, errID: NumberID(1)},
		{name: "no method no id", input: `{"jsonrpc":"2.0"}`, code: InvalidRequest},
		{name: "response without payload", input: `{"jsonrpc":"2.0","id":2}`, code: InvalidRequest, errID: NumberID(2)},
		{name: "scalar params", input: `{"jsonrpc":"2.0","id":4,"method":"x","params":3}`, code: InvalidRequest, errID: NumberID(4)},
		{name: "bad id type", input: `{"jsonrpc":"2.0","id":true,"method":"x"}`, code: InvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode([]byte(tt.input))
			if tt.code != 0 {
				require.Error(t, err)
				var de *DecodeError
				require.ErrorAs(t, err, &de)
				assert.Equal(t, tt.code, de.Code)
				assert.Equal(t, tt.errID, de.ID)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.kind, msg.Kind())
			if tt.checkMsg != nil {
				tt.checkMsg(t, msg)
			}
		})
	}
}

func TestEncodeShapes(t *testing.T) {
	req, err := NewRequest(NumberID(7), MethodPing, nil)
	require.NoError(t, err)
	data, err := Encode(req)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":7,"method":"ping"}`, string(data))

	notif, err := NewNotification(MethodCancelled, CancelledParams{RequestID: StringID("x"), Reason: "bye"})
	require.NoError(t, err)
	data, err = Encode(notif)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","method":"notifications/cancelled","params":{"requestId":"x","reason":"bye"}}`, string(data))

	resp, err := NewResponse(NumberID(7), nil)
	require.NoError(t, err)
	data, err = Encode(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":7,"result":{}}`, string(data))

	errResp := NewErrorResponse(NoID, &Error{Code: ParseError, Message: "Parse error"})
	data, err = Encode(errResp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":null,"error":{"code":-32700,"message":"Parse error"}}`, string(data))
}

func TestNewRequestRequiresID(t *testing.T) {
	_, err := NewRequest(NoID, MethodPing, nil)
	assert.Error(t, err)
}

func TestEncodeDecodeKeepsParams(t *testing.T) {
	req, err := NewRequest(StringID("r1"), MethodCallTool, CallToolParams{Name: "echo", Arguments: json.RawMessage(`{"x":1}`)})
	require.NoError(t, err)
	data, err := Encode(req)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, KindRequest, decoded.Kind())

	var params CallToolParams
	require.NoError(t, DecodeParams(decoded.Params, &params))
	assert.Equal(t, "echo", params.Name)
	assert.JSONEq(t, `{"x":1}`, string(params.Arguments))
}

func TestParamsMeta(t *testing.T) {
	msg, err := Decode([]byte(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"x","_meta":{"progressToken":"tok"}}}`))
	require.NoError(t, err)
	meta := msg.ParamsMeta()
	require.NotNil(t, meta.ProgressToken)
	assert.Equal(t, StringID("tok"), *meta.ProgressToken)

	msg, err = Decode([]byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	require.NoError(t, err)
	assert.Nil(t, msg.ParamsMeta().ProgressToken)
}

func TestErrorString(t *testing.T) {
	e := &Error{Code: MethodNotFound, Message: "Method not found"}
	assert.Equal(t, "rpc error: code = -32601 desc = Method not found", e.Error())
}
