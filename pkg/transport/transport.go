package transport

import (
	"context"
)

// Transport moves raw JSON-RPC frames between two peers. Each frame is one
// complete JSON message without a trailing newline.
//
// Receive blocks until a frame arrives. It returns io.EOF once the peer is
// gone or the transport was closed; any other error is a transport failure.
// Send and Receive may be called concurrently with each other.
type Transport interface {
	Send(ctx context.Context, frame []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// SessionTransport is implemented by transports that carry a session id.
type SessionTransport interface {
	Transport
	SessionID() string
}

// VersionAware is implemented by transports that must echo the negotiated
// protocol version, such as the HTTP client.
type VersionAware interface {
	SetProtocolVersion(version string)
}

// HTTP header names used by the streamable transport.
const (
	HeaderSessionID       = "Mcp-Session-Id"
	HeaderProtocolVersion = "Mcp-Protocol-Version"
	HeaderLastEventID     = "Last-Event-ID"
	HeaderAuthenticate    = "WWW-Authenticate"
)

// Content types used by the streamable transport.
const (
	ContentTypeJSON        = "application/json"
	ContentTypeEventStream = "text/event-stream"
)
