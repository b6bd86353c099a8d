// Package transport moves raw JSON-RPC frames between MCP peers.
//
// A Transport knows nothing about message semantics. It delivers complete
// frames in order and reports shutdown by returning io.EOF from Receive.
// Decoding, correlation and lifecycle rules live in the connection package.
//
// # Supported Transports
//
// StdioTransport:
//   - Newline-delimited frames over a reader and a writer
//   - A reader task and a writer task supervised by an errgroup
//   - EOF on the reader is the only shutdown signal from the peer
//
// CommandTransport:
//   - A StdioTransport over the pipes of a child process
//   - Child stderr goes to the logger; child exit reads as EOF
//   - Close closes stdin, then kills the child after a grace period
//
// StreamableHandler and StreamableClient:
//   - One HTTP endpoint accepting POST, GET, DELETE and OPTIONS
//   - Session ids issued on initialize through the Mcp-Session-Id header
//   - Server push over server-sent events with per-session event ids
//   - Replay after reconnect through Last-Event-ID, backed by an EventStore
//   - Origin allow-list and a pluggable Authorizer answering 401 with a
//     WWW-Authenticate challenge
//
// # Serving HTTP
//
//	h, err := transport.NewStreamableHandler(func(s *transport.ServerSession) {
//	    go serveSession(ctx, s) // attach a Connection
//	}, transport.WithEventStore(transport.NewMemoryEventStore(100)))
//	if err != nil {
//	    return err
//	}
//	defer h.Close()
//	http.Handle("/mcp", h)
//
// # Connecting over HTTP
//
//	t := transport.NewStreamableClient("http://localhost:8080/mcp",
//	    transport.WithHeader("Authorization", "Bearer "+token))
//	defer t.Close()
//
// # Launching a Server
//
//	t, err := transport.NewCommandTransport(exec.Command("my-server"),
//	    transport.WithCommandLogger(logger))
//	if err != nil {
//	    return err
//	}
//	defer t.Close()
//
// # Event History
//
// MemoryEventStore keeps a bounded ring per session inside the process.
// RedisEventStore keeps the same window in a Redis sorted set so a client
// can resume its stream against another replica or after a restart.
package transport
