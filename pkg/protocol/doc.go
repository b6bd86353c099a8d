// Package protocol defines the wire model of the MCP JSON-RPC dialect.
//
// The package is pure data: it knows how to decode and validate frames, how
// to build requests, responses and notifications, and how the two sides of a
// connection agree on a protocol revision and on capabilities. It performs no
// I/O and holds no connection state.
//
// # Messages
//
// Every frame is a Message whose Kind is one of request, response, error
// response or notification. Decode rejects malformed JSON with ParseError and
// structurally invalid frames with InvalidRequest; the returned DecodeError
// carries the request id whenever one could be recovered so the caller can
// still answer the offending request.
//
// # Negotiation
//
// Negotiate echoes the requested revision when it is supported and otherwise
// offers the newest supported one. Capabilities are not merged: each side
// declares a CapabilitySet and a method is legal only if the callee declared
// the capability that guards it, see CheckCallee.
//
// Initialize request:
//
//	{
//	    "jsonrpc": "2.0",
//	    "id": 1,
//	    "method": "initialize",
//	    "params": {
//	        "protocolVersion": "2025-06-18",
//	        "capabilities": {"roots": {"listChanged": true}},
//	        "clientInfo": {"name": "ExampleClient", "version": "1.0.0"}
//	    }
//	}
//
// Initialize response:
//
//	{
//	    "jsonrpc": "2.0",
//	    "id": 1,
//	    "result": {
//	        "protocolVersion": "2025-06-18",
//	        "capabilities": {"tools": {"listChanged": true}, "logging": {}},
//	        "serverInfo": {"name": "ExampleServer", "version": "1.0.0"}
//	    }
//	}
package protocol
