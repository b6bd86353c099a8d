// Package pkg groups the packages of the MCP engine.
//
// Dependencies point one way, from transports and codecs up to the roles:
//
//	protocol, errors, logging, observability
//	    ↑
//	registry, ratelimit, pagination, lifecycle, transport
//	    ↑
//	connection
//	    ↑
//	server, client, auth, config
//
// Every Connection owns its own lifecycle Machine, registries and rate
// limiter, so connections never share protocol state. Servers hand out one
// Connection per client; a Client wraps exactly one.
package pkg
