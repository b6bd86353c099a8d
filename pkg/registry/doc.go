// Package registry tracks the state that ties messages of one connection
// together: outbound requests awaiting a response (Pending), inbound requests
// whose handlers are still running (InFlight), and progress tokens attached to
// outbound requests (Progress).
//
// Every registry is safe for concurrent use. Each entry resolves exactly once;
// a late or duplicate message finds nothing and is reported to the caller so
// it can be logged and dropped.
package registry
