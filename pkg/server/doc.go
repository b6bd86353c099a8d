// Package server implements the server role of the Model Context Protocol.
//
// A Server declares its capabilities once and serves any number of clients.
// Every client gets its own connection.Connection with an independent
// lifecycle, request registries and rate limiter.
//
// # Creating a Server
//
//	srv := server.New(protocol.Implementation{Name: "files", Version: "1.0.0"},
//	    server.WithTools(true),
//	    server.WithLogging(),
//	)
//	srv.HandleList(protocol.MethodListTools, "tools", func(ctx context.Context, req *connection.Request) ([]interface{}, error) {
//	    return tools, nil
//	})
//	srv.Handle(protocol.MethodCallTool, callTool)
//
// # Serving
//
//   - ServeStdio serves one client over stdin and stdout
//   - Serve serves one client over any transport.Transport
//   - HTTPHandler returns a streamable HTTP endpoint with one connection per
//     session
//
// Requests for a capability the server did not declare are rejected before
// they reach a handler. With WithResources(true, ...) the server answers
// resources/subscribe and resources/unsubscribe itself; NotifyResourceUpdated
// then reaches every subscribed client.
package server
