// Package mcp is the root of a Model Context Protocol engine for Go.
//
// The engine implements the JSON-RPC 2.0 based protocol layer shared by MCP
// clients and servers: message codec, request correlation, cancellation,
// progress, the initialization lifecycle, capability checks, rate limiting,
// pagination and two transports (stdio and streamable HTTP). What tools,
// resources and prompts actually do is left to the handlers you register.
//
// # Overview
//
//   - pkg/protocol: wire types, codec, capabilities and protocol versions
//   - pkg/lifecycle: the per-connection initialization state machine
//   - pkg/connection: dispatch, outbound calls, progress and cancellation
//   - pkg/server and pkg/client: the two roles on top of a connection
//   - pkg/transport: stdio and streamable HTTP with SSE resumption
//   - pkg/registry, pkg/ratelimit, pkg/pagination: building blocks used by
//     connections
//   - pkg/config, pkg/logging, pkg/observability, pkg/errors: ambient support
//
// # Creating a Server
//
//	srv := mcp.NewServer(protocol.Implementation{Name: "echo", Version: "1.0.0"},
//	    mcp.WithTools(false),
//	)
//	srv.Handle(protocol.MethodCallTool, func(ctx context.Context, req *connection.Request) (interface{}, error) {
//	    var params protocol.CallToolParams
//	    if err := req.Bind(&params); err != nil {
//	        return nil, err
//	    }
//	    return map[string]interface{}{"content": []interface{}{}}, nil
//	})
//	if err := srv.ServeStdio(ctx, os.Stdin, os.Stdout); err != nil {
//	    log.Fatal(err)
//	}
//
// # Creating a Client
//
//	t := mcp.NewStreamableClient("http://localhost:8080/mcp")
//	c := mcp.NewClient(t, protocol.Implementation{Name: "cli", Version: "1.0.0"})
//	defer c.Close()
//	if _, err := c.Initialize(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	result, err := c.CallTool(ctx, "echo", map[string]string{"text": "hi"})
//
// See the examples directory for complete programs.
package mcp
