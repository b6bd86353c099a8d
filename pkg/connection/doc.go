// Package connection runs the MCP protocol over a transport.
//
// A Connection owns exactly one reader loop. Every inbound frame is decoded,
// checked against the lifecycle and then routed:
//
//   - requests are checked for the local capability and the rate limit and
//     handed to their HandlerFunc on a goroutine of their own
//   - responses settle the matching outbound Call
//   - notifications update the cancellation and progress registries and are
//     passed to listeners
//
// initialize, notifications/initialized, ping, notifications/cancelled,
// notifications/progress and logging/setLevel are handled by the connection
// itself. Everything else comes from a Router.
//
// Outbound calls are correlated by id. A call that times out or whose
// context ends sends notifications/cancelled to the peer; a response that
// arrives afterwards is dropped.
//
//	router := connection.NewRouter()
//	router.Handle("tools/call", func(ctx context.Context, req *connection.Request) (interface{}, error) {
//	    _ = req.ReportProgress(ctx, 1, nil, "working")
//	    return result, nil
//	})
//	conn := connection.New(t, machine, router, connection.WithLogger(logger))
//	err := conn.Serve(ctx)
package connection
