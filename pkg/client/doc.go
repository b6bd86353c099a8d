// Package client implements the client role of the Model Context Protocol.
//
// A Client wraps one transport. It starts reading as soon as it is created,
// so server requests such as sampling/createMessage and roots/list are
// answered even while Initialize is in flight.
//
//	t := transport.NewStreamableClient("http://localhost:8080/mcp")
//	c := client.New(t, protocol.Implementation{Name: "cli", Version: "1.0.0"},
//	    client.WithRoots(true, listRoots),
//	)
//	defer c.Close()
//
//	if _, err := c.Initialize(ctx); err != nil {
//	    return err
//	}
//	var tools []Tool
//	if err := c.ListAll(ctx, protocol.MethodListTools, "tools", &tools); err != nil {
//	    return err
//	}
//
// Calls made before Initialize completes fail with a not-initialized error.
// Requests for a capability the server did not declare fail locally without
// reaching the wire.
package client
