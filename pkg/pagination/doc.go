// Package pagination provides the cursor handling behind every MCP list call.
//
// Cursors are opaque to callers. A server slices a collection with Paginate
// and returns Page.NextCursor as the response's nextCursor field; the only
// end-of-list signal is that field being absent. A client walks a list with
// Collect, which keeps requesting pages until a page arrives without a
// continuation token, regardless of how many items that page held.
//
// # Using Pagination in a Server
//
//	func listTools(ctx context.Context, params protocol.PaginatedParams) (interface{}, error) {
//	    page, err := pagination.Paginate(allTools, pagination.ParseCursor(params.Cursor), 100)
//	    if err != nil {
//	        return nil, err // InvalidParams for unknown or expired cursors
//	    }
//	    return ToolList{Tools: page.Items, NextCursor: page.NextCursor}, nil
//	}
//
// # Walking a List in a Client
//
//	tools, err := pagination.Collect(ctx, func(ctx context.Context, c pagination.Cursor) (pagination.Page[Tool], error) {
//	    return fetchToolPage(ctx, c.Token())
//	})
package pagination
