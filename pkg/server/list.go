package server

import (
	"context"

	"github.com/ajitpratap0/mcp-engine/pkg/connection"
	"github.com/ajitpratap0/mcp-engine/pkg/pagination"
	"github.com/ajitpratap0/mcp-engine/pkg/protocol"
)

// ListSource returns every item of a list method. The server slices the
// result into pages.
type ListSource func(ctx context.Context, req *connection.Request) ([]interface{}, error)

// HandleList registers a paginated list endpoint. The items are returned
// under key, for example "tools" for tools/list, and nextCursor is set on
// every page but the last.
func (s *Server) HandleList(method, key string, source ListSource) {
	s.Handle(method, func(ctx context.Context, req *connection.Request) (interface{}, error) {
		var params protocol.PaginatedParams
		if err := req.Bind(&params); err != nil {
			return nil, err
		}
		items, err := source(ctx, req)
		if err != nil {
			return nil, err
		}
		page, err := pagination.Paginate(items, pagination.ParseCursor(params.Cursor), s.pageSize)
		if err != nil {
			return nil, err
		}
		if page.Items == nil {
			page.Items = []interface{}{}
		}

		result := map[string]interface{}{key: page.Items}
		if page.NextCursor != nil {
			result["nextCursor"] = *page.NextCursor
		}
		return result, nil
	})
}
