package server

import (
	"context"
	"sync"

	"github.com/ajitpratap0/mcp-engine/pkg/connection"
	mcperrors "github.com/ajitpratap0/mcp-engine/pkg/errors"
	"github.com/ajitpratap0/mcp-engine/pkg/protocol"
)

// subscriptions maps resource URIs to the connections watching them.
type subscriptions struct {
	mu    sync.RWMutex
	byURI map[string]map[*connection.Connection]struct{}
}

func newSubscriptions() *subscriptions {
	return &subscriptions{byURI: make(map[string]map[*connection.Connection]struct{})}
}

func (m *subscriptions) subscribe(uri string, conn *connection.Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.byURI[uri]
	if !ok {
		set = make(map[*connection.Connection]struct{})
		m.byURI[uri] = set
	}
	set[conn] = struct{}{}
}

func (m *subscriptions) unsubscribe(uri string, conn *connection.Connection) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.byURI[uri]
	if !ok {
		return false
	}
	if _, ok := set[conn]; !ok {
		return false
	}
	delete(set, conn)
	if len(set) == 0 {
		delete(m.byURI, uri)
	}
	return true
}

func (m *subscriptions) dropConnection(conn *connection.Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for uri, set := range m.byURI {
		delete(set, conn)
		if len(set) == 0 {
			delete(m.byURI, uri)
		}
	}
}

func (m *subscriptions) subscribers(uri string) []*connection.Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*connection.Connection, 0, len(m.byURI[uri]))
	for c := range m.byURI[uri] {
		out = append(out, c)
	}
	return out
}

func (s *Server) handleSubscribe(_ context.Context, req *connection.Request) (interface{}, error) {
	var params protocol.ResourceParams
	if err := req.Bind(&params); err != nil {
		return nil, err
	}
	if params.URI == "" {
		return nil, mcperrors.InvalidParams("uri is required")
	}
	s.subs.subscribe(params.URI, req.Conn())
	return struct{}{}, nil
}

func (s *Server) handleUnsubscribe(_ context.Context, req *connection.Request) (interface{}, error) {
	var params protocol.ResourceParams
	if err := req.Bind(&params); err != nil {
		return nil, err
	}
	if !s.subs.unsubscribe(params.URI, req.Conn()) {
		return nil, mcperrors.InvalidParams("not subscribed to " + params.URI)
	}
	return struct{}{}, nil
}

// NotifyResourceUpdated sends notifications/resources/updated to every
// connection subscribed to uri and returns how many were notified.
func (s *Server) NotifyResourceUpdated(uri string) int {
	subscribers := s.subs.subscribers(uri)
	for _, c := range subscribers {
		c.Notify(protocol.MethodResourceUpdated, protocol.ResourceParams{URI: uri})
	}
	return len(subscribers)
}
