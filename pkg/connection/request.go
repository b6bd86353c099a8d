package connection

import (
	"context"
	"encoding/json"
	"sync/atomic"

	mcperrors "github.com/ajitpratap0/mcp-engine/pkg/errors"
	"github.com/ajitpratap0/mcp-engine/pkg/protocol"
	"github.com/ajitpratap0/mcp-engine/pkg/ratelimit"
)

// Request is an inbound request as seen by its handler.
type Request struct {
	ID     protocol.RequestID
	Method string
	Params json.RawMessage

	conn  *Connection
	token *protocol.ProgressToken
	done  atomic.Bool
}

// Bind decodes the params into v. Failures are reported as invalid params.
func (r *Request) Bind(v interface{}) error {
	if err := protocol.DecodeParams(r.Params, v); err != nil {
		return mcperrors.InvalidParams(err.Error())
	}
	return nil
}

// Conn returns the connection the request arrived on.
func (r *Request) Conn() *Connection {
	return r.conn
}

// ProgressToken returns the token the caller attached, if any.
func (r *Request) ProgressToken() (protocol.ProgressToken, bool) {
	if r.token == nil {
		return protocol.NoID, false
	}
	return *r.token, true
}

// ReportProgress sends a progress notification for the request. It is a
// no-op when the caller did not ask for progress or once the handler has
// returned.
func (r *Request) ReportProgress(ctx context.Context, progress float64, total *float64, message string) error {
	if r.token == nil || r.done.Load() {
		return nil
	}
	if err := r.conn.limiter.Allow(ratelimit.CategoryProgress); err != nil {
		return err
	}
	return r.conn.notify(ctx, protocol.MethodProgress, protocol.ProgressParams{
		ProgressToken: *r.token,
		Progress:      progress,
		Total:         total,
		Message:       message,
	})
}
