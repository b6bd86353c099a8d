package registry

import (
	"context"
	"sync"
	"time"

	mcperrors "github.com/ajitpratap0/mcp-engine/pkg/errors"
	"github.com/ajitpratap0/mcp-engine/pkg/protocol"
)

// Call is a single-resolution future for one outbound request.
type Call struct {
	ID      protocol.RequestID
	Method  string
	Token   *protocol.ProgressToken
	Started time.Time

	once sync.Once
	done chan struct{}
	resp *protocol.Message
	err  error
}

func newCall(id protocol.RequestID, method string, token *protocol.ProgressToken) *Call {
	return &Call{
		ID:      id,
		Method:  method,
		Token:   token,
		Started: time.Now(),
		done:    make(chan struct{}),
	}
}

// resolve settles the call. Only the first resolution wins.
func (c *Call) resolve(resp *protocol.Message, err error) bool {
	won := false
	c.once.Do(func() {
		c.resp, c.err = resp, err
		close(c.done)
		won = true
	})
	return won
}

// Done is closed once the call has been resolved.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the call resolves or ctx ends. On ctx end the call stays
// registered; the caller decides whether to Forget it.
func (c *Call) Wait(ctx context.Context) (*protocol.Message, error) {
	select {
	case <-c.done:
		return c.resp, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Pending correlates outbound requests with their responses.
type Pending struct {
	mu    sync.Mutex
	calls map[string]*Call
}

// NewPending creates an empty registry.
func NewPending() *Pending {
	return &Pending{calls: make(map[string]*Call)}
}

// Register records an outbound request. An id that is already in flight is
// rejected.
func (p *Pending) Register(id protocol.RequestID, method string, token *protocol.ProgressToken) (*Call, error) {
	if id.IsNone() {
		return nil, mcperrors.ProtocolViolation("request id must not be null")
	}
	key := id.String()

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.calls[key]; exists {
		return nil, mcperrors.ProtocolViolation("request id %s is already in flight", key)
	}
	call := newCall(id, method, token)
	p.calls[key] = call
	return call, nil
}

// Resolve delivers a response or error response to its call. It reports
// false for unknown or already resolved ids.
func (p *Pending) Resolve(msg *protocol.Message) bool {
	key := msg.ID.String()

	p.mu.Lock()
	call, ok := p.calls[key]
	if ok {
		delete(p.calls, key)
	}
	p.mu.Unlock()

	if !ok {
		return false
	}
	return call.resolve(msg, nil)
}

// Lookup returns the call registered under id.
func (p *Pending) Lookup(id protocol.RequestID) (*Call, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	call, ok := p.calls[id.String()]
	return call, ok
}

// Forget removes id without resolving its waiter. It reports whether the id
// was still registered, which lets a timed-out caller know it won the race
// against the response.
func (p *Pending) Forget(id protocol.RequestID) bool {
	key := id.String()
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.calls[key]; !ok {
		return false
	}
	delete(p.calls, key)
	return true
}

// FailAll resolves every outstanding call with err and empties the registry.
func (p *Pending) FailAll(err error) int {
	p.mu.Lock()
	calls := p.calls
	p.calls = make(map[string]*Call)
	p.mu.Unlock()

	for _, call := range calls {
		call.resolve(nil, err)
	}
	return len(calls)
}

// Len returns the number of outstanding calls.
func (p *Pending) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}
