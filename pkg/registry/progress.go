package registry

import (
	"fmt"
	"sync"

	"github.com/ajitpratap0/mcp-engine/pkg/protocol"
)

// Event is one progress update for an outbound request.
type Event struct {
	Token     protocol.ProgressToken
	RequestID protocol.RequestID
	Progress  float64
	Total     *float64
	Message   string

	// NonMonotonic is set when Progress went down compared to the previous
	// update for the same token.
	NonMonotonic bool
}

// ProgressFunc receives progress events.
type ProgressFunc func(Event)

type tracked struct {
	requestID protocol.RequestID
	handler   ProgressFunc
	last      float64
	seen      bool
}

// Progress maps live progress tokens to the requests that carry them.
type Progress struct {
	mu     sync.Mutex
	tokens map[string]*tracked
}

// NewProgress creates an empty registry.
func NewProgress() *Progress {
	return &Progress{tokens: make(map[string]*tracked)}
}

// Track binds token to requestID until Release. handler may be nil, in which
// case Update only reports the event.
func (p *Progress) Track(token protocol.ProgressToken, requestID protocol.RequestID, handler ProgressFunc) error {
	if token.IsNone() {
		return fmt.Errorf("progress token must not be null")
	}
	key := token.String()

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.tokens[key]; exists {
		return fmt.Errorf("progress token %s is already in use", key)
	}
	p.tokens[key] = &tracked{requestID: requestID, handler: handler}
	return nil
}

// Update records a notification. Unknown or released tokens report false.
// The handler, if any, runs on the calling goroutine so events for one token
// are delivered in arrival order.
func (p *Progress) Update(params protocol.ProgressParams) (Event, bool) {
	p.mu.Lock()
	t, ok := p.tokens[params.ProgressToken.String()]
	if !ok {
		p.mu.Unlock()
		return Event{}, false
	}
	ev := Event{
		Token:        params.ProgressToken,
		RequestID:    t.requestID,
		Progress:     params.Progress,
		Total:        params.Total,
		Message:      params.Message,
		NonMonotonic: t.seen && params.Progress < t.last,
	}
	t.last, t.seen = params.Progress, true
	handler := t.handler
	p.mu.Unlock()

	if handler != nil {
		handler(ev)
	}
	return ev, true
}

// Release forgets token. Later updates for it are dropped.
func (p *Progress) Release(token protocol.ProgressToken) {
	p.mu.Lock()
	delete(p.tokens, token.String())
	p.mu.Unlock()
}

// Clear forgets every token.
func (p *Progress) Clear() {
	p.mu.Lock()
	p.tokens = make(map[string]*tracked)
	p.mu.Unlock()
}

// Len returns the number of live tokens.
func (p *Progress) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tokens)
}
