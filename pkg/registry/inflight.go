package registry

import (
	"context"
	"sync"

	mcperrors "github.com/ajitpratap0/mcp-engine/pkg/errors"
	"github.com/ajitpratap0/mcp-engine/pkg/protocol"
)

type inflightEntry struct {
	cancel    context.CancelFunc
	cancelled bool
	reason    string
}

// InFlight tracks inbound requests whose handlers have not finished.
type InFlight struct {
	mu      sync.Mutex
	entries map[string]*inflightEntry
}

// NewInFlight creates an empty registry.
func NewInFlight() *InFlight {
	return &InFlight{entries: make(map[string]*inflightEntry)}
}

// Begin registers an inbound request and derives its handler context from
// parent. The returned finish func must be called once the handler returns;
// it reports whether the request was cancelled, in which case the result is
// not sent.
func (f *InFlight) Begin(parent context.Context, id protocol.RequestID) (context.Context, func() bool, error) {
	key := id.String()

	f.mu.Lock()
	if _, exists := f.entries[key]; exists {
		f.mu.Unlock()
		return nil, nil, mcperrors.ProtocolViolation("duplicate in-flight request id %s", key)
	}
	ctx, cancel := context.WithCancel(parent)
	entry := &inflightEntry{cancel: cancel}
	f.entries[key] = entry
	f.mu.Unlock()

	var once sync.Once
	finish := func() bool {
		cancelled := false
		once.Do(func() {
			f.mu.Lock()
			if f.entries[key] == entry {
				delete(f.entries, key)
			}
			cancelled = entry.cancelled
			f.mu.Unlock()
			cancel()
		})
		return cancelled
	}
	return ctx, finish, nil
}

// Cancel marks id as cancelled and cancels its handler context. Unknown ids,
// including requests that already completed, report false.
func (f *InFlight) Cancel(id protocol.RequestID, reason string) bool {
	f.mu.Lock()
	entry, ok := f.entries[id.String()]
	if ok && !entry.cancelled {
		entry.cancelled = true
		entry.reason = reason
	}
	f.mu.Unlock()

	if !ok {
		return false
	}
	entry.cancel()
	return true
}

// CancelAll cancels every running handler.
func (f *InFlight) CancelAll(reason string) {
	f.mu.Lock()
	entries := make([]*inflightEntry, 0, len(f.entries))
	for _, e := range f.entries {
		e.cancelled = true
		e.reason = reason
		entries = append(entries, e)
	}
	f.mu.Unlock()

	for _, e := range entries {
		e.cancel()
	}
}

// Len returns the number of running handlers.
func (f *InFlight) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}
