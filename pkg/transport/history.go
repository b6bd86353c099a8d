package transport

import (
	"context"
	"sync"
)

// DefaultHistoryLimit is the number of events kept per session for replay.
const DefaultHistoryLimit = 100

// Event is one server-to-client message delivered on the push stream. IDs
// increase monotonically within a session.
type Event struct {
	ID   int64
	Data []byte
}

// EventStore keeps a bounded per-session history of push events so that a
// client reconnecting with Last-Event-ID can resume without gaps.
type EventStore interface {
	// Append assigns the next id of sessionID to data and stores it.
	Append(ctx context.Context, sessionID string, data []byte) (Event, error)
	// After returns the stored events with an id greater than lastID, oldest
	// first. Events evicted from the window are silently missing.
	After(ctx context.Context, sessionID string, lastID int64) ([]Event, error)
	// Drop forgets everything about sessionID.
	Drop(ctx context.Context, sessionID string) error
}

// MemoryEventStore is an in-process EventStore backed by one ring per
// session.
type MemoryEventStore struct {
	mu       sync.Mutex
	limit    int
	sessions map[string]*eventRing
}

type eventRing struct {
	next   int64
	events []Event
}

// NewMemoryEventStore creates a store that keeps at most limit events per
// session.
func NewMemoryEventStore(limit int) *MemoryEventStore {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &MemoryEventStore{limit: limit, sessions: make(map[string]*eventRing)}
}

// Append implements EventStore.
func (s *MemoryEventStore) Append(_ context.Context, sessionID string, data []byte) (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ring, ok := s.sessions[sessionID]
	if !ok {
		ring = &eventRing{}
		s.sessions[sessionID] = ring
	}
	ring.next++
	ev := Event{ID: ring.next, Data: append([]byte(nil), data...)}
	ring.events = append(ring.events, ev)
	if over := len(ring.events) - s.limit; over > 0 {
		ring.events = append(ring.events[:0:0], ring.events[over:]...)
	}
	return ev, nil
}

// After implements EventStore.
func (s *MemoryEventStore) After(_ context.Context, sessionID string, lastID int64) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ring, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	var out []Event
	for _, ev := range ring.events {
		if ev.ID > lastID {
			out = append(out, ev)
		}
	}
	return out, nil
}

// Drop implements EventStore.
func (s *MemoryEventStore) Drop(_ context.Context, sessionID string) error {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	return nil
}
