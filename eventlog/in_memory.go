package eventlog

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// InMemoryStore is a volatile Store for tests and demos. Events are kept
// in append order, which doubles as creation order.
type InMemoryStore struct {
	mu     sync.Mutex
	events []*Event
}

var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore constructs an empty in-memory event store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

// Append implements Store.
func (s *InMemoryStore) Append(_ context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event.Clone())
	return nil
}

// Latest implements Store.
func (s *InMemoryStore) Latest(_ context.Context, processID string) (*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.latestLocked(func(e *Event) bool { return e.ProcessID == processID }); e != nil {
		return e.Clone(), nil
	}
	return nil, ErrNoEvent
}

// LatestByConvo implements Store.
func (s *InMemoryStore) LatestByConvo(_ context.Context, convoID string) (*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.latestLocked(func(e *Event) bool { return e.ConvoID == convoID }); e != nil {
		return e.Clone(), nil
	}
	return nil, ErrNoEvent
}

// LatestOfType implements Store.
func (s *InMemoryStore) LatestOfType(_ context.Context, processID string, t EventType) (*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.latestLocked(func(e *Event) bool { return e.ProcessID == processID && e.Type == t }); e != nil {
		return e.Clone(), nil
	}
	return nil, ErrNoEvent
}

// MergeCurrent implements Store. The lock spans the stage check and the
// merge, giving the atomicity the contract requires.
func (s *InMemoryStore) MergeCurrent(_ context.Context, processID string, expected EventType, fields map[string]any) (*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.latestLocked(func(e *Event) bool { return e.ProcessID == processID })
	if current == nil {
		return nil, ErrNoEvent
	}
	if current.Type != expected {
		return nil, fmt.Errorf("%w: current is %q, amendment targets %q", ErrStaleEvent, current.Type, expected)
	}
	if current.Fields == nil {
		current.Fields = map[string]any{}
	}
	for k, v := range fields {
		current.Fields[k] = v
	}
	current.Updated = time.Now().UTC()
	return current.Clone(), nil
}

func (s *InMemoryStore) latestLocked(match func(*Event) bool) *Event {
	for i := len(s.events) - 1; i >= 0; i-- {
		if match(s.events[i]) {
			return s.events[i]
		}
	}
	return nil
}
