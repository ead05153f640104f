package schedule

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore is a volatile Store for tests and demos. The mutex spans
// the whole ClaimDue scan-and-lock, which gives the claim atomicity the
// contract requires.
type InMemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
}

var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore constructs an empty in-memory schedule store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: map[string]*Record{}}
}

// Get implements Store.
func (s *InMemoryStore) Get(_ context.Context, convoID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[convoID]
	if !ok {
		return nil, ErrNotFound
	}
	return record.Clone(), nil
}

// Save implements Store.
func (s *InMemoryStore) Save(_ context.Context, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.ConvoID] = record.Clone()
	return nil
}

// ClaimDue implements Store. The earliest due record wins when several are
// eligible.
func (s *InMemoryStore) ClaimDue(_ context.Context, now time.Time) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due *Record
	for _, record := range s.records {
		if record.Locked || record.Stage.Terminal() {
			continue
		}
		if record.NextDueAt == nil || record.NextDueAt.After(now) {
			continue
		}
		if due == nil || record.NextDueAt.Before(*due.NextDueAt) {
			due = record
		}
	}
	if due == nil {
		return nil, ErrNoneDue
	}
	due.Locked = true
	at := now
	due.LockedAt = &at
	due.Updated = now
	return due.Clone(), nil
}

// LatestByEmail implements Store.
func (s *InMemoryStore) LatestByEmail(_ context.Context, email string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *Record
	for _, record := range s.records {
		if record.Email != email {
			continue
		}
		if latest == nil || record.Updated.After(latest.Updated) {
			latest = record
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return latest.Clone(), nil
}

// ReleaseStale implements Store.
func (s *InMemoryStore) ReleaseStale(_ context.Context, lockedBefore time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var cleared int64
	for _, record := range s.records {
		if record.Locked && record.LockedAt != nil && record.LockedAt.Before(lockedBefore) {
			record.Locked = false
			record.LockedAt = nil
			cleared++
		}
	}
	return cleared, nil
}
