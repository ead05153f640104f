// Package store provides persistence implementations for conversation
// state and display transcripts. InMemoryStore is volatile and meant for
// tests and demos; the mongo subpackage persists the same contracts on a
// document database.
package store

import (
	"context"
	"sync"

	"github.com/hupe1980/agentchain/core"
)

// InMemoryStore keeps conversation records in process-local maps. It is
// safe for concurrent access and returns clones so callers cannot mutate
// stored records in place.
type InMemoryStore struct {
	mu          sync.RWMutex
	states      map[string]*core.State
	transcripts map[string]*core.Transcript
}

// Compile-time contract assertions.
var (
	_ core.StateStore      = (*InMemoryStore)(nil)
	_ core.TranscriptStore = (*transcriptFacet)(nil)
)

// NewInMemoryStore constructs an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		states:      map[string]*core.State{},
		transcripts: map[string]*core.Transcript{},
	}
}

// Load returns a clone of the stored state, or a fresh default record when
// the conversation has never been saved.
func (s *InMemoryStore) Load(_ context.Context, conversationID string) (*core.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.states[conversationID]; ok {
		return st.Clone(), nil
	}
	return core.NewState(conversationID), nil
}

// Save stores a clone of the state snapshot.
func (s *InMemoryStore) Save(_ context.Context, state *core.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.ID] = state.Clone()
	return nil
}

// Transcripts exposes the store's TranscriptStore facet. State and
// transcript contracts share the Load/Save method shape, so the facet
// disambiguates them at wiring time.
func (s *InMemoryStore) Transcripts() core.TranscriptStore { return (*transcriptFacet)(s) }

type transcriptFacet InMemoryStore

func (f *transcriptFacet) Load(_ context.Context, conversationID string) (*core.Transcript, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if tr, ok := f.transcripts[conversationID]; ok {
		return tr.Clone(), nil
	}
	return core.NewTranscript(conversationID), nil
}

func (f *transcriptFacet) Save(_ context.Context, transcript *core.Transcript) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transcripts[transcript.ConversationID] = transcript.Clone()
	return nil
}
