package core

import "context"

// Agent is one slot in a conversation chain. Implementations hold the
// Conversation handle they were built with and operate on their own history
// bucket plus the shared state fields they own.
type Agent interface {
	// Name returns the agent's registry name, which is also its bucket key.
	Name() string

	// Act runs the agent's slice of dialogue. It returns true when the
	// agent needs a new human input before doing more work (the chain
	// loop stops), false when it completed a transition to another agent
	// or state and the loop should continue immediately.
	Act(ctx context.Context) (awaitInput bool, err error)
}

// Profile carries caller-supplied identity and context for one advance call.
// It is not persisted; whatever the chain needs from it is copied onto the
// conversation state by the orchestrator or by individual agents.
type Profile struct {
	UserID string
	Email  string
	Name   string
	// Followup marks a visit arriving through a re-engagement link.
	Followup bool
	// Attributes carries free-form transport metadata.
	Attributes map[string]string
}

// Conversation bundles everything one orchestrator pass operates on: the
// persisted state, the display transcript, the live stream, and the sink
// that keeps the latter two consistent.
type Conversation struct {
	State      *State
	Transcript *Transcript
	Stream     *Stream
	Sink       *Sink
	Profile    Profile
}

// StateStore persists conversation state records whole. Load must return a
// fresh default record when the id has never been saved; the caller cannot
// tell a new conversation from a resumed one and should not have to.
type StateStore interface {
	Load(ctx context.Context, conversationID string) (*State, error)
	Save(ctx context.Context, state *State) error
}

// TranscriptStore persists display transcripts, same lifecycle contract as
// StateStore.
type TranscriptStore interface {
	Load(ctx context.Context, conversationID string) (*Transcript, error)
	Save(ctx context.Context, transcript *Transcript) error
}
