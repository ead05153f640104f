package core

import (
	"fmt"
	"time"
)

// Version is stamped onto every persisted state record so stored data can be
// correlated with the code revision that wrote it.
const Version = "0.3.0"

// maxErrorRecords bounds the recorded-error list. The oldest entries are
// dropped first; diagnostics only ever need the recent failures.
const maxErrorRecords = 20

// State is the persisted record describing one conversation's progress. It
// is the unit of persistence: mutated in process and written back whole,
// never field by field. A single orchestrator pass owns it at a time.
type State struct {
	ID                string    `bson:"conversation_id" json:"conversation_id"`
	Created           time.Time `bson:"created" json:"created"`
	Updated           time.Time `bson:"updated" json:"updated"`
	EngagementMinutes float64   `bson:"engagement_minutes" json:"engagement_minutes"`
	Version           string    `bson:"version" json:"version"`

	// Chain topology and position. AgentNames is fixed at conversation
	// build time; the invariant AgentNames[CurrentAgentIndex] ==
	// CurrentAgentName holds between orchestrator steps.
	AgentNames        []string `bson:"agent_names" json:"agent_names"`
	CurrentAgentIndex int      `bson:"current_agent_index" json:"current_agent_index"`
	CurrentAgentName  string   `bson:"current_agent_name" json:"current_agent_name"`

	// PendingNextAgent overrides the next transition exactly once.
	// NextAgent clears it on every call, whichever branch runs, so a
	// forgotten reset can never leak into a later unrelated transition.
	PendingNextAgent string `bson:"pending_next_agent,omitempty" json:"pending_next_agent,omitempty"`

	// History holds one ordered turn bucket per agent. Each agent writes
	// only its own bucket; cross-agent reads are allowed but must stay
	// read-only.
	History map[string][]Turn `bson:"history" json:"history"`

	LastHumanInput string `bson:"last_human_input,omitempty" json:"last_human_input,omitempty"`
	Mode           string `bson:"mode,omitempty" json:"mode,omitempty"`

	// Domain fields. Each has a single writer agent by convention but is
	// world-readable.
	UserName       string   `bson:"user_name,omitempty" json:"user_name,omitempty"`
	PrimaryConcern string   `bson:"primary_concern,omitempty" json:"primary_concern,omitempty"`
	Findings       []string `bson:"findings,omitempty" json:"findings,omitempty"`
	Address        string   `bson:"address,omitempty" json:"address,omitempty"`
	FeedbackRating int      `bson:"feedback_rating,omitempty" json:"feedback_rating,omitempty"`

	// Usage counters updated by model-backed agents.
	PromptTokens     int `bson:"prompt_tokens" json:"prompt_tokens"`
	CompletionTokens int `bson:"completion_tokens" json:"completion_tokens"`
	Requests         int `bson:"requests" json:"requests"`
	MaxTokenCount    int `bson:"max_token_count" json:"max_token_count"`

	// Failure bookkeeping. Errors holds bounded trace excerpts, ErrorKinds
	// the matching error class tags, Timeouts the count of generation
	// timeouts recovered from.
	Errors     [][]string `bson:"errors,omitempty" json:"errors,omitempty"`
	ErrorKinds []string   `bson:"error_kinds,omitempty" json:"error_kinds,omitempty"`
	Timeouts   int        `bson:"timeouts" json:"timeouts"`
}

// NewState returns a fresh default record for a conversation id.
func NewState(id string) *State {
	return &State{
		ID:      id,
		Version: Version,
		History: map[string][]Turn{},
	}
}

// EnsureAgents installs the chain topology on the state. Buckets are created
// lazily for agents that have none yet, the current agent defaults to the
// head of the chain, and the index is reconciled from the name so records
// written by an older chain layout stay usable.
func (s *State) EnsureAgents(names []string) error {
	if len(names) == 0 {
		return fmt.Errorf("conversation %s: agent chain is empty", s.ID)
	}
	s.AgentNames = append([]string(nil), names...)
	if s.History == nil {
		s.History = map[string][]Turn{}
	}
	for _, name := range names {
		if _, ok := s.History[name]; !ok {
			s.History[name] = []Turn{}
		}
	}
	if s.CurrentAgentName == "" {
		s.CurrentAgentName = names[0]
	}
	idx := indexOf(names, s.CurrentAgentName)
	if idx < 0 {
		return fmt.Errorf("conversation %s: current agent %q is not part of the chain", s.ID, s.CurrentAgentName)
	}
	s.CurrentAgentIndex = idx
	return nil
}

// NextAgent moves the active position. An empty name consumes the pending
// override if one was set, otherwise the chain advances by one slot. The
// pending override is cleared unconditionally. resetHistory truncates the
// target agent's own bucket before activation, restarting its sub-flow.
func (s *State) NextAgent(name string, resetHistory bool) error {
	if name == "" {
		name = s.PendingNextAgent
	}
	s.PendingNextAgent = ""

	if name != "" {
		idx := indexOf(s.AgentNames, name)
		if idx < 0 {
			return fmt.Errorf("conversation %s: unknown agent %q", s.ID, name)
		}
		s.CurrentAgentIndex = idx
		s.CurrentAgentName = name
	} else {
		if s.CurrentAgentIndex+1 >= len(s.AgentNames) {
			return fmt.Errorf("conversation %s: no agent after %q", s.ID, s.CurrentAgentName)
		}
		s.CurrentAgentIndex++
		s.CurrentAgentName = s.AgentNames[s.CurrentAgentIndex]
	}

	if resetHistory {
		s.History[s.CurrentAgentName] = []Turn{}
	}
	return nil
}

// SetPendingNext records a routing intent consumed by the next NextAgent call.
func (s *State) SetPendingNext(name string) { s.PendingNextAgent = name }

// Bucket returns the working history of one agent.
func (s *State) Bucket(agent string) []Turn { return s.History[agent] }

// AppendTurn appends a turn to an agent's bucket.
func (s *State) AppendTurn(agent string, turn Turn) {
	s.History[agent] = append(s.History[agent], turn)
}

// ResetBucket truncates an agent's bucket.
func (s *State) ResetBucket(agent string) { s.History[agent] = []Turn{} }

// RecordError appends a bounded failure record. The trace excerpt is capped
// at four entries, the record list at maxErrorRecords.
func (s *State) RecordError(kind string, trace []string) {
	if len(trace) > 4 {
		trace = trace[:4]
	}
	s.Errors = append(s.Errors, trace)
	s.ErrorKinds = append(s.ErrorKinds, kind)
	if len(s.Errors) > maxErrorRecords {
		s.Errors = s.Errors[len(s.Errors)-maxErrorRecords:]
	}
	if len(s.ErrorKinds) > maxErrorRecords {
		s.ErrorKinds = s.ErrorKinds[len(s.ErrorKinds)-maxErrorRecords:]
	}
}

// LastFinding returns the most recently recorded finding, or "".
func (s *State) LastFinding() string {
	if len(s.Findings) == 0 {
		return ""
	}
	return s.Findings[len(s.Findings)-1]
}

// Touch refreshes the bookkeeping fields before a save. Creation time is set
// on first save; engagement minutes derive from the created/updated span.
func (s *State) Touch() {
	now := time.Now().UTC()
	if s.Created.IsZero() {
		s.Created = now
	}
	s.Updated = now
	s.EngagementMinutes = s.Updated.Sub(s.Created).Minutes()
	s.Version = Version
}

// Clone returns a deep copy safe for independent mutation. The orchestrator
// snapshots state before every agent step so a failing step can be rolled
// back without touching committed fields.
func (s *State) Clone() *State {
	c := *s
	c.AgentNames = append([]string(nil), s.AgentNames...)
	c.Findings = append([]string(nil), s.Findings...)
	c.ErrorKinds = append([]string(nil), s.ErrorKinds...)
	if s.Errors != nil {
		c.Errors = make([][]string, len(s.Errors))
		for i, e := range s.Errors {
			c.Errors[i] = append([]string(nil), e...)
		}
	}
	if s.History != nil {
		c.History = make(map[string][]Turn, len(s.History))
		for name, turns := range s.History {
			c.History[name] = CloneTurns(turns)
		}
	}
	return &c
}

func indexOf(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}
