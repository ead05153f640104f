package runner

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/agentchain/core"
	"github.com/hupe1980/agentchain/internal/util"
	"github.com/hupe1980/agentchain/logging"
	"github.com/hupe1980/agentchain/model"
)

// DefaultMaxSteps bounds the agent loop within one Advance pass. A chain
// that keeps transitioning without requesting input is cut off here and the
// pass ends normally; the state persisted so far stays valid.
const DefaultMaxSteps = 5

const (
	timeoutMessage = "\n\n\nSorry, that took too long to process. Can you please type that again?"
	failureMessage = "\n\n\nSorry, there was an issue on our end. Can you please type that again?"
)

// AgentBuilder constructs one chain member for a conversation. Builders run
// once per Advance pass, after the conversation is assembled, in registry
// order.
type AgentBuilder struct {
	Name  string
	Build func(conv *core.Conversation) core.Agent
}

// Agents is the resolved agent set of one pass.
type Agents struct {
	ordered []core.Agent
	byName  map[string]core.Agent
}

// Find returns the agent with the given name, or nil.
func (a *Agents) Find(name string) core.Agent { return a.byName[name] }

// Ordered returns the agents in chain order.
func (a *Agents) Ordered() []core.Agent { return a.ordered }

// Hook runs after the conversation is assembled and before the agent loop.
// Hooks may emit chunks, mutate state and reroute; a hook error is absorbed
// through the standard failure path.
type Hook func(ctx context.Context, conv *core.Conversation, agents *Agents) error

// ModeMatcher reports whether a raw input is an out-of-band mode selection
// token rather than dialogue.
type ModeMatcher func(input string) bool

// Options holds dependency and configuration overrides passed to New.
type Options struct {
	// MaxSteps bounds the agent loop per pass.
	MaxSteps int
	// StateStore persists conversation state. Defaults must be supplied by
	// the caller (the façade wires in-memory stores).
	StateStore core.StateStore
	// TranscriptStore persists display transcripts.
	TranscriptStore core.TranscriptStore
	// Logger receives orchestration diagnostics.
	Logger logging.Logger
	// ModeMatcher enables the mode-selection side channel; nil disables it.
	ModeMatcher ModeMatcher
	// PreAdvance hooks run before the agent loop of every pass.
	PreAdvance []Hook
}

// Runner coordinates agent chain execution for any number of conversations.
// Public methods are safe for concurrent use across conversations; within
// one conversation the caller is expected to serialize Advance calls, as
// the conversational transports this engine targets do naturally.
type Runner struct {
	builders    []AgentBuilder
	agentNames  []string
	maxSteps    int
	states      core.StateStore
	transcripts core.TranscriptStore
	logger      logging.Logger
	modeMatcher ModeMatcher
	preAdvance  []Hook
}

// New constructs a Runner over an ordered agent builder registry.
func New(builders []AgentBuilder, optFns ...func(o *Options)) (*Runner, error) {
	if len(builders) == 0 {
		return nil, errors.New("runner: agent registry is empty")
	}
	names := make([]string, len(builders))
	seen := map[string]bool{}
	for i, b := range builders {
		if b.Name == "" || b.Build == nil {
			return nil, fmt.Errorf("runner: builder %d is incomplete", i)
		}
		if seen[b.Name] {
			return nil, fmt.Errorf("runner: duplicate agent name %q", b.Name)
		}
		seen[b.Name] = true
		names[i] = b.Name
	}

	opts := Options{
		MaxSteps: DefaultMaxSteps,
		Logger:   logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.StateStore == nil || opts.TranscriptStore == nil {
		return nil, errors.New("runner: state and transcript stores are required")
	}

	return &Runner{
		builders:    builders,
		agentNames:  names,
		maxSteps:    opts.MaxSteps,
		states:      opts.StateStore,
		transcripts: opts.TranscriptStore,
		logger:      opts.Logger,
		modeMatcher: opts.ModeMatcher,
		preAdvance:  opts.PreAdvance,
	}, nil
}

// Advance runs one orchestration pass for a conversation. The stream is
// returned immediately; the pass runs on its own goroutine and closes the
// stream when it completes. A caller that stops reading does not stop the
// pass; it still runs to completion and persists.
func (r *Runner) Advance(ctx context.Context, conversationID, humanInput string, profile core.Profile) *core.Stream {
	stream := core.NewStream()
	go func() {
		stream.CloseWithError(r.advance(ctx, conversationID, humanInput, profile, stream))
	}()
	return stream
}

// DisplayHistory returns the human-facing transcript of a conversation in
// arrival order.
func (r *Runner) DisplayHistory(ctx context.Context, conversationID string) ([]core.Entry, error) {
	tr, err := r.transcripts.Load(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load transcript: %w", err)
	}
	return tr.Entries, nil
}

// advance is the body of one pass. It returns an error only for assembly
// and persistence failures, which the caller attaches to the stream; agent
// step failures are absorbed inside the loop.
func (r *Runner) advance(ctx context.Context, conversationID, humanInput string, profile core.Profile, stream *core.Stream) error {
	conv, agents, err := r.assemble(ctx, conversationID, profile, stream)
	if err != nil {
		return err
	}
	st := conv.State

	// Record the human input first so it is durable even if every later
	// step fails.
	if humanInput != "" {
		conv.Transcript.AppendUser(humanInput)
		st.LastHumanInput = humanInput
	}
	if err := r.persist(ctx, conv); err != nil {
		return err
	}

	// Out-of-band configuration signals arrive as ordinary input before a
	// mode is set. Acknowledge and end the pass without running agents.
	if humanInput != "" && st.Mode == "" && r.modeMatcher != nil && r.modeMatcher(humanInput) {
		st.Mode = humanInput
		conv.Sink.Write(fmt.Sprintf("Received your request for %s. Please continue with the conversation.", humanInput))
		return r.persist(ctx, conv)
	}

	for _, hook := range r.preAdvance {
		snapshot := st.Clone()
		if err := runHook(ctx, hook, conv, agents); err != nil {
			r.recoverStep(ctx, conv, snapshot, err)
			return nil
		}
		if err := r.persist(ctx, conv); err != nil {
			return err
		}
	}

	return r.loop(ctx, conv, agents)
}

func (r *Runner) assemble(ctx context.Context, conversationID string, profile core.Profile, stream *core.Stream) (*core.Conversation, *Agents, error) {
	st, err := r.states.Load(ctx, conversationID)
	if err != nil {
		return nil, nil, fmt.Errorf("load conversation state: %w", err)
	}
	tr, err := r.transcripts.Load(ctx, conversationID)
	if err != nil {
		return nil, nil, fmt.Errorf("load transcript: %w", err)
	}
	if err := st.EnsureAgents(r.agentNames); err != nil {
		return nil, nil, err
	}
	if profile.Name != "" && st.UserName == "" {
		st.UserName = profile.Name
	}

	conv := &core.Conversation{
		State:      st,
		Transcript: tr,
		Stream:     stream,
		Sink:       core.NewSink(stream, tr),
		Profile:    profile,
	}

	agents := &Agents{byName: make(map[string]core.Agent, len(r.builders))}
	for _, b := range r.builders {
		a := b.Build(conv)
		agents.ordered = append(agents.ordered, a)
		agents.byName[b.Name] = a
	}
	return conv, agents, nil
}

func (r *Runner) loop(ctx context.Context, conv *core.Conversation, agents *Agents) error {
	st := conv.State
	for step := 0; ; step++ {
		if step >= r.maxSteps {
			// Not an error: the chain made no request for input within the
			// bound, so the pass ends with whatever was persisted so far.
			r.logger.Error("agent loop exceeded step bound",
				"conversation_id", st.ID, "steps", step, "current_agent", st.CurrentAgentName)
			return nil
		}

		current := agents.Find(st.CurrentAgentName)
		snapshot := st.Clone()

		await, err := act(ctx, current)
		if err != nil {
			r.recoverStep(ctx, conv, snapshot, err)
			return nil
		}
		// Persist after every step, even when awaiting input, so state is
		// durable the instant the token stream ends.
		if err := r.persist(ctx, conv); err != nil {
			return err
		}
		if await {
			return nil
		}
	}
}

// recoverStep restores the pre-step snapshot and records the failure. Only
// the error record and the counters survive from the failed step; the
// transcript keeps the retry prompt because every emitted chunk is
// mirrored there by contract.
func (r *Runner) recoverStep(ctx context.Context, conv *core.Conversation, snapshot *core.State, stepErr error) {
	if errors.Is(stepErr, model.ErrTimeout) {
		r.logger.Warn("generation timed out",
			"conversation_id", snapshot.ID, "agent", snapshot.CurrentAgentName, "error", stepErr.Error())
		snapshot.Timeouts++
		*conv.State = *snapshot
		conv.Sink.Write(timeoutMessage)
	} else {
		trace := failureTrace(stepErr)
		r.logger.Error("agent step failed",
			"conversation_id", snapshot.ID, "agent", snapshot.CurrentAgentName, "error", stepErr.Error())
		snapshot.RecordError(util.ErrorKind(stepErr.Error()), trace)
		*conv.State = *snapshot
		conv.Sink.Write(failureMessage)
	}

	if err := r.persist(ctx, conv); err != nil {
		r.logger.Error("persist after step failure",
			"conversation_id", conv.State.ID, "error", err.Error())
	}
}

func (r *Runner) persist(ctx context.Context, conv *core.Conversation) error {
	conv.State.Touch()
	if err := r.states.Save(ctx, conv.State); err != nil {
		return fmt.Errorf("save conversation state: %w", err)
	}
	if err := r.transcripts.Save(ctx, conv.Transcript); err != nil {
		return fmt.Errorf("save transcript: %w", err)
	}
	return nil
}

// act invokes one agent step, converting panics into errors carrying a
// bounded stack excerpt so a misbehaving agent cannot take down the
// process.
func act(ctx context.Context, a core.Agent) (await bool, err error) {
	if a == nil {
		return false, errors.New("current agent is not registered")
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = &panicError{
				agent: a.Name(),
				value: rec,
				trace: util.StackExcerpt(4),
			}
		}
	}()
	return a.Act(ctx)
}

func runHook(ctx context.Context, hook Hook, conv *core.Conversation, agents *Agents) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &panicError{
				agent: "pre-advance hook",
				value: rec,
				trace: util.StackExcerpt(4),
			}
		}
	}()
	return hook(ctx, conv, agents)
}

// panicError preserves the recovery-site stack excerpt for the persisted
// error record.
type panicError struct {
	agent string
	value any
	trace []string
}

func (e *panicError) Error() string {
	return fmt.Sprintf("%s panicked: %v", e.agent, e.value)
}

// failureTrace builds the bounded diagnostic record for a failed step: the
// error message first, then stack lines when the failure was a panic.
func failureTrace(err error) []string {
	trace := []string{err.Error()}
	var pe *panicError
	if errors.As(err, &pe) {
		trace = append(trace, pe.trace...)
	}
	return trace
}
