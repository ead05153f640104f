// Package agentchain provides a high-level façade over the runner
// orchestrator and its persistence services, enabling rapid construction
// of multi-agent conversational systems. Most applications interact with
// this package by:
//  1. Creating an AgentChain via New() with an ordered agent builder
//     registry (optionally overriding the default in-memory stores)
//  2. Calling Advance per inbound user message and streaming the returned
//     chunks into the transport (HTTP chunked response, SSE, ...)
//  3. Reading DisplayHistory to render past conversation turns
//
// The façade delegates orchestration to runner.Runner while keeping setup
// ergonomics concise. All defaults are safe for local development and
// testing; production deployments typically supply the mongo-backed stores
// and a structured logger.
package agentchain

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/agentchain/core"
	"github.com/hupe1980/agentchain/logging"
	"github.com/hupe1980/agentchain/runner"
	"github.com/hupe1980/agentchain/schedule"
	"github.com/hupe1980/agentchain/store"
)

// Options configures the AgentChain instance.
type Options struct {
	// MaxSteps bounds the agent loop within one Advance pass.
	MaxSteps int

	// Stores (default to in-memory implementations if not provided).
	StateStore      core.StateStore
	TranscriptStore core.TranscriptStore

	// ModeMatcher enables the mode-selection input side channel.
	ModeMatcher runner.ModeMatcher

	// PreAdvance hooks run before the agent loop of every pass.
	PreAdvance []runner.Hook

	// Logger (defaults to NoOp logger if nil).
	Logger logging.Logger
}

// AgentChain is the high-level façade aggregating the orchestrator and its
// services.
type AgentChain struct {
	opts   Options
	runner *runner.Runner
}

// New creates a new AgentChain over an ordered agent builder registry. Any
// unset store is initialized with an in-memory implementation.
func New(builders []runner.AgentBuilder, optFns ...func(o *Options)) (*AgentChain, error) {
	memory := store.NewInMemoryStore()
	opts := Options{
		MaxSteps:        runner.DefaultMaxSteps,
		StateStore:      memory,
		TranscriptStore: memory.Transcripts(),
		Logger:          logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	r, err := runner.New(builders, func(o *runner.Options) {
		o.MaxSteps = opts.MaxSteps
		o.StateStore = opts.StateStore
		o.TranscriptStore = opts.TranscriptStore
		o.Logger = opts.Logger
		o.ModeMatcher = opts.ModeMatcher
		o.PreAdvance = opts.PreAdvance
	})
	if err != nil {
		return nil, err
	}
	return &AgentChain{opts: opts, runner: r}, nil
}

// Advance runs one orchestration pass and returns the chunk stream. The
// pass runs on its own goroutine; read until the stream closes.
func (c *AgentChain) Advance(ctx context.Context, conversationID, humanInput string, profile core.Profile) *core.Stream {
	return c.runner.Advance(ctx, conversationID, humanInput, profile)
}

// AdvanceSync is a synchronous helper that drains the stream and returns
// the concatenated output.
func (c *AgentChain) AdvanceSync(ctx context.Context, conversationID, humanInput string, profile core.Profile) (string, error) {
	stream := c.runner.Advance(ctx, conversationID, humanInput, profile)
	chunks := stream.Drain()
	return strings.Join(chunks, ""), stream.Err()
}

// DisplayHistory returns the human-facing transcript of a conversation.
func (c *AgentChain) DisplayHistory(ctx context.Context, conversationID string) ([]core.Entry, error) {
	return c.runner.DisplayHistory(ctx, conversationID)
}

// FollowupResume returns a pre-advance hook that resumes a scheduled
// re-engagement when an enrolled user comes back: it reroutes the pass to
// the named agent with a fresh bucket, greets the user with their past
// concern, and marks the schedule record initiated once the greeting is
// out. Conversations without an active schedule record pass through
// untouched.
func FollowupResume(svc *schedule.Service, agentName string) runner.Hook {
	return func(ctx context.Context, conv *core.Conversation, _ *runner.Agents) error {
		if !conv.Profile.Followup {
			return nil
		}
		record, eligible, err := svc.ResumeEligible(ctx, conv.Profile.Email)
		if err != nil {
			return err
		}
		if !eligible || record.Initiated {
			return nil
		}

		if err := conv.State.NextAgent(agentName, true); err != nil {
			return err
		}
		greeting := followupGreeting(record)
		conv.State.AppendTurn(agentName, core.AssistantTurn(greeting))
		conv.Sink.Write(greeting)

		return svc.MarkInitiated(ctx, record.ConvoID)
	}
}

func followupGreeting(record *schedule.Record) string {
	name := record.Name
	if name == "" {
		name = "there"
	}
	if record.Concern == "" {
		return fmt.Sprintf("Welcome back, %s. How have you been feeling since we last spoke?", name)
	}
	return fmt.Sprintf("Welcome back, %s. Last time we talked about %s. How are you feeling now?", name, record.Concern)
}
