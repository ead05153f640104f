package agent

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentchain/core"
	"github.com/hupe1980/agentchain/model"
)

// ModelAgentOptions configure a ModelAgent.
type ModelAgentOptions struct {
	// Instructions is the system prompt for every generation call.
	Instructions string
	// Temperature overrides the adapter default when non-nil.
	Temperature *float64
	// MaxTokens caps the completion length; 0 uses the adapter default.
	MaxTokens int64
	// Streaming toggles per-token emission through the sink. When false the
	// full reply is emitted as a single chunk once available.
	Streaming bool
}

// ModelAgent is the common agent shape: consume the pending human input,
// run one generation over its own bucket, stream the reply, await the next
// input. Richer agents embed it and override Act, reusing Generate.
type ModelAgent struct {
	BaseAgent
	model model.Model
	opts  ModelAgentOptions
}

// NewModelAgent constructs a ModelAgent bound to a conversation.
func NewModelAgent(name string, conv *core.Conversation, m model.Model, optFns ...func(o *ModelAgentOptions)) *ModelAgent {
	opts := ModelAgentOptions{Streaming: true}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &ModelAgent{BaseAgent: NewBaseAgent(name, conv), model: m, opts: opts}
}

// Act implements core.Agent.
func (a *ModelAgent) Act(ctx context.Context) (bool, error) {
	a.TakeInput()
	if _, err := a.Generate(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Generate runs one model call over the agent's bucket, streams the tokens
// through the sink, appends the assistant turn and folds usage into the
// shared counters. The appended turn and the emitted chunks carry the same
// content.
func (a *ModelAgent) Generate(ctx context.Context) (*model.Response, error) {
	req := model.Request{
		Instructions: a.opts.Instructions,
		Turns:        promptTurns(a.History()),
		Temperature:  a.opts.Temperature,
		MaxTokens:    a.opts.MaxTokens,
	}

	var onToken model.TokenFunc
	if a.opts.Streaming {
		sink := a.Conversation().Sink
		onToken = func(tok string) { sink.Write(tok) }
	}

	resp, err := a.model.Generate(ctx, req, onToken)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", a.Name(), err)
	}
	if !a.opts.Streaming {
		a.Conversation().Sink.Write(resp.Content)
	}
	a.Append(core.AssistantTurn(resp.Content))

	st := a.State()
	st.PromptTokens += resp.Usage.PromptTokens
	st.CompletionTokens += resp.Usage.CompletionTokens
	st.Requests++
	if resp.Usage.TotalTokens > st.MaxTokenCount {
		st.MaxTokenCount = resp.Usage.TotalTokens
	}
	return resp, nil
}

// promptTurns filters note turns out of the model context.
func promptTurns(turns []core.Turn) []core.Turn {
	out := make([]core.Turn, 0, len(turns))
	for _, t := range turns {
		if t.Role == core.RoleNote {
			continue
		}
		out = append(out, t)
	}
	return out
}
