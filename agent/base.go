package agent

import (
	"github.com/hupe1980/agentchain/core"
)

// BaseAgent bundles what every chain agent needs: its registry name and the
// conversation handle it was built with. Embed it and supply Act to satisfy
// core.Agent.
type BaseAgent struct {
	name string
	conv *core.Conversation
}

// NewBaseAgent constructs a BaseAgent bound to a conversation.
func NewBaseAgent(name string, conv *core.Conversation) BaseAgent {
	return BaseAgent{name: name, conv: conv}
}

// Name returns the agent's registry name, which is also its bucket key.
func (b *BaseAgent) Name() string { return b.name }

// Conversation returns the bound conversation handle.
func (b *BaseAgent) Conversation() *core.Conversation { return b.conv }

// State returns the shared conversation state.
func (b *BaseAgent) State() *core.State { return b.conv.State }

// History returns the agent's own working bucket.
func (b *BaseAgent) History() []core.Turn { return b.conv.State.Bucket(b.name) }

// Append adds a turn to the agent's own bucket.
func (b *BaseAgent) Append(turn core.Turn) { b.conv.State.AppendTurn(b.name, turn) }

// PeekHistory returns a copy of another agent's bucket for cross-agent
// context. Reads only; writing another agent's bucket is never allowed.
func (b *BaseAgent) PeekHistory(agent string) []core.Turn {
	return core.CloneTurns(b.conv.State.Bucket(agent))
}

// TakeInput appends the pending human input to the agent's bucket, unless
// the bucket already ends with that exact user turn (the loop may re-enter
// the same agent within one pass).
func (b *BaseAgent) TakeInput() {
	input := b.conv.State.LastHumanInput
	if input == "" {
		return
	}
	turns := b.History()
	if n := len(turns); n > 0 && turns[n-1].Role == core.RoleUser && turns[n-1].Text == input {
		return
	}
	b.Append(core.UserTurn(input))
}

// Say appends an assistant turn to the agent's bucket and emits the text
// through the sink in one motion.
func (b *BaseAgent) Say(text string) {
	b.Append(core.AssistantTurn(text))
	b.conv.Sink.Write(text)
}
