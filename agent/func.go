package agent

import (
	"context"

	"github.com/hupe1980/agentchain/core"
)

// FuncAgent adapts a plain function into a core.Agent. Handy for routing
// glue in wiring code and for tests.
type FuncAgent struct {
	BaseAgent
	fn func(ctx context.Context, b *BaseAgent) (bool, error)
}

// NewFuncAgent constructs a FuncAgent. The function receives the agent's
// BaseAgent for bucket and emit access.
func NewFuncAgent(name string, conv *core.Conversation, fn func(ctx context.Context, b *BaseAgent) (bool, error)) *FuncAgent {
	return &FuncAgent{BaseAgent: NewBaseAgent(name, conv), fn: fn}
}

// Act implements core.Agent.
func (a *FuncAgent) Act(ctx context.Context) (bool, error) {
	return a.fn(ctx, &a.BaseAgent)
}
