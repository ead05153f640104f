package runner_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentchain/agent"
	"github.com/hupe1980/agentchain/core"
	"github.com/hupe1980/agentchain/model"
	"github.com/hupe1980/agentchain/runner"
	"github.com/hupe1980/agentchain/store"
)

type fixture struct {
	runner *runner.Runner
	states *store.InMemoryStore
}

func newFixture(t *testing.T, builders []runner.AgentBuilder, optFns ...func(o *runner.Options)) *fixture {
	t.Helper()
	st := store.NewInMemoryStore()
	all := append([]func(o *runner.Options){func(o *runner.Options) {
		o.StateStore = st
		o.TranscriptStore = st.Transcripts()
	}}, optFns...)
	r, err := runner.New(builders, all...)
	require.NoError(t, err)
	return &fixture{runner: r, states: st}
}

func funcBuilder(name string, fn func(ctx context.Context, b *agent.BaseAgent) (bool, error)) runner.AgentBuilder {
	return runner.AgentBuilder{
		Name:  name,
		Build: func(conv *core.Conversation) core.Agent { return agent.NewFuncAgent(name, conv, fn) },
	}
}

func await(b *agent.BaseAgent) (bool, error) { _ = b; return true, nil }

func TestRunner_RoutesAcrossAgentsWithinOnePass(t *testing.T) {
	builders := []runner.AgentBuilder{
		funcBuilder("triage", func(_ context.Context, b *agent.BaseAgent) (bool, error) {
			b.TakeInput()
			return false, b.State().NextAgent("closer", false)
		}),
		funcBuilder("middle", func(_ context.Context, b *agent.BaseAgent) (bool, error) {
			return true, errors.New("must be skipped")
		}),
		funcBuilder("closer", func(_ context.Context, b *agent.BaseAgent) (bool, error) {
			b.Say("hi")
			return true, nil
		}),
	}
	fx := newFixture(t, builders)

	stream := fx.runner.Advance(context.Background(), "conv-1", "hello", core.Profile{})
	chunks := stream.Drain()
	require.NoError(t, stream.Err())
	assert.Equal(t, []string{"hi"}, chunks)

	persisted, err := fx.states.Load(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "closer", persisted.CurrentAgentName)
	assert.Equal(t, 2, persisted.CurrentAgentIndex)
	assert.Equal(t, "hello", persisted.LastHumanInput)
	require.Len(t, persisted.Bucket("triage"), 1)
	assert.Equal(t, core.RoleUser, persisted.Bucket("triage")[0].Role)
	require.Len(t, persisted.Bucket("closer"), 1)
	assert.Equal(t, "hi", persisted.Bucket("closer")[0].Text)

	entries, err := fx.runner.DisplayHistory(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, core.Entry{Role: core.RoleUser, Text: "hello"}, entries[0])
	assert.Equal(t, core.Entry{Role: core.RoleAssistant, Text: "hi"}, entries[1])
}

func TestRunner_TimeoutRecovery(t *testing.T) {
	builders := []runner.AgentBuilder{
		funcBuilder("slow", func(_ context.Context, b *agent.BaseAgent) (bool, error) {
			b.TakeInput()
			b.Append(core.AssistantTurn("half a rep"))
			return false, fmt.Errorf("generate: %w", model.ErrTimeout)
		}),
	}
	fx := newFixture(t, builders)

	stream := fx.runner.Advance(context.Background(), "conv-t", "are you there", core.Profile{})
	chunks := stream.Drain()
	require.NoError(t, stream.Err())
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0], "took too long")

	persisted, err := fx.states.Load(context.Background(), "conv-t")
	require.NoError(t, err)
	assert.Equal(t, 1, persisted.Timeouts)
	assert.Empty(t, persisted.Errors, "timeouts are counted, not recorded as errors")
	// Everything the failed step wrote to the bucket is rolled back; the
	// input itself survives because it was persisted before the step ran.
	assert.Empty(t, persisted.Bucket("slow"))
	assert.Equal(t, "are you there", persisted.LastHumanInput)
}

func TestRunner_FailureRollsBackStepMutations(t *testing.T) {
	builders := []runner.AgentBuilder{
		funcBuilder("flaky", func(_ context.Context, b *agent.BaseAgent) (bool, error) {
			st := b.State()
			st.Findings = append(st.Findings, "partial finding")
			st.PrimaryConcern = "corrupted"
			b.Append(core.AssistantTurn("half-written"))
			return false, errors.New("upstream: connection reset")
		}),
	}
	fx := newFixture(t, builders)

	stream := fx.runner.Advance(context.Background(), "conv-f", "hi", core.Profile{})
	chunks := stream.Drain()
	require.NoError(t, stream.Err())
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0], "issue on our end")

	persisted, err := fx.states.Load(context.Background(), "conv-f")
	require.NoError(t, err)
	assert.Empty(t, persisted.Findings)
	assert.Empty(t, persisted.PrimaryConcern)
	assert.Empty(t, persisted.Bucket("flaky"))
	assert.Zero(t, persisted.Timeouts)
	require.Len(t, persisted.Errors, 1)
	assert.Equal(t, []string{"upstream"}, persisted.ErrorKinds)
	assert.Equal(t, "upstream: connection reset", persisted.Errors[0][0])
}

func TestRunner_PanicBecomesRecordedFailure(t *testing.T) {
	builders := []runner.AgentBuilder{
		funcBuilder("wild", func(_ context.Context, _ *agent.BaseAgent) (bool, error) {
			panic("nil map write")
		}),
	}
	fx := newFixture(t, builders)

	stream := fx.runner.Advance(context.Background(), "conv-p", "hi", core.Profile{})
	chunks := stream.Drain()
	require.NoError(t, stream.Err())
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0], "issue on our end")

	persisted, err := fx.states.Load(context.Background(), "conv-p")
	require.NoError(t, err)
	require.Len(t, persisted.Errors, 1)
	assert.Contains(t, persisted.Errors[0][0], "panicked: nil map write")
	// The record carries a bounded stack excerpt alongside the message.
	assert.Greater(t, len(persisted.Errors[0]), 1)
	assert.LessOrEqual(t, len(persisted.Errors[0]), 4)
}

func TestRunner_LoopTerminatesAtStepBound(t *testing.T) {
	var steps int
	builders := []runner.AgentBuilder{
		funcBuilder("a", func(_ context.Context, b *agent.BaseAgent) (bool, error) {
			steps++
			return false, b.State().NextAgent("b", false)
		}),
		funcBuilder("b", func(_ context.Context, b *agent.BaseAgent) (bool, error) {
			steps++
			return false, b.State().NextAgent("a", false)
		}),
	}
	fx := newFixture(t, builders)

	stream := fx.runner.Advance(context.Background(), "conv-l", "go", core.Profile{})
	stream.Drain()
	require.NoError(t, stream.Err(), "hitting the bound ends the pass normally")
	assert.Equal(t, runner.DefaultMaxSteps, steps)
}

func TestRunner_PendingOverrideConsumedOnce(t *testing.T) {
	builders := []runner.AgentBuilder{
		funcBuilder("a", func(_ context.Context, b *agent.BaseAgent) (bool, error) {
			b.State().SetPendingNext("c")
			return false, b.State().NextAgent("", false)
		}),
		funcBuilder("b", func(_ context.Context, _ *agent.BaseAgent) (bool, error) {
			return true, errors.New("pending override must skip b")
		}),
		funcBuilder("c", func(_ context.Context, _ *agent.BaseAgent) (bool, error) {
			return true, nil
		}),
	}
	fx := newFixture(t, builders)

	stream := fx.runner.Advance(context.Background(), "conv-o", "go", core.Profile{})
	stream.Drain()
	require.NoError(t, stream.Err())

	persisted, err := fx.states.Load(context.Background(), "conv-o")
	require.NoError(t, err)
	assert.Equal(t, "c", persisted.CurrentAgentName)
	assert.Empty(t, persisted.PendingNextAgent)
}

func TestRunner_ModeSideChannel(t *testing.T) {
	agentRan := false
	builders := []runner.AgentBuilder{
		funcBuilder("a", func(_ context.Context, _ *agent.BaseAgent) (bool, error) {
			agentRan = true
			return true, nil
		}),
	}
	fx := newFixture(t, builders, func(o *runner.Options) {
		o.ModeMatcher = func(input string) bool { return strings.HasPrefix(input, "mode:") }
	})

	stream := fx.runner.Advance(context.Background(), "conv-m", "mode:concise", core.Profile{})
	chunks := stream.Drain()
	require.NoError(t, stream.Err())
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0], "mode:concise")
	assert.False(t, agentRan)

	persisted, err := fx.states.Load(context.Background(), "conv-m")
	require.NoError(t, err)
	assert.Equal(t, "mode:concise", persisted.Mode)

	// Once a mode is set, matching input is ordinary dialogue again.
	stream = fx.runner.Advance(context.Background(), "conv-m", "mode:verbose", core.Profile{})
	stream.Drain()
	require.NoError(t, stream.Err())
	assert.True(t, agentRan)

	persisted, err = fx.states.Load(context.Background(), "conv-m")
	require.NoError(t, err)
	assert.Equal(t, "mode:concise", persisted.Mode)
}

func TestRunner_PreAdvanceHookReroutes(t *testing.T) {
	builders := []runner.AgentBuilder{
		funcBuilder("intake", func(_ context.Context, _ *agent.BaseAgent) (bool, error) {
			return true, errors.New("hook must have rerouted past intake")
		}),
		funcBuilder("resume", func(_ context.Context, b *agent.BaseAgent) (bool, error) {
			b.Say("welcome back")
			return true, nil
		}),
	}
	hook := func(_ context.Context, conv *core.Conversation, _ *runner.Agents) error {
		return conv.State.NextAgent("resume", true)
	}
	fx := newFixture(t, builders, func(o *runner.Options) {
		o.PreAdvance = []runner.Hook{hook}
	})

	stream := fx.runner.Advance(context.Background(), "conv-h", "", core.Profile{})
	chunks := stream.Drain()
	require.NoError(t, stream.Err())
	assert.Equal(t, []string{"welcome back"}, chunks)
}

func TestRunner_ProfileNameSeedsState(t *testing.T) {
	builders := []runner.AgentBuilder{funcBuilder("a", func(_ context.Context, b *agent.BaseAgent) (bool, error) {
		return await(b)
	})}
	fx := newFixture(t, builders)

	stream := fx.runner.Advance(context.Background(), "conv-n", "hi", core.Profile{UserID: "u1", Name: "Dana"})
	stream.Drain()
	require.NoError(t, stream.Err())

	persisted, err := fx.states.Load(context.Background(), "conv-n")
	require.NoError(t, err)
	assert.Equal(t, "Dana", persisted.UserName)
}

func TestRunner_SecondPassResumesAtCurrentAgent(t *testing.T) {
	var order []string
	builders := []runner.AgentBuilder{
		funcBuilder("a", func(_ context.Context, b *agent.BaseAgent) (bool, error) {
			order = append(order, "a")
			return false, b.State().NextAgent("b", false)
		}),
		funcBuilder("b", func(_ context.Context, _ *agent.BaseAgent) (bool, error) {
			order = append(order, "b")
			return true, nil
		}),
	}
	fx := newFixture(t, builders)

	stream := fx.runner.Advance(context.Background(), "conv-r", "first", core.Profile{})
	stream.Drain()
	require.NoError(t, stream.Err())

	stream = fx.runner.Advance(context.Background(), "conv-r", "second", core.Profile{})
	stream.Drain()
	require.NoError(t, stream.Err())

	assert.Equal(t, []string{"a", "b", "b"}, order)
}

func TestNew_Validation(t *testing.T) {
	st := store.NewInMemoryStore()
	withStores := func(o *runner.Options) {
		o.StateStore = st
		o.TranscriptStore = st.Transcripts()
	}
	noop := func(conv *core.Conversation) core.Agent {
		return agent.NewFuncAgent("x", conv, func(context.Context, *agent.BaseAgent) (bool, error) { return true, nil })
	}

	_, err := runner.New(nil, withStores)
	assert.Error(t, err)

	_, err = runner.New([]runner.AgentBuilder{{Name: "a", Build: noop}, {Name: "a", Build: noop}}, withStores)
	assert.Error(t, err)

	_, err = runner.New([]runner.AgentBuilder{{Name: "a", Build: noop}})
	assert.Error(t, err, "stores are required")
}
