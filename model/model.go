package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/hupe1980/agentchain/core"
)

// ErrTimeout is the distinguished failure class for generation calls that
// exceeded their time budget. Adapters must wrap provider timeouts with it
// so the orchestrator can recover with a retry prompt instead of treating
// the step as an unexpected failure.
var ErrTimeout = errors.New("model: generation timed out")

// Request captures the normalized input for one generation call. Turns are
// converted to provider messages by the adapter; RoleNote turns are skipped.
type Request struct {
	// Instructions is the system prompt for the call.
	Instructions string
	// Turns is the dialogue context, oldest first.
	Turns []core.Turn
	// Temperature overrides the adapter default when non-nil.
	Temperature *float64
	// MaxTokens caps the completion length; 0 uses the adapter default.
	MaxTokens int64
}

// Usage captures token statistics for a completed call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the final result of a generation call.
type Response struct {
	Content      string `json:"content"`
	FinishReason string `json:"finish_reason"`
	Usage        Usage  `json:"usage"`
}

// TokenFunc receives incremental content as it is produced. A nil TokenFunc
// disables streaming; the adapter then makes a plain completion call.
type TokenFunc func(token string)

// Info contains metadata about a model implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"`
}

// Model is the opaque generation contract consumed by agents. Generate
// blocks until the full response is available; onToken, when non-nil, is
// invoked with each content fragment as it arrives.
type Model interface {
	Generate(ctx context.Context, req Request, onToken TokenFunc) (*Response, error)
	Info() Info
}

// MockModel is a lightweight in-memory Model for tests and examples. It
// replays queued responses first, then falls back to responses registered
// per prompt, then to a generic echo. Streaming splits content on
// whitespace boundaries.
type MockModel struct {
	mu        sync.Mutex
	info      Info
	responses map[string]string
	queue     []queued
}

type queued struct {
	content string
	err     error
}

// NewMockModel constructs an empty MockModel.
func NewMockModel() *MockModel {
	return &MockModel{
		info:      Info{Name: "mock", Provider: "mock"},
		responses: map[string]string{},
	}
}

// AddResponse registers a deterministic completion for a prompt (matched
// against the text of the last user turn).
func (m *MockModel) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = response
}

// QueueResponse enqueues a completion returned by the next Generate call.
func (m *MockModel) QueueResponse(content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, queued{content: content})
}

// QueueError enqueues a failure returned by the next Generate call.
func (m *MockModel) QueueError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, queued{err: err})
}

// Generate implements Model.
func (m *MockModel) Generate(ctx context.Context, req Request, onToken TokenFunc) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	var content string
	var genErr error
	if len(m.queue) > 0 {
		next := m.queue[0]
		m.queue = m.queue[1:]
		content, genErr = next.content, next.err
	} else {
		prompt := lastUserText(req.Turns)
		if canned, ok := m.responses[prompt]; ok {
			content = canned
		} else {
			content = fmt.Sprintf("Mock response to: %s", prompt)
		}
	}
	m.mu.Unlock()

	if genErr != nil {
		return nil, genErr
	}
	if onToken != nil {
		for _, tok := range splitKeepingSpace(content) {
			onToken(tok)
		}
	}
	promptTokens := countTokens(req.Turns)
	completionTokens := len(strings.Fields(content))
	return &Response{
		Content:      content,
		FinishReason: "stop",
		Usage: Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
	}, nil
}

// Info implements Model.
func (m *MockModel) Info() Info { return m.info }

func lastUserText(turns []core.Turn) string {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == core.RoleUser {
			return turns[i].Text
		}
	}
	return ""
}

func countTokens(turns []core.Turn) int {
	n := 0
	for _, t := range turns {
		n += len(strings.Fields(t.Text))
	}
	return n
}

// splitKeepingSpace cuts content into word and whitespace runs so that the
// concatenation of all fragments reproduces the input exactly.
func splitKeepingSpace(content string) []string {
	var out []string
	start := 0
	inSpace := false
	for i, r := range content {
		isSpace := r == ' ' || r == '\n' || r == '\t'
		if i > 0 && isSpace != inSpace {
			out = append(out, content[start:i])
			start = i
		}
		inSpace = isSpace
	}
	if start < len(content) {
		out = append(out, content[start:])
	}
	return out
}
