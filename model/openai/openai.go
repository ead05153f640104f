// Package openai implements model.Model on the OpenAI Chat Completions API,
// including token streaming and usage accounting. Provider timeouts are
// surfaced as model.ErrTimeout so the orchestrator's recovery path can
// distinguish them.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/openai/openai-go"

	"github.com/hupe1980/agentchain/core"
	"github.com/hupe1980/agentchain/model"
)

// Options configure the OpenAI model adapter. Fields mirror a minimal
// subset of Chat Completion parameters; extend via functional options
// without breaking callers.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
}

// Model wraps the OpenAI Chat Completions API behind model.Model.
type Model struct {
	client *openai.Client
	opts   Options
}

// NewModel creates a new OpenAI model using the official client.
func NewModel(optFns ...func(o *Options)) *Model {
	client := openai.NewClient()
	return NewModelFromClient(&client, optFns...)
}

// NewModelFromClient creates a new OpenAI model from an existing client.
func NewModelFromClient(client *openai.Client, optFns ...func(o *Options)) *Model {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0,
		MaxCompletionTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

// Generate implements model.Model. A nil onToken makes a plain completion
// call; otherwise the response is streamed and each content delta is handed
// to the callback as it arrives.
func (m *Model) Generate(ctx context.Context, req model.Request, onToken model.TokenFunc) (*model.Response, error) {
	params := m.buildParams(req)
	if onToken == nil {
		return m.complete(ctx, params)
	}
	return m.stream(ctx, params, onToken)
}

// Info returns metadata describing this OpenAI model implementation.
func (m *Model) Info() model.Info {
	return model.Info{Name: m.opts.Model, Provider: "openai"}
}

// buildParams converts normalized turns into OpenAI chat messages. Note
// turns carry structural data and are skipped.
func (m *Model) buildParams(req model.Request) openai.ChatCompletionNewParams {
	var messages []openai.ChatCompletionMessageParamUnion
	if req.Instructions != "" {
		messages = append(messages, openai.SystemMessage(req.Instructions))
	}
	for _, turn := range req.Turns {
		switch turn.Role {
		case core.RoleUser:
			messages = append(messages, openai.UserMessage(turn.Text))
		case core.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(turn.Text))
		}
	}

	temperature := m.opts.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	maxTokens := m.opts.MaxCompletionTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	return openai.ChatCompletionNewParams{
		Messages:            messages,
		Model:               m.opts.Model,
		Temperature:         openai.Float(temperature),
		MaxCompletionTokens: openai.Int(maxTokens),
	}
}

func (m *Model) complete(ctx context.Context, params openai.ChatCompletionNewParams) (*model.Response, error) {
	resp, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, wrapErr(err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: no choices returned")
	}
	ch0 := resp.Choices[0]
	return &model.Response{
		Content:      ch0.Message.Content,
		FinishReason: string(ch0.FinishReason),
		Usage: model.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

func (m *Model) stream(ctx context.Context, params openai.ChatCompletionNewParams, onToken model.TokenFunc) (*model.Response, error) {
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{
		IncludeUsage: openai.Bool(true),
	}
	stream := m.client.Chat.Completions.NewStreaming(ctx, params)

	acc := openai.ChatCompletionAccumulator{}
	finishReason := ""
	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				onToken(choice.Delta.Content)
			}
			if choice.FinishReason != "" {
				finishReason = string(choice.FinishReason)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, wrapErr(err)
	}

	var content string
	if len(acc.Choices) > 0 {
		content = acc.Choices[0].Message.Content
	}
	return &model.Response{
		Content:      content,
		FinishReason: finishReason,
		Usage: model.Usage{
			PromptTokens:     int(acc.Usage.PromptTokens),
			CompletionTokens: int(acc.Usage.CompletionTokens),
			TotalTokens:      int(acc.Usage.TotalTokens),
		},
	}, nil
}

// wrapErr classifies provider failures. Deadline and transport timeouts, and
// HTTP 408 responses, become model.ErrTimeout; everything else is wrapped
// for context.
func wrapErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("openai: %w", model.ErrTimeout)
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return fmt.Errorf("openai: %w", model.ErrTimeout)
	}
	var apierr *openai.Error
	if errors.As(err, &apierr) && apierr.StatusCode == http.StatusRequestTimeout {
		return fmt.Errorf("openai: %w", model.ErrTimeout)
	}
	return fmt.Errorf("openai api error: %w", err)
}
