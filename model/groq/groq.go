// Package groq adapts Groq's OpenAI-compatible chat completions endpoint
// to the model.ChatModel interface. Groq ships no dedicated Go SDK, so
// this adapter reuses the OpenAI client against Groq's base URL.
package groq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flowforge/workflow-engine/model"
	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

const defaultBaseURL = "https://api.groq.com/openai/v1"

// ChatModel implements model.ChatModel against Groq's chat completions API.
type ChatModel struct {
	apiKey     string
	modelName  string
	baseURL    string
	maxRetries int
	retryDelay time.Duration
}

// Option configures a ChatModel.
type Option func(*ChatModel)

// WithBaseURL overrides the Groq API base URL (useful for test doubles).
func WithBaseURL(url string) Option {
	return func(m *ChatModel) { m.baseURL = url }
}

// NewChatModel creates a Groq-backed ChatModel. modelName defaults to
// "llama-3.3-70b-versatile" when empty.
func NewChatModel(apiKey, modelName string, opts ...Option) *ChatModel {
	if modelName == "" {
		modelName = "llama-3.3-70b-versatile"
	}
	m := &ChatModel{
		apiKey:     apiKey,
		modelName:  modelName,
		baseURL:    defaultBaseURL,
		maxRetries: 3,
		retryDelay: time.Second,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Chat implements model.ChatModel.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	if ctx.Err() != nil {
		return model.ChatOut{}, ctx.Err()
	}
	if m.apiKey == "" {
		return model.ChatOut{}, errors.New("groq API key is required")
	}

	var lastErr error
	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		out, err := m.call(ctx, messages, tools)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if attempt >= m.maxRetries {
			break
		}
		select {
		case <-time.After(m.retryDelay * time.Duration(attempt+1)):
		case <-ctx.Done():
			return model.ChatOut{}, ctx.Err()
		}
	}
	return model.ChatOut{}, fmt.Errorf("groq API failed after %d retries: %w", m.maxRetries, lastErr)
}

func (m *ChatModel) call(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	client := openaisdk.NewClient(option.WithAPIKey(m.apiKey), option.WithBaseURL(m.baseURL))

	params := openaisdk.ChatCompletionNewParams{
		Model:    openaisdk.ChatModel(m.modelName),
		Messages: convertMessages(messages),
	}
	if len(tools) > 0 {
		params.Tools = convertTools(tools)
	}

	resp, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		return model.ChatOut{}, fmt.Errorf("groq API error: %w", err)
	}
	return convertResponse(resp), nil
}

func convertMessages(messages []model.Message) []openaisdk.ChatCompletionMessageParamUnion {
	result := make([]openaisdk.ChatCompletionMessageParamUnion, len(messages))
	for i, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			result[i] = openaisdk.SystemMessage(msg.Content)
		case model.RoleAssistant:
			result[i] = openaisdk.AssistantMessage(msg.Content)
		default:
			result[i] = openaisdk.UserMessage(msg.Content)
		}
	}
	return result
}

func convertTools(tools []model.ToolSpec) []openaisdk.ChatCompletionToolParam {
	result := make([]openaisdk.ChatCompletionToolParam, len(tools))
	for i, t := range tools {
		result[i] = openaisdk.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openaisdk.String(t.Description),
				Parameters:  shared.FunctionParameters(t.Schema),
			},
		}
	}
	return result
}

func convertResponse(resp *openaisdk.ChatCompletion) model.ChatOut {
	out := model.ChatOut{}
	if len(resp.Choices) == 0 {
		return out
	}
	msg := resp.Choices[0].Message
	out.Text = msg.Content
	if len(msg.ToolCalls) > 0 {
		out.ToolCalls = make([]model.ToolCall, len(msg.ToolCalls))
		for i, tc := range msg.ToolCalls {
			out.ToolCalls[i] = model.ToolCall{Name: tc.Function.Name}
		}
	}
	return out
}
