package model

import (
	"context"
	"time"
)

// GenerateOptions carries the per-call knobs the llm node exposes in its
// config block (maxTokens, temperature, systemPrompt, timeoutMs).
//
// Not every ChatModel implementation honors every field; providers that
// don't support a knob simply ignore it.
type GenerateOptions struct {
	MaxTokens    int
	Temperature  float64
	SystemPrompt string
	TimeoutMs    int
}

// GenerateResponse is the provider-agnostic result of a single generate
// call, matching the §6 LLMProvider contract exactly.
type GenerateResponse struct {
	Content    string
	Usage      Usage
	Model      string
	Provider   string
	DurationMs int64
}

// Generate adapts the richer ChatModel interface onto the single-shot
// generate(prompt, options) -> response capability the engine's llm node
// consumes. It is the one seam the core depends on; provider and model
// name are supplied by the caller for attribution in the response.
func Generate(ctx context.Context, m ChatModel, provider, modelName, prompt string, opts GenerateOptions) (GenerateResponse, error) {
	if opts.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(opts.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	messages := make([]Message, 0, 2)
	if opts.SystemPrompt != "" {
		messages = append(messages, Message{Role: RoleSystem, Content: opts.SystemPrompt})
	}
	messages = append(messages, Message{Role: RoleUser, Content: prompt})

	start := time.Now()
	out, err := m.Chat(ctx, messages, nil)
	elapsed := time.Since(start)
	if err != nil {
		return GenerateResponse{}, err
	}

	return GenerateResponse{
		Content:    out.Text,
		Usage:      out.Usage,
		Model:      modelName,
		Provider:   provider,
		DurationMs: elapsed.Milliseconds(),
	}, nil
}

// Registry resolves a provider name to a ChatModel, giving the llm node
// a single lookup point instead of a type switch scattered across
// call sites. Providers beyond the spec's {gemini, groq} pair (anthropic,
// openai) are accepted too: the config enum is treated as a non-exhaustive
// allow-list so the extra adapters the pack ships are reachable, not dead
// code — see DESIGN.md "Open Question Decisions".
type Registry struct {
	models map[string]ChatModel
}

// NewRegistry builds an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{models: make(map[string]ChatModel)}
}

// Register associates a provider name with a ChatModel implementation.
func (r *Registry) Register(provider string, m ChatModel) {
	r.models[provider] = m
}

// Resolve returns the ChatModel registered for provider, or false.
func (r *Registry) Resolve(provider string) (ChatModel, bool) {
	m, ok := r.models[provider]
	return m, ok
}
