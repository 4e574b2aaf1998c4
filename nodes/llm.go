package nodes

import (
	"context"
	"errors"
	"fmt"

	"github.com/flowforge/workflow-engine/engine"
)

// llmProviders is the allow-list a workflow's llm node may name. The
// two mandated by the node library are gemini and groq; anthropic and
// openai are accepted too since model.Registry resolves all four.
var llmProviders = map[string]bool{
	"gemini": true, "groq": true, "anthropic": true, "openai": true,
}

type llmNode struct {
	deps Dependencies
}

func (n *llmNode) Type() string { return "llm" }

func (n *llmNode) Validate(config map[string]interface{}) engine.ValidationResult {
	provider, _ := config["provider"].(string)
	if !llmProviders[provider] {
		return engine.ValidationResult{Errors: []string{fmt.Sprintf("unknown llm provider %q", provider)}}
	}
	_, hasPrompt := config["prompt"].(string)
	_, hasTemplate := config["promptTemplate"].(string)
	if !hasPrompt && !hasTemplate {
		return engine.ValidationResult{Errors: []string{"llm node requires prompt or promptTemplate"}}
	}
	return engine.ValidationResult{Valid: true}
}

func (n *llmNode) Execute(ctx context.Context, input engine.NodeInput, nctx *engine.NodeContext) (engine.NodeOutput, error) {
	if n.deps.LLMRegistry == nil {
		return engine.NodeOutput{}, errors.New("llm node: no model registry configured")
	}
	cfg := input.Metadata.NodeConfig
	provider, _ := cfg["provider"].(string)

	prompt, _ := cfg["prompt"].(string)
	if tmpl, ok := cfg["promptTemplate"].(string); ok && tmpl != "" {
		prompt = engine.Interpolate(tmpl, input.Data)
	}

	systemPrompt, _ := cfg["systemPrompt"].(string)
	model, _ := cfg["model"].(string)
	maxTokens := 1024
	if v, ok := cfg["maxTokens"].(float64); ok {
		maxTokens = int(v)
	}
	temperature := 0.7
	if v, ok := cfg["temperature"].(float64); ok {
		temperature = v
	}
	timeoutMs := 30000
	if v, ok := cfg["timeoutMs"].(float64); ok {
		timeoutMs = int(v)
	}

	resp, err := n.deps.LLMRegistry.Call(provider, LLMRequest{
		Model:        model,
		Prompt:       prompt,
		SystemPrompt: systemPrompt,
		MaxTokens:    maxTokens,
		Temperature:  temperature,
		TimeoutMs:    timeoutMs,
	})
	if err != nil {
		return engine.NodeOutput{}, fmt.Errorf("llm node: provider %s: %w", provider, err)
	}

	return engine.NodeOutput{Data: map[string]interface{}{
		"content":  resp.Content,
		"model":    resp.Model,
		"provider": provider,
		"usage": map[string]interface{}{
			"inputTokens":  resp.InputTokens,
			"outputTokens": resp.OutputTokens,
		},
	}}, nil
}
