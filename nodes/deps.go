package nodes

import "net/http"

// Dependencies bundles the process-level collaborators node kinds need
// beyond the per-execution engine.NodeContext: an HTTP client for the
// http-request node and the llm node's model dependencies. Assembled
// once in cmd/worker and threaded through NewRegistry.
type Dependencies struct {
	HTTPClient  *http.Client
	LLMRegistry LLMCaller
}

// LLMCaller resolves a provider name to a callable chat completion
// function. Implemented by cmd/worker's adapter over model.Registry;
// kept as an interface here
// so nodes never imports model directly and the engine/nodes boundary
// stays one-directional.
type LLMCaller interface {
	Call(provider string, req LLMRequest) (LLMResponse, error)
}

// LLMRequest is the provider-agnostic request the llm node builds from
// its config and resolved input.
type LLMRequest struct {
	Model        string
	Prompt       string
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
	TimeoutMs    int
}

// LLMResponse is the provider-agnostic reply the llm node's output is
// built from.
type LLMResponse struct {
	Content          string
	Model            string
	InputTokens      int
	OutputTokens     int
}
