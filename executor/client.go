package executor

import "context"

// InvokeRequest is a single prompt dispatch to the model provider.
type InvokeRequest struct {
	Model       string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// Usage reports provider token accounting when available.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty"`
}

// InvokeResult is the raw model response text plus usage.
type InvokeResult struct {
	Text  string
	Usage Usage
}

// ModelClient abstracts the LLM transport. Invoke must honor ctx
// cancellation and deadline; calls are idempotent from the harness's
// perspective, so retries re-issue the full prompt.
type ModelClient interface {
	Invoke(ctx context.Context, req InvokeRequest) (*InvokeResult, error)
}
