package harnessports

import (
	"context"
)

// PromptMessage represents a single chat message used to build prompts.
type PromptMessage struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// PromptInput aggregates everything the provider needs to produce a completion.
type PromptInput struct {
	System   string            // high-level instructions
	Messages []PromptMessage   // ordered chat turns
	Context  []string          // packed tool outputs, already rendered into Messages
	Meta     map[string]string // lightweight metadata for tracing
}

// Options controls sampling and limits for one provider call.
type Options struct {
	MaxNewTokens int
	Temperature  float32
	Stop         []string
	JSONMode     bool // ask the backend for a bare JSON object when it supports it
}

// Usage captures token accounting for cost/telemetry.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Completion is the provider's non-streaming response.
type Completion struct {
	Text  string
	Raw   any    // raw provider payload for debugging
	Usage *Usage // nil when the backend does not report usage
}

// Provider is the abstraction for all LLM backends.
type Provider interface {
	Name() string
	Model() string
	Complete(ctx context.Context, in PromptInput, opts Options) (Completion, error)
}
