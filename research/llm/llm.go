// Package llm adapts hosted and local language models to the harness
// Provider port.
package llm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/investment-research/research/harness"
	ports "github.com/ZanzyTHEbar/investment-research/research/harness/ports"
)

// Provider names.
const (
	ProviderAuto      = "auto"
	ProviderNone      = "none"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
	ProviderLlama     = "llama"
)

// Default models, matching the defaults of the cost price table.
const (
	DefaultOpenAIModel    = "gpt-4o-mini"
	DefaultAnthropicModel = "claude-3-5-sonnet-20241022"
	DefaultGeminiModel    = "gemini-1.5-flash"
)

var (
	// ErrNotConfigured is returned when no provider is selected or no key is set.
	ErrNotConfigured = fmt.Errorf("%w: no provider configured", harness.ErrLLMUnavailable)
	// ErrLlamaUnavailable is returned by builds without the llama tag.
	ErrLlamaUnavailable = fmt.Errorf("%w: llama.cpp not available in this build", ErrNotConfigured)
	// ErrEmptyCompletion is returned when a backend answers without text.
	ErrEmptyCompletion = errors.New("provider returned no text")
)

// Provider is a ports.Provider that owns resources.
type Provider interface {
	ports.Provider
	Close() error
}

// LlamaConfig holds the local model settings.
type LlamaConfig struct {
	ModelPath   string
	ContextSize int
	GPULayers   int
	Threads     int
	PoolSize    int
}

// chatTurn is one role/content pair after the system prompt is split off.
type chatTurn struct {
	role    string
	content string
}

// splitPrompt returns the system prompt and the remaining turns. System
// messages inside Messages are folded into the system prompt.
func splitPrompt(in ports.PromptInput) (string, []chatTurn) {
	system := []string{}
	if s := strings.TrimSpace(in.System); s != "" {
		system = append(system, s)
	}
	turns := make([]chatTurn, 0, len(in.Messages))
	for _, m := range in.Messages {
		role := strings.ToLower(m.Role)
		if role == "system" {
			system = append(system, m.Content)
			continue
		}
		if role != "assistant" {
			role = "user"
		}
		turns = append(turns, chatTurn{role: role, content: m.Content})
	}
	return strings.Join(system, "\n\n"), turns
}

// renderTranscript flattens a prompt for completion-style models.
func renderTranscript(in ports.PromptInput) string {
	system, turns := splitPrompt(in)
	var b strings.Builder
	if system != "" {
		b.WriteString("System: " + system + "\n\n")
	}
	for _, t := range turns {
		if t.role == "assistant" {
			b.WriteString("Assistant: ")
		} else {
			b.WriteString("User: ")
		}
		b.WriteString(t.content + "\n\n")
	}
	b.WriteString("Assistant:")
	return b.String()
}

func totalUsage(prompt, completion int) *ports.Usage {
	return &ports.Usage{PromptTokens: prompt, CompletionTokens: completion, TotalTokens: prompt + completion}
}
