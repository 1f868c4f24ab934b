//go:build !llama

package llm

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/ZanzyTHEbar/investment-research/research/config"
)

// TestNew_LlamaUnavailable tests the build without llama.cpp.
func TestNew_LlamaUnavailable(t *testing.T) {
	_, err := New(context.Background(), config.LLMConfig{Provider: "llama", LlamaModelPath: "/models/qwen.gguf"}, zerolog.Nop())
	assert.ErrorIs(t, err, ErrLlamaUnavailable)
	assert.ErrorIs(t, err, ErrNotConfigured)
}
