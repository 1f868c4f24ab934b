//go:build !llama

package llm

import "github.com/rs/zerolog"

// NewLlamaProvider always fails without the llama build tag.
func NewLlamaProvider(cfg LlamaConfig, logger zerolog.Logger) (Provider, error) {
	return nil, ErrLlamaUnavailable
}
