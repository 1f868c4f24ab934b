package llm

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/investment-research/research/config"
)

// Resolve returns the provider name New would build for cfg, or ProviderNone.
// Auto picks the first configured key in the order OpenAI, Anthropic, Gemini.
func Resolve(cfg config.LLMConfig) string {
	switch cfg.Provider {
	case ProviderNone:
		return ProviderNone
	case ProviderOpenAI, ProviderAnthropic, ProviderGemini, ProviderLlama:
		return cfg.Provider
	}
	switch {
	case cfg.OpenAIAPIKey != "":
		return ProviderOpenAI
	case cfg.AnthropicAPIKey != "":
		return ProviderAnthropic
	case cfg.GeminiAPIKey != "":
		return ProviderGemini
	}
	return ProviderNone
}

// New builds the configured provider wrapped in a circuit breaker. It returns
// an error wrapping ErrNotConfigured when no provider is selected or the
// selected one has no key.
func New(ctx context.Context, cfg config.LLMConfig, logger zerolog.Logger) (*Guarded, error) {
	name := Resolve(cfg)

	var (
		p   Provider
		err error
	)
	switch name {
	case ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("%w: OPENAI_API_KEY is not set", ErrNotConfigured)
		}
		p = NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.Model, "")
	case ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("%w: ANTHROPIC_API_KEY is not set", ErrNotConfigured)
		}
		p = NewAnthropicProvider(cfg.AnthropicAPIKey, cfg.Model, "")
	case ProviderGemini:
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("%w: GEMINI_API_KEY is not set", ErrNotConfigured)
		}
		p, err = NewGeminiProvider(ctx, cfg.GeminiAPIKey, cfg.Model)
	case ProviderLlama:
		p, err = newLlama(cfg, logger)
	default:
		return nil, ErrNotConfigured
	}
	if err != nil {
		return nil, err
	}

	logger.Info().Str("provider", p.Name()).Str("model", p.Model()).Msg("LLM provider ready")
	return Guard(p, WithGuardLogger(logger)), nil
}

func newLlama(cfg config.LLMConfig, logger zerolog.Logger) (Provider, error) {
	lp, err := NewLlamaProvider(LlamaConfig{
		ModelPath:   cfg.LlamaModelPath,
		ContextSize: cfg.LlamaContext,
		GPULayers:   cfg.LlamaGPULayers,
	}, logger)
	if err != nil {
		return nil, err
	}
	return lp, nil
}
