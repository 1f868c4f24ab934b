//go:build llama

package llm

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-skynet/go-llama.cpp"
	"github.com/rs/zerolog"

	ports "github.com/ZanzyTHEbar/investment-research/research/harness/ports"
)

// LlamaProvider runs a GGUF model through llama.cpp. Model instances are
// pooled; each call borrows one for the duration of the prediction.
type LlamaProvider struct {
	cfg    LlamaConfig
	model  string
	pool   chan *llama.LLama
	logger zerolog.Logger
}

// NewLlamaProvider loads cfg.PoolSize instances of the model.
func NewLlamaProvider(cfg LlamaConfig, logger zerolog.Logger) (*LlamaProvider, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("%w: llama model path is empty", ErrNotConfigured)
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("llama model: %w", err)
	}
	if cfg.ContextSize <= 0 {
		cfg.ContextSize = 4096
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 1
	}

	name := strings.TrimSuffix(filepath.Base(cfg.ModelPath), filepath.Ext(cfg.ModelPath))
	p := &LlamaProvider{
		cfg:    cfg,
		model:  name,
		pool:   make(chan *llama.LLama, cfg.PoolSize),
		logger: logger.With().Str("component", "llama").Str("model", name).Logger(),
	}
	for i := range cfg.PoolSize {
		m, err := llama.New(cfg.ModelPath, llama.SetContext(cfg.ContextSize), llama.SetGPULayers(cfg.GPULayers))
		if err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("failed to load model instance %d: %w", i, err)
		}
		p.pool <- m
	}
	p.logger.Info().Int("pool_size", cfg.PoolSize).Msg("Llama provider initialized")
	return p, nil
}

func (p *LlamaProvider) Name() string  { return ProviderLlama }
func (p *LlamaProvider) Model() string { return p.model }

// Complete renders the prompt as a transcript and predicts a continuation.
// llama.cpp reports no token usage.
func (p *LlamaProvider) Complete(ctx context.Context, in ports.PromptInput, opts ports.Options) (ports.Completion, error) {
	var m *llama.LLama
	select {
	case m = <-p.pool:
	case <-ctx.Done():
		return ports.Completion{}, ctx.Err()
	}

	predict := []llama.PredictOption{
		llama.SetTemperature(opts.Temperature),
		llama.SetTopP(0.9),
		llama.SetTokens(opts.MaxNewTokens),
		llama.SetStopWords(append([]string{"\nUser:"}, opts.Stop...)...),
	}
	if p.cfg.Threads > 0 {
		predict = append(predict, llama.SetThreads(p.cfg.Threads))
	}

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		// Prediction cannot be interrupted; the instance returns to the pool
		// when it finishes even if the caller gave up.
		defer func() { p.pool <- m }()
		text, err := m.Predict(renderTranscript(in), predict...)
		done <- result{text, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return ports.Completion{}, fmt.Errorf("prediction failed: %w", r.err)
		}
		text := strings.TrimSpace(r.text)
		if text == "" {
			return ports.Completion{}, ErrEmptyCompletion
		}
		return ports.Completion{Text: text}, nil
	case <-ctx.Done():
		return ports.Completion{}, ctx.Err()
	}
}

// Close frees every pooled instance. In-flight predictions keep their
// instance until they return it.
func (p *LlamaProvider) Close() error {
	for {
		select {
		case m := <-p.pool:
			m.Free()
		default:
			return nil
		}
	}
}

var _ Provider = (*LlamaProvider)(nil)
