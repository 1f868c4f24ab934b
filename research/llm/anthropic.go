package llm

import (
	"context"
	"fmt"

	anthropic "github.com/liushuangls/go-anthropic/v2"

	ports "github.com/ZanzyTHEbar/investment-research/research/harness/ports"
)

// AnthropicProvider calls the Messages API.
type AnthropicProvider struct {
	client *anthropic.Client
	model  string
}

// NewAnthropicProvider creates an Anthropic provider. An empty baseURL uses
// the public endpoint.
func NewAnthropicProvider(apiKey, model, baseURL string) *AnthropicProvider {
	opts := make([]anthropic.ClientOption, 0, 1)
	if baseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(baseURL))
	}
	if model == "" {
		model = DefaultAnthropicModel
	}
	return &AnthropicProvider{client: anthropic.NewClient(apiKey, opts...), model: model}
}

func (p *AnthropicProvider) Name() string  { return ProviderAnthropic }
func (p *AnthropicProvider) Model() string { return p.model }
func (p *AnthropicProvider) Close() error  { return nil }

// Complete sends one Messages request. The API has no JSON mode; the prompts
// already ask for bare JSON.
func (p *AnthropicProvider) Complete(ctx context.Context, in ports.PromptInput, opts ports.Options) (ports.Completion, error) {
	system, turns := splitPrompt(in)

	temp := opts.Temperature
	req := anthropic.MessagesRequest{
		Model:         anthropic.Model(p.model),
		System:        system,
		MaxTokens:     opts.MaxNewTokens,
		Temperature:   &temp,
		StopSequences: opts.Stop,
	}
	for _, t := range turns {
		if t.role == "assistant" {
			req.Messages = append(req.Messages, anthropic.NewAssistantTextMessage(t.content))
		} else {
			req.Messages = append(req.Messages, anthropic.NewUserTextMessage(t.content))
		}
	}

	resp, err := p.client.CreateMessages(ctx, req)
	if err != nil {
		return ports.Completion{}, fmt.Errorf("anthropic messages: %w", err)
	}
	text := resp.GetFirstContentText()
	if text == "" {
		return ports.Completion{}, ErrEmptyCompletion
	}

	out := ports.Completion{Text: text, Raw: resp}
	if u := resp.Usage; u.InputTokens > 0 || u.OutputTokens > 0 {
		out.Usage = totalUsage(u.InputTokens, u.OutputTokens)
	}
	return out, nil
}

var _ Provider = (*AnthropicProvider)(nil)
