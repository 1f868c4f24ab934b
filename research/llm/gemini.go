package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	ports "github.com/ZanzyTHEbar/investment-research/research/harness/ports"
)

// GeminiProvider calls the Gemini generative API.
type GeminiProvider struct {
	client *genai.Client
	model  string
}

// NewGeminiProvider creates a Gemini client. Extra client options (endpoint,
// transport) are passed through.
func NewGeminiProvider(ctx context.Context, apiKey, model string, extra ...option.ClientOption) (*GeminiProvider, error) {
	opts := append([]option.ClientOption{option.WithAPIKey(apiKey)}, extra...)
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	return &GeminiProvider{client: client, model: model}, nil
}

func (p *GeminiProvider) Name() string  { return ProviderGemini }
func (p *GeminiProvider) Model() string { return p.model }

// Close closes the underlying Gemini client.
func (p *GeminiProvider) Close() error { return p.client.Close() }

// Complete runs one chat turn. Earlier turns become chat history.
func (p *GeminiProvider) Complete(ctx context.Context, in ports.PromptInput, opts ports.Options) (ports.Completion, error) {
	system, turns := splitPrompt(in)
	if len(turns) == 0 {
		return ports.Completion{}, fmt.Errorf("gemini: prompt has no user turn")
	}

	// A model handle per call keeps generation settings call-local.
	m := p.client.GenerativeModel(p.model)
	configureModel(m, system, opts)

	cs := m.StartChat()
	cs.History = geminiHistory(turns[:len(turns)-1])

	resp, err := cs.SendMessage(ctx, genai.Text(turns[len(turns)-1].content))
	if err != nil {
		return ports.Completion{}, fmt.Errorf("failed to generate content: %w", err)
	}

	text := responseText(resp)
	if text == "" {
		return ports.Completion{}, ErrEmptyCompletion
	}
	out := ports.Completion{Text: text, Raw: resp}
	if u := resp.UsageMetadata; u != nil && u.TotalTokenCount > 0 {
		out.Usage = &ports.Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	return out, nil
}

func configureModel(m *genai.GenerativeModel, system string, opts ports.Options) {
	if system != "" {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}
	if opts.MaxNewTokens > 0 {
		m.SetMaxOutputTokens(int32(opts.MaxNewTokens))
	}
	m.SetTemperature(opts.Temperature)
	m.StopSequences = opts.Stop
	if opts.JSONMode {
		m.ResponseMIMEType = "application/json"
	}
}

func geminiHistory(turns []chatTurn) []*genai.Content {
	history := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		role := "user"
		if t.role == "assistant" {
			role = "model"
		}
		history = append(history, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(t.content)}})
	}
	return history
}

// responseText joins the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String()
}

var _ Provider = (*GeminiProvider)(nil)
