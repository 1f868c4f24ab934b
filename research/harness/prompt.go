package harness

import (
	"fmt"
	"strings"

	ports "github.com/ZanzyTHEbar/investment-research/research/harness/ports"
)

// PromptBuilder assembles model-ready inputs for the routing and summary calls.
type PromptBuilder struct{}

func NewPromptBuilder() *PromptBuilder { return &PromptBuilder{} }

// normalize unifies newlines and trims whitespace so equal prompts compare equal.
func normalize(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\r\n", "\n"))
}

// Build flattens system + chat messages into a Provider PromptInput.
func (b *PromptBuilder) Build(system string, messages []ports.PromptMessage, contextSnippets []string, meta map[string]string) ports.PromptInput {
	msgs := make([]ports.PromptMessage, len(messages))
	for i, m := range messages {
		msgs[i] = ports.PromptMessage{Role: m.Role, Content: normalize(m.Content)}
	}
	snippets := make([]string, len(contextSnippets))
	for i, s := range contextSnippets {
		snippets[i] = normalize(s)
	}

	return ports.PromptInput{
		System:   normalize(system),
		Messages: msgs,
		Context:  snippets,
		Meta:     meta,
	}
}

// Routing builds the tool-selection prompt. The model must answer with the
// routing object only.
func (b *PromptBuilder) Routing(query string, tickers []string, toolsText string) ports.PromptInput {
	user := fmt.Sprintf(`You are an investment research assistant that plans data collection.

User Query: %s
Tickers: %s

Available tools:
%s

Choose the tools needed to answer the query. Only use tools from the list above and only the tickers given.
Generate a JSON response with:
- tools: list of {"tool": <tool name>, "tickers": [<ticker>, ...]}
- reasoning: one short sentence (optional)

Respond with ONLY valid JSON, no markdown or extra text.`, query, strings.Join(tickers, ", "), toolsText)

	return b.Build("", []ports.PromptMessage{{Role: "user", Content: user}}, nil,
		map[string]string{"stage": "select_tools"})
}

// Summary builds the research-summary prompt from packed tool outputs.
func (b *PromptBuilder) Summary(query string, tickers []string, marketData []string) ports.PromptInput {
	user := fmt.Sprintf(`You are an investment research analyst. Analyze the following market data and generate a research summary.

User Query: %s
Tickers: %s

Market Data:
%s

Generate a JSON response with:
- thesis_bullets: list of 1-3 key insights about the tickers (string format)
- risks: list of 0-2 key risks or concerns (string format)

Respond with ONLY valid JSON, no markdown or extra text.`, query, strings.Join(tickers, ", "), strings.Join(marketData, "\n"))

	return b.Build("", []ports.PromptMessage{{Role: "user", Content: user}}, marketData,
		map[string]string{"stage": "summarize"})
}
