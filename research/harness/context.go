package harness

import (
	"cmp"
	"slices"
	"strings"
)

// Evidence is one successful tool output offered to the summary prompt.
type Evidence struct {
	Tool   string
	Ticker string
	Body   string  // compact JSON payload
	Weight float32 // heavier evidence is packed first
}

func (e Evidence) render() string {
	return e.Tool + ":" + e.Ticker + " " + strings.TrimSpace(e.Body)
}

// EvidenceBudget bounds the evidence section of the summary prompt.
type EvidenceBudget struct {
	MaxTokens int
	MaxItems  int
}

// EvidencePacker fits tool outputs into an EvidenceBudget.
type EvidencePacker struct {
	budget   EvidenceBudget
	estimate func(string) int
}

// NewEvidencePacker returns a packer for b. A nil estimate uses EstimateTokens.
func NewEvidencePacker(b EvidenceBudget, estimate func(string) int) *EvidencePacker {
	if estimate == nil {
		estimate = EstimateTokens
	}
	return &EvidencePacker{budget: b, estimate: estimate}
}

// EstimateTokens approximates a token count as one token per four bytes,
// rounded up.
func EstimateTokens(s string) int {
	return (len(s) + 3) / 4
}

// Pack renders the heaviest evidence that fits the budget. Ties keep their
// input order and an item too large for the remaining budget is skipped, not
// truncated. dropped counts the items left out. items is not reordered.
func (p *EvidencePacker) Pack(items []Evidence) (packed []string, dropped int) {
	if len(items) == 0 {
		return nil, 0
	}
	if p.budget.MaxTokens <= 0 || p.budget.MaxItems <= 0 {
		return nil, len(items)
	}

	ordered := slices.Clone(items)
	slices.SortStableFunc(ordered, func(a, b Evidence) int { return cmp.Compare(b.Weight, a.Weight) })

	left := p.budget.MaxTokens
	for _, e := range ordered {
		if len(packed) == p.budget.MaxItems {
			break
		}
		text := e.render()
		cost := p.estimate(text)
		if cost > left {
			continue
		}
		packed = append(packed, text)
		left -= cost
	}
	return packed, len(items) - len(packed)
}

// toolWeight ranks market data over fundamentals over sentiment.
var toolWeight = map[string]float32{
	ToolMarketSnapshot: 3,
	ToolFundamentals:   2,
	ToolSentiment:      1,
}

// CollectEvidence turns successful invocations into Evidence. Earlier
// tickers weigh slightly more than later ones for the same tool.
func CollectEvidence(tickers []string, invs []ToolInvocation) []Evidence {
	rank := make(map[string]int, len(tickers))
	for i, t := range tickers {
		rank[t] = i
	}

	out := make([]Evidence, 0, len(invs))
	for _, inv := range invs {
		if !inv.OK() {
			continue
		}
		out = append(out, Evidence{
			Tool:   inv.Tool,
			Ticker: inv.Ticker,
			Body:   string(inv.Result),
			Weight: toolWeight[inv.Tool] - float32(rank[inv.Ticker])*0.01,
		})
	}
	return out
}
