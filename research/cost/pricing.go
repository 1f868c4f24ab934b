package cost

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Price is the list price of a model in USD per one million tokens.
type Price struct {
	InputPerMillion  decimal.Decimal
	OutputPerMillion decimal.Decimal
}

// ProviderPricing holds the models of one provider and the model used when a
// caller names an unknown one.
type ProviderPricing struct {
	Default string
	Models  map[string]Price
}

// PriceTable maps provider name to its pricing.
type PriceTable map[string]ProviderPricing

// ModelRef names one provider/model pair of a PriceTable.
type ModelRef struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

func (r ModelRef) String() string { return r.Provider + "/" + r.Model }

func price(in, out string) Price {
	return Price{
		InputPerMillion:  decimal.RequireFromString(in),
		OutputPerMillion: decimal.RequireFromString(out),
	}
}

// DefaultPriceTable returns the built-in list prices.
func DefaultPriceTable() PriceTable {
	return PriceTable{
		"openai": {
			Default: "gpt-4o-mini",
			Models: map[string]Price{
				"gpt-4o-mini": price("0.15", "0.60"),
				"gpt-4-turbo": price("10.00", "30.00"),
			},
		},
		"anthropic": {
			Default: "claude-3-5-sonnet-20241022",
			Models: map[string]Price{
				"claude-3-5-sonnet-20241022": price("3.00", "15.00"),
				"claude-3-opus-20250219":     price("15.00", "75.00"),
			},
		},
		"gemini": {
			Default: "gemini-1.5-flash",
			Models: map[string]Price{
				"gemini-1.5-flash": price("0.075", "0.30"),
				"gemini-1.5-pro":   price("1.25", "5.00"),
			},
		},
	}
}

// Lookup resolves the price for provider/model. Unknown models fall back to
// the provider default; the resolved model name is returned alongside. An
// unknown provider reports ok=false and a zero price.
func (t PriceTable) Lookup(provider, model string) (Price, string, bool) {
	p, ok := t[provider]
	if !ok {
		return Price{}, model, false
	}
	if pr, ok := p.Models[model]; ok {
		return pr, model, true
	}
	return p.Models[p.Default], p.Default, true
}

// DefaultModel returns the provider's default model, or "" when unknown.
func (t PriceTable) DefaultModel(provider string) string {
	return t[provider].Default
}

// Refs lists every provider/model pair ordered by provider then model.
func (t PriceTable) Refs() []ModelRef {
	refs := make([]ModelRef, 0, 8)
	for provider, p := range t {
		for model := range p.Models {
			refs = append(refs, ModelRef{Provider: provider, Model: model})
		}
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Provider != refs[j].Provider {
			return refs[i].Provider < refs[j].Provider
		}
		return refs[i].Model < refs[j].Model
	})
	return refs
}
