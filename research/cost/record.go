package cost

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// pricePrecision is the number of decimal places every dollar figure is
// rounded to.
const pricePrecision = 6

// Amount is a dollar figure that encodes as a bare JSON number.
type Amount struct {
	decimal.Decimal
}

// NewAmount wraps d rounded to the cost precision.
func NewAmount(d decimal.Decimal) Amount {
	return Amount{Decimal: d.Round(pricePrecision)}
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.Decimal.String()), nil
}

func (a *Amount) UnmarshalJSON(b []byte) error {
	return a.Decimal.UnmarshalJSON(b)
}

// Tokens is the token usage of one query.
type Tokens struct {
	Input  int
	Output int
}

// Total is always Input + Output.
func (t Tokens) Total() int { return t.Input + t.Output }

func (t Tokens) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Input  int `json:"input"`
		Output int `json:"output"`
		Total  int `json:"total"`
	}{t.Input, t.Output, t.Total()})
}

// Breakdown is the dollar cost of one query. The total is derived, so it
// always equals Input + Output exactly.
type Breakdown struct {
	Input  decimal.Decimal
	Output decimal.Decimal
}

// Total returns Input + Output.
func (b Breakdown) Total() decimal.Decimal { return b.Input.Add(b.Output) }

func (b Breakdown) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Input  Amount `json:"input"`
		Output Amount `json:"output"`
		Total  Amount `json:"total"`
	}{Amount{b.Input}, Amount{b.Output}, Amount{b.Total()}})
}

// Record is the cost analysis of one tracked query.
type Record struct {
	QueryID   uuid.UUID
	Query     string
	Period    string
	Provider  string
	Model     string
	Tickers   []string
	Tokens    Tokens
	Cost      Breakdown
	CreatedAt time.Time
}

func (r Record) tickerCount() int {
	return max(1, len(r.Tickers))
}

// PerTickerTokens spreads the token total evenly over the tickers.
func (r Record) PerTickerTokens() float64 {
	return float64(r.Tokens.Total()) / float64(r.tickerCount())
}

// PerTickerCost spreads the dollar total evenly over the tickers.
func (r Record) PerTickerCost() decimal.Decimal {
	return r.Cost.Total().Div(decimal.NewFromInt(int64(r.tickerCount())))
}

func (r Record) MarshalJSON() ([]byte, error) {
	tickers := r.Tickers
	if tickers == nil {
		tickers = []string{}
	}
	return json.Marshal(struct {
		QueryID         string    `json:"query_id"`
		Query           string    `json:"query"`
		Period          string    `json:"period,omitempty"`
		Provider        string    `json:"provider"`
		Model           string    `json:"model"`
		Tickers         []string  `json:"tickers"`
		Tokens          Tokens    `json:"tokens"`
		CostUSD         Breakdown `json:"cost_usd"`
		PerTickerTokens float64   `json:"per_ticker_tokens"`
		PerTickerCost   Amount    `json:"per_ticker_cost"`
		CreatedAt       time.Time `json:"created_at"`
	}{
		QueryID:         r.QueryID.String(),
		Query:           r.Query,
		Period:          r.Period,
		Provider:        r.Provider,
		Model:           r.Model,
		Tickers:         tickers,
		Tokens:          r.Tokens,
		CostUSD:         r.Cost,
		PerTickerTokens: r.PerTickerTokens(),
		PerTickerCost:   NewAmount(r.PerTickerCost()),
		CreatedAt:       r.CreatedAt,
	})
}
