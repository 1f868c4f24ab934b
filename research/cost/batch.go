package cost

import (
	"context"

	"github.com/shopspring/decimal"
)

// BatchQuery is one query of a batch estimate.
type BatchQuery struct {
	Query   string   `json:"query"`
	Tickers []string `json:"tickers"`
	Period  string   `json:"period,omitempty"`
}

// BatchItem is the estimate for one BatchQuery.
type BatchItem struct {
	Query   string    `json:"query"`
	Tickers []string  `json:"tickers"`
	Tokens  Tokens    `json:"tokens"`
	CostUSD Breakdown `json:"cost_usd"`
}

// BatchResult is the estimate for a whole batch.
type BatchResult struct {
	Provider        string      `json:"provider"`
	Model           string      `json:"model"`
	PerQuery        []BatchItem `json:"per_query"`
	TotalQueries    int         `json:"total_queries"`
	TotalTokens     int         `json:"total_tokens"`
	TotalCostUSD    Amount      `json:"total_cost_usd"`
	AvgCostPerQuery Amount      `json:"avg_cost_per_query"`
}

// EstimateTokens is the deterministic token heuristic used for batches: a
// single-ticker query costs 800 input and 250 output tokens, and every extra
// ticker adds 400 and 50.
func EstimateTokens(tickers int) Tokens {
	n := max(1, tickers)
	return Tokens{
		Input:  800 + (n-1)*400,
		Output: 250 + (n-1)*50,
	}
}

// BatchAnalyze estimates a batch without calling any model. An empty model
// uses the provider default. The analyzer's own session is not touched.
func (a *Analyzer) BatchAnalyze(queries []BatchQuery, provider, model string) BatchResult {
	if model == "" {
		model = a.prices.DefaultModel(provider)
	}

	scratch := NewAnalyzer(WithPriceTable(a.prices), WithClock(a.now))
	out := BatchResult{
		Provider:     provider,
		Model:        model,
		PerQuery:     make([]BatchItem, 0, len(queries)),
		TotalQueries: len(queries),
	}

	for _, q := range queries {
		tokens := EstimateTokens(len(q.Tickers))
		rec, _ := scratch.Track(context.Background(), TrackInput{
			Query:        q.Query,
			Period:       q.Period,
			Provider:     provider,
			Model:        model,
			InputTokens:  tokens.Input,
			OutputTokens: tokens.Output,
			Tickers:      q.Tickers,
		})
		out.PerQuery = append(out.PerQuery, BatchItem{
			Query:   q.Query,
			Tickers: rec.Tickers,
			Tokens:  rec.Tokens,
			CostUSD: rec.Cost,
		})
	}

	summary := scratch.Summary()
	out.TotalTokens = summary.TotalTokens
	out.TotalCostUSD = summary.TotalCostUSD
	out.AvgCostPerQuery = summary.AvgCostPerQuery
	return out
}

// Projection is the expected spend of a steady query rate.
type Projection struct {
	Provider        string `json:"provider"`
	Model           string `json:"model"`
	QueriesPerDay   int    `json:"queries_per_day"`
	TickersPerQuery int    `json:"tickers_per_query"`
	CostPerQuery    Amount `json:"cost_per_query_usd"`
	Daily           Amount `json:"daily_usd"`
	Monthly         Amount `json:"monthly_usd"`
	Yearly          Amount `json:"yearly_usd"`
}

// MonthlyProjection prices queriesPerDay queries of tickersPerQuery tickers
// over a 30-day month and a 365-day year.
func (a *Analyzer) MonthlyProjection(provider, model string, queriesPerDay, tickersPerQuery int) Projection {
	if model == "" {
		model = a.prices.DefaultModel(provider)
	}
	tokens := EstimateTokens(tickersPerQuery)
	perQuery := a.CalculateCost(provider, model, tokens.Input, tokens.Output).Total()
	daily := perQuery.Mul(decimal.NewFromInt(int64(queriesPerDay)))

	return Projection{
		Provider:        provider,
		Model:           model,
		QueriesPerDay:   queriesPerDay,
		TickersPerQuery: max(1, tickersPerQuery),
		CostPerQuery:    Amount{perQuery},
		Daily:           NewAmount(daily),
		Monthly:         NewAmount(daily.Mul(decimal.NewFromInt(30))),
		Yearly:          NewAmount(daily.Mul(decimal.NewFromInt(365))),
	}
}
