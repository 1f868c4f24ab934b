// Package eval scores the agent against a fixed set of offline research
// queries.
package eval

import (
	"context"
	"fmt"

	"github.com/ZanzyTHEbar/investment-research/research"
	"github.com/ZanzyTHEbar/investment-research/research/harness"
)

// Points awarded per case.
const (
	pointsSchema     = 2
	pointsToolCalls  = 1
	pointsDisclaimer = 1
	pointsPerCase    = pointsSchema + pointsToolCalls + pointsDisclaimer

	maxToolCalls = research.DefaultMaxToolCalls
)

// Case is one evaluation query.
type Case struct {
	Query   string   `json:"query"`
	Tickers []string `json:"tickers"`
	Period  string   `json:"period"`
}

// DefaultCases covers a single ticker, a comparison, a long window and the
// proxy fallback.
func DefaultCases() []Case {
	return []Case{
		{Query: "trend summary for AAPL", Tickers: []string{"AAPL"}, Period: "3mo"},
		{Query: "compare AAPL vs MSFT", Tickers: []string{"AAPL", "MSFT"}, Period: "6mo"},
		{Query: "risk evaluation", Tickers: []string{"AAPL"}, Period: "1y"},
		{Query: "macro proxies", Tickers: []string{}, Period: "3mo"},
	}
}

// CaseResult is the outcome of one case.
type CaseResult struct {
	Case   Case                   `json:"case"`
	Score  int                    `json:"score"`
	Output *harness.FinalResponse `json:"output,omitempty"`
	Error  string                 `json:"error,omitempty"`
}

// Report aggregates every case.
type Report struct {
	Score    int          `json:"score"`
	MaxScore int          `json:"max_score"`
	Results  []CaseResult `json:"results"`
}

// Passed reports whether every case scored full marks.
func (r Report) Passed() bool { return r.Score == r.MaxScore }

// Run evaluates agent on DefaultCases.
func Run(ctx context.Context, agent *harness.Agent) Report {
	return RunCases(ctx, agent, DefaultCases())
}

// RunCases evaluates agent on cases in order. A run that fails scores zero
// and its error is kept in the result.
func RunCases(ctx context.Context, agent *harness.Agent, cases []Case) Report {
	v := harness.NewJSONValidator()
	report := Report{MaxScore: len(cases) * pointsPerCase, Results: make([]CaseResult, 0, len(cases))}

	for _, c := range cases {
		res := CaseResult{Case: c}
		out, err := agent.Run(ctx, harness.Query{Text: c.Query, Tickers: c.Tickers, Period: c.Period})
		if err != nil {
			res.Error = err.Error()
			report.Results = append(report.Results, res)
			continue
		}

		res.Output = out
		res.Score = score(v, out)
		report.Score += res.Score
		report.Results = append(report.Results, res)
	}
	return report
}

func score(v *harness.JSONValidator, out *harness.FinalResponse) int {
	s := 0
	if v.ValidateValue(out, harness.FinalSchema) == nil {
		s += pointsSchema
	}
	if n := len(out.ToolCalls); n > 0 && n <= maxToolCalls {
		s += pointsToolCalls
	}
	if out.Disclaimer == research.Disclaimer {
		s += pointsDisclaimer
	}
	return s
}

// String renders a one-line summary.
func (r Report) String() string {
	return fmt.Sprintf("score %d/%d over %d cases", r.Score, r.MaxScore, len(r.Results))
}
