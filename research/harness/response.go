package harness

import (
	_ "embed"
	"encoding/json"

	"github.com/ZanzyTHEbar/investment-research/research"
	"github.com/ZanzyTHEbar/investment-research/research/cost"
)

var (
	//go:embed schemas/final.json
	FinalSchema []byte

	//go:embed schemas/summary.json
	SummarySchema []byte

	//go:embed schemas/routing.json
	RoutingSchema []byte
)

// Names of the built-in research tools.
const (
	ToolMarketSnapshot = "market_snapshot"
	ToolFundamentals   = "fundamentals_events"
	ToolSentiment      = "sentiment_analysis"
)

// TickersSource records where the resolved tickers came from.
type TickersSource string

const (
	TickersFromUser  TickersSource = "user"
	TickersFromQuery TickersSource = "query"
	TickersFromProxy TickersSource = "proxy"
)

// Summary is the thesis and risk digest of a research run.
type Summary struct {
	ThesisBullets []string `json:"thesis_bullets"`
	Risks         []string `json:"risks"`
}

// ToolCallRecord is the audit entry of one executed invocation.
type ToolCallRecord struct {
	Name         string           `json:"name"`
	Ticker       string           `json:"ticker"`
	Args         map[string]any   `json:"args"`
	AttemptCount int              `json:"attempt_count"`
	Status       InvocationStatus `json:"status"`
	Cached       bool             `json:"cached,omitempty"`
}

// FinalResponse is the envelope returned by Agent.Run.
type FinalResponse struct {
	Query           string                                `json:"query"`
	Tickers         []string                              `json:"tickers"`
	TickersSource   TickersSource                         `json:"tickers_source"`
	TickersInferred []string                              `json:"tickers_inferred"`
	Summary         Summary                               `json:"summary"`
	Fundamentals    map[string]json.RawMessage            `json:"fundamentals"`
	ToolReturns     map[string]map[string]json.RawMessage `json:"tool_returns"`
	DataUsed        []string                              `json:"data_used"`
	ToolCalls       []ToolCallRecord                      `json:"tool_calls"`
	Limitations     []string                              `json:"limitations"`
	Disclaimer      string                                `json:"disclaimer"`
	CostAnalysis    *cost.Record                          `json:"cost_analysis,omitempty"`
}

func newFinalResponse(query string) *FinalResponse {
	return &FinalResponse{
		Query:           query,
		Tickers:         []string{},
		TickersSource:   TickersFromUser,
		TickersInferred: []string{},
		Summary:         Summary{ThesisBullets: []string{}, Risks: []string{}},
		Fundamentals:    map[string]json.RawMessage{},
		ToolReturns:     map[string]map[string]json.RawMessage{},
		DataUsed:        []string{},
		ToolCalls:       []ToolCallRecord{},
		Limitations:     []string{},
		Disclaimer:      research.Disclaimer,
	}
}

// limit appends notes to Limitations.
func (r *FinalResponse) limit(notes ...string) {
	r.Limitations = append(r.Limitations, notes...)
}

// record folds one invocation into the envelope.
func (r *FinalResponse) record(inv ToolInvocation) {
	r.ToolCalls = append(r.ToolCalls, ToolCallRecord{
		Name:         inv.Tool,
		Ticker:       inv.Ticker,
		Args:         inv.Args,
		AttemptCount: inv.Attempts,
		Status:       inv.Status,
		Cached:       inv.Cached,
	})

	if !inv.OK() {
		r.limit(failureNote(inv))
		return
	}

	if r.ToolReturns[inv.Ticker] == nil {
		r.ToolReturns[inv.Ticker] = map[string]json.RawMessage{}
	}
	r.ToolReturns[inv.Ticker][inv.Tool] = inv.Result
	r.DataUsed = append(r.DataUsed, inv.Tool+":"+inv.Ticker)

	if inv.Tool == ToolFundamentals {
		var payload struct {
			Fundamentals json.RawMessage `json:"fundamentals"`
		}
		if err := json.Unmarshal(inv.Result, &payload); err == nil && len(payload.Fundamentals) > 0 {
			r.Fundamentals[inv.Ticker] = payload.Fundamentals
		}
	}
}

// failureNote renders the limitation for a failed invocation.
func failureNote(inv ToolInvocation) string {
	f := inv.Failure
	if f == nil {
		f = &ToolFailure{Code: CodeToolError, Reason: string(inv.Status)}
	}
	switch inv.Status {
	case StatusBudgetExceeded:
		return inv.Tool + ":" + inv.Ticker + " skipped: per-ticker budget exceeded"
	case StatusSchemaInvalid, StatusTimeout:
		return inv.Tool + " output invalid for " + inv.Ticker + ": " + f.Code + ": " + f.Reason
	}
	switch inv.Tool {
	case ToolFundamentals:
		return inv.Ticker + ": fundamentals unavailable"
	default:
		return inv.Ticker + ": " + inv.Tool + " unavailable (" + f.Code + ": " + f.Reason + ")"
	}
}
