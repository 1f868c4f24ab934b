// Package cost turns reported token usage into deterministic dollar figures
// and keeps the per-session ledger of tracked queries.
package cost

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Ledger persists tracked records beyond the life of the process.
type Ledger interface {
	Append(ctx context.Context, rec Record) error
	List(ctx context.Context) ([]Record, error)
	Reset(ctx context.Context) error
}

// Session is the ordered set of records tracked since creation or the last
// Reset. It is safe for concurrent use.
type Session struct {
	mu      sync.RWMutex
	records []Record
}

// NewSession returns an empty session.
func NewSession() *Session { return &Session{} }

// Append adds rec at the end of the session.
func (s *Session) Append(rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
}

// Records returns a snapshot of the session in tracking order.
func (s *Session) Records() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.records)
}

// Len returns the number of tracked records.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Reset drops every record.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithPriceTable replaces the built-in price table.
func WithPriceTable(t PriceTable) Option {
	return func(a *Analyzer) { a.prices = t }
}

// WithSession shares an existing session, e.g. across agents of one process.
func WithSession(s *Session) Option {
	return func(a *Analyzer) { a.session = s }
}

// WithLedger persists every tracked record.
func WithLedger(l Ledger) Option {
	return func(a *Analyzer) { a.ledger = l }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) { a.now = now }
}

// Analyzer computes costs and accumulates tracked queries into a Session.
type Analyzer struct {
	prices  PriceTable
	session *Session
	ledger  Ledger
	now     func() time.Time
}

// NewAnalyzer creates an analyzer over the default price table and a fresh session.
func NewAnalyzer(opts ...Option) *Analyzer {
	a := &Analyzer{
		prices:  DefaultPriceTable(),
		session: NewSession(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Prices exposes the active price table.
func (a *Analyzer) Prices() PriceTable { return a.prices }

// Session exposes the active session.
func (a *Analyzer) Session() *Session { return a.session }

// CalculateCost prices a token count. Input and output are rounded to six
// decimal places independently and the total is their sum. Unknown providers
// cost nothing.
func (a *Analyzer) CalculateCost(provider, model string, inputTokens, outputTokens int) Breakdown {
	p, _, ok := a.prices.Lookup(provider, model)
	if !ok {
		return Breakdown{Input: decimal.Zero, Output: decimal.Zero}
	}
	return Breakdown{
		Input:  perMillion(inputTokens, p.InputPerMillion),
		Output: perMillion(outputTokens, p.OutputPerMillion),
	}
}

func perMillion(tokens int, rate decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(int64(tokens)).Mul(rate).Shift(-6).Round(pricePrecision)
}

// TrackInput describes one query to account for.
type TrackInput struct {
	Query        string
	Period       string
	Provider     string
	Model        string
	InputTokens  int
	OutputTokens int
	Tickers      []string
}

// Track prices the query, appends the record to the session and, when a
// ledger is attached, persists it. The record is part of the session even
// when persisting fails.
func (a *Analyzer) Track(ctx context.Context, in TrackInput) (Record, error) {
	rec := a.newRecord(in)
	a.session.Append(rec)

	if a.ledger != nil {
		if err := a.ledger.Append(ctx, rec); err != nil {
			return rec, fmt.Errorf("persist cost record %s: %w", rec.QueryID, err)
		}
	}
	return rec, nil
}

func (a *Analyzer) newRecord(in TrackInput) Record {
	model := in.Model
	if _, resolved, ok := a.prices.Lookup(in.Provider, in.Model); ok && model == "" {
		model = resolved
	}
	return Record{
		QueryID:   uuid.New(),
		Query:     in.Query,
		Period:    in.Period,
		Provider:  in.Provider,
		Model:     model,
		Tickers:   slices.Clone(in.Tickers),
		Tokens:    Tokens{Input: in.InputTokens, Output: in.OutputTokens},
		Cost:      a.CalculateCost(in.Provider, in.Model, in.InputTokens, in.OutputTokens),
		CreatedAt: a.now().UTC(),
	}
}

// Reset clears the in-process session. The ledger is left untouched.
func (a *Analyzer) Reset() {
	a.session.Reset()
}

// Load appends every ledger record to the session, oldest first.
func (a *Analyzer) Load(ctx context.Context) (int, error) {
	if a.ledger == nil {
		return 0, nil
	}
	recs, err := a.ledger.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("load cost ledger: %w", err)
	}
	for _, rec := range recs {
		a.session.Append(rec)
	}
	return len(recs), nil
}

// SessionSummary aggregates the session.
type SessionSummary struct {
	TotalQueries      int      `json:"total_queries"`
	TotalTokens       int      `json:"total_tokens"`
	TotalCostUSD      Amount   `json:"total_cost_usd"`
	AvgCostPerQuery   Amount   `json:"avg_cost_per_query"`
	AvgTokensPerQuery float64  `json:"avg_tokens_per_query"`
	Queries           []Record `json:"queries"`
}

// Summary aggregates every tracked record. It does not modify the session.
func (a *Analyzer) Summary() SessionSummary {
	return summarize(a.session.Records())
}

func summarize(recs []Record) SessionSummary {
	out := SessionSummary{Queries: recs}
	if out.Queries == nil {
		out.Queries = []Record{}
	}

	total := decimal.Zero
	for _, rec := range recs {
		out.TotalTokens += rec.Tokens.Total()
		total = total.Add(rec.Cost.Total())
	}
	out.TotalQueries = len(recs)
	out.TotalCostUSD = Amount{total}
	if n := len(recs); n > 0 {
		out.AvgCostPerQuery = NewAmount(total.Div(decimal.NewFromInt(int64(n))))
		out.AvgTokensPerQuery = float64(out.TotalTokens) / float64(n)
	}
	return out
}

// ModelTotals aggregates one model within a provider.
type ModelTotals struct {
	Queries int    `json:"queries"`
	CostUSD Amount `json:"cost_usd"`
}

// ProviderTotals aggregates one provider.
type ProviderTotals struct {
	Queries      int                    `json:"queries"`
	TotalTokens  int                    `json:"total_tokens"`
	TotalCostUSD Amount                 `json:"total_cost_usd"`
	Models       map[string]ModelTotals `json:"models"`
}

// ProviderBreakdown groups the session by provider. Providers with no
// tracked records have no entry.
func (a *Analyzer) ProviderBreakdown() map[string]ProviderTotals {
	out := make(map[string]ProviderTotals)
	for _, rec := range a.session.Records() {
		pt, ok := out[rec.Provider]
		if !ok {
			pt = ProviderTotals{Models: make(map[string]ModelTotals)}
		}
		pt.Queries++
		pt.TotalTokens += rec.Tokens.Total()
		pt.TotalCostUSD = Amount{pt.TotalCostUSD.Add(rec.Cost.Total())}

		mt := pt.Models[rec.Model]
		mt.Queries++
		mt.CostUSD = Amount{mt.CostUSD.Add(rec.Cost.Total())}
		pt.Models[rec.Model] = mt

		out[rec.Provider] = pt
	}
	return out
}

// ModelCost is the price of one token count on one model.
type ModelCost struct {
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	CostUSD      Breakdown `json:"cost_usd"`
}

// Comparison prices the same token counts on every known model. The session
// is not touched.
func (a *Analyzer) Comparison(inputTokens, outputTokens int) []ModelCost {
	refs := a.prices.Refs()
	out := make([]ModelCost, 0, len(refs))
	for _, ref := range refs {
		out = append(out, ModelCost{
			Provider:     ref.Provider,
			Model:        ref.Model,
			InputTokens:  inputTokens,
			OutputTokens: outputTokens,
			CostUSD:      a.CalculateCost(ref.Provider, ref.Model, inputTokens, outputTokens),
		})
	}
	return out
}

// Preset is a typical token profile used for side-by-side comparisons.
type Preset struct {
	Name         string `json:"name"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

// TypicalPresets are token profiles observed for one, two and five tickers.
var TypicalPresets = []Preset{
	{Name: "single_ticker", InputTokens: 800, OutputTokens: 250},
	{Name: "two_tickers", InputTokens: 1600, OutputTokens: 350},
	{Name: "five_tickers", InputTokens: 3500, OutputTokens: 400},
}

// PresetComparison is the Comparison of one preset plus its extremes.
type PresetComparison struct {
	Preset
	Models        []ModelCost `json:"models"`
	Cheapest      string      `json:"cheapest"`
	MostExpensive string      `json:"most_expensive"`
}

// TypicalComparison runs Comparison over TypicalPresets in order.
func (a *Analyzer) TypicalComparison() []PresetComparison {
	out := make([]PresetComparison, 0, len(TypicalPresets))
	for _, p := range TypicalPresets {
		models := a.Comparison(p.InputTokens, p.OutputTokens)
		pc := PresetComparison{Preset: p, Models: models}
		if len(models) > 0 {
			lo, hi := models[0], models[0]
			for _, m := range models[1:] {
				if m.CostUSD.Total().LessThan(lo.CostUSD.Total()) {
					lo = m
				}
				if m.CostUSD.Total().GreaterThan(hi.CostUSD.Total()) {
					hi = m
				}
			}
			pc.Cheapest = ModelRef{lo.Provider, lo.Model}.String()
			pc.MostExpensive = ModelRef{hi.Provider, hi.Model}.String()
		}
		out = append(out, pc)
	}
	return out
}
