package cost

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockLedger is a mock implementation of Ledger.
type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) Append(ctx context.Context, rec Record) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *MockLedger) List(ctx context.Context) ([]Record, error) {
	args := m.Called(ctx)
	if recs := args.Get(0); recs != nil {
		return recs.([]Record), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockLedger) Reset(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

var _ Ledger = (*MockLedger)(nil)

func usd(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func fixedClock() func() time.Time {
	ts := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return ts }
}

// TestCalculateCost_KnownModels tests per-million pricing and rounding.
func TestCalculateCost_KnownModels(t *testing.T) {
	a := NewAnalyzer()

	b := a.CalculateCost("openai", "gpt-4o-mini", 1000, 200)
	assert.True(t, b.Input.Equal(usd("0.00015")), b.Input.String())
	assert.True(t, b.Output.Equal(usd("0.00012")), b.Output.String())
	assert.True(t, b.Total().Equal(usd("0.00027")), b.Total().String())

	b = a.CalculateCost("anthropic", "claude-3-5-sonnet-20241022", 800, 250)
	assert.True(t, b.Total().Equal(usd("0.00615")), b.Total().String())

	// 1 token of gpt-4o-mini input is 1.5e-7 and rounds to zero at six places
	b = a.CalculateCost("openai", "gpt-4o-mini", 1, 0)
	assert.True(t, b.Total().IsZero())
}

// TestCalculateCost_ZeroTokens tests that no usage is free on every model.
func TestCalculateCost_ZeroTokens(t *testing.T) {
	a := NewAnalyzer()
	for _, ref := range a.Prices().Refs() {
		b := a.CalculateCost(ref.Provider, ref.Model, 0, 0)
		assert.True(t, b.Total().IsZero(), ref.String())
	}
}

// TestCalculateCost_Fallbacks tests unknown model and unknown provider handling.
func TestCalculateCost_Fallbacks(t *testing.T) {
	a := NewAnalyzer()

	unknownModel := a.CalculateCost("openai", "gpt-99", 1000, 200)
	defaultModel := a.CalculateCost("openai", "gpt-4o-mini", 1000, 200)
	assert.True(t, unknownModel.Total().Equal(defaultModel.Total()))

	unknownProvider := a.CalculateCost("mystery", "m", 1_000_000, 1_000_000)
	assert.True(t, unknownProvider.Total().IsZero())
}

// TestCalculateCost_Deterministic tests that identical inputs give identical output.
func TestCalculateCost_Deterministic(t *testing.T) {
	a := NewAnalyzer()
	first := a.CalculateCost("gemini", "gemini-1.5-pro", 12345, 678)
	for range 10 {
		again := a.CalculateCost("gemini", "gemini-1.5-pro", 12345, 678)
		assert.True(t, first.Input.Equal(again.Input))
		assert.True(t, first.Output.Equal(again.Output))
	}
}

// TestTrack_RecordFields tests the record built for a tracked query.
func TestTrack_RecordFields(t *testing.T) {
	a := NewAnalyzer(WithClock(fixedClock()))

	rec, err := a.Track(context.Background(), TrackInput{
		Query:        "compare AAPL vs MSFT",
		Period:       "3mo",
		Provider:     "openai",
		Model:        "gpt-4o-mini",
		InputTokens:  1000,
		OutputTokens: 200,
		Tickers:      []string{"AAPL", "MSFT"},
	})
	require.NoError(t, err)

	assert.Equal(t, 1200, rec.Tokens.Total())
	assert.InDelta(t, 0.00027, rec.Cost.Total().InexactFloat64(), 1e-12)
	assert.True(t, rec.Cost.Total().Equal(rec.Cost.Input.Add(rec.Cost.Output)))
	assert.Equal(t, 600.0, rec.PerTickerTokens())
	assert.True(t, rec.PerTickerCost().Equal(usd("0.000135")), rec.PerTickerCost().String())
	assert.Equal(t, time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC), rec.CreatedAt)
	assert.NotEmpty(t, rec.QueryID.String())
	assert.Equal(t, 1, a.Session().Len())
}

// TestTrack_PerTickerIsRealValued tests that per-ticker tokens are not truncated.
func TestTrack_PerTickerIsRealValued(t *testing.T) {
	a := NewAnalyzer()

	rec, err := a.Track(context.Background(), TrackInput{
		Provider: "openai", InputTokens: 1000, OutputTokens: 1,
		Tickers: []string{"A", "B", "C"},
	})
	require.NoError(t, err)
	assert.InDelta(t, 1001.0/3.0, rec.PerTickerTokens(), 1e-9)

	rec, err = a.Track(context.Background(), TrackInput{Provider: "openai", InputTokens: 7, OutputTokens: 0})
	require.NoError(t, err)
	assert.Equal(t, 7.0, rec.PerTickerTokens())
	assert.Equal(t, "gpt-4o-mini", rec.Model)
}

// TestTrack_MarshalJSON tests the external record shape.
func TestTrack_MarshalJSON(t *testing.T) {
	a := NewAnalyzer(WithClock(fixedClock()))
	rec, err := a.Track(context.Background(), TrackInput{
		Provider: "openai", Model: "gpt-4o-mini",
		InputTokens: 1000, OutputTokens: 200, Tickers: []string{"AAPL", "MSFT"},
	})
	require.NoError(t, err)

	raw, err := json.Marshal(rec)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, map[string]any{"input": 1000.0, "output": 200.0, "total": 1200.0}, decoded["tokens"])
	assert.Equal(t, map[string]any{"input": 0.00015, "output": 0.00012, "total": 0.00027}, decoded["cost_usd"])
	assert.Equal(t, 600.0, decoded["per_ticker_tokens"])
	assert.Equal(t, 0.000135, decoded["per_ticker_cost"])
}

// TestSummary_Idempotent tests that reading the summary does not change it.
func TestSummary_Idempotent(t *testing.T) {
	a := NewAnalyzer(WithClock(fixedClock()))
	ctx := context.Background()
	_, _ = a.Track(ctx, TrackInput{Provider: "openai", InputTokens: 1000, OutputTokens: 200, Tickers: []string{"AAPL"}})
	_, _ = a.Track(ctx, TrackInput{Provider: "anthropic", InputTokens: 800, OutputTokens: 250, Tickers: []string{"MSFT"}})

	first := a.Summary()
	second := a.Summary()
	assert.Equal(t, first, second)

	assert.Equal(t, 2, first.TotalQueries)
	assert.Equal(t, 2250, first.TotalTokens)
	assert.True(t, first.TotalCostUSD.Equal(usd("0.00642")), first.TotalCostUSD.String())
	assert.True(t, first.AvgCostPerQuery.Equal(usd("0.00321")), first.AvgCostPerQuery.String())
	assert.Equal(t, 1125.0, first.AvgTokensPerQuery)
	assert.Len(t, first.Queries, 2)
}

// TestSummary_EmptyAndReset tests the empty session and the explicit reset.
func TestSummary_EmptyAndReset(t *testing.T) {
	a := NewAnalyzer()
	empty := a.Summary()
	assert.Equal(t, 0, empty.TotalQueries)
	assert.True(t, empty.TotalCostUSD.IsZero())
	assert.NotNil(t, empty.Queries)

	_, _ = a.Track(context.Background(), TrackInput{Provider: "openai", InputTokens: 10})
	require.Equal(t, 1, a.Summary().TotalQueries)

	a.Reset()
	assert.Equal(t, 0, a.Summary().TotalQueries)
}

// TestProviderBreakdown tests grouping by provider and model.
func TestProviderBreakdown(t *testing.T) {
	a := NewAnalyzer()
	ctx := context.Background()
	_, _ = a.Track(ctx, TrackInput{Provider: "openai", Model: "gpt-4o-mini", InputTokens: 1000, OutputTokens: 200})
	_, _ = a.Track(ctx, TrackInput{Provider: "openai", Model: "gpt-4-turbo", InputTokens: 1000, OutputTokens: 200})
	_, _ = a.Track(ctx, TrackInput{Provider: "openai", Model: "gpt-4o-mini", InputTokens: 1000, OutputTokens: 200})

	breakdown := a.ProviderBreakdown()
	require.Contains(t, breakdown, "openai")
	assert.NotContains(t, breakdown, "anthropic")
	assert.NotContains(t, breakdown, "gemini")

	openai := breakdown["openai"]
	assert.Equal(t, 3, openai.Queries)
	assert.Equal(t, 3600, openai.TotalTokens)
	assert.Equal(t, 2, openai.Models["gpt-4o-mini"].Queries)
	assert.True(t, openai.Models["gpt-4o-mini"].CostUSD.Equal(usd("0.00054")))
	// gpt-4-turbo: 1000*10/1e6 + 200*30/1e6
	assert.True(t, openai.Models["gpt-4-turbo"].CostUSD.Equal(usd("0.016")))
	assert.True(t, openai.TotalCostUSD.Equal(usd("0.01654")))
}

// TestComparison_IsPure tests that comparing models leaves the session alone.
func TestComparison_IsPure(t *testing.T) {
	a := NewAnalyzer()
	models := a.Comparison(800, 250)

	assert.Len(t, models, len(a.Prices().Refs()))
	assert.Equal(t, 0, a.Session().Len())

	for i := 1; i < len(models); i++ {
		prev, cur := models[i-1], models[i]
		assert.True(t, prev.Provider < cur.Provider || (prev.Provider == cur.Provider && prev.Model < cur.Model))
	}
}

// TestTypicalComparison tests the preset comparison extremes.
func TestTypicalComparison(t *testing.T) {
	a := NewAnalyzer()
	presets := a.TypicalComparison()
	require.Len(t, presets, 3)

	assert.Equal(t, "single_ticker", presets[0].Name)
	assert.Equal(t, "gemini/gemini-1.5-flash", presets[0].Cheapest)
	assert.Equal(t, "anthropic/claude-3-opus-20250219", presets[0].MostExpensive)
	assert.Equal(t, "five_tickers", presets[2].Name)
	assert.Equal(t, 3500, presets[2].InputTokens)
}

// TestBatchAnalyze tests the deterministic token heuristic and totals.
func TestBatchAnalyze(t *testing.T) {
	a := NewAnalyzer()
	result := a.BatchAnalyze([]BatchQuery{
		{Query: "trend for AAPL", Tickers: []string{"AAPL"}},
		{Query: "compare AAPL vs MSFT", Tickers: []string{"AAPL", "MSFT"}},
		{Query: "macro proxies"},
	}, "openai", "")

	assert.Equal(t, "gpt-4o-mini", result.Model)
	assert.Equal(t, 3, result.TotalQueries)
	require.Len(t, result.PerQuery, 3)

	assert.Equal(t, Tokens{Input: 800, Output: 250}, result.PerQuery[0].Tokens)
	assert.Equal(t, Tokens{Input: 1200, Output: 300}, result.PerQuery[1].Tokens)
	assert.Equal(t, Tokens{Input: 800, Output: 250}, result.PerQuery[2].Tokens)

	assert.Equal(t, 1050+1500+1050, result.TotalTokens)
	assert.True(t, result.TotalCostUSD.Equal(usd("0.0009")), result.TotalCostUSD.String())
	assert.True(t, result.AvgCostPerQuery.Equal(usd("0.0003")), result.AvgCostPerQuery.String())

	// The analyzer's own session is untouched
	assert.Equal(t, 0, a.Session().Len())
}

// TestBatchAnalyze_Empty tests a batch with no queries.
func TestBatchAnalyze_Empty(t *testing.T) {
	result := NewAnalyzer().BatchAnalyze(nil, "anthropic", "")
	assert.Equal(t, "claude-3-5-sonnet-20241022", result.Model)
	assert.Equal(t, 0, result.TotalQueries)
	assert.True(t, result.AvgCostPerQuery.IsZero())
}

// TestMonthlyProjection tests the 30 and 365 day multipliers.
func TestMonthlyProjection(t *testing.T) {
	p := NewAnalyzer().MonthlyProjection("openai", "", 20, 2)

	assert.True(t, p.CostPerQuery.Equal(usd("0.00036")), p.CostPerQuery.String())
	assert.True(t, p.Daily.Equal(usd("0.0072")), p.Daily.String())
	assert.True(t, p.Monthly.Equal(usd("0.216")), p.Monthly.String())
	assert.True(t, p.Yearly.Equal(usd("2.628")), p.Yearly.String())
}

// TestTrack_Concurrent tests that concurrent tracking never loses a record.
func TestTrack_Concurrent(t *testing.T) {
	a := NewAnalyzer()
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = a.Track(context.Background(), TrackInput{Provider: "openai", InputTokens: 100, OutputTokens: 10})
			_ = a.Summary()
		}()
	}
	wg.Wait()

	summary := a.Summary()
	assert.Equal(t, 50, summary.TotalQueries)
	assert.Equal(t, 5500, summary.TotalTokens)
}

// TestTrack_WithLedger tests persistence and the error path.
func TestTrack_WithLedger(t *testing.T) {
	ledger := new(MockLedger)
	ledger.On("Append", mock.Anything, mock.AnythingOfType("cost.Record")).Return(nil).Once()
	ledger.On("Append", mock.Anything, mock.AnythingOfType("cost.Record")).Return(errors.New("disk full")).Once()

	a := NewAnalyzer(WithLedger(ledger))
	ctx := context.Background()

	_, err := a.Track(ctx, TrackInput{Provider: "openai", InputTokens: 10})
	require.NoError(t, err)

	_, err = a.Track(ctx, TrackInput{Provider: "openai", InputTokens: 10})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	// The session keeps both records regardless of persistence
	assert.Equal(t, 2, a.Session().Len())
	ledger.AssertExpectations(t)
}

// TestLoad tests restoring a session from the ledger.
func TestLoad(t *testing.T) {
	seed := NewAnalyzer()
	rec, _ := seed.Track(context.Background(), TrackInput{Provider: "anthropic", InputTokens: 800, OutputTokens: 250})

	ledger := new(MockLedger)
	ledger.On("List", mock.Anything).Return([]Record{rec}, nil)

	a := NewAnalyzer(WithLedger(ledger))
	n, err := a.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, a.Summary().TotalCostUSD.Equal(usd("0.00615")))
}

// BenchmarkCalculateCost benchmarks pricing a single call.
func BenchmarkCalculateCost(b *testing.B) {
	a := NewAnalyzer()
	for b.Loop() {
		_ = a.CalculateCost("anthropic", "claude-3-5-sonnet-20241022", 1600, 350)
	}
}
