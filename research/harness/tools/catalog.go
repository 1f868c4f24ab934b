package tools

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/investment-research/research/config"
	"github.com/ZanzyTHEbar/investment-research/research/harness"
)

// SentimentPricePerCall is the charge for one sentiment_analysis call.
const SentimentPricePerCall = 0.05

// Catalog returns the built-in tools in registration order.
func Catalog(sources Sources, logger zerolog.Logger) []harness.ToolSpec {
	return []harness.ToolSpec{
		{
			Name:            harness.ToolMarketSnapshot,
			Tool:            NewMarketSnapshotTool(sources.Market),
			BudgetPerTicker: 1,
			Description:     "Price return, max drawdown, annualized volatility, ATR, SMA trend and volume z-score over a lookback period.",
			UsageExamples: []string{
				`{"ticker": "AAPL", "period": "3mo"}`,
				`{"ticker": "NVDA", "period": "6mo", "benchmarks": ["SPY", "QQQ"]}`,
			},
			DefaultArgs: func(period string) map[string]any {
				return map[string]any{"period": period, "interval": "1d"}
			},
		},
		{
			Name:            harness.ToolFundamentals,
			Tool:            NewFundamentalsEventsTool(sources.Fundamentals),
			BudgetPerTicker: 1,
			Description:     "Valuation, profitability and profile fields plus upcoming earnings and dividend dates.",
			UsageExamples: []string{
				`{"ticker": "MSFT"}`,
				`{"ticker": "AAPL", "fields": ["trailingPE", "marketCap"], "include_calendar": false}`,
			},
			DefaultArgs: func(string) map[string]any {
				return map[string]any{"include_calendar": true, "lookback_days": 90}
			},
		},
		{
			Name:            harness.ToolSentiment,
			Tool:            NewSentimentAnalysisTool(sources, logger),
			IsPaid:          true,
			PricePerCall:    SentimentPricePerCall,
			BudgetPerTicker: 1,
			Description:     "News and analyst sentiment score in [-1, 1] with consensus, trend and top headlines.",
			UsageExamples: []string{
				`{"ticker": "NVDA"}`,
				`{"ticker": "TLT", "lookback_days": 14}`,
			},
			DefaultArgs: func(string) map[string]any {
				return map[string]any{"lookback_days": defaultLookbackDays}
			},
		},
	}
}

// NewRegistry registers every catalog tool.
func NewRegistry(sources Sources, logger zerolog.Logger) (*harness.ToolRegistry, error) {
	reg := harness.NewToolRegistry()
	for _, spec := range Catalog(sources, logger) {
		if err := reg.Register(spec); err != nil {
			return nil, fmt.Errorf("register %s: %w", spec.Name, err)
		}
	}
	return reg, nil
}

// NewSources picks the fixture source when offline and the Yahoo and NewsAPI
// clients otherwise. News stays nil without an API key.
func NewSources(cfg *config.Config) Sources {
	if cfg.Agent.Offline {
		fx := NewFixtureSource()
		return Sources{Market: fx, Fundamentals: fx}
	}

	yahoo := NewYahooSource(cfg.Data.YahooBaseURL, cfg.Data.HTTPTimeout)
	src := Sources{Market: yahoo, Fundamentals: yahoo}
	if news := NewNewsAPISource(cfg.Data.NewsAPIURL, cfg.Data.NewsAPIKey, cfg.Data.HTTPTimeout); news != nil {
		src.News = news
	}
	return src
}
