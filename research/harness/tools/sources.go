package tools

import (
	"context"
	"errors"
	"time"
)

// ErrNoData is returned by sources that have nothing for a ticker.
var ErrNoData = errors.New("no data")

// Bar is one OHLCV observation.
type Bar struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// MarketData serves price history.
type MarketData interface {
	History(ctx context.Context, ticker, period, interval string) ([]Bar, error)
}

// FundamentalsSource serves company profile data keyed by Yahoo-style field
// names (marketCap, trailingPE, sector, ...) and the event calendar.
type FundamentalsSource interface {
	Info(ctx context.Context, ticker string) (map[string]any, error)
	Calendar(ctx context.Context, ticker string) (map[string]any, error)
}

// Article is one news item.
type Article struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	PublishedAt string `json:"publishedAt"`
}

// NewsSource serves recent articles about a ticker.
type NewsSource interface {
	Articles(ctx context.Context, ticker string, lookbackDays int) ([]Article, error)
}

// Sources bundles the data sources behind the research tools. News may be
// nil, in which case sentiment falls back to the built-in table.
type Sources struct {
	Market       MarketData
	Fundamentals FundamentalsSource
	News         NewsSource
	Now          func() time.Time
}

func (s Sources) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// errorPayload is the in-band failure shape shared by every tool.
type errorPayload struct {
	Error  string `json:"error"`
	Ticker string `json:"ticker"`
	Reason string `json:"reason"`
}

const (
	codeNoData         = "NO_DATA"
	reasonEmptyHistory = "invalid ticker or empty history"
)

func noData(ticker, reason string) errorPayload {
	return errorPayload{Error: codeNoData, Ticker: ticker, Reason: reason}
}
