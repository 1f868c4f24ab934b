package tools

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// FixtureEnd is the last trading day of every fixture series.
var FixtureEnd = time.Date(2025, time.June, 30, 0, 0, 0, 0, time.UTC)

var validTicker = regexp.MustCompile(`^[A-Z0-9][A-Z0-9.\-^=]{0,9}$`)

// FixtureSource is an offline, deterministic data source. Every well-formed
// ticker gets a synthetic daily series seeded from its symbol, so a longer
// period always extends a shorter one. Fundamentals exist only for the
// tickers in the built-in table.
type FixtureSource struct{}

// NewFixtureSource creates the offline source.
func NewFixtureSource() *FixtureSource { return &FixtureSource{} }

// History returns the tail of the ticker's synthetic series covering period.
func (f *FixtureSource) History(ctx context.Context, ticker, period, interval string) ([]Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if !validTicker.MatchString(ticker) {
		return nil, fmt.Errorf("%w: invalid ticker %q", ErrNoData, ticker)
	}
	n, err := periodBars(period)
	if err != nil {
		return nil, err
	}

	series := syntheticSeries(ticker, n)
	step := intervalStep(interval)
	if step == 1 {
		return series, nil
	}
	out := make([]Bar, 0, len(series)/step+1)
	for i := len(series) - 1; i >= 0; i -= step {
		out = append(out, series[i])
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Info returns the fixture fundamentals for ticker.
func (f *FixtureSource) Info(ctx context.Context, ticker string) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	row, ok := fixtureFundamentals[strings.ToUpper(ticker)]
	if !ok {
		return nil, fmt.Errorf("%w: no fundamentals for %q", ErrNoData, ticker)
	}
	info := make(map[string]any, len(row)+1)
	for k, v := range row {
		info[k] = v
	}
	info["regularMarketTime"] = FixtureEnd.Unix()
	return info, nil
}

// Calendar returns the next earnings and dividend dates for equities and an
// empty calendar for funds.
func (f *FixtureSource) Calendar(ctx context.Context, ticker string) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	row, ok := fixtureFundamentals[strings.ToUpper(ticker)]
	if !ok {
		return nil, fmt.Errorf("%w: no calendar for %q", ErrNoData, ticker)
	}
	if row["quoteType"] != "EQUITY" {
		return map[string]any{}, nil
	}
	h := tickerHash(ticker)
	earnings := FixtureEnd.AddDate(0, 0, 20+int(h%40))
	exDiv := FixtureEnd.AddDate(0, 0, -int(h%60))
	return map[string]any{
		"Earnings Date":    []string{earnings.Format("2006-01-02")},
		"Ex-Dividend Date": exDiv.Format("2006-01-02"),
	}, nil
}

func tickerHash(ticker string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(ticker))
	return h.Sum64()
}

// syntheticSeries generates the last n weekday bars of a geometric random
// walk whose drift, volatility and starting price derive from the ticker.
func syntheticSeries(ticker string, n int) []Bar {
	seed := tickerHash(ticker)
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	drift := -0.0005 + float64(seed%1700)/1e6
	sigma := 0.008 + float64((seed>>16)%220)/1e4
	price := 20 + float64((seed>>32)%480)
	baseVolume := 1e6 + float64((seed>>8)%9_000_000)

	// Walk the full history so every period is a suffix of the same series.
	total := max(n, maxFixtureBars)
	closes := make([]float64, total)
	for i := range closes {
		price *= math.Exp(drift - sigma*sigma/2 + sigma*rng.NormFloat64())
		closes[i] = price
	}

	dates := weekdaysEndingAt(FixtureEnd, total)
	bars := make([]Bar, total)
	prev := closes[0]
	for i, c := range closes {
		spread := c * sigma * (0.5 + rng.Float64())
		open := prev
		bars[i] = Bar{
			Time:   dates[i],
			Open:   open,
			High:   math.Max(open, c) + spread/2,
			Low:    math.Max(0.01, math.Min(open, c)-spread/2),
			Close:  c,
			Volume: math.Round(baseVolume * (0.6 + 0.8*rng.Float64())),
		}
		prev = c
	}
	return bars[total-n:]
}

func weekdaysEndingAt(end time.Time, n int) []time.Time {
	out := make([]time.Time, n)
	d := end
	for i := n - 1; i >= 0; {
		if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
			out[i] = d
			i--
		}
		d = d.AddDate(0, 0, -1)
	}
	return out
}

const maxFixtureBars = 5 * tradingDaysPerYear

// periodBars converts a Yahoo-style range into a number of daily bars.
func periodBars(period string) (int, error) {
	switch period {
	case "ytd":
		return FixtureEnd.YearDay() * 5 / 7, nil
	case "max":
		return maxFixtureBars, nil
	}
	units := []struct {
		suffix string
		bars   int
	}{{"d", 1}, {"wk", 5}, {"mo", 21}, {"y", tradingDaysPerYear}}
	for _, u := range units {
		if num, ok := strings.CutSuffix(period, u.suffix); ok {
			k, err := strconv.Atoi(num)
			if err != nil || k <= 0 {
				break
			}
			return min(k*u.bars, maxFixtureBars), nil
		}
	}
	return 0, fmt.Errorf("%w: unsupported period %q", ErrNoData, period)
}

func intervalStep(interval string) int {
	switch interval {
	case "1wk":
		return 5
	case "1mo":
		return 21
	default:
		return 1
	}
}

// fixtureFundamentals uses Yahoo quote field names.
var fixtureFundamentals = map[string]map[string]any{
	"AAPL":  {"quoteType": "EQUITY", "marketCap": 3.05e12, "trailingPE": 31.2, "forwardPE": 28.4, "trailingEps": 6.42, "forwardEps": 7.05, "priceToBook": 45.1, "dividendYield": 0.0048, "profitMargins": 0.243, "beta": 1.21, "sector": "Technology", "industry": "Consumer Electronics"},
	"MSFT":  {"quoteType": "EQUITY", "marketCap": 3.42e12, "trailingPE": 35.6, "forwardPE": 31.0, "trailingEps": 12.93, "forwardEps": 14.85, "priceToBook": 10.7, "dividendYield": 0.0072, "profitMargins": 0.359, "beta": 0.9, "sector": "Technology", "industry": "Software - Infrastructure"},
	"NVDA":  {"quoteType": "EQUITY", "marketCap": 3.8e12, "trailingPE": 50.3, "forwardPE": 33.9, "trailingEps": 3.1, "forwardEps": 4.6, "priceToBook": 45.9, "dividendYield": 0.0003, "profitMargins": 0.523, "beta": 2.1, "sector": "Technology", "industry": "Semiconductors"},
	"GOOGL": {"quoteType": "EQUITY", "marketCap": 2.1e12, "trailingPE": 19.4, "forwardPE": 18.2, "trailingEps": 8.97, "forwardEps": 9.55, "priceToBook": 6.2, "dividendYield": 0.0046, "profitMargins": 0.308, "beta": 1.0, "sector": "Communication Services", "industry": "Internet Content & Information"},
	"AMZN":  {"quoteType": "EQUITY", "marketCap": 2.3e12, "trailingPE": 35.1, "forwardPE": 32.5, "trailingEps": 6.13, "forwardEps": 6.75, "priceToBook": 7.5, "dividendYield": nil, "profitMargins": 0.101, "beta": 1.31, "sector": "Consumer Cyclical", "industry": "Internet Retail"},
	"TSLA":  {"quoteType": "EQUITY", "marketCap": 1.02e12, "trailingPE": 180.4, "forwardPE": 120.7, "trailingEps": 1.76, "forwardEps": 2.63, "priceToBook": 13.9, "dividendYield": nil, "profitMargins": 0.064, "beta": 2.4, "sector": "Consumer Cyclical", "industry": "Auto Manufacturers"},
	"META":  {"quoteType": "EQUITY", "marketCap": 1.8e12, "trailingPE": 27.3, "forwardPE": 25.8, "trailingEps": 25.59, "forwardEps": 27.1, "priceToBook": 9.3, "dividendYield": 0.0029, "profitMargins": 0.391, "beta": 1.27, "sector": "Communication Services", "industry": "Internet Content & Information"},
	"SPY":   {"quoteType": "ETF", "trailingPE": 26.5, "dividendYield": 0.0121, "beta": 1.0},
	"QQQ":   {"quoteType": "ETF", "trailingPE": 33.1, "dividendYield": 0.0055, "beta": 1.18},
	"TLT":   {"quoteType": "ETF", "dividendYield": 0.0441, "beta": 0.21},
	"GLD":   {"quoteType": "ETF", "beta": 0.12},
}

var (
	_ MarketData         = (*FixtureSource)(nil)
	_ FundamentalsSource = (*FixtureSource)(nil)
)
