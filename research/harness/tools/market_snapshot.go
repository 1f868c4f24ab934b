package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/ZanzyTHEbar/investment-research/research/harness"
	ports "github.com/ZanzyTHEbar/investment-research/research/harness/ports"
)

// MarketSnapshotSchema defines the JSON schema for market snapshot parameters.
const MarketSnapshotSchema = `{
  "type": "object",
  "properties": {
    "ticker": {
      "type": "string",
      "minLength": 1,
      "description": "Instrument symbol, e.g. AAPL"
    },
    "period": {
      "type": "string",
      "pattern": "^([0-9]+(d|wk|mo|y)|ytd|max)$",
      "description": "Lookback window"
    },
    "interval": {
      "type": "string",
      "enum": ["1d", "1wk", "1mo"],
      "default": "1d"
    },
    "benchmarks": {
      "type": "array",
      "items": {"type": "string"},
      "maxItems": 5,
      "description": "Symbols to compare the period return against"
    }
  },
  "required": ["ticker", "period"],
  "additionalProperties": false
}`

// MarketSnapshotOutputSchema accepts either a snapshot or the error shape.
const MarketSnapshotOutputSchema = `{
  "anyOf": [
    {
      "type": "object",
      "additionalProperties": false,
      "required": ["ticker", "asof", "period", "interval", "prices", "risk", "trend", "volume", "relative", "notes"],
      "properties": {
        "ticker": {"type": "string"},
        "asof": {"type": "string"},
        "period": {"type": "string"},
        "interval": {"type": "string"},
        "prices": {
          "type": "object",
          "additionalProperties": false,
          "required": ["start", "end", "return_pct", "max_drawdown_pct"],
          "properties": {
            "start": {"type": "number"},
            "end": {"type": "number"},
            "return_pct": {"type": "number"},
            "max_drawdown_pct": {"type": "number"}
          }
        },
        "risk": {
          "type": "object",
          "additionalProperties": false,
          "required": ["volatility_ann_pct", "atr_14"],
          "properties": {
            "volatility_ann_pct": {"type": "number"},
            "atr_14": {"type": "number"}
          }
        },
        "trend": {
          "type": "object",
          "additionalProperties": false,
          "required": ["sma_20", "sma_50", "trend_label"],
          "properties": {
            "sma_20": {"type": "number"},
            "sma_50": {"type": "number"},
            "trend_label": {"type": "string", "enum": ["bullish", "bearish", "sideways"]}
          }
        },
        "volume": {
          "type": "object",
          "additionalProperties": false,
          "required": ["avg_20d", "latest", "zscore_latest"],
          "properties": {
            "avg_20d": {"type": "number"},
            "latest": {"type": "number"},
            "zscore_latest": {"type": "number"}
          }
        },
        "relative": {"type": "array"},
        "notes": {"type": "array"}
      }
    },
    ` + errorShapeSchema + `
  ]
}`

// errorShapeSchema is the in-band failure branch of every output schema.
const errorShapeSchema = `{
      "type": "object",
      "additionalProperties": false,
      "required": ["error", "ticker", "reason"],
      "properties": {
        "error": {"type": "string"},
        "ticker": {"type": "string"},
        "reason": {"type": "string"}
      }
    }`

const tradingDaysPerYear = 252

// Snapshot is the market_snapshot payload.
type Snapshot struct {
	Ticker   string           `json:"ticker"`
	AsOf     string           `json:"asof"`
	Period   string           `json:"period"`
	Interval string           `json:"interval"`
	Prices   SnapshotPrices   `json:"prices"`
	Risk     SnapshotRisk     `json:"risk"`
	Trend    SnapshotTrend    `json:"trend"`
	Volume   SnapshotVolume   `json:"volume"`
	Relative []RelativeReturn `json:"relative"`
	Notes    []string         `json:"notes"`
}

type SnapshotPrices struct {
	Start          float64 `json:"start"`
	End            float64 `json:"end"`
	ReturnPct      float64 `json:"return_pct"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
}

type SnapshotRisk struct {
	VolatilityAnnPct float64 `json:"volatility_ann_pct"`
	ATR14            float64 `json:"atr_14"`
}

type SnapshotTrend struct {
	SMA20      float64 `json:"sma_20"`
	SMA50      float64 `json:"sma_50"`
	TrendLabel string  `json:"trend_label"`
}

type SnapshotVolume struct {
	Avg20d       float64 `json:"avg_20d"`
	Latest       float64 `json:"latest"`
	ZScoreLatest float64 `json:"zscore_latest"`
}

// RelativeReturn is a benchmark's return over the same window.
type RelativeReturn struct {
	Ticker    string  `json:"ticker"`
	ReturnPct float64 `json:"return_pct"`
}

// MarketSnapshotTool computes price, risk, trend and volume metrics from
// OHLCV history.
type MarketSnapshotTool struct {
	market MarketData
}

// NewMarketSnapshotTool creates the market_snapshot tool over market.
func NewMarketSnapshotTool(market MarketData) *MarketSnapshotTool {
	return &MarketSnapshotTool{market: market}
}

// Name returns the tool name.
func (t *MarketSnapshotTool) Name() string { return harness.ToolMarketSnapshot }

// Schema returns the JSON schema for tool parameters.
func (t *MarketSnapshotTool) Schema() []byte { return []byte(MarketSnapshotSchema) }

// OutputSchema returns the JSON schema for the payload.
func (t *MarketSnapshotTool) OutputSchema() []byte { return []byte(MarketSnapshotOutputSchema) }

// Invoke executes the market snapshot tool.
func (t *MarketSnapshotTool) Invoke(ctx context.Context, args json.RawMessage) (any, error) {
	var params struct {
		Ticker     string   `json:"ticker"`
		Period     string   `json:"period"`
		Interval   string   `json:"interval"`
		Benchmarks []string `json:"benchmarks"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if params.Interval == "" {
		params.Interval = "1d"
	}

	bars, err := t.market.History(ctx, params.Ticker, params.Period, params.Interval)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil || len(bars) == 0 {
		return noData(params.Ticker, reasonEmptyHistory), nil
	}

	snap := computeSnapshot(bars)
	snap.Ticker = params.Ticker
	snap.Period = params.Period
	snap.Interval = params.Interval

	for _, bench := range params.Benchmarks {
		bb, err := t.market.History(ctx, bench, params.Period, params.Interval)
		if err != nil || len(bb) == 0 {
			continue
		}
		snap.Relative = append(snap.Relative, RelativeReturn{Ticker: bench, ReturnPct: returnPct(closes(bb))})
	}
	return snap, nil
}

// computeSnapshot derives every metric from bars, which must not be empty.
func computeSnapshot(bars []Bar) Snapshot {
	c := closes(bars)
	vol := make([]float64, len(bars))
	tr := make([]float64, len(bars))
	for i, b := range bars {
		vol[i] = b.Volume
		tr[i] = trueRange(bars, i)
	}

	sma20 := tailMean(c, 20)
	sma50 := tailMean(c, 50)
	latest := vol[len(vol)-1]

	return Snapshot{
		AsOf: bars[len(bars)-1].Time.Format("2006-01-02"),
		Prices: SnapshotPrices{
			Start:          c[0],
			End:            c[len(c)-1],
			ReturnPct:      returnPct(c),
			MaxDrawdownPct: maxDrawdownPct(c),
		},
		Risk: SnapshotRisk{
			VolatilityAnnPct: annualizedVolatilityPct(c),
			ATR14:            tailMean(tr, 14),
		},
		Trend: SnapshotTrend{
			SMA20:      sma20,
			SMA50:      sma50,
			TrendLabel: trendLabel(sma20, sma50),
		},
		Volume: SnapshotVolume{
			Avg20d:       tailMean(vol, 20),
			Latest:       latest,
			ZScoreLatest: zScore(latest, tail(vol, 20)),
		},
		Relative: []RelativeReturn{},
		Notes:    []string{},
	}
}

func closes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

func returnPct(c []float64) float64 {
	if len(c) == 0 || c[0] == 0 {
		return 0
	}
	return (c[len(c)-1]/c[0] - 1) * 100
}

func maxDrawdownPct(c []float64) float64 {
	dd := make([]float64, len(c))
	peak := math.Inf(-1)
	for i, v := range c {
		peak = math.Max(peak, v)
		if peak != 0 {
			dd[i] = (v/peak - 1) * 100
		}
	}
	return floats.Min(dd)
}

// annualizedVolatilityPct is the sample std of period returns scaled by
// sqrt(252).
func annualizedVolatilityPct(c []float64) float64 {
	rets := make([]float64, 0, len(c))
	for i := 1; i < len(c); i++ {
		if c[i-1] == 0 {
			continue
		}
		rets = append(rets, c[i]/c[i-1]-1)
	}
	if len(rets) < 2 {
		return 0
	}
	return stat.StdDev(rets, nil) * math.Sqrt(tradingDaysPerYear) * 100
}

// trueRange of bar i; the first bar has no previous close.
func trueRange(bars []Bar, i int) float64 {
	hl := math.Abs(bars[i].High - bars[i].Low)
	if i == 0 {
		return hl
	}
	pc := bars[i-1].Close
	return floats.Max([]float64{hl, math.Abs(bars[i].High - pc), math.Abs(bars[i].Low - pc)})
}

func tail(x []float64, n int) []float64 {
	if len(x) <= n {
		return x
	}
	return x[len(x)-n:]
}

// tailMean is the rolling mean of the last n values, or the mean of all of
// them when there are fewer than n.
func tailMean(x []float64, n int) float64 {
	return stat.Mean(tail(x, n), nil)
}

func trendLabel(sma20, sma50 float64) string {
	switch {
	case sma20 > sma50*1.01:
		return "bullish"
	case sma20 < sma50*0.99:
		return "bearish"
	default:
		return "sideways"
	}
}

func zScore(latest float64, window []float64) float64 {
	if len(window) < 2 {
		return 0
	}
	mean, std := stat.MeanStdDev(window, nil)
	if std == 0 || math.IsNaN(std) {
		return 0
	}
	return (latest - mean) / std
}

var _ ports.Tool = (*MarketSnapshotTool)(nil)
