package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/ZanzyTHEbar/investment-research/research/harness"
	ports "github.com/ZanzyTHEbar/investment-research/research/harness/ports"
)

// FundamentalsEventsSchema defines the JSON schema for fundamentals parameters.
const FundamentalsEventsSchema = `{
  "type": "object",
  "properties": {
    "ticker": {
      "type": "string",
      "minLength": 1
    },
    "fields": {
      "type": "array",
      "items": {"type": "string"},
      "description": "Subset of fundamentals to return; unknown fields are ignored"
    },
    "include_calendar": {
      "type": "boolean",
      "default": true
    },
    "lookback_days": {
      "type": "integer",
      "minimum": 1,
      "maximum": 3650,
      "default": 90
    }
  },
  "required": ["ticker"],
  "additionalProperties": false
}`

// FundamentalsEventsOutputSchema accepts either fundamentals or the error shape.
const FundamentalsEventsOutputSchema = `{
  "anyOf": [
    {
      "type": "object",
      "additionalProperties": false,
      "required": ["ticker", "asof", "fundamentals", "calendar", "flags"],
      "properties": {
        "ticker": {"type": "string"},
        "asof": {"type": "string"},
        "fundamentals": {"type": "object"},
        "calendar": {"type": "object"},
        "flags": {"type": "array", "items": {"type": "string"}}
      }
    },
    ` + errorShapeSchema + `
  ]
}`

// FlagCalendarUnavailable marks a payload whose calendar lookup failed.
const FlagCalendarUnavailable = "calendar_unavailable"

// fundamentalFields are the only info keys ever surfaced.
var fundamentalFields = []string{
	"beta",
	"dividendYield",
	"forwardEps",
	"forwardPE",
	"industry",
	"marketCap",
	"priceToBook",
	"profitMargins",
	"sector",
	"trailingEps",
	"trailingPE",
}

// Fundamentals is the fundamentals_events payload.
type Fundamentals struct {
	Ticker       string         `json:"ticker"`
	AsOf         string         `json:"asof"`
	Fundamentals map[string]any `json:"fundamentals"`
	Calendar     map[string]any `json:"calendar"`
	Flags        []string       `json:"flags"`
}

// FundamentalsEventsTool reports allow-listed fundamentals and upcoming events.
type FundamentalsEventsTool struct {
	source FundamentalsSource
}

// NewFundamentalsEventsTool creates the fundamentals_events tool over source.
func NewFundamentalsEventsTool(source FundamentalsSource) *FundamentalsEventsTool {
	return &FundamentalsEventsTool{source: source}
}

func (t *FundamentalsEventsTool) Name() string         { return harness.ToolFundamentals }
func (t *FundamentalsEventsTool) Schema() []byte       { return []byte(FundamentalsEventsSchema) }
func (t *FundamentalsEventsTool) OutputSchema() []byte { return []byte(FundamentalsEventsOutputSchema) }

// Invoke executes the fundamentals tool.
func (t *FundamentalsEventsTool) Invoke(ctx context.Context, args json.RawMessage) (any, error) {
	params := struct {
		Ticker          string   `json:"ticker"`
		Fields          []string `json:"fields"`
		IncludeCalendar *bool    `json:"include_calendar"`
		LookbackDays    int      `json:"lookback_days"`
	}{}
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}

	info, err := t.source.Info(ctx, params.Ticker)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil || len(info) == 0 {
		return noData(params.Ticker, reasonEmptyHistory), nil
	}

	out := Fundamentals{
		Ticker:       params.Ticker,
		Fundamentals: selectFields(info, params.Fields),
		Calendar:     map[string]any{},
		Flags:        []string{},
	}
	out.AsOf = marketTime(info["regularMarketTime"])

	if params.IncludeCalendar == nil || *params.IncludeCalendar {
		cal, err := t.source.Calendar(ctx, params.Ticker)
		switch {
		case err != nil:
			out.Flags = append(out.Flags, FlagCalendarUnavailable)
		case cal != nil:
			out.Calendar = cal
		}
	}
	return out, nil
}

// marketTime renders an epoch-seconds quote time as a date.
func marketTime(v any) string {
	switch ts := v.(type) {
	case int64:
		return time.Unix(ts, 0).UTC().Format("2006-01-02")
	case float64:
		return time.Unix(int64(ts), 0).UTC().Format("2006-01-02")
	case string:
		return ts
	}
	return ""
}

// selectFields keeps the requested allow-listed keys, or every allow-listed
// key when none are requested. Missing values are reported as null.
func selectFields(info map[string]any, requested []string) map[string]any {
	keys := requested
	if len(keys) == 0 {
		keys = fundamentalFields
	}
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		if !slices.Contains(fundamentalFields, k) {
			continue
		}
		out[k] = info[k]
	}
	return out
}

var _ ports.Tool = (*FundamentalsEventsTool)(nil)
