package harness

import (
	"encoding/json"
	"fmt"
)

// Rule-based summary thresholds.
const (
	HighVolatilityPct = 40.0
	LargeDrawdownPct  = -20.0
)

// RiskDataUnavailable is the risk listed for a ticker whose snapshot failed.
const RiskDataUnavailable = "Data unavailable"

type snapshotView struct {
	Period string `json:"period"`
	Prices struct {
		ReturnPct      float64 `json:"return_pct"`
		MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	} `json:"prices"`
	Risk struct {
		VolatilityAnnPct float64 `json:"volatility_ann_pct"`
	} `json:"risk"`
	Trend struct {
		TrendLabel string `json:"trend_label"`
	} `json:"trend"`
}

type sentimentView struct {
	Trend    string `json:"trend"`
	Metadata struct {
		Consensus string `json:"consensus"`
	} `json:"metadata"`
}

// RuleSummary derives a deterministic summary from the executed invocations.
// Tickers are visited in the given order. Each ticker contributes at most one
// risk; a large drawdown takes precedence over high volatility.
func RuleSummary(tickers []string, period string, invs []ToolInvocation) Summary {
	byPair := make(map[string]ToolInvocation, len(invs))
	for _, inv := range invs {
		byPair[inv.Tool+":"+inv.Ticker] = inv
	}

	out := Summary{ThesisBullets: []string{}, Risks: []string{}}
	for _, t := range tickers {
		if inv, ok := byPair[ToolMarketSnapshot+":"+t]; ok {
			thesis, risk := summarizeSnapshot(t, period, inv)
			out.ThesisBullets = append(out.ThesisBullets, thesis)
			if risk != "" {
				out.Risks = append(out.Risks, risk)
			}
		}
		if inv, ok := byPair[ToolSentiment+":"+t]; ok && inv.OK() {
			var s sentimentView
			if err := json.Unmarshal(inv.Result, &s); err == nil {
				out.ThesisBullets = append(out.ThesisBullets,
					fmt.Sprintf("%s: sentiment %s, %s", t, s.Metadata.Consensus, s.Trend))
			}
		}
	}
	return out
}

func summarizeSnapshot(ticker, period string, inv ToolInvocation) (thesis, risk string) {
	var s snapshotView
	if !inv.OK() || json.Unmarshal(inv.Result, &s) != nil {
		return ticker + ": snapshot unavailable", RiskDataUnavailable
	}
	if s.Period != "" {
		period = s.Period
	}

	thesis = fmt.Sprintf("%s: %s trend, return %.2f%% over %s", ticker, s.Trend.TrendLabel, s.Prices.ReturnPct, period)
	if s.Risk.VolatilityAnnPct >= HighVolatilityPct {
		risk = fmt.Sprintf("%s: high volatility (%.1f%%)", ticker, s.Risk.VolatilityAnnPct)
	}
	if s.Prices.MaxDrawdownPct <= LargeDrawdownPct {
		risk = fmt.Sprintf("%s: large drawdown (%.1f%%)", ticker, s.Prices.MaxDrawdownPct)
	}
	return thesis, risk
}
