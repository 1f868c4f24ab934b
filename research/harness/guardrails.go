package harness

import (
	"cmp"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/ZanzyTHEbar/investment-research/research"
)

// Limitation messages emitted by the guardrails.
const (
	NoteProxyTickers    = "No tickers provided. Using proxy tickers."
	NoteTooManyTickers  = "Too many tickers provided. Truncating to max allowed."
	noteInvalidPeriodFn = "Invalid period provided. Using default %s."
)

// GuardrailConfig holds the per-query limits. It is passed by value and never
// mutated by the policy.
type GuardrailConfig struct {
	MaxToolCalls   int
	MaxTickers     int
	AllowedPeriods []string
	DefaultPeriod  string
	ProxyTickers   []string
}

// DefaultGuardrailConfig returns the stock limits.
func DefaultGuardrailConfig() GuardrailConfig {
	return GuardrailConfig{
		MaxToolCalls:   research.DefaultMaxToolCalls,
		MaxTickers:     research.DefaultMaxTickers,
		AllowedPeriods: research.DefaultAllowedPeriods(),
		DefaultPeriod:  research.DefaultPeriod,
		ProxyTickers:   research.DefaultProxyTickers(),
	}
}

// NormalizePeriod returns p when it is allowed and the default period otherwise.
func (g GuardrailConfig) NormalizePeriod(p string) (string, []string) {
	if slices.Contains(g.AllowedPeriods, strings.TrimSpace(p)) {
		return strings.TrimSpace(p), nil
	}
	return g.DefaultPeriod, []string{fmt.Sprintf(noteInvalidPeriodFn, g.DefaultPeriod)}
}

// ResolveTickers uppercases, trims and deduplicates supplied, then applies the
// proxy fallback and the ticker cap. Proxy tickers get the same cleanup. The
// result is never empty as long as ProxyTickers is not.
func (g GuardrailConfig) ResolveTickers(supplied []string) ([]string, []string) {
	tickers := cleanTickers(supplied)
	if len(tickers) == 0 {
		return cleanTickers(g.ProxyTickers), []string{NoteProxyTickers}
	}
	if len(tickers) > g.MaxTickers {
		return tickers[:g.MaxTickers], []string{NoteTooManyTickers}
	}
	return tickers, nil
}

func cleanTickers(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, t := range in {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// CheckToolBudget fails when planned exceeds MaxToolCalls.
func (g GuardrailConfig) CheckToolBudget(planned int) error {
	if planned > g.MaxToolCalls {
		return &BudgetExceededError{Scope: ScopeQuery, Limit: g.MaxToolCalls, Planned: planned}
	}
	return nil
}

// PlannedCall is one (tool, ticker) pair of an execution plan.
type PlannedCall struct {
	Tool   string
	Ticker string
	Args   map[string]any
}

// PrunePlan drops the lowest-priority calls until the plan fits MaxToolCalls.
// Paid tools go first, then later tickers, then later tools. Both returned
// slices keep plan order.
func (g GuardrailConfig) PrunePlan(plan []PlannedCall, isPaid func(tool string) bool) (kept, skipped []PlannedCall) {
	overflow := len(plan) - g.MaxToolCalls
	if overflow <= 0 {
		return slices.Clone(plan), nil
	}

	tickerRank := make(map[string]int)
	toolRank := make(map[string]int)
	for _, c := range plan {
		if _, ok := tickerRank[c.Ticker]; !ok {
			tickerRank[c.Ticker] = len(tickerRank)
		}
		if _, ok := toolRank[c.Tool]; !ok {
			toolRank[c.Tool] = len(toolRank)
		}
	}

	victims := make([]int, len(plan))
	for i := range victims {
		victims[i] = i
	}
	paid := func(i int) int {
		if isPaid != nil && isPaid(plan[i].Tool) {
			return 1
		}
		return 0
	}
	// Most expendable first.
	slices.SortStableFunc(victims, func(a, b int) int {
		return cmp.Or(
			cmp.Compare(paid(b), paid(a)),
			cmp.Compare(tickerRank[plan[b].Ticker], tickerRank[plan[a].Ticker]),
			cmp.Compare(toolRank[plan[b].Tool], toolRank[plan[a].Tool]),
			cmp.Compare(b, a),
		)
	})

	drop := make(map[int]struct{}, overflow)
	for _, i := range victims[:overflow] {
		drop[i] = struct{}{}
	}
	for i, c := range plan {
		if _, ok := drop[i]; ok {
			skipped = append(skipped, c)
		} else {
			kept = append(kept, c)
		}
	}
	return kept, skipped
}

var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|apikey|token|secret|password)([=:]\s*|\s+)\S+`),
	regexp.MustCompile(`\bsk-[A-Za-z0-9_\-]{8,}`),
}

// RedactSecrets masks credentials that backends sometimes echo in error text,
// so reasons can be surfaced as limitations.
func RedactSecrets(s string) string {
	for _, re := range secretPatterns {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}
