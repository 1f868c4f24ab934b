package app

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/investment-research/research"
	"github.com/ZanzyTHEbar/investment-research/research/config"
	"github.com/ZanzyTHEbar/investment-research/research/cost"
	"github.com/ZanzyTHEbar/investment-research/research/harness"
)

func offlineConfig(t *testing.T, overrides map[string]any) *config.Config {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	viper.Set("agent.offline", true)
	for k, v := range overrides {
		viper.Set(k, v)
	}
	cfg, err := config.LoadConfig("")
	require.NoError(t, err)
	return cfg
}

func newOfflineApp(t *testing.T, overrides map[string]any) *App {
	t.Helper()
	a, err := New(context.Background(), offlineConfig(t, overrides), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(config.LogConfig{Level: "warn"}, &buf)

	logger.Info().Msg("hidden")
	logger.Warn().Str("k", "v").Msg("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"message":"shown"`)
	assert.Contains(t, out, `"k":"v"`)

	assert.Equal(t, zerolog.InfoLevel, NewLogger(config.LogConfig{Level: "bogus"}, &buf).GetLevel())
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"AAPL", "MSFT"}, SplitList(" aapl, ,msft ", true))
	assert.Equal(t, []string{"market_snapshot"}, SplitList("market_snapshot,", false))
	assert.Nil(t, SplitList("  ", true))
}

func TestParseLine(t *testing.T) {
	tests := []struct {
		line string
		want harness.Query
	}{
		{"trend summary", harness.Query{Text: "trend summary"}},
		{"compare | aapl, msft", harness.Query{Text: "compare", Tickers: []string{"AAPL", "MSFT"}}},
		{"risk | NVDA | 1y", harness.Query{Text: "risk", Tickers: []string{"NVDA"}, Period: "1y"}},
		{"macro |  | 6mo", harness.Query{Text: "macro", Period: "6mo"}},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLine(tt.line))
		})
	}
}

func TestNew_Offline(t *testing.T) {
	a := newOfflineApp(t, nil)

	assert.Equal(t, 3, a.Registry().Len())
	assert.Nil(t, a.Ledger())
	assert.Nil(t, a.Agent().Provider())

	resp, err := a.Agent().Run(context.Background(), harness.Query{Text: "trend", Tickers: []string{"AAPL"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL"}, resp.Tickers)
	assert.Equal(t, research.Disclaimer, resp.Disclaimer)
	assert.Len(t, resp.ToolCalls, 2)
}

func TestNew_OfflineIgnoresLLM(t *testing.T) {
	a := newOfflineApp(t, map[string]any{"agent.use_llm": true, "llm.openai_api_key": "sk-test"})
	assert.Nil(t, a.Agent().Provider())
}

func TestNew_Ledger(t *testing.T) {
	a := newOfflineApp(t, map[string]any{
		"cost.enabled":   true,
		"ledger.enabled": true,
		"ledger.path":    filepath.Join(t.TempDir(), "ledger.db"),
	})
	require.NotNil(t, a.Ledger())

	recs, err := a.Ledger().List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestReload_KeepsSession(t *testing.T) {
	a := newOfflineApp(t, map[string]any{"cost.enabled": true})
	before := a.Agent()
	require.NotNil(t, before.Analyzer())
	before.Analyzer().Session().Append(cost.Record{Query: "earlier"})

	next := *a.Config()
	next.Guardrails.MaxToolCalls = 1
	a.Reload(&next)

	after := a.Agent()
	assert.NotSame(t, before, after)
	assert.Equal(t, 1, a.Config().Guardrails.MaxToolCalls)
	require.Equal(t, 1, after.Analyzer().Session().Len())
	assert.Equal(t, "earlier", after.Analyzer().Session().Records()[0].Query)

	resp, err := after.Run(context.Background(), harness.Query{Text: "trend", Tickers: []string{"AAPL"}})
	require.NoError(t, err)
	assert.Len(t, resp.ToolCalls, 1)
}

func TestInteractive(t *testing.T) {
	a := newOfflineApp(t, map[string]any{"cost.enabled": true})
	a.Agent().Analyzer().Session().Append(cost.Record{Query: "earlier"})

	in := strings.NewReader(strings.Join([]string{
		"trend | aapl | 3mo",
		"",
		CmdSummary,
		CmdReset,
		CmdSummary,
		"bad tools",
		CmdQuit,
		"never answered",
	}, "\n"))
	var out bytes.Buffer
	require.NoError(t, a.Interactive(context.Background(), in, &out, nil))

	dec := json.NewDecoder(&out)
	var docs []map[string]any
	for dec.More() {
		var doc map[string]any
		require.NoError(t, dec.Decode(&doc))
		docs = append(docs, doc)
	}
	require.Len(t, docs, 5)

	assert.Equal(t, "trend", docs[0]["query"])
	assert.Equal(t, []any{"AAPL"}, docs[0]["tickers"])
	assert.EqualValues(t, 1, docs[1]["total_queries"])
	assert.Equal(t, "session reset", docs[2]["status"])
	assert.EqualValues(t, 0, docs[3]["total_queries"])
	assert.Equal(t, "bad tools", docs[4]["query"])
}

func TestInteractive_UnknownTool(t *testing.T) {
	a := newOfflineApp(t, nil)

	var out bytes.Buffer
	require.NoError(t, a.Interactive(context.Background(), strings.NewReader("trend | AAPL\n"), &out, []string{"nope"}))

	var doc map[string]string
	require.NoError(t, json.Unmarshal(out.Bytes(), &doc))
	assert.Contains(t, doc["error"], "nope")
}

func TestInteractive_SummaryWithoutCost(t *testing.T) {
	a := newOfflineApp(t, nil)

	var out bytes.Buffer
	require.NoError(t, a.Interactive(context.Background(), strings.NewReader(CmdSummary+"\n"), &out, nil))
	assert.Contains(t, out.String(), "cost tracking is disabled")
}
