package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/investment-research/research"
)

type result struct {
	code   int
	stdout string
	stderr string
}

func runCLI(t *testing.T, stdin string, args ...string) result {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Chdir(t.TempDir())
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, strings.NewReader(stdin), &stdout, &stderr)
	return result{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

func decode(t *testing.T, s string) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(s), &out), s)
	return out
}

func TestRun_Offline(t *testing.T) {
	res := runCLI(t, "", "--offline", "--query", "test", "--tickers", "aapl")
	require.Equal(t, 0, res.code, res.stderr)

	out := decode(t, res.stdout)
	assert.Equal(t, "test", out["query"])
	assert.Equal(t, []any{"AAPL"}, out["tickers"])
	assert.Equal(t, research.Disclaimer, out["disclaimer"])
	assert.NotContains(t, out, "cost_analysis")
}

func TestRun_UseLLMWithoutProvider(t *testing.T) {
	res := runCLI(t, "", "--use-llm", "--query", "test", "--offline")
	require.Equal(t, 0, res.code, res.stderr)

	out := decode(t, res.stdout)
	assert.Equal(t, []any{"SPY", "QQQ", "TLT", "GLD"}, out["tickers"])
}

func TestRun_InvalidPeriod(t *testing.T) {
	res := runCLI(t, "", "--offline", "--query", "test", "--tickers", "AAPL", "--period", "invalid")
	require.Equal(t, 0, res.code, res.stderr)

	out := decode(t, res.stdout)
	limits, ok := out["limitations"].([]any)
	require.True(t, ok)
	require.NotEmpty(t, limits)
	assert.Contains(t, limits[0], "Invalid period")
}

func TestRun_UnknownTool(t *testing.T) {
	res := runCLI(t, "", "--offline", "--query", "test", "--tools", "market_snapshot,crystal_ball")
	assert.Equal(t, 1, res.code)

	out := decode(t, res.stdout)
	assert.Contains(t, out["error"], "crystal_ball")
}

func TestRun_PaidTool(t *testing.T) {
	res := runCLI(t, "", "--offline", "--query", "mood", "--tickers", "NVDA", "--tools", "sentiment_analysis")
	require.Equal(t, 0, res.code, res.stderr)

	out := decode(t, res.stdout)
	calls, ok := out["tool_calls"].([]any)
	require.True(t, ok)
	require.Len(t, calls, 1)
	assert.Equal(t, "sentiment_analysis", calls[0].(map[string]any)["name"])
}

func TestRun_MissingQuery(t *testing.T) {
	res := runCLI(t, "", "--offline")
	assert.Equal(t, 2, res.code)
	assert.Contains(t, res.stderr, "--query is required")
	assert.Contains(t, res.stderr, "sentiment_analysis [PAID] $0.05/call")
}

func TestRun_Help(t *testing.T) {
	res := runCLI(t, "", "--help")
	assert.Equal(t, 0, res.code)
	assert.Contains(t, res.stderr, "Default: free tools only")
}

func TestRun_Interactive(t *testing.T) {
	res := runCLI(t, "trend | AAPL | 6mo\n:summary\n", "--offline", "--interactive", "--report-cost")
	require.Equal(t, 0, res.code, res.stderr)

	lines := strings.Split(strings.TrimSpace(res.stdout), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "trend", decode(t, lines[0])["query"])
	assert.EqualValues(t, 0, decode(t, lines[1])["total_queries"])
}

func TestRun_ListTools(t *testing.T) {
	res := runCLI(t, "", "--list-tools")
	require.Equal(t, 0, res.code, res.stderr)

	out := decode(t, res.stdout)
	assert.Equal(t, float64(3), out["max_calls_per_ticker"])
	assert.Equal(t, map[string]any{
		"market_snapshot":     map[string]any{"is_paid": false, "price_per_call": float64(0)},
		"fundamentals_events": map[string]any{"is_paid": false, "price_per_call": float64(0)},
		"sentiment_analysis":  map[string]any{"is_paid": true, "price_per_call": 0.05},
	}, out["tools"])
}
