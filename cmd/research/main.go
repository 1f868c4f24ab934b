// Command research answers one investment research query, or a stream of
// them with --interactive, and prints the structured result as JSON.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ZanzyTHEbar/investment-research/research/app"
	"github.com/ZanzyTHEbar/investment-research/research/config"
	"github.com/ZanzyTHEbar/investment-research/research/harness"
	"github.com/ZanzyTHEbar/investment-research/research/harness/tools"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// flag name to config key
var bindings = map[string]string{
	"offline":       "agent.offline",
	"use-llm":       "agent.use_llm",
	"infer-tickers": "agent.infer_tickers",
	"parallel":      "agent.parallel_tools",
	"tools":         "agent.tools",
	"report-cost":   "cost.enabled",
}

// catalog is the tool set over fixture data, enough to describe tools
// without config or network access.
func catalog() (*harness.ToolRegistry, error) {
	fx := tools.NewFixtureSource()
	return tools.NewRegistry(tools.Sources{Market: fx, Fundamentals: fx}, zerolog.Nop())
}

func toolsHelp() string {
	reg, err := catalog()
	if err != nil {
		return "comma-separated tool names"
	}
	return reg.HelpText()
}

// listTools prints tool pricing and the per-ticker call ceiling.
func listTools(stdout io.Writer) error {
	reg, err := catalog()
	if err != nil {
		return err
	}
	return json.NewEncoder(stdout).Encode(struct {
		Tools          map[string]harness.ToolPricing `json:"tools"`
		CallsPerTicker int                            `json:"max_calls_per_ticker"`
	}{reg.Available(), reg.TotalBudgetPerTicker()})
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("research", pflag.ContinueOnError)
	fs.SetOutput(stderr)

	query := fs.String("query", "", "research question (required unless --interactive)")
	tickers := fs.String("tickers", "", "comma-separated tickers; empty falls back to macro proxies")
	period := fs.String("period", "", "lookback period, e.g. 1mo 3mo 6mo 1y (default from config)")
	configPath := fs.String("config", "", "path to a config file")
	interactive := fs.Bool("interactive", false, `read "query | T1,T2 | period" lines from stdin`)
	fs.Bool("offline", false, "use deterministic fixture data")
	fs.Bool("use-llm", false, "use an LLM for routing and summaries (needs a provider API key)")
	fs.Bool("report-cost", false, "include cost analysis in the output")
	fs.Bool("infer-tickers", false, "infer tickers from the query text when --tickers is empty")
	fs.Int("parallel", 1, "tool calls executed concurrently")
	fs.StringSlice("tools", nil, toolsHelp())
	list := fs.Bool("list-tools", false, "print tool pricing as JSON and exit")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *list {
		if err := listTools(stdout); err != nil {
			fmt.Fprintf(stderr, "list tools: %v\n", err)
			return 1
		}
		return 0
	}
	if *query == "" && !*interactive {
		fmt.Fprintln(stderr, "--query is required")
		fs.PrintDefaults()
		return 2
	}

	for name, key := range bindings {
		if err := viper.BindPFlag(key, fs.Lookup(name)); err != nil {
			fmt.Fprintf(stderr, "bind --%s: %v\n", name, err)
			return 1
		}
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}
	logger := app.NewLogger(cfg.Log, stderr)

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to build research agent")
		return 1
	}
	defer a.Close()

	toolNames := cfg.Agent.Tools
	if len(toolNames) == 0 {
		toolNames = nil
	}

	if *interactive {
		if viper.ConfigFileUsed() != "" {
			config.Watch(a.Reload, func(err error) {
				logger.Warn().Err(err).Msg("Ignoring config change")
			})
		}
		if err := a.Interactive(ctx, stdin, stdout, toolNames); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("Interactive session failed")
			return 1
		}
		return 0
	}

	resp, err := a.Agent().Run(ctx, harness.Query{
		Text:    *query,
		Tickers: app.SplitList(*tickers, true),
		Period:  *period,
		Tools:   toolNames,
	})

	enc := json.NewEncoder(stdout)
	if err != nil {
		_ = enc.Encode(map[string]string{"error": err.Error()})
		return 1
	}
	if err := enc.Encode(resp); err != nil {
		logger.Error().Err(err).Msg("Failed to write result")
		return 1
	}
	return 0
}
