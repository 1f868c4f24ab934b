// Command research-costs reports LLM spend recorded in the cost ledger and
// estimates the cost of batches and steady monthly usage.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"

	"github.com/ZanzyTHEbar/investment-research/research/app"
	"github.com/ZanzyTHEbar/investment-research/research/config"
	"github.com/ZanzyTHEbar/investment-research/research/cost"
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: research-costs <command> [arguments]")
	fmt.Fprintln(w, "\nCommands:")
	fmt.Fprintln(w, "  session    Summarize the queries recorded in the cost ledger")
	fmt.Fprintln(w, "  compare    Compare model prices for typical research queries")
	fmt.Fprintln(w, "  batch      Estimate the cost of a batch of queries")
	fmt.Fprintln(w, "  monthly    Project daily, monthly and yearly spend")
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return 2
	}

	var err error
	switch args[0] {
	case "session":
		err = session(ctx, args[1:], stdout, stderr)
	case "compare":
		err = compare(args[1:], stdout, stderr)
	case "batch":
		err = batch(args[1:], stdout, stderr)
	case "monthly":
		err = monthly(args[1:], stdout, stderr)
	case "help", "-h", "--help":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		printUsage(stderr)
		return 2
	}

	switch {
	case err == nil:
		return 0
	case errors.Is(err, pflag.ErrHelp):
		return 0
	case errors.Is(err, errUsage):
		return 2
	default:
		fmt.Fprintf(stderr, "%s: %v\n", args[0], err)
		return 1
	}
}

var errUsage = errors.New("usage")

func newFlagSet(name string, stderr io.Writer) (*pflag.FlagSet, *bool) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	asJSON := fs.Bool("json", false, "print JSON instead of text")
	return fs, asJSON
}

func parse(fs *pflag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return err
		}
		return errUsage
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func usd(a cost.Amount) string { return "$" + a.StringFixed(6) }

func session(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs, asJSON := newFlagSet("session", stderr)
	reset := fs.Bool("reset", false, "delete every recorded query")
	configPath := fs.String("config", "", "path to a config file")
	if err := parse(fs, args); err != nil {
		return err
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	logger := app.NewLogger(cfg.Log, stderr)

	ledger, closeDB, err := app.OpenLedger(ctx, cfg.Ledger, logger)
	if err != nil {
		return err
	}
	defer func() { _ = closeDB() }()

	if *reset {
		if err := ledger.Reset(ctx); err != nil {
			return err
		}
		fmt.Fprintln(stdout, "Session reset.")
		return nil
	}

	analyzer := cost.NewAnalyzer(cost.WithLedger(ledger))
	if _, err := analyzer.Load(ctx); err != nil {
		return err
	}
	summary := analyzer.Summary()
	providers := analyzer.ProviderBreakdown()

	if *asJSON {
		return writeJSON(stdout, struct {
			cost.SessionSummary
			Providers map[string]cost.ProviderTotals `json:"providers"`
		}{summary, providers})
	}

	if summary.TotalQueries == 0 {
		fmt.Fprintln(stdout, "No queries tracked in session.")
		return nil
	}
	fmt.Fprintln(stdout, "Session Summary")
	fmt.Fprintf(stdout, "  Total queries: %d\n", summary.TotalQueries)
	fmt.Fprintf(stdout, "  Total tokens: %d\n", summary.TotalTokens)
	fmt.Fprintf(stdout, "  Total cost: %s\n", usd(summary.TotalCostUSD))
	fmt.Fprintf(stdout, "  Avg cost/query: %s\n", usd(summary.AvgCostPerQuery))
	fmt.Fprintf(stdout, "  Avg tokens/query: %.1f\n", summary.AvgTokensPerQuery)

	fmt.Fprintln(stdout, "\nProvider Breakdown")
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		pt := providers[name]
		fmt.Fprintf(stdout, "  %s:\n", name)
		fmt.Fprintf(stdout, "    Queries: %d\n", pt.Queries)
		fmt.Fprintf(stdout, "    Total tokens: %d\n", pt.TotalTokens)
		fmt.Fprintf(stdout, "    Total cost: %s\n", usd(pt.TotalCostUSD))
	}
	return nil
}

func compare(args []string, stdout, stderr io.Writer) error {
	fs, asJSON := newFlagSet("compare", stderr)
	if err := parse(fs, args); err != nil {
		return err
	}

	presets := cost.NewAnalyzer().TypicalComparison()
	if *asJSON {
		return writeJSON(stdout, presets)
	}

	fmt.Fprintln(stdout, "Cost Comparison")
	fmt.Fprintln(stdout, "(for typical investment research queries)")
	for _, p := range presets {
		fmt.Fprintf(stdout, "\n%s:\n", p.Name)
		fmt.Fprintf(stdout, "  Tokens: %d input + %d output\n", p.InputTokens, p.OutputTokens)
		for _, m := range p.Models {
			fmt.Fprintf(stdout, "  %-32s %s\n", cost.ModelRef{Provider: m.Provider, Model: m.Model}, usd(cost.NewAmount(m.CostUSD.Total())))
		}
		fmt.Fprintf(stdout, "  Cheapest: %s\n", p.Cheapest)
		fmt.Fprintf(stdout, "  Most expensive: %s\n", p.MostExpensive)
	}
	return nil
}

func checkProvider(a *cost.Analyzer, provider string) error {
	var known []string
	for name := range a.Prices() {
		known = append(known, name)
	}
	sort.Strings(known)
	if !slices.Contains(known, provider) {
		return fmt.Errorf("unknown provider %q, expected one of %v", provider, known)
	}
	return nil
}

func batch(args []string, stdout, stderr io.Writer) error {
	fs, asJSON := newFlagSet("batch", stderr)
	numQueries := fs.Int("num-queries", 10, "queries in the batch")
	provider := fs.String("provider", "openai", "provider to price")
	model := fs.String("model", "", "model to price (default: provider default)")
	numTickers := fs.Int("num-tickers", 2, "tickers per query")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *numQueries < 1 || *numTickers < 1 {
		return errors.New("--num-queries and --num-tickers must be positive")
	}

	analyzer := cost.NewAnalyzer()
	if err := checkProvider(analyzer, *provider); err != nil {
		return err
	}

	queries := make([]cost.BatchQuery, 0, *numQueries)
	for i := range *numQueries {
		tickers := make([]string, 0, *numTickers)
		for j := range *numTickers {
			tickers = append(tickers, fmt.Sprintf("TICK%d", j))
		}
		queries = append(queries, cost.BatchQuery{Query: fmt.Sprintf("Query %d", i+1), Tickers: tickers, Period: "3mo"})
	}
	res := analyzer.BatchAnalyze(queries, *provider, *model)
	if *asJSON {
		return writeJSON(stdout, res)
	}

	perTicker := cost.NewAmount(res.AvgCostPerQuery.Div(decimal.NewFromInt(int64(*numTickers))))
	fmt.Fprintln(stdout, "Batch Cost Estimation")
	fmt.Fprintf(stdout, "  Queries: %d\n", *numQueries)
	fmt.Fprintf(stdout, "  Provider: %s\n", res.Provider)
	fmt.Fprintf(stdout, "  Tickers per query: %d\n", *numTickers)
	fmt.Fprintln(stdout, "\nResults:")
	fmt.Fprintf(stdout, "  Model: %s\n", res.Model)
	fmt.Fprintf(stdout, "  Total tokens: %d\n", res.TotalTokens)
	fmt.Fprintf(stdout, "  Total cost: %s\n", usd(res.TotalCostUSD))
	fmt.Fprintf(stdout, "  Cost per query: %s\n", usd(res.AvgCostPerQuery))
	fmt.Fprintf(stdout, "  Cost per ticker: %s\n", usd(perTicker))
	return nil
}

func monthly(args []string, stdout, stderr io.Writer) error {
	fs, asJSON := newFlagSet("monthly", stderr)
	perDay := fs.Int("queries-per-day", 20, "queries per day")
	provider := fs.String("provider", "openai", "provider to price")
	model := fs.String("model", "", "model to price (default: provider default)")
	numTickers := fs.Int("num-tickers", 2, "tickers per query")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *perDay < 0 {
		return errors.New("--queries-per-day must not be negative")
	}

	analyzer := cost.NewAnalyzer()
	if err := checkProvider(analyzer, *provider); err != nil {
		return err
	}

	p := analyzer.MonthlyProjection(*provider, *model, *perDay, *numTickers)
	if *asJSON {
		return writeJSON(stdout, p)
	}

	fmt.Fprintln(stdout, "Monthly Cost Estimation")
	fmt.Fprintf(stdout, "  Queries per day: %d\n", p.QueriesPerDay)
	fmt.Fprintf(stdout, "  Provider: %s\n", p.Provider)
	fmt.Fprintf(stdout, "  Model: %s\n", p.Model)
	fmt.Fprintf(stdout, "\nResults (per %d-ticker query):\n", p.TickersPerQuery)
	fmt.Fprintf(stdout, "  Cost per query: %s\n", usd(p.CostPerQuery))
	fmt.Fprintf(stdout, "  Daily cost: %s\n", usd(p.Daily))
	fmt.Fprintf(stdout, "  Monthly cost: $%s\n", p.Monthly.StringFixed(2))
	fmt.Fprintf(stdout, "  Yearly cost: $%s\n", p.Yearly.StringFixed(2))
	return nil
}
