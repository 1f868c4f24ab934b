// Command research-eval runs the offline evaluation cases against a fixture
// backed agent and exits non-zero unless every case earns full marks.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ZanzyTHEbar/investment-research/research/app"
	"github.com/ZanzyTHEbar/investment-research/research/config"
	"github.com/ZanzyTHEbar/investment-research/research/eval"
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("research-eval", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to a config file")
	quiet := fs.Bool("quiet", false, "print only the score line")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}

	// Evaluation never touches the network or an LLM.
	viper.Set("agent.offline", true)
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

	report := eval.Run(ctx, a.Agent())
	if *quiet {
		fmt.Fprintln(stdout, report)
	} else {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			logger.Error().Err(err).Msg("Failed to write report")
			return 1
		}
	}

	if !report.Passed() {
		logger.Warn().Int("score", report.Score).Int("max_score", report.MaxScore).Msg("Evaluation below maximum score")
		return 1
	}
	logger.Info().Msg(report.String())
	return 0
}
