package app

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/ZanzyTHEbar/investment-research/research/harness"
)

// Interactive commands.
const (
	CmdReset   = ":reset"
	CmdSummary = ":summary"
	CmdQuit    = ":quit"
)

// SplitList splits a comma-separated list, dropping blanks. Tickers are
// upper-cased by the caller through upper.
func SplitList(s string, upper bool) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if upper {
			part = strings.ToUpper(part)
		}
		out = append(out, part)
	}
	return out
}

// ParseLine reads "query | T1,T2 | period". Tickers and period are optional.
func ParseLine(line string) harness.Query {
	parts := strings.SplitN(line, "|", 3)
	q := harness.Query{Text: strings.TrimSpace(parts[0])}
	if len(parts) > 1 {
		q.Tickers = SplitList(parts[1], true)
	}
	if len(parts) > 2 {
		q.Period = strings.TrimSpace(parts[2])
	}
	return q
}

type lineError struct {
	Error string `json:"error"`
}

// Interactive answers one query per input line and writes one JSON document
// per answer. Every query shares the agent's cost session. It returns when
// in is exhausted, on CmdQuit or when ctx is done.
func (a *App) Interactive(ctx context.Context, in io.Reader, out io.Writer, tools []string) error {
	enc := json.NewEncoder(out)
	sc := bufio.NewScanner(in)

	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		agent := a.Agent()
		var v any
		switch line {
		case CmdQuit:
			return nil
		case CmdReset:
			if an := agent.Analyzer(); an != nil {
				an.Reset()
			}
			v = map[string]string{"status": "session reset"}
		case CmdSummary:
			if an := agent.Analyzer(); an != nil {
				v = an.Summary()
			} else {
				v = lineError{Error: "cost tracking is disabled"}
			}
		default:
			q := ParseLine(line)
			q.Tools = tools
			resp, err := agent.Run(ctx, q)
			if err != nil {
				v = lineError{Error: err.Error()}
			} else {
				v = resp
			}
		}
		if err := enc.Encode(v); err != nil {
			return err
		}
	}
	return sc.Err()
}
