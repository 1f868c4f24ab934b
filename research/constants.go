// Package research holds application-wide defaults shared by the config,
// storage and command packages.
package research

import (
	"os"
	"path/filepath"
)

const (
	DefaultAppName = "investment-research"

	// Disclaimer is injected into every final response.
	Disclaimer = "Research summary, not financial advice."

	DefaultPeriod       = "3mo"
	DefaultMaxToolCalls = 6
	DefaultMaxTickers   = 5
	DefaultMaxTokens    = 500
)

var (
	DefaultConfigPath = filepath.Join(userConfigDir(), DefaultAppName)
	DefaultDataDir    = filepath.Join(userDataDir(), DefaultAppName)
	DefaultLedgerPath = filepath.Join(DefaultDataDir, "ledger.db")
)

// DefaultAllowedPeriods lists the lookback windows accepted by the guardrails.
func DefaultAllowedPeriods() []string {
	return []string{"1mo", "3mo", "6mo", "1y"}
}

// DefaultProxyTickers are substituted when a query names no instruments.
func DefaultProxyTickers() []string {
	return []string{"SPY", "QQQ", "TLT", "GLD"}
}

func userConfigDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return dir
	}
	return "."
}

func userDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return dir
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share")
	}
	return "."
}
