// Package app builds the research agent and its collaborators from
// configuration. The command line tools share it.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/investment-research/research/config"
	"github.com/ZanzyTHEbar/investment-research/research/cost"
	"github.com/ZanzyTHEbar/investment-research/research/db"
	"github.com/ZanzyTHEbar/investment-research/research/harness"
	"github.com/ZanzyTHEbar/investment-research/research/harness/adapters"
	ports "github.com/ZanzyTHEbar/investment-research/research/harness/ports"
	"github.com/ZanzyTHEbar/investment-research/research/harness/tools"
	"github.com/ZanzyTHEbar/investment-research/research/llm"
)

// NewLogger returns a logger writing to w at the configured level. Pretty
// output uses the zerolog console writer.
func NewLogger(cfg config.LogConfig, w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	if cfg.Pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// OpenLedger opens the libsql cost ledger at cfg.Path. The returned close
// function releases the database handle.
func OpenLedger(ctx context.Context, cfg config.LedgerConfig, logger zerolog.Logger) (*adapters.LibSQLCostLedger, func() error, error) {
	conn, err := db.Open(ctx, cfg.Path, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open cost ledger: %w", err)
	}
	return adapters.NewLibSQLCostLedger(conn), conn.Close, nil
}

// App owns one agent and everything it was built from.
type App struct {
	logger   zerolog.Logger
	registry *harness.ToolRegistry
	provider llm.Provider
	ledger   cost.Ledger
	dbClose  func() error

	mu         sync.RWMutex
	cfg        *config.Config
	agent      *harness.Agent
	closeAgent func()
}

// New wires the tool registry, the optional LLM provider and the optional
// cost ledger into an agent. A missing provider is not an error: the agent
// falls back to the deterministic plan and summary.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*App, error) {
	registry, err := tools.NewRegistry(tools.NewSources(cfg), logger.With().Str("component", "tools").Logger())
	if err != nil {
		return nil, err
	}

	a := &App{logger: logger, registry: registry, cfg: cfg}

	if cfg.Agent.UseLLM && !cfg.Agent.Offline {
		p, err := llm.New(ctx, cfg.LLM, logger.With().Str("component", "llm").Logger())
		switch {
		case errors.Is(err, harness.ErrLLMUnavailable):
			logger.Warn().Err(err).Msg("No LLM provider, using deterministic plan and summary")
		case err != nil:
			return nil, err
		default:
			a.provider = p
		}
	}

	if cfg.Ledger.Enabled {
		ledger, closeDB, err := OpenLedger(ctx, cfg.Ledger, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.ledger, a.dbClose = ledger, closeDB
	}

	a.agent, a.closeAgent = a.build(cfg)
	return a, nil
}

func (a *App) build(cfg *config.Config) (*harness.Agent, func()) {
	var provider ports.Provider
	if a.provider != nil {
		provider = a.provider
	}
	return harness.NewFactory(cfg, a.logger).CreateAgent(a.registry, provider, a.ledger)
}

// Agent returns the current agent.
func (a *App) Agent() *harness.Agent {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.agent
}

// Config returns the configuration the current agent was built from.
func (a *App) Config() *config.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg
}

// Registry returns the tool registry.
func (a *App) Registry() *harness.ToolRegistry { return a.registry }

// Reload rebuilds the agent from cfg. Guardrails, policy, cache and rate
// limits follow the new snapshot while the registry, provider and ledger
// stay as they are. Records already in the session carry over.
func (a *App) Reload(cfg *config.Config) {
	agent, closeAgent := a.build(cfg)

	a.mu.Lock()
	prev, closePrev := a.agent, a.closeAgent
	a.cfg, a.agent, a.closeAgent = cfg, agent, closeAgent
	a.mu.Unlock()

	if from, to := prev.Analyzer(), agent.Analyzer(); from != nil && to != nil {
		for _, rec := range from.Session().Records() {
			to.Session().Append(rec)
		}
	}
	closePrev()
	a.logger.Info().Msg("Configuration reloaded")
}

// Ledger returns the cost ledger, or nil when it is disabled.
func (a *App) Ledger() cost.Ledger { return a.ledger }

// Close releases the agent, the provider and the ledger.
func (a *App) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closeAgent != nil {
		a.closeAgent()
		a.closeAgent = nil
	}
	if a.provider != nil {
		if err := a.provider.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("Closing LLM provider")
		}
		a.provider = nil
	}
	if a.dbClose != nil {
		if err := a.dbClose(); err != nil && !errors.Is(err, sql.ErrConnDone) {
			a.logger.Warn().Err(err).Msg("Closing cost ledger")
		}
		a.dbClose = nil
	}
}
