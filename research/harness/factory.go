package harness

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/investment-research/research/config"
	"github.com/ZanzyTHEbar/investment-research/research/cost"
	"github.com/ZanzyTHEbar/investment-research/research/harness/adapters"
	ports "github.com/ZanzyTHEbar/investment-research/research/harness/ports"
)

// Upper bounds applied when building from configuration.
const (
	maxToolCallsCeiling  = 50
	maxTickersCeiling    = 25
	maxParallelTools     = 16
	minToolTimeout       = 100 * time.Millisecond
	defaultCacheCapacity = 1000
)

// Factory creates and wires harness components from configuration.
type Factory struct {
	cfg    *config.Config
	logger zerolog.Logger
}

// NewFactory creates a new harness factory.
func NewFactory(cfg *config.Config, logger zerolog.Logger) *Factory {
	return &Factory{cfg: cfg, logger: logger}
}

// CreateAgent wires an Agent over registry. provider and ledger may be nil.
// The returned cleanup releases cache resources.
func (f *Factory) CreateAgent(registry *ToolRegistry, provider ports.Provider, ledger cost.Ledger) (*Agent, func()) {
	cache, closeCache := f.CreateCache()
	tracer := f.CreateTracer()
	policy := f.CreatePolicy()

	invoker := NewInvoker(NewJSONValidator(),
		WithCache(cache, f.cfg.Cache.TTL),
		WithToolTimeout(policy.ToolTimeout),
		WithInvokerTracer(tracer),
		WithInvokerLogger(f.logger.With().Str("component", "invoker").Logger()),
	)

	opts := []AgentOption{
		WithGuardrails(f.CreateGuardrails()),
		WithPolicy(policy),
		WithInvoker(invoker),
		WithRateLimiter(f.CreateRateLimiter()),
		WithTracer(tracer),
		WithLogger(f.logger.With().Str("component", "agent").Logger()),
	}
	if provider != nil {
		opts = append(opts, WithProvider(provider))
	}
	if analyzer := f.CreateAnalyzer(ledger); analyzer != nil {
		opts = append(opts, WithAnalyzer(analyzer))
	}

	return NewAgent(registry, opts...), closeCache
}

// CreateCache creates a cache adapter from config.
func (f *Factory) CreateCache() (ports.Cache, func()) {
	if !f.cfg.Cache.Enabled {
		return &noOpCache{}, func() {}
	}

	capacity := f.cfg.Cache.Capacity
	if capacity < 1 {
		capacity = defaultCacheCapacity
		f.logger.Warn().Int("capacity", f.cfg.Cache.Capacity).Msg("Cache capacity clamped to default")
	}

	if f.cfg.Cache.Backend == "lru" {
		return adapters.NewLRUCache(capacity), func() {}
	}

	rc, err := adapters.NewRistrettoCache(capacity)
	if err != nil {
		f.logger.Warn().Err(err).Msg("Ristretto cache unavailable, falling back to LRU")
		return adapters.NewLRUCache(capacity), func() {}
	}
	return rc, rc.Close
}

// CreateRateLimiter creates a rate limiter adapter from config.
func (f *Factory) CreateRateLimiter() ports.RateLimiter {
	if !f.cfg.RateLimit.Enabled {
		return &noOpRateLimiter{}
	}
	return adapters.NewTokenBucket(f.cfg.RateLimit.Capacity, f.cfg.RateLimit.RefillRate)
}

// CreateTracer creates a tracer adapter from config.
func (f *Factory) CreateTracer() ports.Tracer {
	if !f.cfg.Agent.EnableTracing {
		return &noOpTracer{}
	}
	return adapters.NewZerologTracer(f.logger.With().Str("component", "trace").Logger())
}

// CreateAnalyzer returns nil when cost tracking is disabled.
func (f *Factory) CreateAnalyzer(ledger cost.Ledger) *cost.Analyzer {
	if !f.cfg.Cost.Enabled {
		return nil
	}
	if ledger == nil {
		return cost.NewAnalyzer()
	}
	return cost.NewAnalyzer(cost.WithLedger(ledger))
}

// CreateGuardrails creates guardrails from config with validation.
func (f *Factory) CreateGuardrails() GuardrailConfig {
	g := f.cfg.Guardrails
	out := GuardrailConfig{
		MaxToolCalls:   g.MaxToolCalls,
		MaxTickers:     g.MaxTickers,
		AllowedPeriods: g.AllowedPeriods,
		DefaultPeriod:  g.DefaultPeriod,
		ProxyTickers:   g.ProxyTickers,
	}
	def := DefaultGuardrailConfig()

	if out.MaxToolCalls < 1 {
		out.MaxToolCalls = 1
		f.logger.Warn().Int("max_tool_calls", g.MaxToolCalls).Msg("MaxToolCalls clamped to minimum of 1")
	}
	if out.MaxToolCalls > maxToolCallsCeiling {
		out.MaxToolCalls = maxToolCallsCeiling
		f.logger.Warn().Int("max_tool_calls", g.MaxToolCalls).Msgf("MaxToolCalls clamped to maximum of %d", maxToolCallsCeiling)
	}
	if out.MaxTickers < 1 {
		out.MaxTickers = 1
		f.logger.Warn().Int("max_tickers", g.MaxTickers).Msg("MaxTickers clamped to minimum of 1")
	}
	if out.MaxTickers > maxTickersCeiling {
		out.MaxTickers = maxTickersCeiling
		f.logger.Warn().Int("max_tickers", g.MaxTickers).Msgf("MaxTickers clamped to maximum of %d", maxTickersCeiling)
	}
	if len(out.AllowedPeriods) == 0 {
		out.AllowedPeriods = def.AllowedPeriods
	}
	if out.DefaultPeriod == "" {
		out.DefaultPeriod = def.DefaultPeriod
	}
	if len(out.ProxyTickers) == 0 {
		out.ProxyTickers = def.ProxyTickers
	}
	return out
}

// CreatePolicy creates a policy from config with validation.
func (f *Factory) CreatePolicy() Policy {
	p := Policy{
		ToolTimeout:   f.cfg.Agent.ToolTimeout,
		LLMTimeout:    f.cfg.LLM.Timeout,
		ParallelTools: f.cfg.Agent.ParallelTools,
		InferTickers:  f.cfg.Agent.InferTickers,
		UseLLM:        f.cfg.Agent.UseLLM && !f.cfg.Agent.Offline,
		Routing:       f.cfg.LLM.Routing,
		TrackCost:     f.cfg.Cost.Enabled,
		MaxTokens:     f.cfg.LLM.MaxTokens,
		Temperature:   f.cfg.LLM.Temperature,
		ContextTokens: f.cfg.LLM.ContextTokens,
	}
	def := DefaultPolicy()

	if p.ToolTimeout < minToolTimeout {
		p.ToolTimeout = def.ToolTimeout
		f.logger.Warn().Dur("tool_timeout", f.cfg.Agent.ToolTimeout).Msg("ToolTimeout reset to default")
	}
	if p.LLMTimeout <= 0 {
		p.LLMTimeout = def.LLMTimeout
	}
	if p.ParallelTools < 1 {
		p.ParallelTools = 1
	}
	if p.ParallelTools > maxParallelTools {
		p.ParallelTools = maxParallelTools
		f.logger.Warn().Int("parallel_tools", f.cfg.Agent.ParallelTools).Msgf("ParallelTools clamped to maximum of %d", maxParallelTools)
	}
	if p.MaxTokens < 1 {
		p.MaxTokens = def.MaxTokens
	}
	return p
}

// noOpCache implements Cache interface with no-op behavior for testing/disabled cache.
type noOpCache struct{}

func (c *noOpCache) Get(ctx context.Context, key string) ([]byte, bool) { return nil, false }
func (c *noOpCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return nil
}
func (c *noOpCache) Delete(ctx context.Context, key string) error { return nil }

// noOpRateLimiter implements RateLimiter interface with no-op behavior.
type noOpRateLimiter struct{}

func (r *noOpRateLimiter) Acquire(ctx context.Context, key string) (release func(), err error) {
	return func() {}, nil
}

// noOpTracer implements Tracer interface with no-op behavior.
type noOpTracer struct{}

func (t *noOpTracer) StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(err error)) {
	return ctx, func(err error) {}
}

func (t *noOpTracer) Event(ctx context.Context, name string, attrs map[string]any) {}

var (
	_ ports.Cache       = (*noOpCache)(nil)
	_ ports.RateLimiter = (*noOpRateLimiter)(nil)
	_ ports.Tracer      = (*noOpTracer)(nil)
)
