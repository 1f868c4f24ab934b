package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/investment-research/research/harness"
	ports "github.com/ZanzyTHEbar/investment-research/research/harness/ports"
)

const (
	DefaultBreakerThreshold = 5
	DefaultBreakerCooldown  = 60 * time.Second

	maxErrorMessages = 10
	latencyAlpha     = 0.1
)

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = fmt.Errorf("%w: circuit breaker is open", harness.ErrLLMUnavailable)

// Health tracks the call history of a provider.
type Health struct {
	IsHealthy      bool
	SuccessRate    float64
	AverageLatency time.Duration
	TotalCalls     int64
	SuccessCalls   int64
	FailureCalls   int64
	LastUsed       time.Time
	ErrorMessages  []string
}

// Guarded wraps a Provider with health tracking and a circuit breaker. After
// threshold consecutive failures, calls fail fast until cooldown elapses.
type Guarded struct {
	Provider

	threshold int
	cooldown  time.Duration
	now       func() time.Time
	logger    zerolog.Logger

	mu          sync.Mutex
	health      Health
	failures    int
	lastFailure time.Time
}

// GuardOption configures a Guarded provider.
type GuardOption func(*Guarded)

// WithBreaker sets the failure threshold and cooldown.
func WithBreaker(threshold int, cooldown time.Duration) GuardOption {
	return func(g *Guarded) {
		if threshold > 0 {
			g.threshold = threshold
		}
		if cooldown > 0 {
			g.cooldown = cooldown
		}
	}
}

// WithGuardClock replaces time.Now.
func WithGuardClock(now func() time.Time) GuardOption {
	return func(g *Guarded) { g.now = now }
}

// WithGuardLogger sets the logger.
func WithGuardLogger(l zerolog.Logger) GuardOption {
	return func(g *Guarded) { g.logger = l }
}

// Guard wraps p.
func Guard(p Provider, opts ...GuardOption) *Guarded {
	g := &Guarded{
		Provider:  p,
		threshold: DefaultBreakerThreshold,
		cooldown:  DefaultBreakerCooldown,
		now:       time.Now,
		logger:    zerolog.Nop(),
		health:    Health{IsHealthy: true, SuccessRate: 1},
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With().Str("provider", p.Name()).Str("model", p.Model()).Logger()
	return g
}

// Complete forwards to the wrapped provider unless the breaker is open.
func (g *Guarded) Complete(ctx context.Context, in ports.PromptInput, opts ports.Options) (ports.Completion, error) {
	if g.breakerOpen() {
		return ports.Completion{}, ErrCircuitOpen
	}

	start := g.now()
	out, err := g.Provider.Complete(ctx, in, opts)
	if err != nil {
		// Caller cancellation says nothing about the backend.
		if ctx.Err() == nil || ctx.Err() == context.DeadlineExceeded {
			g.recordFailure(err)
		}
		return out, err
	}
	g.recordSuccess(g.now().Sub(start))
	return out, nil
}

// Health returns a snapshot of the provider's health.
func (g *Guarded) Health() Health {
	g.mu.Lock()
	defer g.mu.Unlock()

	h := g.health
	h.ErrorMessages = append([]string(nil), g.health.ErrorMessages...)
	return h
}

func (g *Guarded) breakerOpen() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.failures < g.threshold {
		return false
	}
	if g.now().Sub(g.lastFailure) <= g.cooldown {
		return true
	}
	g.failures = 0
	g.logger.Info().Msg("Circuit breaker reset after cooldown")
	return false
}

func (g *Guarded) recordSuccess(d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.failures = 0
	g.health.TotalCalls++
	g.health.SuccessCalls++
	g.health.LastUsed = g.now()
	g.health.IsHealthy = true
	if g.health.AverageLatency == 0 {
		g.health.AverageLatency = d
	} else {
		g.health.AverageLatency = time.Duration(float64(g.health.AverageLatency)*(1-latencyAlpha) + float64(d)*latencyAlpha)
	}
	g.health.SuccessRate = float64(g.health.SuccessCalls) / float64(g.health.TotalCalls)
}

func (g *Guarded) recordFailure(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.failures++
	g.lastFailure = g.now()
	g.health.TotalCalls++
	g.health.FailureCalls++
	g.health.LastUsed = g.lastFailure
	g.health.IsHealthy = false
	if len(g.health.ErrorMessages) >= maxErrorMessages {
		g.health.ErrorMessages = g.health.ErrorMessages[1:]
	}
	g.health.ErrorMessages = append(g.health.ErrorMessages, err.Error())
	g.health.SuccessRate = float64(g.health.SuccessCalls) / float64(g.health.TotalCalls)

	g.logger.Warn().Err(err).Int("failure_count", g.failures).Msg("Provider call failed")
}
