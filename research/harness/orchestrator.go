package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/iter"

	"github.com/ZanzyTHEbar/investment-research/research"
	"github.com/ZanzyTHEbar/investment-research/research/cost"
	ports "github.com/ZanzyTHEbar/investment-research/research/harness/ports"
)

// Limitation messages emitted by the agent.
const (
	NoteLLMDisabled    = "LLM disabled: missing API key or client unavailable."
	NoteCostNoUsage    = "Cost tracking skipped: provider reported no token usage."
	noteSkippedPairFmt = "Tool budget exceeded: skipped %s:%s"
	noteRoutingFmt     = "LLM routing unavailable: %s. Using default tool plan."
	noteSummaryFmt     = "LLM summary unavailable: %s. Using rule-based summary."
)

const (
	summaryMaxAttempts   = 2
	defaultContextTokens = 3000
)

// Stage is a state of the research pipeline.
type Stage string

const (
	StageResolve     Stage = "RESOLVE"
	StageSelectTools Stage = "SELECT_TOOLS"
	StageExecute     Stage = "EXECUTE"
	StageSummarize   Stage = "SUMMARIZE"
	StageCost        Stage = "COST"
	StageFinalize    Stage = "FINALIZE"
)

// Query is one research request.
type Query struct {
	Text    string
	Tickers []string
	Period  string
	Tools   []string // nil selects the free tier
}

// Policy controls orchestration behavior.
type Policy struct {
	ToolTimeout   time.Duration // per-attempt tool timeout
	LLMTimeout    time.Duration // per-call provider timeout
	ParallelTools int           // >1 fans EXECUTE out, order is preserved
	InferTickers  bool          // infer tickers from the query text when none are given
	UseLLM        bool          // an LLM was requested; a missing provider becomes a limitation
	Routing       bool          // let the LLM choose the tool plan
	TrackCost     bool
	MaxTokens     int
	Temperature   float32
	ContextTokens int // budget for tool output packed into the summary prompt
}

// DefaultPolicy returns sensible defaults.
func DefaultPolicy() Policy {
	return Policy{
		ToolTimeout:   DefaultToolTimeout,
		LLMTimeout:    45 * time.Second,
		ParallelTools: 1,
		MaxTokens:     research.DefaultMaxTokens,
		Temperature:   0.2,
		ContextTokens: defaultContextTokens,
	}
}

// AgentOption configures an Agent.
type AgentOption func(*Agent)

// WithProvider enables the LLM stages.
func WithProvider(p ports.Provider) AgentOption { return func(a *Agent) { a.provider = p } }

// WithAnalyzer enables cost tracking through a.
func WithAnalyzer(c *cost.Analyzer) AgentOption { return func(a *Agent) { a.analyzer = c } }

// WithGuardrails replaces the default limits.
func WithGuardrails(g GuardrailConfig) AgentOption { return func(a *Agent) { a.guardrails = g } }

// WithPolicy replaces the default policy.
func WithPolicy(p Policy) AgentOption { return func(a *Agent) { a.policy = p } }

// WithInvoker replaces the default invoker.
func WithInvoker(iv *Invoker) AgentOption { return func(a *Agent) { a.invoker = iv } }

// WithRateLimiter guards provider calls.
func WithRateLimiter(l ports.RateLimiter) AgentOption { return func(a *Agent) { a.limiter = l } }

// WithTracer traces the pipeline.
func WithTracer(t ports.Tracer) AgentOption { return func(a *Agent) { a.tracer = t } }

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) AgentOption { return func(a *Agent) { a.logger = l } }

// Agent runs the research pipeline
// RESOLVE → SELECT_TOOLS → EXECUTE → SUMMARIZE → COST → FINALIZE.
// An Agent is safe for concurrent Runs; per-query state lives on the stack.
type Agent struct {
	registry   *ToolRegistry
	guardrails GuardrailConfig
	policy     Policy
	validator  *JSONValidator
	final      []byte // schema every returned response satisfies
	invoker    *Invoker
	provider   ports.Provider
	analyzer   *cost.Analyzer
	limiter    ports.RateLimiter
	tracer     ports.Tracer
	builder    *PromptBuilder
	evidence   *EvidencePacker
	parser     *OutputParser
	logger     zerolog.Logger
}

// NewAgent creates an agent over registry.
func NewAgent(registry *ToolRegistry, opts ...AgentOption) *Agent {
	a := &Agent{
		registry:   registry,
		guardrails: DefaultGuardrailConfig(),
		policy:     DefaultPolicy(),
		validator:  NewJSONValidator(),
		final:      FinalSchema,
		limiter:    &noOpRateLimiter{},
		tracer:     &noOpTracer{},
		builder:    NewPromptBuilder(),
		parser:     NewOutputParser(),
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.invoker == nil {
		a.invoker = NewInvoker(a.validator,
			WithToolTimeout(a.policy.ToolTimeout),
			WithInvokerTracer(a.tracer),
			WithInvokerLogger(a.logger))
	}
	if a.policy.ContextTokens <= 0 {
		a.policy.ContextTokens = defaultContextTokens
	}
	a.evidence = NewEvidencePacker(EvidenceBudget{MaxTokens: a.policy.ContextTokens, MaxItems: 3 * research.DefaultMaxTickers}, nil)
	return a
}

// Registry returns the full tool registry.
func (a *Agent) Registry() *ToolRegistry { return a.registry }

// Analyzer returns the cost analyzer, or nil when cost tracking is off.
func (a *Agent) Analyzer() *cost.Analyzer { return a.analyzer }

// Provider returns the LLM provider, or nil when none is configured.
func (a *Agent) Provider() ports.Provider { return a.provider }

// llmState accumulates provider usage within one Run.
type llmState struct {
	calls    int // calls that returned a completion
	reported bool
	usage    ports.Usage
}

// Run executes one research query. Unknown tools fail before any work; a
// final envelope that violates its schema returns *InvariantError. Every
// other failure degrades into Limitations.
func (a *Agent) Run(ctx context.Context, q Query) (resp *FinalResponse, err error) {
	active, err := a.registry.Resolve(q.Tools)
	if err != nil {
		return nil, err
	}

	ctx, finish := a.tracer.StartSpan(ctx, "research", map[string]any{"query": q.Text})
	defer func() { finish(err) }()

	log := a.logger.With().Str("query", q.Text).Logger()
	resp = newFinalResponse(q.Text)
	st := &llmState{}

	// RESOLVE
	a.stage(ctx, log, StageResolve)
	tickers, period := a.resolve(q, resp)

	if a.policy.UseLLM && a.provider == nil {
		resp.limit(NoteLLMDisabled)
	}

	// SELECT_TOOLS
	a.stage(ctx, log, StageSelectTools)
	plan := StaticPlan(active, tickers, period)
	if a.provider != nil && a.policy.Routing {
		routed, rerr := a.route(ctx, st, q.Text, tickers, period, active)
		if rerr != nil {
			log.Warn().Err(rerr).Msg("LLM routing failed, using static plan")
			resp.limit(fmt.Sprintf(noteRoutingFmt, RedactSecrets(rerr.Error())))
		} else {
			plan = routed
		}
	}

	if berr := a.guardrails.CheckToolBudget(len(plan)); berr != nil {
		kept, skipped := a.guardrails.PrunePlan(plan, active.IsPaid)
		log.Warn().Err(berr).Int("skipped", len(skipped)).Msg("Tool plan pruned")
		for _, c := range skipped {
			resp.limit(fmt.Sprintf(noteSkippedPairFmt, c.Tool, c.Ticker))
		}
		plan = kept
	}

	// EXECUTE
	a.stage(ctx, log, StageExecute)
	invs := a.execute(ctx, active, plan)
	anyOK := false
	for _, inv := range invs {
		resp.record(inv)
		anyOK = anyOK || inv.OK()
	}

	// SUMMARIZE
	a.stage(ctx, log, StageSummarize)
	resp.Summary = RuleSummary(tickers, period, invs)
	if a.provider != nil && anyOK {
		s, serr := a.summarize(ctx, st, q.Text, tickers, invs)
		if serr != nil {
			log.Warn().Err(serr).Msg("LLM summary failed, using rule-based summary")
			resp.limit(fmt.Sprintf(noteSummaryFmt, RedactSecrets(serr.Error())))
		} else {
			resp.Summary = s
		}
	}

	// COST
	if a.analyzer != nil && a.policy.TrackCost && st.calls > 0 {
		a.stage(ctx, log, StageCost)
		if !st.reported {
			resp.limit(NoteCostNoUsage)
		} else {
			rec, terr := a.analyzer.Track(ctx, cost.TrackInput{
				Query:        q.Text,
				Period:       period,
				Provider:     a.provider.Name(),
				Model:        a.provider.Model(),
				InputTokens:  st.usage.PromptTokens,
				OutputTokens: st.usage.CompletionTokens,
				Tickers:      tickers,
			})
			if terr != nil {
				log.Warn().Err(terr).Msg("Cost record not persisted")
			}
			resp.CostAnalysis = &rec
		}
	}

	// FINALIZE
	a.stage(ctx, log, StageFinalize)
	resp.Disclaimer = research.Disclaimer
	if verr := a.validator.ValidateValue(resp, a.final); verr != nil {
		log.Error().Err(verr).Msg("Final output failed validation")
		return nil, &InvariantError{Reason: strings.TrimPrefix(verr.Error(), ErrSchemaInvalid.Error()+": ")}
	}

	log.Info().
		Strs("tickers", resp.Tickers).
		Int("tool_calls", len(resp.ToolCalls)).
		Int("limitations", len(resp.Limitations)).
		Msg("Research run complete")
	return resp, nil
}

func (a *Agent) stage(ctx context.Context, log zerolog.Logger, s Stage) {
	log.Debug().Str("stage", string(s)).Msg("Entering stage")
	a.tracer.Event(ctx, "stage", map[string]any{"stage": string(s)})
}

// resolve runs ticker inference and the guardrails, filling the ticker
// fields of resp.
func (a *Agent) resolve(q Query, resp *FinalResponse) (tickers []string, period string) {
	supplied := q.Tickers
	source := TickersFromUser
	if !hasTicker(supplied) && a.policy.InferTickers {
		if inferred := InferTickers(q.Text); len(inferred) > 0 {
			supplied = inferred
			source = TickersFromQuery
			resp.TickersInferred = inferred
		}
	}

	tickers, notes := a.guardrails.ResolveTickers(supplied)
	if !hasTicker(supplied) {
		source = TickersFromProxy
	}
	resp.limit(notes...)

	period, notes = a.guardrails.NormalizePeriod(q.Period)
	resp.limit(notes...)

	resp.Tickers = tickers
	resp.TickersSource = source
	return tickers, period
}

func hasTicker(ts []string) bool {
	for _, t := range ts {
		if strings.TrimSpace(t) != "" {
			return true
		}
	}
	return false
}

// StaticPlan pairs every ticker with every active tool, tickers outermost and
// tools in registration order.
func StaticPlan(active *ToolRegistry, tickers []string, period string) []PlannedCall {
	specs := active.Specs()
	plan := make([]PlannedCall, 0, len(tickers)*len(specs))
	for _, t := range tickers {
		for _, s := range specs {
			plan = append(plan, PlannedCall{Tool: s.Name, Ticker: t, Args: s.ArgsFor(period)})
		}
	}
	return plan
}

func (a *Agent) execute(ctx context.Context, active *ToolRegistry, plan []PlannedCall) []ToolInvocation {
	budget := NewPairBudget()
	call := func(c *PlannedCall) ToolInvocation {
		spec, _ := active.Get(c.Tool)
		return a.invoker.Invoke(ctx, spec, c.Ticker, c.Args, budget)
	}

	if a.policy.ParallelTools > 1 && len(plan) > 1 {
		mapper := iter.Mapper[PlannedCall, ToolInvocation]{MaxGoroutines: a.policy.ParallelTools}
		return mapper.Map(plan, call)
	}

	out := make([]ToolInvocation, 0, len(plan))
	for i := range plan {
		out = append(out, call(&plan[i]))
	}
	return out
}

// complete makes one provider call under the rate limiter and timeout.
func (a *Agent) complete(ctx context.Context, st *llmState, in ports.PromptInput) (string, error) {
	key := a.provider.Name() + "/" + a.provider.Model()
	release, err := a.limiter.Acquire(ctx, key)
	if err != nil {
		return "", fmt.Errorf("acquire %s: %w", key, err)
	}
	defer release()

	callCtx, cancel := context.WithTimeout(ctx, a.policy.LLMTimeout)
	defer cancel()

	comp, err := a.provider.Complete(callCtx, in, ports.Options{
		MaxNewTokens: a.policy.MaxTokens,
		Temperature:  a.policy.Temperature,
		JSONMode:     true,
	})
	if err != nil {
		return "", err
	}

	st.calls++
	if comp.Usage != nil {
		st.reported = true
		st.usage.PromptTokens += comp.Usage.PromptTokens
		st.usage.CompletionTokens += comp.Usage.CompletionTokens
		st.usage.TotalTokens += comp.Usage.TotalTokens
	}
	return comp.Text, nil
}

type routingResponse struct {
	Tools []struct {
		Tool    string   `json:"tool"`
		Tickers []string `json:"tickers"`
	} `json:"tools"`
	Reasoning string `json:"reasoning"`
}

// route asks the provider for a tool plan. Tickers outside the resolved set
// are dropped; an unknown tool fails the whole plan.
func (a *Agent) route(ctx context.Context, st *llmState, query string, tickers []string, period string, active *ToolRegistry) ([]PlannedCall, error) {
	text, err := a.complete(ctx, st, a.builder.Routing(query, tickers, active.PromptText()))
	if err != nil {
		return nil, err
	}
	raw, err := a.parser.ParseJSONOutput(text)
	if err != nil {
		return nil, err
	}
	if err := a.validator.Validate(raw, RoutingSchema); err != nil {
		return nil, err
	}

	var r routingResponse
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode routing: %w", err)
	}

	allowed := make(map[string]struct{}, len(tickers))
	for _, t := range tickers {
		allowed[t] = struct{}{}
	}

	seen := make(map[pairKey]struct{})
	var plan []PlannedCall
	for _, entry := range r.Tools {
		spec, ok := active.Get(entry.Tool)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownTool, entry.Tool)
		}
		for _, t := range entry.Tickers {
			t = strings.ToUpper(strings.TrimSpace(t))
			if _, ok := allowed[t]; !ok {
				continue
			}
			k := pairKey{spec.Name, t}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			plan = append(plan, PlannedCall{Tool: spec.Name, Ticker: t, Args: spec.ArgsFor(period)})
		}
	}
	if len(plan) == 0 {
		return nil, errors.New("routing selected no tool calls")
	}
	a.logger.Debug().Int("calls", len(plan)).Str("reasoning", r.Reasoning).Msg("LLM routing plan accepted")
	return plan, nil
}

// summarize asks the provider for a summary of the successful outputs,
// retrying once on any failure.
func (a *Agent) summarize(ctx context.Context, st *llmState, query string, tickers []string, invs []ToolInvocation) (Summary, error) {
	packed, dropped := a.evidence.Pack(CollectEvidence(tickers, invs))
	if dropped > 0 {
		a.logger.Debug().Int("dropped", dropped).Msg("Tool outputs left out of the summary prompt")
	}
	in := a.builder.Summary(query, tickers, packed)

	var lastErr error
	for attempt := 1; attempt <= summaryMaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Summary{}, err
		}
		s, err := a.summaryAttempt(ctx, st, in)
		if err == nil {
			return s, nil
		}
		lastErr = err
		a.logger.Debug().Err(err).Int("attempt", attempt).Msg("LLM summary attempt failed")
	}
	return Summary{}, lastErr
}

func (a *Agent) summaryAttempt(ctx context.Context, st *llmState, in ports.PromptInput) (Summary, error) {
	text, err := a.complete(ctx, st, in)
	if err != nil {
		return Summary{}, err
	}
	raw, err := a.parser.ParseJSONOutput(text)
	if err != nil {
		return Summary{}, err
	}
	if err := a.validator.Validate(raw, SummarySchema); err != nil {
		return Summary{}, err
	}
	var s Summary
	if err := json.Unmarshal(raw, &s); err != nil {
		return Summary{}, fmt.Errorf("decode summary: %w", err)
	}
	if s.Risks == nil {
		s.Risks = []string{}
	}
	return s, nil
}
