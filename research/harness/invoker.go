package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/rs/zerolog"

	ports "github.com/ZanzyTHEbar/investment-research/research/harness/ports"
)

// InvocationStatus is the terminal state of one tool invocation.
type InvocationStatus string

const (
	StatusOK             InvocationStatus = "ok"
	StatusDataError      InvocationStatus = "data_error"
	StatusInvalidArgs    InvocationStatus = "invalid_args"
	StatusToolError      InvocationStatus = "tool_error"
	StatusSchemaInvalid  InvocationStatus = "schema_invalid"
	StatusTimeout        InvocationStatus = "timeout"
	StatusBudgetExceeded InvocationStatus = "budget_exceeded"
)

// ToolInvocation is the outcome of one (tool, ticker) call. Result holds the
// capability payload when the capability answered and the failure object
// otherwise.
type ToolInvocation struct {
	Tool     string
	Ticker   string
	Args     map[string]any
	Result   json.RawMessage
	Failure  *ToolFailure
	Attempts int
	Status   InvocationStatus
	Cached   bool
}

// OK reports whether the invocation produced a usable payload.
func (inv ToolInvocation) OK() bool { return inv.Status == StatusOK }

type pairKey struct{ tool, ticker string }

// PairBudget counts calls per (tool, ticker) within one query.
type PairBudget struct {
	mu   sync.Mutex
	used map[pairKey]int
}

// NewPairBudget returns an empty budget.
func NewPairBudget() *PairBudget {
	return &PairBudget{used: make(map[pairKey]int)}
}

// Take consumes one call for (spec, ticker) or fails once BudgetPerTicker is spent.
func (b *PairBudget) Take(spec ToolSpec, ticker string) error {
	limit := max(1, spec.BudgetPerTicker)
	k := pairKey{spec.Name, ticker}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.used[k] >= limit {
		return &BudgetExceededError{Scope: ScopePair, Tool: spec.Name, Ticker: ticker, Limit: limit, Planned: b.used[k] + 1}
	}
	b.used[k]++
	return nil
}

// Used returns the calls consumed for (tool, ticker).
func (b *PairBudget) Used(tool, ticker string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used[pairKey{tool, ticker}]
}

// InvokerOption configures an Invoker.
type InvokerOption func(*Invoker)

// WithCache memoizes validated payloads for ttl.
func WithCache(c ports.Cache, ttl time.Duration) InvokerOption {
	return func(iv *Invoker) { iv.cache, iv.cacheTTL = c, ttl }
}

// WithToolTimeout bounds every attempt.
func WithToolTimeout(d time.Duration) InvokerOption {
	return func(iv *Invoker) {
		if d > 0 {
			iv.timeout = d
		}
	}
}

// WithInvokerTracer emits one event per attempt.
func WithInvokerTracer(t ports.Tracer) InvokerOption {
	return func(iv *Invoker) { iv.tracer = t }
}

// WithInvokerLogger sets the logger.
func WithInvokerLogger(l zerolog.Logger) InvokerOption {
	return func(iv *Invoker) { iv.logger = l }
}

// DefaultToolTimeout bounds a single capability attempt.
const DefaultToolTimeout = 20 * time.Second

// Invoker runs one tool call through validation, retry and budgeting.
type Invoker struct {
	validator *JSONValidator
	cache     ports.Cache
	cacheTTL  time.Duration
	timeout   time.Duration
	tracer    ports.Tracer
	logger    zerolog.Logger
}

// NewInvoker creates an invoker. A nil validator gets a fresh one.
func NewInvoker(v *JSONValidator, opts ...InvokerOption) *Invoker {
	if v == nil {
		v = NewJSONValidator()
	}
	iv := &Invoker{
		validator: v,
		cache:     &noOpCache{},
		timeout:   DefaultToolTimeout,
		tracer:    &noOpTracer{},
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(iv)
	}
	return iv
}

type attemptState int

const (
	stateFirstAttempt attemptState = iota
	stateRetry
	stateSuccess
	stateDegraded
)

type outcome int

const (
	outcomeOK outcome = iota
	outcomeDataError
	outcomeToolFault
	outcomeRetryable
)

// attemptResult is what one capability call produced.
type attemptResult struct {
	payload json.RawMessage
	kind    outcome
	code    string // failure code for retryable and fault outcomes
	reason  string
}

// Invoke runs spec for ticker. args is merged with {"ticker": ticker}; the
// caller's map is not modified. A nil budget disables the per-pair cap.
func (iv *Invoker) Invoke(ctx context.Context, spec ToolSpec, ticker string, args map[string]any, budget *PairBudget) ToolInvocation {
	merged := make(map[string]any, len(args)+1)
	maps.Copy(merged, args)
	merged["ticker"] = ticker

	inv := ToolInvocation{Tool: spec.Name, Ticker: ticker, Args: merged}
	log := iv.logger.With().Str("tool", spec.Name).Str("ticker", ticker).Logger()

	if budget != nil {
		if err := budget.Take(spec, ticker); err != nil {
			log.Warn().Err(err).Msg("Tool call rejected by pair budget")
			return iv.fail(inv, StatusBudgetExceeded, CodeBudgetExceeded, err.Error())
		}
	}

	argsJSON, err := json.Marshal(merged)
	if err != nil {
		return iv.fail(inv, StatusInvalidArgs, CodeInvalidArgs, err.Error())
	}
	if err := iv.validator.Validate(argsJSON, spec.InputSchema); err != nil {
		log.Warn().Err(err).Msg("Tool arguments rejected")
		return iv.fail(inv, StatusInvalidArgs, CodeInvalidArgs, err.Error())
	}

	cacheKey := spec.Name + ":" + string(argsJSON)
	if cached, ok := iv.cache.Get(ctx, cacheKey); ok {
		log.Debug().Msg("Tool cache hit")
		inv.Result = cached
		inv.Status = StatusOK
		inv.Cached = true
		return inv
	}

	if spec.Tool == nil {
		return iv.fail(inv, StatusToolError, CodeToolError, "tool has no capability bound")
	}

	var last attemptResult
	state := stateFirstAttempt
	for state != stateSuccess && state != stateDegraded {
		inv.Attempts++
		last = iv.attempt(ctx, spec, argsJSON)
		iv.tracer.Event(ctx, "tool_attempt", map[string]any{
			"tool": spec.Name, "ticker": ticker, "attempt": inv.Attempts, "outcome": last.code,
		})

		switch last.kind {
		case outcomeOK:
			state = stateSuccess
		case outcomeDataError:
			// The capability answered; its error object is the result.
			inv.Result = last.payload
			inv.Failure = decodeFailure(last.payload, spec.Name, ticker)
			inv.Status = StatusDataError
			return inv
		case outcomeToolFault:
			log.Warn().Str("reason", last.reason).Msg("Tool capability failed")
			out := iv.fail(inv, StatusToolError, CodeToolError, last.reason)
			out.Attempts = inv.Attempts
			return out
		case outcomeRetryable:
			if state == stateFirstAttempt {
				log.Debug().Str("code", last.code).Str("reason", last.reason).Msg("Retrying tool call")
				state = stateRetry
			} else {
				state = stateDegraded
			}
		}
	}

	if state == stateDegraded {
		status := StatusSchemaInvalid
		if last.code == CodeTimeout {
			status = StatusTimeout
		}
		log.Warn().Str("code", last.code).Str("reason", last.reason).Int("attempts", inv.Attempts).Msg("Tool call degraded")
		out := iv.fail(inv, status, last.code, last.reason)
		out.Attempts = inv.Attempts
		return out
	}

	inv.Result = last.payload
	inv.Status = StatusOK
	if err := iv.cache.Set(ctx, cacheKey, last.payload, iv.cacheTTL); err != nil {
		log.Debug().Err(err).Msg("Tool cache write failed")
	}
	return inv
}

func (iv *Invoker) fail(inv ToolInvocation, status InvocationStatus, code, reason string) ToolInvocation {
	f := &ToolFailure{Code: code, Tool: inv.Tool, Ticker: inv.Ticker, Reason: reason}
	inv.Failure = f
	inv.Status = status
	inv.Result, _ = json.Marshal(f)
	return inv
}

// attempt calls the capability once under the per-attempt timeout. The call
// runs in its own goroutine so a capability that ignores its context cannot
// hold the invoker past the deadline.
func (iv *Invoker) attempt(ctx context.Context, spec ToolSpec, args json.RawMessage) attemptResult {
	callCtx, cancel := context.WithTimeout(ctx, iv.timeout)
	defer cancel()

	type result struct {
		v   any
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("%w: panic: %v", ErrToolFault, r)}
			}
		}()
		v, err := spec.Tool.Invoke(callCtx, args)
		done <- result{v: v, err: err}
	}()

	var r result
	select {
	case r = <-done:
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return attemptResult{kind: outcomeToolFault, code: CodeToolError, reason: ctx.Err().Error()}
		}
		return timeoutResult(iv.timeout)
	}

	if r.err != nil {
		if errors.Is(r.err, context.DeadlineExceeded) && ctx.Err() == nil {
			return timeoutResult(iv.timeout)
		}
		return attemptResult{kind: outcomeToolFault, code: CodeToolError, reason: r.err.Error()}
	}

	payload, err := marshalPayload(r.v)
	if err != nil {
		return attemptResult{kind: outcomeRetryable, code: CodeSchemaInvalid, reason: err.Error()}
	}
	if err := iv.validator.Validate(payload, spec.OutputSchema); err != nil {
		return attemptResult{kind: outcomeRetryable, code: CodeSchemaInvalid, reason: err.Error()}
	}
	if isErrorObject(payload) {
		return attemptResult{payload: payload, kind: outcomeDataError, code: CodeNoData}
	}
	return attemptResult{payload: payload, kind: outcomeOK, code: "ok"}
}

func timeoutResult(d time.Duration) attemptResult {
	return attemptResult{
		kind:   outcomeRetryable,
		code:   CodeTimeout,
		reason: fmt.Sprintf("%s after %s", ErrToolTimeout, d),
	}
}

func marshalPayload(v any) (json.RawMessage, error) {
	switch p := v.(type) {
	case json.RawMessage:
		return p, nil
	case []byte:
		return p, nil
	case nil:
		return nil, errors.New("tool returned no payload")
	}
	return json.Marshal(v)
}

func isErrorObject(payload json.RawMessage) bool {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(payload, &probe); err != nil {
		return false
	}
	_, ok := probe["error"]
	return ok
}

func decodeFailure(payload json.RawMessage, tool, ticker string) *ToolFailure {
	f := &ToolFailure{}
	_ = json.Unmarshal(payload, f)
	if f.Tool == "" {
		f.Tool = tool
	}
	if f.Ticker == "" {
		f.Ticker = ticker
	}
	return f
}
