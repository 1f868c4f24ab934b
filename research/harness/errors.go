package harness

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrDuplicateTool      = errors.New("tool already registered")
	ErrInvalidTool        = errors.New("invalid tool specification")
	ErrInvalidPricing     = errors.New("paid tool requires a positive price per call")
	ErrUnknownTool        = errors.New("unknown tool")
	ErrBudgetExceeded     = errors.New("tool budget exceeded")
	ErrSchemaInvalid      = errors.New("schema validation failed")
	ErrToolTimeout        = errors.New("tool call timed out")
	ErrToolFault          = errors.New("tool capability failed")
	ErrLLMUnavailable     = errors.New("llm unavailable")
	ErrInvalidFinalOutput = errors.New("final output failed schema validation")
)

// Failure codes carried in the "error" field of a tool payload.
const (
	CodeNoData         = "NO_DATA"
	CodeSchemaInvalid  = "SCHEMA_INVALID"
	CodeTimeout        = "TIMEOUT"
	CodeToolError      = "TOOL_ERROR"
	CodeInvalidArgs    = "INVALID_ARGS"
	CodeBudgetExceeded = "BUDGET_EXCEEDED"
)

// UnknownToolError reports requested tool names that are not registered,
// together with every name that is.
type UnknownToolError struct {
	Invalid []string
	Valid   []string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("invalid tool(s) requested: [%s]. Available: [%s]",
		strings.Join(e.Invalid, ", "), strings.Join(e.Valid, ", "))
}

func (e *UnknownToolError) Unwrap() error { return ErrUnknownTool }

// InvalidPricingError reports a paid tool registered without a usable price.
type InvalidPricingError struct {
	Tool  string
	Price float64
}

func (e *InvalidPricingError) Error() string {
	return fmt.Sprintf("tool %q: paid tools must have price_per_call > 0, got %g", e.Tool, e.Price)
}

func (e *InvalidPricingError) Unwrap() error { return ErrInvalidPricing }

// Budget scopes.
const (
	ScopeQuery = "query"
	ScopePair  = "pair"
)

// BudgetExceededError reports a global or per-pair call budget overflow.
type BudgetExceededError struct {
	Scope   string
	Tool    string
	Ticker  string
	Limit   int
	Planned int
}

func (e *BudgetExceededError) Error() string {
	if e.Scope == ScopePair {
		return fmt.Sprintf("%s:%s exceeds its budget of %d call(s) per ticker", e.Tool, e.Ticker, e.Limit)
	}
	return fmt.Sprintf("%d planned tool calls exceed the maximum of %d", e.Planned, e.Limit)
}

func (e *BudgetExceededError) Unwrap() error { return ErrBudgetExceeded }

// InvariantError reports an assembled response that violates its own schema.
type InvariantError struct {
	Reason string
}

func (e *InvariantError) Error() string {
	return "final output invalid: " + e.Reason
}

func (e *InvariantError) Unwrap() error { return ErrInvalidFinalOutput }

// ToolFailure is the in-band error object of a tool payload.
type ToolFailure struct {
	Code   string `json:"error"`
	Tool   string `json:"tool,omitempty"`
	Ticker string `json:"ticker"`
	Reason string `json:"reason"`
}

func (f *ToolFailure) String() string {
	return f.Code + ": " + f.Reason
}
