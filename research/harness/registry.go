package harness

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/armon/go-radix"

	ports "github.com/ZanzyTHEbar/investment-research/research/harness/ports"
)

// ToolSpec is the registration record of one research capability.
type ToolSpec struct {
	Name            string
	Tool            ports.Tool
	InputSchema     []byte // defaults to Tool.Schema()
	OutputSchema    []byte // defaults to Tool.OutputSchema()
	IsPaid          bool
	PricePerCall    float64
	BudgetPerTicker int // calls allowed per ticker per query; zero means 1
	Description     string
	UsageExamples   []string

	// DefaultArgs builds the planned arguments for a lookback period. The
	// ticker is merged in by the invoker. Nil plans {}.
	DefaultArgs func(period string) map[string]any
}

// ArgsFor returns the planned arguments for period.
func (s ToolSpec) ArgsFor(period string) map[string]any {
	if s.DefaultArgs == nil {
		return map[string]any{}
	}
	return s.DefaultArgs(period)
}

// ToolDescription is the prompt-facing view of a ToolSpec.
type ToolDescription struct {
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	IsPaid        bool     `json:"is_paid"`
	PricePerCall  float64  `json:"price_per_call"`
	UsageExamples []string `json:"usage_examples"`
}

// ToolPricing is the CLI-facing pricing of a tool.
type ToolPricing struct {
	IsPaid       bool    `json:"is_paid"`
	PricePerCall float64 `json:"price_per_call"`
}

// ToolRegistry holds tool specs in registration order with a name index.
// Views returned by Free and Filter are independent registries.
type ToolRegistry struct {
	order []string
	index *radix.Tree
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{index: radix.New()}
}

// toolName matches names usable as the tool part of a data_used entry.
var toolName = regexp.MustCompile(`^[a-z_]+$`)

// Register validates and adds spec.
func (r *ToolRegistry) Register(spec ToolSpec) error {
	if strings.TrimSpace(spec.Name) == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidTool)
	}
	if !toolName.MatchString(spec.Name) {
		return fmt.Errorf("%w: name %q must be lower case letters and underscores", ErrInvalidTool, spec.Name)
	}
	if _, exists := r.index.Get(spec.Name); exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, spec.Name)
	}
	if spec.BudgetPerTicker == 0 {
		spec.BudgetPerTicker = 1
	}
	if spec.BudgetPerTicker < 1 {
		return fmt.Errorf("%w: %s budget_per_ticker must be >= 1, got %d", ErrInvalidTool, spec.Name, spec.BudgetPerTicker)
	}
	if spec.IsPaid && spec.PricePerCall <= 0 {
		return &InvalidPricingError{Tool: spec.Name, Price: spec.PricePerCall}
	}
	if spec.Tool != nil {
		if spec.InputSchema == nil {
			spec.InputSchema = spec.Tool.Schema()
		}
		if spec.OutputSchema == nil {
			spec.OutputSchema = spec.Tool.OutputSchema()
		}
	}
	spec.UsageExamples = slices.Clone(spec.UsageExamples)

	r.index.Insert(spec.Name, &spec)
	r.order = append(r.order, spec.Name)
	return nil
}

// Get returns the spec registered under name.
func (r *ToolRegistry) Get(name string) (ToolSpec, bool) {
	v, ok := r.index.Get(name)
	if !ok {
		return ToolSpec{}, false
	}
	return *v.(*ToolSpec), true
}

// Has reports whether name is registered.
func (r *ToolRegistry) Has(name string) bool {
	_, ok := r.index.Get(name)
	return ok
}

// IsPaid reports whether name is a registered paid tool.
func (r *ToolRegistry) IsPaid(name string) bool {
	spec, ok := r.Get(name)
	return ok && spec.IsPaid
}

// Len returns the number of registered tools.
func (r *ToolRegistry) Len() int { return len(r.order) }

// Specs returns every spec in registration order.
func (r *ToolRegistry) Specs() []ToolSpec {
	out := make([]ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		spec, _ := r.Get(name)
		out = append(out, spec)
	}
	return out
}

// Names returns every registered name in lexical order.
func (r *ToolRegistry) Names() []string {
	names := make([]string, 0, r.index.Len())
	r.index.Walk(func(s string, _ interface{}) bool {
		names = append(names, s)
		return false
	})
	return names
}

func (r *ToolRegistry) subset(keep func(ToolSpec) bool) *ToolRegistry {
	out := NewToolRegistry()
	for _, spec := range r.Specs() {
		if keep(spec) {
			out.index.Insert(spec.Name, &spec)
			out.order = append(out.order, spec.Name)
		}
	}
	return out
}

// Free returns the free-tier subset.
func (r *ToolRegistry) Free() *ToolRegistry {
	return r.subset(func(s ToolSpec) bool { return !s.IsPaid })
}

// Filter returns the subset named by names, in registration order. Any
// unknown name fails the whole call.
func (r *ToolRegistry) Filter(names []string) (*ToolRegistry, error) {
	want := make(map[string]struct{}, len(names))
	var invalid []string
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if !r.Has(n) {
			if !slices.Contains(invalid, n) {
				invalid = append(invalid, n)
			}
			continue
		}
		want[n] = struct{}{}
	}
	if len(invalid) > 0 {
		return nil, &UnknownToolError{Invalid: invalid, Valid: r.Names()}
	}
	return r.subset(func(s ToolSpec) bool {
		_, ok := want[s.Name]
		return ok
	}), nil
}

// Resolve returns the active registry for a request. No names means the
// free tier.
func (r *ToolRegistry) Resolve(names []string) (*ToolRegistry, error) {
	if len(names) == 0 {
		return r.Free(), nil
	}
	return r.Filter(names)
}

// DescribeForPrompt lists every tool in registration order.
func (r *ToolRegistry) DescribeForPrompt() []ToolDescription {
	specs := r.Specs()
	out := make([]ToolDescription, 0, len(specs))
	for _, s := range specs {
		out = append(out, ToolDescription{
			Name:          s.Name,
			Description:   s.Description,
			IsPaid:        s.IsPaid,
			PricePerCall:  s.PricePerCall,
			UsageExamples: slices.Clone(s.UsageExamples),
		})
	}
	return out
}

// PromptText renders the registry for a routing prompt.
func (r *ToolRegistry) PromptText() string {
	descs := r.DescribeForPrompt()
	if len(descs) == 0 {
		return "No tools available"
	}

	var sb strings.Builder
	for i, d := range descs {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("- ")
		sb.WriteString(d.Name)
		if d.IsPaid {
			sb.WriteString(" [PAID]")
		}
		sb.WriteString(": ")
		sb.WriteString(d.Description)
		sb.WriteString("\n  Example usage: ")
		if len(d.UsageExamples) == 0 {
			sb.WriteString("None")
		} else {
			sb.WriteString(strings.Join(d.UsageExamples, "\n  "))
		}
	}
	return sb.String()
}

// TotalBudgetPerTicker sums the per-ticker budgets of every tool, the most
// calls one ticker can cost when every tool is selected.
func (r *ToolRegistry) TotalBudgetPerTicker() int {
	total := 0
	for _, s := range r.Specs() {
		total += s.BudgetPerTicker
	}
	return total
}

// Available returns the pricing of every tool.
func (r *ToolRegistry) Available() map[string]ToolPricing {
	out := make(map[string]ToolPricing, r.Len())
	for _, s := range r.Specs() {
		out[s.Name] = ToolPricing{IsPaid: s.IsPaid, PricePerCall: s.PricePerCall}
	}
	return out
}

// HelpText renders the --tools flag help.
func (r *ToolRegistry) HelpText() string {
	var sb strings.Builder
	sb.WriteString("Available tools (comma-separated):")
	for _, name := range r.Names() {
		spec, _ := r.Get(name)
		sb.WriteString("\n  ")
		sb.WriteString(name)
		if spec.IsPaid {
			sb.WriteString(" [PAID] $")
			sb.WriteString(strconv.FormatFloat(spec.PricePerCall, 'f', -1, 64))
			sb.WriteString("/call")
		} else {
			sb.WriteString(" [FREE]")
		}
	}
	sb.WriteString("\nDefault: free tools only")
	return sb.String()
}
