package rating

import (
	"fmt"
	"sort"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/ratedesk/internal/domain"
)

// Validator checks a whole range table before it is accepted.
type Validator interface {
	Validate(rules []domain.RangeRule) error
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(rules []domain.RangeRule) error

func (f ValidatorFunc) Validate(rules []domain.RangeRule) error {
	return f(rules)
}

// BoundsValidator checks each rule on its own: bounds, pricing type and decision.
type BoundsValidator struct{}

func (BoundsValidator) Validate(rules []domain.RangeRule) error {
	for i, r := range rules {
		if r.From < 0 {
			return invalid(i, r, "from must not be negative, got %v", r.From)
		}
		if !r.To.Unbounded && r.To.Value < r.From {
			return invalid(i, r, "to (%v) must not be below from (%v)", r.To.Value, r.From)
		}
		switch r.PricingType {
		case domain.PricingPercentage, domain.PricingFixedAmount:
		default:
			return invalid(i, r, "unknown pricing type %q", r.PricingType)
		}
		if r.QuoteDecision != "" && !r.QuoteDecision.Valid() {
			return invalid(i, r, "unknown quote decision %q", r.QuoteDecision)
		}
	}
	return nil
}

// OverlapValidator rejects tables where two bands share more than a boundary
// point. Touching bands such as 0-6 and 6-12 are accepted.
type OverlapValidator struct{}

func (OverlapValidator) Validate(rules []domain.RangeRule) error {
	sorted := append([]domain.RangeRule(nil), rules...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].From < sorted[j].From })

	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		if prev.To.Unbounded || cur.From < prev.To.Value {
			return domain.NewError(domain.KindValidation,
				fmt.Sprintf("band %v-%s overlaps band %v-%s", prev.From, prev.To, cur.From, cur.To), nil)
		}
	}
	return nil
}

// ExpressionValidator requires every rule to satisfy a CEL guard, e.g.
// "value <= 50.0 || decision != 'auto_quote'". Variables: from, to, value,
// pricing_type, decision, unbounded. For unbounded rules to is 999.
type ExpressionValidator struct {
	expr    string
	program cel.Program
}

// NewExpressionValidator compiles expr. It must return bool.
func NewExpressionValidator(expr string) (*ExpressionValidator, error) {
	env, err := cel.NewEnv(
		cel.Variable("from", cel.DoubleType),
		cel.Variable("to", cel.DoubleType),
		cel.Variable("value", cel.DoubleType),
		cel.Variable("pricing_type", cel.StringType),
		cel.Variable("decision", cel.StringType),
		cel.Variable("unbounded", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile guard %q: %w", expr, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("guard %q must return bool, got %s", expr, ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for guard %q: %w", expr, err)
	}
	return &ExpressionValidator{expr: expr, program: program}, nil
}

func (v *ExpressionValidator) Validate(rules []domain.RangeRule) error {
	for i, r := range rules {
		to := r.To.Value
		if r.To.Unbounded {
			to = domain.UnboundedSentinel
		}
		out, _, err := v.program.Eval(map[string]any{
			"from":         r.From,
			"to":           to,
			"value":        r.Value,
			"pricing_type": string(r.PricingType),
			"decision":     string(r.QuoteDecision),
			"unbounded":    r.To.Unbounded,
		})
		if err != nil {
			return invalid(i, r, "guard %q failed: %v", v.expr, err)
		}
		if out != types.True {
			return invalid(i, r, "violates %q", v.expr)
		}
	}
	return nil
}

// Validate runs validators in order, bounds first.
func Validate(rules []domain.RangeRule, extra ...Validator) error {
	for _, v := range append([]Validator{BoundsValidator{}}, extra...) {
		if err := v.Validate(rules); err != nil {
			return err
		}
	}
	return nil
}

func invalid(i int, r domain.RangeRule, format string, args ...any) error {
	name := r.ID
	if name == "" {
		name = fmt.Sprintf("#%d", i+1)
	}
	return domain.NewError(domain.KindValidation, fmt.Sprintf("rule %s: ", name)+fmt.Sprintf(format, args...), nil)
}
