// Package rating evaluates tiered range tables and turns matched bands into
// premium adjustments.
package rating

import (
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/ratedesk/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// Evaluate returns the first rule, in stored order, whose band contains x.
// Bands may overlap; the earlier rule wins. The bool is false when no band
// matches and the caller must pick its own default.
func Evaluate(rules []domain.RangeRule, x float64) (domain.RangeRule, bool) {
	for _, r := range rules {
		if r.Matches(x) {
			return r, true
		}
	}
	return domain.RangeRule{}, false
}

// Adjustment is the premium effect of one matched band. The decision always
// travels with the amount.
type Adjustment struct {
	RuleID      string               `json:"rule_id,omitempty"`
	Matched     bool                 `json:"matched"`
	PricingType domain.PricingType   `json:"pricing_type,omitempty"`
	Value       float64              `json:"value"`
	Amount      decimal.Decimal      `json:"amount"`
	Decision    domain.QuoteDecision `json:"decision"`
}

// Apply computes the adjustment a matched rule makes to base.
// Percentage rules scale base; anything else is a flat amount.
func Apply(rule domain.RangeRule, base decimal.Decimal) Adjustment {
	value := decimal.NewFromFloat(rule.Value)

	amount := value
	if rule.PricingType.IsPercentage() {
		amount = base.Mul(value).Div(hundred)
	}

	decision := rule.QuoteDecision
	if decision == "" {
		decision = domain.DecisionAutoQuote
	}

	return Adjustment{
		RuleID:      rule.ID,
		Matched:     true,
		PricingType: rule.PricingType,
		Value:       rule.Value,
		Amount:      amount,
		Decision:    decision,
	}
}

// NoMatch is the adjustment used when no band contains the input: nothing is
// added and the quote may proceed automatically.
func NoMatch() Adjustment {
	return Adjustment{Amount: decimal.Zero, Decision: domain.DecisionAutoQuote}
}

// EvaluateAndApply evaluates x against rules and applies the match to base.
func EvaluateAndApply(rules []domain.RangeRule, x float64, base decimal.Decimal) Adjustment {
	rule, ok := Evaluate(rules, x)
	if !ok {
		return NoMatch()
	}
	return Apply(rule, base)
}
