// Package pricing composes a premium from matched range bands, option
// loadings and clause prices, and aggregates their quote decisions.
package pricing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/ratedesk/internal/clauses"
	"github.com/opensource-finance/ratedesk/internal/domain"
	"github.com/opensource-finance/ratedesk/internal/rating"
)

// Calculator prices quotes against the live range tables.
type Calculator struct {
	Ranges *rating.Registry

	// MinimumPremium floors the total; zero disables it.
	MinimumPremium decimal.Decimal
}

// NewCalculator creates a calculator over ranges.
func NewCalculator(ranges *rating.Registry) *Calculator {
	return &Calculator{Ranges: ranges}
}

// RangeInput is one numeric risk factor looked up in a range domain.
type RangeInput struct {
	Domain domain.DomainKey `json:"domain"`
	Value  float64          `json:"value"`
}

// OptionInput is a chosen option whose loading applies.
type OptionInput struct {
	Domain domain.DomainKey   `json:"domain"`
	Option domain.NamedOption `json:"option"`
}

// QuoteInput contains everything needed to price a quote.
type QuoteInput struct {
	Scope      domain.Scope
	QuoteID    string
	Base       decimal.Decimal
	Ranges     []RangeInput
	Options    []OptionInput
	Extensions []domain.SelectedExtension
	StartTime  time.Time
}

// Line is one adjustment to the base premium.
type Line struct {
	Source   string               `json:"source"`
	Ref      string               `json:"ref,omitempty"`
	Amount   decimal.Decimal      `json:"amount"`
	Decision domain.QuoteDecision `json:"decision"`
}

// Quote is a priced quote.
type Quote struct {
	ID          string               `json:"id"`
	QuoteID     string               `json:"quote_id,omitempty"`
	Base        decimal.Decimal      `json:"base"`
	Adjustments []Line               `json:"adjustments"`
	Total       decimal.Decimal      `json:"total"`
	Decision    domain.QuoteDecision `json:"decision"`
	Reasons     []string             `json:"reasons,omitempty"`
	Metadata    Metadata             `json:"metadata"`
}

// Metadata records how a quote was produced.
type Metadata struct {
	RangesEvaluated int   `json:"ranges_evaluated"`
	RangesMatched   int   `json:"ranges_matched"`
	OptionsApplied  int   `json:"options_applied"`
	ClausesPriced   int   `json:"clauses_priced"`
	DecisionMs      int64 `json:"decision_ms"`
	TotalMs         int64 `json:"total_ms"`
}

// Price composes the quote. An unmatched range contributes nothing and does
// not block auto-quoting.
func (c *Calculator) Price(ctx context.Context, in *QuoteInput) *Quote {
	start := time.Now()
	if in.StartTime.IsZero() {
		in.StartTime = start
	}

	q := &Quote{
		ID:       uuid.New().String(),
		QuoteID:  in.QuoteID,
		Base:     in.Base,
		Decision: domain.DecisionAutoQuote,
	}

	for _, r := range in.Ranges {
		q.Metadata.RangesEvaluated++
		var adj rating.Adjustment
		if c.Ranges != nil {
			adj = c.Ranges.EvaluateAndApply(in.Scope.Key(r.Domain), r.Value, in.Base)
		} else {
			adj = rating.NoMatch()
		}
		if !adj.Matched {
			continue
		}
		q.Metadata.RangesMatched++
		q.add(Line{Source: string(r.Domain), Ref: adj.RuleID, Amount: adj.Amount, Decision: adj.Decision})
	}

	for _, o := range in.Options {
		q.Metadata.OptionsApplied++
		q.add(Line{
			Source:   string(o.Domain),
			Ref:      o.Option.Name,
			Amount:   OptionAmount(o.Option, in.Base),
			Decision: o.Option.QuoteDecision,
		})
	}

	for _, ext := range in.Extensions {
		amount, ok := clauses.Price(ext, in.Base)
		if !ok {
			continue
		}
		q.Metadata.ClausesPriced++
		q.add(Line{Source: string(domain.ClausePricing), Ref: ext.ClauseCode, Amount: amount, Decision: domain.DecisionAutoQuote})
	}

	q.Total = in.Base
	for _, l := range q.Adjustments {
		q.Total = q.Total.Add(l.Amount)
	}
	if q.Total.IsNegative() {
		q.Total = decimal.Zero
	}
	if !c.MinimumPremium.IsZero() && q.Total.LessThan(c.MinimumPremium) {
		q.Total = c.MinimumPremium
		q.Reasons = append(q.Reasons, fmt.Sprintf("minimum premium %s applied", c.MinimumPremium))
	}

	q.Metadata.DecisionMs = time.Since(start).Milliseconds()
	q.Metadata.TotalMs = time.Since(in.StartTime).Milliseconds()
	return q
}

func (q *Quote) add(l Line) {
	if l.Decision == "" {
		l.Decision = domain.DecisionAutoQuote
	}
	q.Adjustments = append(q.Adjustments, l)
	q.Decision = Combine(q.Decision, l.Decision)
	if l.Decision != domain.DecisionAutoQuote {
		q.Reasons = append(q.Reasons, fmt.Sprintf("%s %s requires %s", l.Source, l.Ref, l.Decision))
	}
}

// Combine returns the more restrictive decision:
// no_quote over manual_review over auto_quote.
func Combine(a, b domain.QuoteDecision) domain.QuoteDecision {
	if b.Severity() > a.Severity() {
		return b
	}
	return a
}

// OptionAmount is the loading an option adds to base.
func OptionAmount(o domain.NamedOption, base decimal.Decimal) decimal.Decimal {
	v := decimal.NewFromFloat(o.Value)
	if o.PricingType.IsPercentage() {
		return base.Mul(v).Div(decimal.NewFromInt(100))
	}
	return v
}

// BasePremium applies a base rate to the sum insured. Percentage rates scale
// the sum insured; a fixed rate is the premium itself.
func BasePremium(sumInsured decimal.Decimal, rate domain.NamedOption) decimal.Decimal {
	return OptionAmount(rate, sumInsured)
}

// RangeInputs extracts the range-rated factors from a proposal.
func RangeInputs(agg *domain.ProposalAggregate) []RangeInput {
	if agg == nil {
		return nil
	}
	var in []RangeInput
	if p := agg.Project; p != nil {
		in = append(in,
			RangeInput{Domain: domain.DurationLoadings, Value: p.DurationMonths},
			RangeInput{Domain: domain.MaintenanceLoadings, Value: p.MaintenanceMonths},
			RangeInput{Domain: domain.ContractValueCategories, Value: p.ContractValue},
		)
	}
	if agg.Insured != nil {
		if d := agg.Insured.Details; d != nil {
			in = append(in, RangeInput{Domain: domain.ExperienceDiscounts, Value: d.ExperienceYears})
		}
		in = append(in, RangeInput{Domain: domain.ClaimFrequencyLoadings, Value: float64(len(agg.Insured.Claims))})
	}
	return in
}

// ShouldQuote reports whether the quote can be issued without review.
func ShouldQuote(q *Quote) bool {
	return q.Decision == domain.DecisionAutoQuote
}
