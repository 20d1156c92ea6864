package pricing

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/ratedesk/internal/domain"
	"github.com/opensource-finance/ratedesk/internal/rating"
)

var scope = domain.Scope{InsurerID: "ins-1", ProductID: "car"}

func newCalculator() *Calculator {
	reg := rating.NewRegistry(nil)
	reg.Load(scope.Key(domain.DurationLoadings), []domain.RangeRule{
		{ID: "d1", From: 0, To: domain.UpTo(12), PricingType: domain.PricingPercentage, Value: 5, QuoteDecision: domain.DecisionAutoQuote},
		{ID: "d2", From: 12, To: domain.UpTo(24), PricingType: domain.PricingPercentage, Value: 10, QuoteDecision: domain.DecisionManualReview},
		{ID: "d3", From: 24, To: domain.Unbounded, PricingType: domain.PricingPercentage, Value: 20, QuoteDecision: domain.DecisionNoQuote},
	})
	reg.Load(scope.Key(domain.ExperienceDiscounts), []domain.RangeRule{
		{ID: "e1", From: 0, To: domain.UpTo(5), PricingType: domain.PricingPercentage, Value: 2},
		{ID: "e2", From: 5, To: domain.Unbounded, PricingType: domain.PricingPercentage, Value: -5},
	})
	return NewCalculator(reg)
}

func TestCalculator(t *testing.T) {
	calc := newCalculator()
	ctx := context.Background()
	base := decimal.NewFromInt(100_000)

	t.Run("AllAuto", func(t *testing.T) {
		q := calc.Price(ctx, &QuoteInput{
			Scope:     scope,
			QuoteID:   "Q-1",
			Base:      base,
			StartTime: time.Now(),
			Ranges: []RangeInput{
				{Domain: domain.DurationLoadings, Value: 6},
				{Domain: domain.ExperienceDiscounts, Value: 3},
			},
		})

		if q.Decision != domain.DecisionAutoQuote {
			t.Errorf("expected auto_quote, got %s", q.Decision)
		}
		if !q.Total.Equal(decimal.NewFromInt(107_000)) {
			t.Errorf("expected total 107000, got %s", q.Total)
		}
		if q.QuoteID != "Q-1" {
			t.Errorf("expected quote 'Q-1', got '%s'", q.QuoteID)
		}
		if len(q.Reasons) != 0 {
			t.Errorf("expected no reasons, got %v", q.Reasons)
		}
		if !ShouldQuote(q) {
			t.Error("auto quote should be issuable")
		}
	})

	t.Run("MixedSources", func(t *testing.T) {
		ext := domain.SelectedExtension{
			PolicyKey:  "p1",
			ClauseCode: "CL-001",
			Matched: &domain.ClauseDefinition{
				ClauseCode: "CL-001",
				Pricing:    domain.ClausePricingSpec{IsEnabled: true, PricingType: domain.PricingPercentage, PricingValue: 0.5},
			},
		}
		q := calc.Price(ctx, &QuoteInput{
			Scope: scope,
			Base:  base,
			Ranges: []RangeInput{
				{Domain: domain.DurationLoadings, Value: 18},
				{Domain: domain.ExperienceDiscounts, Value: 10},
			},
			Options: []OptionInput{{
				Domain: domain.FeeTypes,
				Option: domain.NamedOption{Name: "Admin", PricingType: domain.PricingFixedRate, Value: 250},
			}},
			Extensions: []domain.SelectedExtension{ext, {PolicyKey: "p2", ClauseCode: "XX-1"}},
		})

		// 100000 + 10000 - 5000 + 250 + 500
		if !q.Total.Equal(decimal.NewFromInt(105_750)) {
			t.Errorf("expected total 105750, got %s", q.Total)
		}
		if q.Decision != domain.DecisionManualReview {
			t.Errorf("expected manual_review, got %s", q.Decision)
		}
		if len(q.Adjustments) != 4 {
			t.Errorf("expected 4 adjustments, got %d", len(q.Adjustments))
		}
		if len(q.Reasons) != 1 {
			t.Errorf("expected 1 reason, got %v", q.Reasons)
		}
		if q.Metadata.ClausesPriced != 1 {
			t.Errorf("unpriced extension counted: %d", q.Metadata.ClausesPriced)
		}
	})

	t.Run("NoQuoteWins", func(t *testing.T) {
		q := calc.Price(ctx, &QuoteInput{
			Scope:  scope,
			Base:   base,
			Ranges: []RangeInput{{Domain: domain.DurationLoadings, Value: 36}},
			Options: []OptionInput{{
				Domain: domain.ConstructionTypes,
				Option: domain.NamedOption{Name: "Timber", PricingType: domain.PricingPercentage, Value: 1, QuoteDecision: domain.DecisionManualReview},
			}},
		})

		if q.Decision != domain.DecisionNoQuote {
			t.Errorf("expected no_quote, got %s", q.Decision)
		}
		if ShouldQuote(q) {
			t.Error("no_quote must not be issuable")
		}
	})

	t.Run("UnmatchedRange", func(t *testing.T) {
		q := calc.Price(ctx, &QuoteInput{
			Scope:  domain.Scope{InsurerID: "other", ProductID: "car"},
			Base:   base,
			Ranges: []RangeInput{{Domain: domain.DurationLoadings, Value: 18}},
		})

		if q.Decision != domain.DecisionAutoQuote {
			t.Errorf("unknown table should not block quoting, got %s", q.Decision)
		}
		if !q.Total.Equal(base) {
			t.Errorf("expected base premium, got %s", q.Total)
		}
		if q.Metadata.RangesEvaluated != 1 || q.Metadata.RangesMatched != 0 {
			t.Errorf("unexpected metadata %+v", q.Metadata)
		}
	})

	t.Run("MinimumPremium", func(t *testing.T) {
		floored := &Calculator{Ranges: calc.Ranges, MinimumPremium: decimal.NewFromInt(500)}
		q := floored.Price(ctx, &QuoteInput{Scope: scope, Base: decimal.NewFromInt(100)})

		if !q.Total.Equal(decimal.NewFromInt(500)) {
			t.Errorf("expected minimum premium 500, got %s", q.Total)
		}
		if len(q.Reasons) != 1 {
			t.Errorf("expected minimum premium reason, got %v", q.Reasons)
		}
	})
}

func TestCombine(t *testing.T) {
	tests := []struct {
		a, b, want domain.QuoteDecision
	}{
		{domain.DecisionAutoQuote, domain.DecisionAutoQuote, domain.DecisionAutoQuote},
		{domain.DecisionAutoQuote, domain.DecisionManualReview, domain.DecisionManualReview},
		{domain.DecisionManualReview, domain.DecisionAutoQuote, domain.DecisionManualReview},
		{domain.DecisionManualReview, domain.DecisionNoQuote, domain.DecisionNoQuote},
		{domain.DecisionNoQuote, domain.DecisionManualReview, domain.DecisionNoQuote},
	}

	for _, tt := range tests {
		if got := Combine(tt.a, tt.b); got != tt.want {
			t.Errorf("Combine(%s, %s) = %s, want %s", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestBasePremium(t *testing.T) {
	si := decimal.NewFromInt(2_000_000)

	pct := BasePremium(si, domain.NamedOption{PricingType: domain.PricingPercentage, Value: 0.25})
	if !pct.Equal(decimal.NewFromInt(5_000)) {
		t.Errorf("expected 5000, got %s", pct)
	}

	fixed := BasePremium(si, domain.NamedOption{PricingType: domain.PricingFixedRate, Value: 1200})
	if !fixed.Equal(decimal.NewFromInt(1_200)) {
		t.Errorf("expected 1200, got %s", fixed)
	}
}

func TestRangeInputs(t *testing.T) {
	if in := RangeInputs(nil); in != nil {
		t.Errorf("expected nil, got %v", in)
	}

	agg := &domain.ProposalAggregate{
		Project: &domain.ProjectDetails{DurationMonths: 18, MaintenanceMonths: 12, ContractValue: 5e6},
		Insured: &domain.InsuredSection{
			Details: &domain.InsuredDetails{ExperienceYears: 7},
			Claims:  []domain.ClaimRecord{{Year: 2023}, {Year: 2024}},
		},
	}

	got := map[domain.DomainKey]float64{}
	for _, r := range RangeInputs(agg) {
		got[r.Domain] = r.Value
	}
	want := map[domain.DomainKey]float64{
		domain.DurationLoadings:        18,
		domain.MaintenanceLoadings:     12,
		domain.ContractValueCategories: 5e6,
		domain.ExperienceDiscounts:     7,
		domain.ClaimFrequencyLoadings:  2,
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s: expected %v, got %v", k, v, got[k])
		}
	}
}
