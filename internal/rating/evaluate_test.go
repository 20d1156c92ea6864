package rating

import (
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/ratedesk/internal/domain"
)

func durationLoadings() []domain.RangeRule {
	return []domain.RangeRule{
		{ID: "d1", From: 0, To: domain.UpTo(6), PricingType: domain.PricingPercentage, Value: 2, QuoteDecision: domain.DecisionAutoQuote},
		{ID: "d2", From: 6, To: domain.UpTo(12), PricingType: domain.PricingPercentage, Value: 4, QuoteDecision: domain.DecisionAutoQuote},
		{ID: "d3", From: 12, To: domain.Unbounded, PricingType: domain.PricingPercentage, Value: 6, QuoteDecision: domain.DecisionManualReview},
	}
}

func TestEvaluateDurationLoadings(t *testing.T) {
	rules := durationLoadings()

	tests := []struct {
		input float64
		want  float64
	}{
		{9, 4},
		{15, 6},
		{999, 6},
		{0, 2},
		{6, 2}, // boundary belongs to the first band listed
		{12, 4},
		{1e9, 6},
	}

	for _, tt := range tests {
		rule, ok := Evaluate(rules, tt.input)
		if !ok {
			t.Errorf("evaluate(%v): expected a match", tt.input)
			continue
		}
		if rule.Value != tt.want {
			t.Errorf("evaluate(%v): expected %v%%, got %v%%", tt.input, tt.want, rule.Value)
		}
	}
}

func TestEvaluateNotFound(t *testing.T) {
	rules := []domain.RangeRule{
		{ID: "a", From: 5, To: domain.UpTo(10), PricingType: domain.PricingPercentage, Value: 1},
	}

	for _, x := range []float64{-1, 4.99, 10.01} {
		if _, ok := Evaluate(rules, x); ok {
			t.Errorf("evaluate(%v): expected no match", x)
		}
	}
	if _, ok := Evaluate(nil, 1); ok {
		t.Error("empty table must not match")
	}
}

func TestEvaluateFirstMatchWins(t *testing.T) {
	rules := []domain.RangeRule{
		{ID: "wide", From: 0, To: domain.UpTo(100), PricingType: domain.PricingPercentage, Value: 1},
		{ID: "narrow", From: 10, To: domain.UpTo(20), PricingType: domain.PricingPercentage, Value: 9},
	}

	rule, _ := Evaluate(rules, 15)
	if rule.ID != "wide" {
		t.Errorf("expected earlier overlapping band to win, got %s", rule.ID)
	}
}

// Property: the result is always the first rule in stored order whose band
// contains x.
func TestEvaluateMatchesLinearScan(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for iter := 0; iter < 200; iter++ {
		var rules []domain.RangeRule
		for i := 0; i < 1+rng.Intn(6); i++ {
			from := float64(rng.Intn(50))
			to := domain.UpTo(from + float64(rng.Intn(30)))
			if rng.Intn(5) == 0 {
				to = domain.Unbounded
			}
			rules = append(rules, domain.RangeRule{ID: string(rune('a' + i)), From: from, To: to})
		}
		x := float64(rng.Intn(100))

		wantIdx := -1
		for i, r := range rules {
			if x >= r.From && (r.To.Unbounded || x <= r.To.Value) {
				wantIdx = i
				break
			}
		}

		got, ok := Evaluate(rules, x)
		if wantIdx < 0 {
			if ok {
				t.Fatalf("x=%v: expected no match, got %s", x, got.ID)
			}
			continue
		}
		if !ok || got.ID != rules[wantIdx].ID {
			t.Fatalf("x=%v: expected %s, got %s (ok=%v)", x, rules[wantIdx].ID, got.ID, ok)
		}
	}
}

func TestApply(t *testing.T) {
	base := decimal.NewFromInt(250000)

	pct := domain.RangeRule{ID: "p", PricingType: domain.PricingPercentage, Value: 4, QuoteDecision: domain.DecisionAutoQuote}
	adj := Apply(pct, base)
	if !adj.Amount.Equal(decimal.NewFromInt(10000)) {
		t.Errorf("expected 10000, got %s", adj.Amount)
	}
	if !adj.Matched || adj.RuleID != "p" {
		t.Errorf("expected matched adjustment for rule p, got %+v", adj)
	}

	flat := domain.RangeRule{ID: "f", PricingType: domain.PricingFixedAmount, Value: 750, QuoteDecision: domain.DecisionNoQuote}
	adj = Apply(flat, base)
	if !adj.Amount.Equal(decimal.NewFromInt(750)) {
		t.Errorf("expected flat 750, got %s", adj.Amount)
	}
	if adj.Decision != domain.DecisionNoQuote {
		t.Errorf("decision must travel with the amount, got %s", adj.Decision)
	}
}

func TestEvaluateAndApplyDefaultsWhenNothingMatches(t *testing.T) {
	adj := EvaluateAndApply(durationLoadings(), -5, decimal.NewFromInt(1000))

	if adj.Matched {
		t.Error("expected unmatched adjustment")
	}
	if !adj.Amount.IsZero() {
		t.Errorf("expected zero amount, got %s", adj.Amount)
	}
	if adj.Decision != domain.DecisionAutoQuote {
		t.Errorf("expected auto_quote default, got %s", adj.Decision)
	}

	adj = EvaluateAndApply(durationLoadings(), 24, decimal.NewFromInt(1000))
	if adj.Decision != domain.DecisionManualReview {
		t.Errorf("expected manual_review from open-ended band, got %s", adj.Decision)
	}
	if !adj.Amount.Equal(decimal.NewFromInt(60)) {
		t.Errorf("expected 60, got %s", adj.Amount)
	}
}

func TestUnboundedSentinelOnTheWire(t *testing.T) {
	var r domain.RangeRule
	if err := json.Unmarshal([]byte(`{"id":"x","from":12,"to":999,"pricing_type":"percentage","loading_discount":6}`), &r); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !r.To.Unbounded {
		t.Fatal("999 must decode as unbounded")
	}
	if !r.Matches(5000) {
		t.Error("unbounded band must match inputs above 999")
	}

	out, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back map[string]any
	_ = json.Unmarshal(out, &back)
	if back["to"] != 999.0 {
		t.Errorf("unbounded must encode as 999, got %v", back["to"])
	}
}
