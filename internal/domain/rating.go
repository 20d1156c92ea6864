package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// UnboundedSentinel is how an open-ended band has always been persisted.
const UnboundedSentinel = 999.0

// PricingType says how a configured value turns into a premium adjustment.
type PricingType string

const (
	PricingPercentage  PricingType = "percentage"
	PricingFixedAmount PricingType = "fixed_amount" // range rules
	PricingFixedRate   PricingType = "fixed_rate"   // named options
	PricingCurrency    PricingType = "currency"     // clause pricing
)

// IsPercentage reports whether values of this type are percentages of a base.
func (p PricingType) IsPercentage() bool {
	return p == PricingPercentage
}

// QuoteDecision says whether a matched band or option can be quoted automatically.
type QuoteDecision string

const (
	DecisionAutoQuote    QuoteDecision = "auto_quote"
	DecisionManualReview QuoteDecision = "manual_review"
	DecisionNoQuote      QuoteDecision = "no_quote"
)

// Severity orders decisions: NoQuote > ManualReview > AutoQuote.
func (d QuoteDecision) Severity() int {
	switch d {
	case DecisionNoQuote:
		return 2
	case DecisionManualReview:
		return 1
	default:
		return 0
	}
}

// Valid reports whether d is a known decision.
func (d QuoteDecision) Valid() bool {
	switch d {
	case DecisionAutoQuote, DecisionManualReview, DecisionNoQuote:
		return true
	}
	return false
}

// Bound is the upper limit of a range rule. An unbounded limit matches any
// input at or above the rule's lower limit.
type Bound struct {
	Value     float64
	Unbounded bool
}

// Unbounded is the open upper limit.
var Unbounded = Bound{Unbounded: true}

// UpTo returns a finite upper limit.
func UpTo(v float64) Bound {
	return Bound{Value: v}
}

// Admits reports whether x is at or below the bound.
func (b Bound) Admits(x float64) bool {
	return b.Unbounded || x <= b.Value
}

func (b Bound) String() string {
	if b.Unbounded {
		return "unbounded"
	}
	return strconv.FormatFloat(b.Value, 'f', -1, 64)
}

// MarshalJSON writes the legacy 999 sentinel for an unbounded limit.
func (b Bound) MarshalJSON() ([]byte, error) {
	if b.Unbounded {
		return json.Marshal(UnboundedSentinel)
	}
	return json.Marshal(b.Value)
}

// UnmarshalJSON reads null and the 999 sentinel as unbounded.
func (b *Bound) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*b = Unbounded
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("range bound: %w", err)
	}
	if v == UnboundedSentinel {
		*b = Unbounded
		return nil
	}
	*b = Bound{Value: v}
	return nil
}

// RangeRule is one band of a tiered loading/discount table.
type RangeRule struct {
	ID            string        `json:"id"`
	From          float64       `json:"from"`
	To            Bound         `json:"to"`
	PricingType   PricingType   `json:"pricing_type"`
	Value         float64       `json:"loading_discount"`
	QuoteDecision QuoteDecision `json:"quote_decision"`
}

// Matches reports whether x falls inside the band: from <= x <= to.
func (r RangeRule) Matches(x float64) bool {
	return x >= r.From && r.To.Admits(x)
}

// RulePatch carries the fields to change on an existing rule. Nil fields are left alone.
type RulePatch struct {
	From          *float64
	To            *Bound
	PricingType   *PricingType
	Value         *float64
	QuoteDecision *QuoteDecision
}
