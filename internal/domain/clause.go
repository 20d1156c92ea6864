package domain

import (
	"encoding/json"
	"fmt"
)

// ClauseType is the CEW category of a clause.
type ClauseType string

const (
	ClauseTypeClause    ClauseType = "clause"
	ClauseTypeWarranty  ClauseType = "warranty"
	ClauseTypeExclusion ClauseType = "exclusion"
)

// ShowType says whether a clause is always attached or picked by the user.
type ShowType string

const (
	ShowMandatory ShowType = "mandatory"
	ShowOptional  ShowType = "optional"
)

// ClauseDefinition is the configured metadata and pricing for one clause.
type ClauseDefinition struct {
	ClauseCode   string            `json:"clause_code"`
	Title        string            `json:"title"`
	Wording      string            `json:"wording,omitempty"`
	ClauseType   ClauseType        `json:"clause_type"`
	ShowType     ShowType          `json:"show_type"`
	DisplayOrder int               `json:"display_order"`
	IsActive     bool              `json:"is_active"`
	Pricing      ClausePricingSpec `json:"pricing"`
}

// IsMandatory reports whether the clause must always be attached.
func (c ClauseDefinition) IsMandatory() bool {
	return c.ShowType == ShowMandatory
}

// ClausePricingSpec is the optional premium attached to a clause.
type ClausePricingSpec struct {
	IsEnabled    bool                  `json:"is_enabled"`
	PricingType  PricingType           `json:"pricing_type"`
	PricingValue float64               `json:"pricing_value"`
	BaseCurrency string                `json:"base_currency,omitempty"`
	Options      []ClausePricingOption `json:"options,omitempty"`
}

// ClausePricingOption is a selectable limit tier of a priced clause.
type ClausePricingOption struct {
	Label        string      `json:"label"`
	Limit        float64     `json:"limit"`
	Type         PricingType `json:"type"`
	Value        float64     `json:"value"`
	DisplayOrder int         `json:"display_order"`
}

// RawExtension is an extension as stored on a bound quote.
type RawExtension struct {
	PolicyKey string         `json:"policy_key"`
	Code      string         `json:"code"`
	Title     string         `json:"title,omitempty"`
	Wording   string         `json:"wording,omitempty"`
	Type      string         `json:"type,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// SelectedExtension is a quote extension reconciled with current configuration.
// It is computed on read and never stored.
type SelectedExtension struct {
	PolicyKey   string            `json:"policy_key"`
	ClauseCode  string            `json:"clause_code"`
	Title       string            `json:"title"`
	Wording     string            `json:"wording,omitempty"`
	ClauseType  ClauseType        `json:"clause_type"`
	ShowType    ShowType          `json:"show_type,omitempty"`
	IsMandatory bool              `json:"is_mandatory"`
	RuntimeData map[string]any    `json:"runtime_data,omitempty"`
	Matched     *ClauseDefinition `json:"matched,omitempty"`
}

// DecodeClause reads and validates one clause definition.
func DecodeClause(raw json.RawMessage) (ClauseDefinition, error) {
	var c ClauseDefinition
	if err := json.Unmarshal(raw, &c); err != nil {
		return ClauseDefinition{}, NewError(KindMalformed, "clause item", err)
	}
	if c.ClauseType == "" {
		c.ClauseType = ClauseTypeClause
	}
	if c.ShowType == "" {
		c.ShowType = ShowOptional
	}
	if err := ValidateClause(c); err != nil {
		return ClauseDefinition{}, err
	}
	return c, nil
}

// ValidateClause checks a single clause row.
func ValidateClause(c ClauseDefinition) error {
	if c.ClauseCode == "" {
		return NewError(KindValidation, "clause code is required", nil)
	}
	switch c.ClauseType {
	case ClauseTypeClause, ClauseTypeWarranty, ClauseTypeExclusion:
	default:
		return NewError(KindValidation, fmt.Sprintf("clause %s: unknown clause type %q", c.ClauseCode, c.ClauseType), nil)
	}
	switch c.ShowType {
	case ShowMandatory, ShowOptional:
	default:
		return NewError(KindValidation, fmt.Sprintf("clause %s: unknown show type %q", c.ClauseCode, c.ShowType), nil)
	}
	if c.Pricing.IsEnabled {
		switch c.Pricing.PricingType {
		case PricingPercentage, PricingCurrency:
		default:
			return NewError(KindValidation, fmt.Sprintf("clause %s: unknown pricing type %q", c.ClauseCode, c.Pricing.PricingType), nil)
		}
	}
	return nil
}
