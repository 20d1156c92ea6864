package domain

import (
	"encoding/json"
	"fmt"
)

// KeyKind records which wire field carries an option's name.
type KeyKind string

const (
	// KeyStandard uses the domain's own name field (e.g. "country").
	KeyStandard KeyKind = "standard"
	// KeyLegacy uses a bare "name" field. A single Countries row has always
	// been stored this way and the backend still expects it.
	KeyLegacy KeyKind = "legacy"
)

// NamedOption is a priced entry in one of the option domains.
type NamedOption struct {
	Name          string
	KeyKind       KeyKind
	PricingType   PricingType
	Value         float64
	QuoteDecision QuoteDecision
	DisplayOrder  int
	IsActive      bool
}

type optionWire struct {
	PricingType   PricingType   `json:"pricing_type"`
	Value         float64       `json:"value"`
	QuoteDecision QuoteDecision `json:"quote_decision"`
	DisplayOrder  int           `json:"display_order"`
	IsActive      bool          `json:"is_active"`
}

// EncodeOption writes an option using the descriptor's name field, or "name"
// when the option carries the legacy key.
func EncodeOption(d Descriptor, o NamedOption) (json.RawMessage, error) {
	body, err := json.Marshal(optionWire{
		PricingType:   o.PricingType,
		Value:         o.Value,
		QuoteDecision: o.QuoteDecision,
		DisplayOrder:  o.DisplayOrder,
		IsActive:      o.IsActive,
	})
	if err != nil {
		return nil, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}

	field := d.NameField
	if o.KeyKind == KeyLegacy {
		field = LegacyNameField
	}
	name, _ := json.Marshal(o.Name)
	fields[field] = name

	return json.Marshal(fields)
}

// DecodeOption reads one option and validates it against the descriptor.
func DecodeOption(d Descriptor, raw json.RawMessage) (NamedOption, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return NamedOption{}, NewError(KindMalformed, fmt.Sprintf("%s item is not an object", d.Key), err)
	}

	var w optionWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return NamedOption{}, NewError(KindMalformed, fmt.Sprintf("%s item", d.Key), err)
	}

	o := NamedOption{
		KeyKind:       KeyStandard,
		PricingType:   w.PricingType,
		Value:         w.Value,
		QuoteDecision: w.QuoteDecision,
		DisplayOrder:  w.DisplayOrder,
		IsActive:      w.IsActive,
	}

	nameRaw, ok := fields[d.NameField]
	if !ok && d.NameField != LegacyNameField {
		if nameRaw, ok = fields[LegacyNameField]; ok {
			o.KeyKind = KeyLegacy
		}
	}
	if !ok {
		return NamedOption{}, NewError(KindMalformed, fmt.Sprintf("%s item has no %q field", d.Key, d.NameField), nil)
	}
	if err := json.Unmarshal(nameRaw, &o.Name); err != nil {
		return NamedOption{}, NewError(KindMalformed, fmt.Sprintf("%s item name", d.Key), err)
	}

	if o.PricingType == "" {
		o.PricingType = PricingPercentage
	}
	if o.QuoteDecision == "" {
		o.QuoteDecision = DecisionAutoQuote
	}
	if err := ValidateOption(d, o); err != nil {
		return NamedOption{}, err
	}
	return o, nil
}

// ValidateOption checks a single row. Cross-row rules live with the option service.
func ValidateOption(d Descriptor, o NamedOption) error {
	if o.Name == "" {
		return NewError(KindValidation, fmt.Sprintf("%s: option name is required", d.Key), nil)
	}
	switch o.PricingType {
	case PricingPercentage, PricingFixedRate:
	default:
		return NewError(KindValidation, fmt.Sprintf("%s: option %q has unknown pricing type %q", d.Key, o.Name, o.PricingType), nil)
	}
	if o.QuoteDecision != DecisionAutoQuote && o.QuoteDecision != DecisionNoQuote {
		return NewError(KindValidation, fmt.Sprintf("%s: option %q has unsupported quote decision %q", d.Key, o.Name, o.QuoteDecision), nil)
	}
	return nil
}

// MasterOption is one row of a canonical master-data option set.
type MasterOption struct {
	ID    int64  `json:"id"`
	Label string `json:"label"`
	Value string `json:"value,omitempty"`
}
