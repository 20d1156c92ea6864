// Package clauses reconciles a quote's selected extensions with the configured
// clause, warranty and exclusion definitions, and saves those definitions.
package clauses

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/ratedesk/internal/domain"
	"github.com/opensource-finance/ratedesk/internal/upsert"
)

// Resolve pairs every raw extension with the definition whose clause code
// matches its code, ignoring case. Matched extensions take their metadata
// from the definition; unmatched ones fall back to the runtime payload as an
// optional plain clause. Output follows the order of raw.
func Resolve(defs []domain.ClauseDefinition, raw []domain.RawExtension) []domain.SelectedExtension {
	byCode := make(map[string]*domain.ClauseDefinition, len(defs))
	for i := range defs {
		code := strings.ToLower(strings.TrimSpace(defs[i].ClauseCode))
		if _, dup := byCode[code]; !dup {
			byCode[code] = &defs[i]
		}
	}

	out := make([]domain.SelectedExtension, 0, len(raw))
	for _, ext := range raw {
		def, ok := byCode[strings.ToLower(strings.TrimSpace(ext.Code))]
		if !ok {
			out = append(out, domain.SelectedExtension{
				PolicyKey:   ext.PolicyKey,
				ClauseCode:  ext.Code,
				Title:       ext.Title,
				Wording:     ext.Wording,
				ClauseType:  domain.ClauseTypeClause,
				IsMandatory: false,
				RuntimeData: ext.Data,
			})
			continue
		}

		matched := *def
		out = append(out, domain.SelectedExtension{
			PolicyKey:   ext.PolicyKey,
			ClauseCode:  def.ClauseCode,
			Title:       def.Title,
			Wording:     def.Wording,
			ClauseType:  def.ClauseType,
			ShowType:    def.ShowType,
			IsMandatory: def.IsMandatory(),
			RuntimeData: ext.Data,
			Matched:     &matched,
		})
	}
	return out
}

// MissingMandatory returns the active mandatory definitions that no selected
// extension covers, in display order.
func MissingMandatory(defs []domain.ClauseDefinition, selected []domain.SelectedExtension) []domain.ClauseDefinition {
	have := make(map[string]bool, len(selected))
	for _, s := range selected {
		have[strings.ToLower(s.ClauseCode)] = true
	}

	var missing []domain.ClauseDefinition
	for _, d := range defs {
		if d.IsActive && d.IsMandatory() && !have[strings.ToLower(d.ClauseCode)] {
			missing = append(missing, d)
		}
	}
	sort.SliceStable(missing, func(i, j int) bool { return missing[i].DisplayOrder < missing[j].DisplayOrder })
	return missing
}

// Price returns the premium a selected extension adds to base. Extensions
// without an enabled pricing block add nothing. A runtime "option" label that
// names one of the pricing options prices with that option instead.
func Price(sel domain.SelectedExtension, base decimal.Decimal) (decimal.Decimal, bool) {
	if sel.Matched == nil || !sel.Matched.Pricing.IsEnabled {
		return decimal.Zero, false
	}
	p := sel.Matched.Pricing

	kind, value := p.PricingType, p.PricingValue
	if label, ok := sel.RuntimeData["option"].(string); ok {
		for _, opt := range p.Options {
			if strings.EqualFold(opt.Label, label) {
				kind, value = opt.Type, opt.Value
				break
			}
		}
	}

	v := decimal.NewFromFloat(value)
	if kind.IsPercentage() {
		return base.Mul(v).Div(decimal.NewFromInt(100)), true
	}
	return v, true
}

// Validate checks every definition and that clause codes are unique,
// ignoring case.
func Validate(defs []domain.ClauseDefinition) error {
	seen := make(map[string]bool, len(defs))
	for _, d := range defs {
		if err := domain.ValidateClause(d); err != nil {
			return err
		}
		code := strings.ToLower(strings.TrimSpace(d.ClauseCode))
		if seen[code] {
			return domain.NewError(domain.KindValidation, fmt.Sprintf("duplicate clause code %q", d.ClauseCode), nil)
		}
		seen[code] = true
	}
	return nil
}

// Codec is the wire codec for clause definitions.
type Codec struct{}

func (Codec) Decode(raw json.RawMessage) (domain.ClauseDefinition, error) {
	return domain.DecodeClause(raw)
}

func (Codec) Encode(c domain.ClauseDefinition) (json.RawMessage, error) {
	return json.Marshal(c)
}

func (Codec) Rate(c domain.ClauseDefinition) float64 {
	return c.Pricing.PricingValue
}

// Service saves clause definitions. The backend only accepts full
// replacement for this domain, so every save is a create carrying every row.
type Service struct {
	coord *upsert.Coordinator[domain.ClauseDefinition]
}

// NewService creates the clause pricing coordinator.
func NewService(backend domain.ConfigBackend, opts ...upsert.Option) *Service {
	return &Service{
		coord: upsert.New[domain.ClauseDefinition](domain.MustLookup(domain.ClausePricing), backend, Codec{}, opts...),
	}
}

// Coordinator exposes the underlying coordinator for state inspection.
func (s *Service) Coordinator() *upsert.Coordinator[domain.ClauseDefinition] {
	return s.coord
}

// Load returns the stored definitions for a product.
func (s *Service) Load(ctx context.Context, insurerID, productID string) ([]domain.ClauseDefinition, error) {
	return s.coord.Load(ctx, domain.Scope{InsurerID: insurerID, ProductID: productID}.Key(domain.ClausePricing))
}

// Save validates defs and replaces the stored set with them.
func (s *Service) Save(ctx context.Context, insurerID, productID string, defs []domain.ClauseDefinition) ([]domain.ClauseDefinition, error) {
	if err := Validate(defs); err != nil {
		return nil, err
	}
	key := domain.Scope{InsurerID: insurerID, ProductID: productID}.Key(domain.ClausePricing)
	res, err := s.coord.Save(ctx, key, defs)
	if err != nil {
		return nil, err
	}
	return res.Items, nil
}

// ResolveQuote loads the product's definitions and resolves a quote's
// extensions against them. A load failure degrades every extension to the
// fallback instead of failing the quote.
func (s *Service) ResolveQuote(ctx context.Context, insurerID, productID string, raw []domain.RawExtension) ([]domain.SelectedExtension, error) {
	defs, err := s.Load(ctx, insurerID, productID)
	if err != nil && domain.IsAuth(err) {
		return nil, err
	}
	return Resolve(defs, raw), nil
}
