package pricing

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/ratedesk/internal/domain"
	"github.com/opensource-finance/ratedesk/internal/identity"
	"github.com/opensource-finance/ratedesk/internal/logging"
	"github.com/opensource-finance/ratedesk/internal/options"
)

// OptionLister lists an insurer product's configured options.
type OptionLister interface {
	List(ctx context.Context, scope domain.Scope, key domain.DomainKey) ([]domain.NamedOption, error)
}

// RangeLoader loads a stored range table.
type RangeLoader interface {
	Load(ctx context.Context, scope domain.Scope, key domain.DomainKey) ([]domain.RangeRule, error)
}

// ExtensionResolver reconciles a quote's extensions with clause configuration.
type ExtensionResolver interface {
	ResolveQuote(ctx context.Context, insurerID, productID string, raw []domain.RawExtension) ([]domain.SelectedExtension, error)
}

// QuoteRequest identifies a stored proposal to price.
type QuoteRequest struct {
	InsurerID string `json:"insurer_id"`
	ProductID string `json:"product_id"`
	QuoteID   string `json:"quote_id"`
}

// Quoter prices stored proposals with the insurer product's configuration.
type Quoter struct {
	Calc      *Calculator
	Proposals domain.ProposalSource
	Ranges    RangeLoader
	Options   OptionLister
	Clauses   ExtensionResolver
	Master    domain.MasterDataSource
}

type optionField struct {
	domain domain.DomainKey
	kind   string
	value  func(*domain.ProposalAggregate) string
}

var loadedOptions = []optionField{
	{domain.ConstructionTypes, "construction_types", func(a *domain.ProposalAggregate) string {
		if a.Project == nil {
			return ""
		}
		return a.Project.ConstructionType
	}},
	{domain.SoilTypes, "soil_types", func(a *domain.ProposalAggregate) string {
		if a.SiteRisks == nil {
			return ""
		}
		return a.SiteRisks.SoilType
	}},
	{domain.SecurityTypes, "", func(a *domain.ProposalAggregate) string {
		if a.SiteRisks == nil {
			return ""
		}
		return a.SiteRisks.SecurityType
	}},
	{domain.AreaTypes, "", func(a *domain.ProposalAggregate) string {
		if a.SiteRisks == nil {
			return ""
		}
		return a.SiteRisks.AreaType
	}},
}

// Quote prices the proposal named by req. Auth failures abort; a missing
// base rate or option table refers the quote for manual review.
func (q *Quoter) Quote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	agg, err := q.Proposals.Proposal(ctx, req.InsurerID, req.QuoteID)
	if err != nil {
		return nil, fmt.Errorf("load proposal %s: %w", req.QuoteID, err)
	}
	if agg.Project == nil || agg.CoverRequirements == nil {
		return nil, domain.NewError(domain.KindValidation, fmt.Sprintf("quote %s is not ready for pricing", req.QuoteID), nil)
	}

	scope := domain.Scope{InsurerID: req.InsurerID, ProductID: req.ProductID}
	var referrals []string

	if err := q.warmRanges(ctx, scope); err != nil {
		return nil, err
	}

	base := decimal.Zero
	rates, err := q.activeOptions(ctx, scope, domain.BaseRates)
	if err != nil {
		return nil, err
	}
	subType := q.label(ctx, "sub_project_types", agg.Project.SubProjectType)
	if rate, ok := options.Find(rates, subType); ok {
		base = BasePremium(decimal.NewFromFloat(agg.CoverRequirements.SumInsured), rate)
	} else {
		referrals = append(referrals, fmt.Sprintf("no base rate for %q", subType))
	}

	in := &QuoteInput{
		Scope:   scope,
		QuoteID: agg.QuoteID,
		Base:    base,
		Ranges:  RangeInputs(agg),
	}

	for _, f := range loadedOptions {
		raw := f.value(agg)
		if raw == "" {
			continue
		}
		items, err := q.activeOptions(ctx, scope, f.domain)
		if err != nil {
			return nil, err
		}
		name := q.label(ctx, f.kind, raw)
		if o, ok := options.Find(items, name); ok {
			in.Options = append(in.Options, OptionInput{Domain: f.domain, Option: o})
		}
	}

	if q.Clauses != nil && len(agg.CoverRequirements.Extensions) > 0 {
		in.Extensions, err = q.Clauses.ResolveQuote(ctx, req.InsurerID, req.ProductID, agg.CoverRequirements.Extensions)
		if err != nil {
			return nil, err
		}
	}

	quote := q.Calc.Price(ctx, in)
	for _, r := range referrals {
		quote.Decision = Combine(quote.Decision, domain.DecisionManualReview)
		quote.Reasons = append(quote.Reasons, r)
	}
	return quote, nil
}

// warmRanges loads range tables the calculator has not seen yet.
func (q *Quoter) warmRanges(ctx context.Context, scope domain.Scope) error {
	if q.Ranges == nil || q.Calc.Ranges == nil {
		return nil
	}
	for _, d := range domain.Domains(domain.ShapeRange) {
		key := d.Key
		if _, ok := q.Calc.Ranges.Rules(scope.Key(key)); ok {
			continue
		}
		rules, err := q.Ranges.Load(ctx, scope, key)
		if err != nil {
			if domain.IsAuth(err) {
				return err
			}
			logging.Named("pricing").Warnw("range table unavailable", "domain", key, "insurer", scope.InsurerID, "error", err)
			continue
		}
		q.Calc.Ranges.Load(scope.Key(key), rules)
	}
	return nil
}

func (q *Quoter) activeOptions(ctx context.Context, scope domain.Scope, key domain.DomainKey) ([]domain.NamedOption, error) {
	if q.Options == nil {
		return nil, nil
	}
	items, err := q.Options.List(ctx, scope, key)
	if err != nil {
		if domain.IsAuth(err) {
			return nil, err
		}
		logging.Named("pricing").Warnw("options unavailable", "domain", key, "insurer", scope.InsurerID, "error", err)
		return nil, nil
	}
	return options.Active(items), nil
}

// label maps a persisted draft value to the master-data label options are
// named after. Values that resolve to nothing are used as they are.
func (q *Quoter) label(ctx context.Context, kind, raw string) string {
	raw = strings.TrimSpace(raw)
	if q.Master == nil || kind == "" || raw == "" {
		return raw
	}
	set, err := q.Master.OptionSet(ctx, kind)
	if err != nil {
		return raw
	}
	if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
		for _, o := range set {
			if o.ID == id {
				return o.Label
			}
		}
	}
	n := identity.Normalize(raw)
	for _, o := range set {
		if identity.Normalize(o.Label) == n {
			return o.Label
		}
	}
	return raw
}
