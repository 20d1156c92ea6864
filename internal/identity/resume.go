package identity

import (
	"context"
	"fmt"

	"github.com/opensource-finance/ratedesk/internal/domain"
	"github.com/opensource-finance/ratedesk/internal/lifecycle"
	"github.com/opensource-finance/ratedesk/internal/logging"
	"github.com/opensource-finance/ratedesk/internal/metrics"
)

// Field describes how one draft field was persisted.
type Field struct {
	Name       string
	Encoding   Encoding
	MasterKind string
	value      func(*domain.ProposalAggregate) string
}

// FieldEncodings lists every reverse-mapped draft field.
var FieldEncodings = []Field{
	{"project_type", MasterDataID, "project_types", project(func(p *domain.ProjectDetails) string { return p.ProjectType })},
	{"sub_project_type", MasterDataID, "sub_project_types", project(func(p *domain.ProjectDetails) string { return p.SubProjectType })},
	{"construction_type", MasterDataID, "construction_types", project(func(p *domain.ProjectDetails) string { return p.ConstructionType })},
	{"country", GeographicValue, "countries", project(func(p *domain.ProjectDetails) string { return p.Country })},
	{"region", GeographicValue, "regions", project(func(p *domain.ProjectDetails) string { return p.Region })},
	{"zone", GeographicValue, "zones", project(func(p *domain.ProjectDetails) string { return p.Zone })},
	{"role_of_insured", RoleSlug, "role_types", func(a *domain.ProposalAggregate) string {
		if a.Insured == nil || a.Insured.Details == nil {
			return ""
		}
		return a.Insured.Details.RoleOfInsured
	}},
	{"contract_type", ContractSlug, "contract_types", func(a *domain.ProposalAggregate) string {
		if a.ContractStructure == nil || a.ContractStructure.Details == nil {
			return ""
		}
		return a.ContractStructure.Details.ContractType
	}},
	{"soil_type", SoilLabel, "soil_types", func(a *domain.ProposalAggregate) string {
		if a.SiteRisks == nil {
			return ""
		}
		return a.SiteRisks.SoilType
	}},
}

func project(get func(*domain.ProjectDetails) string) func(*domain.ProposalAggregate) string {
	return func(a *domain.ProposalAggregate) string {
		if a.Project == nil {
			return ""
		}
		return get(a.Project)
	}
}

// Draft is a reopened quote ready to be edited.
type Draft struct {
	QuoteID string `json:"quote_id"`
	// Fields holds the canonical value of every resolved field.
	Fields map[string]string `json:"fields"`
	// Unresolved lists fields that had a value but matched no option; the
	// editor must show them blank.
	Unresolved []string             `json:"unresolved,omitempty"`
	Lifecycle  lifecycle.Projection `json:"lifecycle"`
}

// Resumer reopens drafts against live master data.
type Resumer struct {
	Source  domain.MasterDataSource
	Metrics *metrics.Metrics
}

// ResumeDraft resolves every persisted field of agg. Only an auth failure
// aborts; an unavailable option set, or no source at all, leaves its fields
// unresolved.
func ResumeDraft(ctx context.Context, agg *domain.ProposalAggregate, source domain.MasterDataSource) (*Draft, error) {
	return (&Resumer{Source: source}).Resume(ctx, agg)
}

// Resume is ResumeDraft with metrics.
func (r *Resumer) Resume(ctx context.Context, agg *domain.ProposalAggregate) (*Draft, error) {
	if agg == nil {
		return nil, domain.NewError(domain.KindValidation, "proposal is required", nil)
	}

	d := &Draft{
		QuoteID:   agg.QuoteID,
		Fields:    make(map[string]string),
		Lifecycle: lifecycle.Project(agg),
	}

	sets := make(map[string][]domain.MasterOption)
	for _, f := range FieldEncodings {
		raw := f.value(agg)
		if raw == "" {
			continue
		}

		set, ok := sets[f.MasterKind]
		if !ok && r.Source == nil {
			sets[f.MasterKind] = nil
		} else if !ok {
			var err error
			set, err = r.Source.OptionSet(ctx, f.MasterKind)
			if err != nil {
				if domain.IsAuth(err) {
					return nil, fmt.Errorf("resume %s: %w", agg.QuoteID, err)
				}
				logging.Named("identity").Warnw("master data unavailable", "kind", f.MasterKind, "error", err)
				set = nil
			}
			sets[f.MasterKind] = set
		}

		v, resolved := Resolve(raw, set, f.Encoding)
		r.Metrics.ObserveResolution(string(f.Encoding), resolved)
		if !resolved {
			d.Unresolved = append(d.Unresolved, f.Name)
			continue
		}
		d.Fields[f.Name] = v
	}
	return d, nil
}
