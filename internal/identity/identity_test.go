package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/ratedesk/internal/domain"
	"github.com/opensource-finance/ratedesk/internal/lifecycle"
)

var (
	countries = []domain.MasterOption{
		{ID: 1, Label: "United Arab Emirates", Value: "uae"},
		{ID: 2, Label: "Saudi Arabia", Value: "ksa"},
		{ID: 3, Label: "Kuwait", Value: "kuwait"},
	}
	roles = []domain.MasterOption{
		{ID: 10, Label: "Main Contractor"},
		{ID: 11, Label: "Project Owner"},
	}
	contracts = []domain.MasterOption{
		{ID: 20, Label: "Lump Sum"},
		{ID: 21, Label: "Design and Build"},
	}
	projectTypes = []domain.MasterOption{
		{ID: 7, Label: "Residential Building"},
		{ID: 8, Label: "Roads & Bridges"},
	}
	soils = []domain.MasterOption{
		{ID: 30, Label: "Sandy Clay"},
		{ID: 31, Label: "Rock"},
	}
)

func TestResolveGeographicHyphenatedValue(t *testing.T) {
	got, ok := Resolve("UNITED-ARAB-EMIRATES", []domain.MasterOption{{Label: "United Arab Emirates", Value: "uae"}}, GeographicValue)
	require.True(t, ok)
	assert.Equal(t, "uae", got)
}

func TestResolveEncodings(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		opts []domain.MasterOption
		enc  Encoding
		want string
	}{
		{"id from label", "Roads & Bridges", projectTypes, MasterDataID, "8"},
		{"id passes through", "7", projectTypes, MasterDataID, "7"},
		{"id from slug", "residential_building", projectTypes, MasterDataID, "7"},
		{"role slug from label", "Main Contractor", roles, RoleSlug, "main_contractor"},
		{"role slug from hyphen slug", "project-owner", roles, RoleSlug, "project_owner"},
		{"role slug passes through", "main_contractor", roles, RoleSlug, "main_contractor"},
		{"contract slug from underscore slug", "design_and_build", contracts, ContractSlug, "design-and-build"},
		{"contract slug passes through", "lump-sum", contracts, ContractSlug, "lump-sum"},
		{"geographic from value", "ksa", countries, GeographicValue, "ksa"},
		{"geographic from label", "saudi arabia", countries, GeographicValue, "ksa"},
		{"geographic from upper value", "KUWAIT", countries, GeographicValue, "kuwait"},
		{"soil label from upper", "SANDY CLAY", soils, SoilLabel, "sandy clay"},
		{"soil label from slug", "sandy-clay", soils, SoilLabel, "sandy clay"},
		{"surrounding spaces", "  Rock ", soils, SoilLabel, "rock"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Resolve(tt.raw, tt.opts, tt.enc)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveNeverGuesses(t *testing.T) {
	all := map[Encoding][]domain.MasterOption{
		MasterDataID:    projectTypes,
		RoleSlug:        roles,
		ContractSlug:    contracts,
		GeographicValue: countries,
		SoilLabel:       soils,
	}
	for enc, opts := range all {
		for _, raw := range []string{"unknown-value", "", "   ", "---", "Residential", "99"} {
			got, ok := Resolve(raw, opts, enc)
			assert.False(t, ok, "%s/%q resolved to %q", enc, raw, got)
			assert.Empty(t, got)
		}
	}

	_, ok := Resolve("uae", nil, GeographicValue)
	assert.False(t, ok)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "roadsbridges", Normalize("Roads & Bridges"))
	assert.Equal(t, "unitedarabemirates", Normalize("UNITED-ARAB-EMIRATES"))
	assert.Equal(t, "zone3", Normalize(" Zone_3 "))
}

type masterData map[string][]domain.MasterOption

func (m masterData) OptionSet(_ context.Context, kind string) ([]domain.MasterOption, error) {
	set, ok := m[kind]
	if !ok {
		return nil, domain.ErrorFromStatus(503, "")
	}
	return set, nil
}

type expired struct{}

func (expired) OptionSet(context.Context, string) ([]domain.MasterOption, error) {
	return nil, domain.ErrorFromStatus(401, "")
}

func TestResumeDraft(t *testing.T) {
	source := masterData{
		"project_types":  projectTypes,
		"countries":      countries,
		"role_types":     roles,
		"contract_types": contracts,
		"soil_types":     soils,
	}
	agg := &domain.ProposalAggregate{
		QuoteID: "Q-100",
		Project: &domain.ProjectDetails{
			ProjectType: "Residential Building",
			Country:     "SAUDI-ARABIA",
			Region:      "Eastern",
		},
		Insured:           &domain.InsuredSection{Details: &domain.InsuredDetails{RoleOfInsured: "main contractor"}},
		ContractStructure: &domain.ContractSection{Details: &domain.ContractDetails{ContractType: "Atlantis"}},
		SiteRisks:         &domain.SiteRisks{SoilType: "ROCK"},
	}

	d, err := ResumeDraft(context.Background(), agg, source)
	require.NoError(t, err)

	assert.Equal(t, "Q-100", d.QuoteID)
	assert.Equal(t, map[string]string{
		"project_type":    "7",
		"country":         "ksa",
		"role_of_insured": "main_contractor",
		"soil_type":       "rock",
	}, d.Fields)
	// region's option set is unavailable; contract type names nothing
	assert.ElementsMatch(t, []string{"region", "contract_type"}, d.Unresolved)
	assert.Equal(t, lifecycle.CoverRequirements, d.Lifecycle.Current)
}

func TestResumeDraftAbortsOnAuthFailure(t *testing.T) {
	agg := &domain.ProposalAggregate{Project: &domain.ProjectDetails{Country: "uae"}}

	_, err := ResumeDraft(context.Background(), agg, expired{})
	assert.True(t, domain.IsAuth(err))

	_, err = ResumeDraft(context.Background(), nil, expired{})
	assert.True(t, domain.IsKind(err, domain.KindValidation))
}

func TestResumeDraftSkipsEmptyFields(t *testing.T) {
	d, err := ResumeDraft(context.Background(), &domain.ProposalAggregate{QuoteID: "Q-1"}, expired{})
	require.NoError(t, err, "no field needs master data")
	assert.Empty(t, d.Fields)
	assert.Empty(t, d.Unresolved)
}

func TestResumeDraftWithoutSource(t *testing.T) {
	agg := &domain.ProposalAggregate{
		QuoteID: "Q-2",
		Project: &domain.ProjectDetails{Country: "uae"},
	}

	d, err := (&Resumer{}).Resume(context.Background(), agg)
	require.NoError(t, err)
	assert.Empty(t, d.Fields)
	assert.Equal(t, []string{"country"}, d.Unresolved)
}
