package clauses

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/ratedesk/internal/domain"
)

func definitions() []domain.ClauseDefinition {
	return []domain.ClauseDefinition{
		{
			ClauseCode: "CL-001", Title: "Strikes, Riot and Civil Commotion", Wording: "Configured wording",
			ClauseType: domain.ClauseTypeClause, ShowType: domain.ShowMandatory, DisplayOrder: 2, IsActive: true,
			Pricing: domain.ClausePricingSpec{IsEnabled: true, PricingType: domain.PricingPercentage, PricingValue: 0.5},
		},
		{
			ClauseCode: "WR-010", Title: "Fire Fighting Facilities",
			ClauseType: domain.ClauseTypeWarranty, ShowType: domain.ShowOptional, DisplayOrder: 1, IsActive: true,
		},
		{
			ClauseCode: "EX-100", Title: "Existing Property",
			ClauseType: domain.ClauseTypeExclusion, ShowType: domain.ShowMandatory, DisplayOrder: 3, IsActive: true,
			Pricing: domain.ClausePricingSpec{
				IsEnabled: true, PricingType: domain.PricingCurrency, PricingValue: 150, BaseCurrency: "AED",
				Options: []domain.ClausePricingOption{
					{Label: "Limit 1M", Limit: 1_000_000, Type: domain.PricingCurrency, Value: 300},
					{Label: "Limit 5%", Limit: 0, Type: domain.PricingPercentage, Value: 1},
				},
			},
		},
		{
			ClauseCode: "CL-OLD", Title: "Retired", ShowType: domain.ShowMandatory, ClauseType: domain.ClauseTypeClause,
			IsActive: false,
		},
	}
}

func TestResolveMatchesCaseInsensitively(t *testing.T) {
	raw := []domain.RawExtension{
		{PolicyKey: "p1", Code: "cl-001", Title: "stale title", Wording: "stale wording", Data: map[string]any{"limit": 5000.0}},
		{PolicyKey: "p2", Code: "WR-010"},
	}

	got := Resolve(definitions(), raw)
	require.Len(t, got, 2)

	assert.Equal(t, "p1", got[0].PolicyKey)
	assert.Equal(t, "CL-001", got[0].ClauseCode)
	assert.Equal(t, "Strikes, Riot and Civil Commotion", got[0].Title, "metadata comes from configuration")
	assert.Equal(t, "Configured wording", got[0].Wording)
	assert.True(t, got[0].IsMandatory)
	assert.Equal(t, 5000.0, got[0].RuntimeData["limit"])
	require.NotNil(t, got[0].Matched)

	assert.Equal(t, domain.ClauseTypeWarranty, got[1].ClauseType)
	assert.False(t, got[1].IsMandatory)
}

func TestResolveFallsBackForUnknownCodes(t *testing.T) {
	raw := []domain.RawExtension{
		{PolicyKey: "p9", Code: "XX-999", Title: "Legacy extension", Type: "exclusion", Data: map[string]any{"note": "kept"}},
	}

	var got []domain.SelectedExtension
	assert.NotPanics(t, func() { got = Resolve(definitions(), raw) })
	require.Len(t, got, 1)

	assert.Equal(t, "XX-999", got[0].ClauseCode)
	assert.Equal(t, "Legacy extension", got[0].Title)
	assert.Equal(t, domain.ClauseTypeClause, got[0].ClauseType)
	assert.False(t, got[0].IsMandatory)
	assert.Nil(t, got[0].Matched)
	assert.Equal(t, "kept", got[0].RuntimeData["note"])

	assert.NotPanics(t, func() { Resolve(nil, raw) })
	assert.Empty(t, Resolve(definitions(), nil))
}

// Property: a matched extension is mandatory exactly when its definition is.
func TestResolveMandatoryFollowsShowType(t *testing.T) {
	defs := definitions()
	for _, d := range defs {
		got := Resolve(defs, []domain.RawExtension{{PolicyKey: "k", Code: d.ClauseCode}})
		require.Len(t, got, 1)
		assert.Equal(t, d.ShowType == domain.ShowMandatory, got[0].IsMandatory, d.ClauseCode)
	}
}

func TestMissingMandatory(t *testing.T) {
	selected := Resolve(definitions(), []domain.RawExtension{{PolicyKey: "p1", Code: "CL-001"}})

	missing := MissingMandatory(definitions(), selected)
	require.Len(t, missing, 1)
	assert.Equal(t, "EX-100", missing[0].ClauseCode, "inactive mandatory clauses are ignored")
}

func TestPrice(t *testing.T) {
	base := decimal.NewFromInt(2_000_000)
	defs := definitions()

	sel := Resolve(defs, []domain.RawExtension{
		{PolicyKey: "a", Code: "CL-001"},
		{PolicyKey: "b", Code: "EX-100"},
		{PolicyKey: "c", Code: "EX-100", Data: map[string]any{"option": "limit 1m"}},
		{PolicyKey: "d", Code: "EX-100", Data: map[string]any{"option": "Limit 5%"}},
		{PolicyKey: "e", Code: "WR-010"},
		{PolicyKey: "f", Code: "unknown"},
	})

	want := []struct {
		amount int64
		priced bool
	}{
		{10_000, true},
		{150, true},
		{300, true},
		{20_000, true},
		{0, false},
		{0, false},
	}
	for i, w := range want {
		amount, priced := Price(sel[i], base)
		assert.Equal(t, w.priced, priced, sel[i].PolicyKey)
		assert.True(t, amount.Equal(decimal.NewFromInt(w.amount)), "%s: got %s", sel[i].PolicyKey, amount)
	}
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(definitions()))

	dup := append(definitions(), domain.ClauseDefinition{ClauseCode: "cl-001", ClauseType: domain.ClauseTypeClause, ShowType: domain.ShowOptional})
	assert.True(t, domain.IsKind(Validate(dup), domain.KindValidation))

	bad := []domain.ClauseDefinition{{ClauseCode: "X", ClauseType: "memo", ShowType: domain.ShowOptional}}
	assert.Error(t, Validate(bad))

	badPricing := []domain.ClauseDefinition{{
		ClauseCode: "X", ClauseType: domain.ClauseTypeClause, ShowType: domain.ShowOptional,
		Pricing: domain.ClausePricingSpec{IsEnabled: true, PricingType: domain.PricingFixedRate},
	}}
	assert.Error(t, Validate(badPricing))
}

type recordingBackend struct {
	mu      sync.Mutex
	stored  []json.RawMessage
	creates int
	updates int
	fetches int
	loadErr error
}

func (b *recordingBackend) Fetch(context.Context, domain.ConfigKey) ([]json.RawMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fetches++
	if b.loadErr != nil {
		return nil, b.loadErr
	}
	if b.stored == nil {
		return nil, domain.ErrorFromStatus(404, "")
	}
	return b.stored, nil
}

func (b *recordingBackend) Create(_ context.Context, _ domain.ConfigKey, items []json.RawMessage) ([]json.RawMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.creates++
	b.stored = items
	return items, nil
}

func (b *recordingBackend) Update(context.Context, domain.ConfigKey, []json.RawMessage) ([]json.RawMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.updates++
	return nil, domain.ErrorFromStatus(405, "")
}

func TestSaveAlwaysReplacesEveryRow(t *testing.T) {
	backend := &recordingBackend{}
	svc := NewService(backend)

	saved, err := svc.Save(context.Background(), "ins-1", "car", definitions())
	require.NoError(t, err)
	assert.Len(t, saved, 4)

	defs := definitions()
	defs[1].Title = "Fire Fighting Facilities (revised)"
	saved, err = svc.Save(context.Background(), "ins-1", "car", defs)
	require.NoError(t, err)

	assert.Equal(t, 2, backend.creates)
	assert.Zero(t, backend.updates)
	assert.Zero(t, backend.fetches, "no existence check is needed for full replacement")
	assert.Len(t, backend.stored, 4, "unchanged rows are resent")
	assert.Equal(t, "Fire Fighting Facilities (revised)", saved[1].Title)

	_, err = svc.Save(context.Background(), "ins-1", "car", append(defs, defs[0]))
	assert.Error(t, err)
	assert.Equal(t, 2, backend.creates)
}

func TestResolveQuoteDegradesWhenDefinitionsAreUnavailable(t *testing.T) {
	backend := &recordingBackend{loadErr: domain.ErrorFromStatus(500, "")}
	svc := NewService(backend)
	raw := []domain.RawExtension{{PolicyKey: "p1", Code: "CL-001"}}

	got, err := svc.ResolveQuote(context.Background(), "ins-1", "car", raw)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Nil(t, got[0].Matched)

	backend.loadErr = domain.ErrorFromStatus(401, "")
	_, err = svc.ResolveQuote(context.Background(), "ins-1", "car", raw)
	assert.True(t, domain.IsAuth(err))

	backend.loadErr = nil
	_, err = svc.Save(context.Background(), "ins-1", "car", definitions())
	require.NoError(t, err)
	got, err = svc.ResolveQuote(context.Background(), "ins-1", "car", raw)
	require.NoError(t, err)
	assert.True(t, got[0].IsMandatory)
}
