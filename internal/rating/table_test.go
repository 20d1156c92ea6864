package rating

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/ratedesk/internal/domain"
)

func TestTableAddAssignsID(t *testing.T) {
	table, err := NewTable(nil)
	require.NoError(t, err)

	r, err := table.Add(domain.RangeRule{From: 0, To: domain.UpTo(5), PricingType: domain.PricingPercentage, Value: 1})
	require.NoError(t, err)
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, 1, table.Len())

	_, err = table.Add(domain.RangeRule{ID: r.ID, From: 5, To: domain.UpTo(9), PricingType: domain.PricingPercentage})
	assert.True(t, domain.IsKind(err, domain.KindConflict))
}

func TestTableRejectsInvalidBounds(t *testing.T) {
	table, err := NewTable(durationLoadings())
	require.NoError(t, err)

	_, err = table.Add(domain.RangeRule{From: -1, To: domain.UpTo(5), PricingType: domain.PricingPercentage})
	assert.True(t, domain.IsKind(err, domain.KindValidation))

	_, err = table.Add(domain.RangeRule{From: 10, To: domain.UpTo(5), PricingType: domain.PricingPercentage})
	assert.True(t, domain.IsKind(err, domain.KindValidation))

	_, err = table.Add(domain.RangeRule{From: 1, To: domain.UpTo(5), PricingType: "per_mille"})
	assert.True(t, domain.IsKind(err, domain.KindValidation))

	assert.Equal(t, 3, table.Len(), "rejected rules must not be stored")

	_, err = NewTable([]domain.RangeRule{{From: -3, PricingType: domain.PricingPercentage}})
	assert.Error(t, err)
}

func TestTableUpdate(t *testing.T) {
	table, err := NewTable(durationLoadings())
	require.NoError(t, err)

	v := 5.5
	manual := domain.DecisionManualReview
	r, err := table.Update("d2", domain.RulePatch{Value: &v, QuoteDecision: &manual})
	require.NoError(t, err)
	assert.Equal(t, 5.5, r.Value)
	assert.Equal(t, 6.0, r.From, "untouched fields are kept")

	got, ok := table.Evaluate(9)
	require.True(t, ok)
	assert.Equal(t, domain.DecisionManualReview, got.QuoteDecision)

	from := 20.0
	_, err = table.Update("d2", domain.RulePatch{From: &from})
	assert.True(t, domain.IsKind(err, domain.KindValidation), "from above to is rejected")

	_, err = table.Update("missing", domain.RulePatch{Value: &v})
	assert.True(t, domain.IsKind(err, domain.KindNotFound))
}

func TestTableTwoPhaseRemoval(t *testing.T) {
	table, err := NewTable(durationLoadings())
	require.NoError(t, err)

	token, err := table.RequestRemoval("d2")
	require.NoError(t, err)
	assert.Equal(t, []string{"d2"}, table.PendingRemovals())

	// still matching until confirmed
	r, ok := table.Evaluate(9)
	require.True(t, ok)
	assert.Equal(t, "d2", r.ID)

	removed, err := table.ConfirmRemoval(token)
	require.NoError(t, err)
	assert.Equal(t, "d2", removed.ID)
	assert.Equal(t, 2, table.Len())
	assert.Empty(t, table.PendingRemovals())

	_, ok = table.Evaluate(9)
	assert.False(t, ok)

	_, err = table.ConfirmRemoval(token)
	assert.True(t, domain.IsKind(err, domain.KindNotFound), "tokens are single use")
}

func TestTableCancelRemoval(t *testing.T) {
	table, err := NewTable(durationLoadings())
	require.NoError(t, err)

	token, err := table.RequestRemoval("d1")
	require.NoError(t, err)
	require.NoError(t, table.CancelRemoval(token))

	assert.Equal(t, 3, table.Len())
	_, err = table.ConfirmRemoval(token)
	assert.Error(t, err)
	assert.Error(t, table.CancelRemoval("nope"))

	_, err = table.RequestRemoval("missing")
	assert.True(t, domain.IsKind(err, domain.KindNotFound))
}

func TestTableConcurrentAccess(t *testing.T) {
	table, err := NewTable(nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, _ = table.Add(domain.RangeRule{From: float64(i), To: domain.UpTo(float64(i) + 0.5), PricingType: domain.PricingFixedAmount, Value: 10})
		}(i)
		go func(i int) {
			defer wg.Done()
			table.Evaluate(float64(i))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 20, table.Len())
}

func TestOverlapValidator(t *testing.T) {
	v := OverlapValidator{}

	assert.NoError(t, v.Validate(durationLoadings()), "touching bands are allowed")

	overlapping := []domain.RangeRule{
		{ID: "a", From: 0, To: domain.UpTo(10), PricingType: domain.PricingPercentage},
		{ID: "b", From: 5, To: domain.UpTo(20), PricingType: domain.PricingPercentage},
	}
	assert.Error(t, v.Validate(overlapping))

	afterOpen := []domain.RangeRule{
		{ID: "a", From: 0, To: domain.Unbounded, PricingType: domain.PricingPercentage},
		{ID: "b", From: 50, To: domain.UpTo(60), PricingType: domain.PricingPercentage},
	}
	assert.Error(t, v.Validate(afterOpen))

	table, err := NewTable(durationLoadings(), v)
	require.NoError(t, err)
	_, err = table.Add(domain.RangeRule{From: 3, To: domain.UpTo(4), PricingType: domain.PricingPercentage})
	assert.Error(t, err)
}

func TestExpressionValidator(t *testing.T) {
	v, err := NewExpressionValidator("value <= 5.0 || decision != 'auto_quote'")
	require.NoError(t, err)

	rules := durationLoadings()
	assert.NoError(t, v.Validate(rules), "the open-ended band is manual review")

	rules[2].QuoteDecision = domain.DecisionAutoQuote
	err = v.Validate(rules)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "d3")

	openOnly, err := NewExpressionValidator("!unbounded || to == 999.0")
	require.NoError(t, err)
	assert.NoError(t, openOnly.Validate(durationLoadings()))
}

func TestExpressionValidatorCompileErrors(t *testing.T) {
	_, err := NewExpressionValidator("this is not CEL !!!")
	assert.Error(t, err)

	_, err = NewExpressionValidator("value * 2.0")
	assert.Error(t, err, "guards must return bool")

	_, err = NewExpressionValidator("premium > 1.0")
	assert.Error(t, err, "unknown variables are rejected")
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry(nil)
	key := domain.ConfigKey{Domain: domain.DurationLoadings, InsurerID: "ins-1", ProductID: "car"}

	_, ok := reg.Evaluate(key, 9)
	assert.False(t, ok, "missing tables never match")

	reg.Load(key, durationLoadings())
	r, ok := reg.Evaluate(key, 9)
	require.True(t, ok)
	assert.Equal(t, "d2", r.ID)

	raw := []json.RawMessage{json.RawMessage(`{"id":"x","from":0,"to":999,"pricing_type":"fixed_amount","loading_discount":100}`)}
	require.NoError(t, reg.LoadRaw(key, raw))
	r, ok = reg.Evaluate(key, 5000)
	require.True(t, ok)
	assert.Equal(t, "x", r.ID)

	assert.Error(t, reg.LoadRaw(key, []json.RawMessage{json.RawMessage(`[]`)}))
	assert.Equal(t, []domain.ConfigKey{key}, reg.Keys())

	reg.Remove(key)
	assert.Zero(t, reg.Len())
}

type memoryBackend struct {
	mu    sync.Mutex
	items map[domain.ConfigKey][]json.RawMessage
	ops   []string
}

func (m *memoryBackend) Fetch(_ context.Context, key domain.ConfigKey) ([]json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items, ok := m.items[key]
	if !ok {
		return nil, domain.ErrorFromStatus(404, "")
	}
	return items, nil
}

func (m *memoryBackend) Create(_ context.Context, key domain.ConfigKey, items []json.RawMessage) ([]json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, "create")
	m.items[key] = items
	return items, nil
}

func (m *memoryBackend) Update(_ context.Context, key domain.ConfigKey, items []json.RawMessage) ([]json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, "update")
	m.items[key] = items
	return items, nil
}

func TestServiceSave(t *testing.T) {
	backend := &memoryBackend{items: make(map[domain.ConfigKey][]json.RawMessage)}
	svc := NewService(backend, []Validator{OverlapValidator{}})
	scope := domain.Scope{InsurerID: "ins-1", ProductID: "car"}

	res, err := svc.Save(context.Background(), scope, domain.DurationLoadings, durationLoadings())
	require.NoError(t, err)
	assert.Len(t, res.Items, 3)
	assert.True(t, res.Items[2].To.Unbounded)

	table, err := NewTable(res.Items)
	require.NoError(t, err)
	v := 7.0
	_, err = table.Update("d3", domain.RulePatch{Value: &v})
	require.NoError(t, err)

	res, err = svc.SaveTable(context.Background(), scope, domain.DurationLoadings, table)
	require.NoError(t, err)
	assert.Equal(t, 7.0, res.Items[2].Value)
	assert.Equal(t, []string{"create", "update"}, backend.ops)

	loaded, err := svc.Load(context.Background(), scope, domain.DurationLoadings)
	require.NoError(t, err)
	assert.Equal(t, res.Items, loaded)

	_, err = svc.Save(context.Background(), scope, domain.Countries, nil)
	assert.True(t, domain.IsKind(err, domain.KindValidation))

	bad := []domain.RangeRule{
		{ID: "a", From: 0, To: domain.UpTo(10), PricingType: domain.PricingPercentage},
		{ID: "b", From: 5, To: domain.UpTo(20), PricingType: domain.PricingPercentage},
	}
	_, err = svc.Save(context.Background(), scope, domain.DurationLoadings, bad)
	assert.Error(t, err)
	assert.Len(t, backend.ops, 2, "invalid tables never reach the backend")
}
