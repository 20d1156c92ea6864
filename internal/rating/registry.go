package rating

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/ratedesk/internal/domain"
	"github.com/opensource-finance/ratedesk/internal/metrics"
)

// Registry holds the live range tables of every insurer product, keyed by
// ConfigKey. Tables are swapped whole on reload.
type Registry struct {
	mu      sync.RWMutex
	tables  map[domain.ConfigKey][]domain.RangeRule
	metrics *metrics.Metrics
}

// NewRegistry creates an empty registry. m may be nil.
func NewRegistry(m *metrics.Metrics) *Registry {
	return &Registry{
		tables:  make(map[domain.ConfigKey][]domain.RangeRule),
		metrics: m,
	}
}

// Load replaces the table for key.
func (r *Registry) Load(key domain.ConfigKey, rules []domain.RangeRule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tables[key] = append([]domain.RangeRule(nil), rules...)
}

// LoadRaw decodes wire items and replaces the table for key.
func (r *Registry) LoadRaw(key domain.ConfigKey, raw []json.RawMessage) error {
	rules, err := DecodeRules(raw)
	if err != nil {
		return err
	}
	r.Load(key, rules)
	return nil
}

// Remove drops the table for key.
func (r *Registry) Remove(key domain.ConfigKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tables, key)
}

// Rules returns the table for key.
func (r *Registry) Rules(key domain.ConfigKey) ([]domain.RangeRule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rules, ok := r.tables[key]
	return rules, ok
}

// Evaluate looks x up in the table for key. A missing table never matches.
func (r *Registry) Evaluate(key domain.ConfigKey, x float64) (domain.RangeRule, bool) {
	r.mu.RLock()
	rules := r.tables[key]
	r.mu.RUnlock()

	rule, ok := Evaluate(rules, x)
	r.metrics.ObserveEvaluation(string(key.Domain), ok)
	return rule, ok
}

// EvaluateAndApply looks x up and applies the match to base.
func (r *Registry) EvaluateAndApply(key domain.ConfigKey, x float64, base decimal.Decimal) Adjustment {
	rule, ok := r.Evaluate(key, x)
	if !ok {
		return NoMatch()
	}
	return Apply(rule, base)
}

// Keys returns every loaded key, sorted.
func (r *Registry) Keys() []domain.ConfigKey {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]domain.ConfigKey, 0, len(r.tables))
	for k := range r.tables {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// Len returns the number of loaded tables.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tables)
}
