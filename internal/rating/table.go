package rating

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/opensource-finance/ratedesk/internal/domain"
)

// Table is an editable range table. Every mutation is validated against the
// whole table before it is applied, and removal is two-phase: a rule stays in
// the table until its removal has been confirmed.
type Table struct {
	mu         sync.RWMutex
	rules      []domain.RangeRule
	pending    map[string]string // removal token -> rule id
	validators []Validator
}

// NewTable creates a table holding rules. Bounds are always validated;
// extra validators are opt-in.
func NewTable(rules []domain.RangeRule, validators ...Validator) (*Table, error) {
	t := &Table{
		pending:    make(map[string]string),
		validators: append([]Validator{BoundsValidator{}}, validators...),
	}
	if err := t.validate(rules); err != nil {
		return nil, err
	}
	t.rules = append([]domain.RangeRule(nil), rules...)
	return t, nil
}

// Rules returns a copy of the rules in stored order.
func (t *Table) Rules() []domain.RangeRule {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]domain.RangeRule(nil), t.rules...)
}

// Len returns the number of rules.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rules)
}

// Evaluate runs Evaluate over the current rules.
func (t *Table) Evaluate(x float64) (domain.RangeRule, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Evaluate(t.rules, x)
}

// Add appends a rule, assigning an id when it has none.
func (t *Table) Add(rule domain.RangeRule) (domain.RangeRule, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	if t.indexOf(rule.ID) >= 0 {
		return domain.RangeRule{}, domain.NewError(domain.KindConflict, fmt.Sprintf("rule %s already exists", rule.ID), nil)
	}

	next := append(append([]domain.RangeRule(nil), t.rules...), rule)
	if err := t.validate(next); err != nil {
		return domain.RangeRule{}, err
	}
	t.rules = next
	return rule, nil
}

// Update applies patch to the rule with the given id.
func (t *Table) Update(id string, patch domain.RulePatch) (domain.RangeRule, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	i := t.indexOf(id)
	if i < 0 {
		return domain.RangeRule{}, domain.NewError(domain.KindNotFound, fmt.Sprintf("rule %s not found", id), nil)
	}

	r := t.rules[i]
	if patch.From != nil {
		r.From = *patch.From
	}
	if patch.To != nil {
		r.To = *patch.To
	}
	if patch.PricingType != nil {
		r.PricingType = *patch.PricingType
	}
	if patch.Value != nil {
		r.Value = *patch.Value
	}
	if patch.QuoteDecision != nil {
		r.QuoteDecision = *patch.QuoteDecision
	}

	next := append([]domain.RangeRule(nil), t.rules...)
	next[i] = r
	if err := t.validate(next); err != nil {
		return domain.RangeRule{}, err
	}
	t.rules = next
	return r, nil
}

// RequestRemoval marks a rule for removal and returns the token that confirms
// or cancels it. The rule keeps matching until confirmed.
func (t *Table) RequestRemoval(id string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.indexOf(id) < 0 {
		return "", domain.NewError(domain.KindNotFound, fmt.Sprintf("rule %s not found", id), nil)
	}
	token := uuid.New().String()
	t.pending[token] = id
	return token, nil
}

// ConfirmRemoval removes the rule the token was issued for.
func (t *Table) ConfirmRemoval(token string) (domain.RangeRule, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id, ok := t.pending[token]
	if !ok {
		return domain.RangeRule{}, domain.NewError(domain.KindNotFound, "unknown removal token", nil)
	}
	delete(t.pending, token)

	i := t.indexOf(id)
	if i < 0 {
		// removed through another token
		return domain.RangeRule{}, domain.NewError(domain.KindNotFound, fmt.Sprintf("rule %s not found", id), nil)
	}
	removed := t.rules[i]
	t.rules = append(append([]domain.RangeRule(nil), t.rules[:i]...), t.rules[i+1:]...)
	return removed, nil
}

// CancelRemoval forgets a pending removal.
func (t *Table) CancelRemoval(token string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.pending[token]; !ok {
		return domain.NewError(domain.KindNotFound, "unknown removal token", nil)
	}
	delete(t.pending, token)
	return nil
}

// PendingRemovals returns the ids of rules awaiting confirmation.
func (t *Table) PendingRemovals() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]string, 0, len(t.pending))
	for _, id := range t.pending {
		ids = append(ids, id)
	}
	return ids
}

func (t *Table) indexOf(id string) int {
	for i, r := range t.rules {
		if r.ID == id {
			return i
		}
	}
	return -1
}

func (t *Table) validate(rules []domain.RangeRule) error {
	for _, v := range t.validators {
		if err := v.Validate(rules); err != nil {
			return err
		}
	}
	return nil
}
