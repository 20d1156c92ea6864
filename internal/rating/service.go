package rating

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/opensource-finance/ratedesk/internal/domain"
	"github.com/opensource-finance/ratedesk/internal/upsert"
)

// Codec is the wire codec for range rules.
type Codec struct{}

func (Codec) Decode(raw json.RawMessage) (domain.RangeRule, error) {
	var r domain.RangeRule
	if err := json.Unmarshal(raw, &r); err != nil {
		return domain.RangeRule{}, err
	}
	if r.PricingType == "" {
		r.PricingType = domain.PricingPercentage
	}
	if r.QuoteDecision == "" {
		r.QuoteDecision = domain.DecisionAutoQuote
	}
	return r, nil
}

func (Codec) Encode(r domain.RangeRule) (json.RawMessage, error) {
	return json.Marshal(r)
}

func (Codec) Rate(r domain.RangeRule) float64 {
	return r.Value
}

// DecodeRules decodes a wire item list.
func DecodeRules(raw []json.RawMessage) ([]domain.RangeRule, error) {
	var c Codec
	rules := make([]domain.RangeRule, 0, len(raw))
	for i, item := range raw {
		r, err := c.Decode(item)
		if err != nil {
			return nil, domain.NewError(domain.KindMalformed, fmt.Sprintf("range rule %d", i), err)
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// Service saves and loads the range domains through one coordinator each.
type Service struct {
	coords     map[domain.DomainKey]*upsert.Coordinator[domain.RangeRule]
	validators []Validator
}

// NewService wires a coordinator for every range domain. validators run on
// every save in addition to the bounds check.
func NewService(backend domain.ConfigBackend, validators []Validator, opts ...upsert.Option) *Service {
	s := &Service{
		coords:     make(map[domain.DomainKey]*upsert.Coordinator[domain.RangeRule]),
		validators: validators,
	}
	for _, d := range domain.Domains(domain.ShapeRange) {
		s.coords[d.Key] = upsert.New[domain.RangeRule](d, backend, Codec{}, opts...)
	}
	return s
}

// Coordinator returns the coordinator for a range domain.
func (s *Service) Coordinator(key domain.DomainKey) (*upsert.Coordinator[domain.RangeRule], error) {
	c, ok := s.coords[key]
	if !ok {
		return nil, domain.NewError(domain.KindValidation, fmt.Sprintf("%s is not a range domain", key), nil)
	}
	return c, nil
}

// Load returns the stored table for one range domain.
func (s *Service) Load(ctx context.Context, scope domain.Scope, key domain.DomainKey) ([]domain.RangeRule, error) {
	c, err := s.Coordinator(key)
	if err != nil {
		return nil, err
	}
	return c.Load(ctx, scope.Key(key))
}

// Save validates rules and persists them. Rules without an id take the id of
// the known rule covering the same band, or a new one.
func (s *Service) Save(ctx context.Context, scope domain.Scope, key domain.DomainKey, rules []domain.RangeRule) (*upsert.Result[domain.RangeRule], error) {
	c, err := s.Coordinator(key)
	if err != nil {
		return nil, err
	}
	if err := Validate(rules, s.validators...); err != nil {
		return nil, err
	}
	ck := scope.Key(key)
	return c.Save(ctx, ck, withIDs(c.State(ck).Items, rules))
}

func withIDs(known, rules []domain.RangeRule) []domain.RangeRule {
	out := make([]domain.RangeRule, len(rules))
	used := make(map[string]bool, len(rules))
	for i, r := range rules {
		out[i] = r
		if r.ID != "" {
			used[r.ID] = true
		}
	}
	for i := range out {
		if out[i].ID != "" {
			continue
		}
		for _, k := range known {
			if k.ID != "" && !used[k.ID] && k.From == out[i].From && k.To == out[i].To {
				out[i].ID = k.ID
				break
			}
		}
		if out[i].ID == "" {
			out[i].ID = uuid.New().String()
		}
		used[out[i].ID] = true
	}
	return out
}

// SaveTable persists the current contents of an edited table.
func (s *Service) SaveTable(ctx context.Context, scope domain.Scope, key domain.DomainKey, t *Table) (*upsert.Result[domain.RangeRule], error) {
	return s.Save(ctx, scope, key, t.Rules())
}
