// Package options manages the named-option configuration domains: countries,
// regions, soil types, fee types, base rates and the rest.
package options

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/opensource-finance/ratedesk/internal/domain"
	"github.com/opensource-finance/ratedesk/internal/logging"
	"github.com/opensource-finance/ratedesk/internal/upsert"
)

// Codec is the wire codec for one option domain. It keeps each option's key
// kind so a legacy-keyed row goes back out the way it came in.
type Codec struct {
	Desc domain.Descriptor
}

func (c Codec) Decode(raw json.RawMessage) (domain.NamedOption, error) {
	return domain.DecodeOption(c.Desc, raw)
}

func (c Codec) Encode(o domain.NamedOption) (json.RawMessage, error) {
	return domain.EncodeOption(c.Desc, o)
}

func (Codec) Rate(o domain.NamedOption) float64 {
	return o.Value
}

// Service lists and saves every option domain.
type Service struct {
	master domain.MasterDataSource
	coords map[domain.DomainKey]*upsert.Coordinator[domain.NamedOption]
	log    *zap.SugaredLogger
}

// NewService creates a coordinator per option domain. master may be nil, in
// which case lists are never seeded.
func NewService(backend domain.ConfigBackend, master domain.MasterDataSource, opts ...upsert.Option) *Service {
	s := &Service{
		master: master,
		coords: make(map[domain.DomainKey]*upsert.Coordinator[domain.NamedOption]),
		log:    logging.Named("options"),
	}
	for _, d := range domain.Domains(domain.ShapeOption) {
		s.coords[d.Key] = upsert.New[domain.NamedOption](d, backend, Codec{Desc: d}, opts...)
	}
	return s
}

// Coordinator returns the coordinator for an option domain.
func (s *Service) Coordinator(key domain.DomainKey) (*upsert.Coordinator[domain.NamedOption], error) {
	c, ok := s.coords[key]
	if !ok {
		return nil, domain.NewError(domain.KindValidation, fmt.Sprintf("%s is not an option domain", key), nil)
	}
	return c, nil
}

// List returns the stored options. When the domain has a master-data set,
// canonical names without a stored row are appended as inactive zero-value
// options in master-data order. A master-data failure only skips seeding.
func (s *Service) List(ctx context.Context, scope domain.Scope, key domain.DomainKey) ([]domain.NamedOption, error) {
	c, err := s.Coordinator(key)
	if err != nil {
		return nil, err
	}

	items, err := c.Load(ctx, scope.Key(key))
	if err != nil {
		return nil, err
	}

	desc := c.Descriptor()
	if s.master == nil || desc.MasterKind == "" {
		return items, nil
	}

	set, err := s.master.OptionSet(ctx, desc.MasterKind)
	if err != nil {
		if domain.IsAuth(err) {
			return nil, err
		}
		s.log.Warnw("master data unavailable, listing stored options only", "domain", key, "kind", desc.MasterKind, "error", err)
		return items, nil
	}
	return Seed(items, set), nil
}

// Seed appends a default row for every master option whose label has no
// stored row. Names are compared case-insensitively.
func Seed(items []domain.NamedOption, master []domain.MasterOption) []domain.NamedOption {
	seen := make(map[string]bool, len(items))
	order := 0
	for _, o := range items {
		seen[strings.ToLower(o.Name)] = true
		if o.DisplayOrder > order {
			order = o.DisplayOrder
		}
	}

	out := append([]domain.NamedOption(nil), items...)
	for _, m := range master {
		name := strings.ToLower(m.Label)
		if m.Label == "" || seen[name] {
			continue
		}
		seen[name] = true
		order++
		out = append(out, domain.NamedOption{
			Name:          m.Label,
			KeyKind:       domain.KeyStandard,
			PricingType:   domain.PricingPercentage,
			QuoteDecision: domain.DecisionAutoQuote,
			DisplayOrder:  order,
		})
	}
	return out
}

// Upsert validates items and saves them through the domain's coordinator.
func (s *Service) Upsert(ctx context.Context, scope domain.Scope, key domain.DomainKey, items []domain.NamedOption) (*upsert.Result[domain.NamedOption], error) {
	c, err := s.Coordinator(key)
	if err != nil {
		return nil, err
	}
	if err := Validate(c.Descriptor(), items); err != nil {
		return nil, err
	}
	return c.Save(ctx, scope.Key(key), items)
}

// Validate checks every row and, except where the domain allows it, that no
// two rows share a name.
func Validate(desc domain.Descriptor, items []domain.NamedOption) error {
	seen := make(map[string]bool, len(items))
	for _, o := range items {
		if err := domain.ValidateOption(desc, o); err != nil {
			return err
		}
		if desc.AllowDuplicateNames {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(o.Name))
		if seen[name] {
			return domain.NewError(domain.KindValidation, fmt.Sprintf("%s: duplicate option %q", desc.Key, o.Name), nil)
		}
		seen[name] = true
	}
	return nil
}

// Active returns the active options in display order, stable on ties.
func Active(items []domain.NamedOption) []domain.NamedOption {
	var out []domain.NamedOption
	for _, o := range items {
		if o.IsActive {
			out = append(out, o)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DisplayOrder < out[j].DisplayOrder })
	return out
}

// Find returns the option named name, compared case-insensitively.
func Find(items []domain.NamedOption, name string) (domain.NamedOption, bool) {
	for _, o := range items {
		if strings.EqualFold(o.Name, name) {
			return o, true
		}
	}
	return domain.NamedOption{}, false
}
