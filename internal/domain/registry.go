package domain

import (
	"fmt"
	"sort"
	"strings"
)

// DomainKey names one configuration domain.
type DomainKey string

// Shape is the item shape a domain stores.
type Shape string

const (
	ShapeOption Shape = "option"
	ShapeRange  Shape = "range"
	ShapeClause Shape = "clause"
)

// Existence decides whether a fetched item list counts as an existing configuration.
type Existence string

const (
	// ExistsNonEmpty treats any returned item as existing configuration.
	ExistsNonEmpty Existence = "non_empty"
	// ExistsNonZeroRate needs at least one item with a non-zero value; the
	// backend pre-populates rate tables with zero rows.
	ExistsNonZeroRate Existence = "non_zero_rate"
)

// LegacyNameField is the bare name field used by legacy-keyed options.
const LegacyNameField = "name"

// Range domains.
const (
	DurationLoadings        DomainKey = "duration_loadings"
	MaintenanceLoadings     DomainKey = "maintenance_loadings"
	ExperienceDiscounts     DomainKey = "experience_discounts"
	ClaimFrequencyLoadings  DomainKey = "claim_frequency_loadings"
	ContractValueCategories DomainKey = "contract_value_categories"
)

// Option domains.
const (
	ProjectTypes       DomainKey = "project_types"
	SubProjectTypes    DomainKey = "sub_project_types"
	ConstructionTypes  DomainKey = "construction_types"
	Countries          DomainKey = "countries"
	Regions            DomainKey = "regions"
	Zones              DomainKey = "zones"
	RoleTypes          DomainKey = "role_types"
	ContractTypes      DomainKey = "contract_types"
	SoilTypes          DomainKey = "soil_types"
	SubcontractorTypes DomainKey = "subcontractor_types"
	ConsultantRoles    DomainKey = "consultant_roles"
	SecurityTypes      DomainKey = "security_types"
	AreaTypes          DomainKey = "area_types"
	FeeTypes           DomainKey = "fee_types"
	BaseRates          DomainKey = "base_rates"
)

// ClausePricing holds clause, warranty and exclusion definitions.
const ClausePricing DomainKey = "clause_pricing"

// Descriptor holds everything that differs between domains.
type Descriptor struct {
	Key       DomainKey
	Shape     Shape
	NameField string
	// MasterKind is the master-data set that seeds canonical names; empty when none.
	MasterKind          string
	Existence           Existence
	AllowDuplicateNames bool
	// Merge is false for domains whose backend only accepts full replacement.
	Merge bool
}

// Endpoint is the URL segment for the domain.
func (d Descriptor) Endpoint() string {
	return strings.ReplaceAll(string(d.Key), "_", "-")
}

// PayloadKey is the envelope key used in create and update bodies.
func (d Descriptor) PayloadKey() string {
	return string(d.Key) + "_config"
}

// IdentityField is the wire field that identifies an item for merge-updates.
func (d Descriptor) IdentityField() string {
	switch d.Shape {
	case ShapeRange:
		return "id"
	case ShapeClause:
		return "clause_code"
	default:
		return d.NameField
	}
}

func option(key DomainKey, nameField, masterKind string) Descriptor {
	return Descriptor{
		Key:        key,
		Shape:      ShapeOption,
		NameField:  nameField,
		MasterKind: masterKind,
		Existence:  ExistsNonEmpty,
		Merge:      true,
	}
}

func rangeDomain(key DomainKey) Descriptor {
	return Descriptor{Key: key, Shape: ShapeRange, Existence: ExistsNonEmpty, Merge: true}
}

var registry = func() map[DomainKey]Descriptor {
	ds := []Descriptor{
		rangeDomain(DurationLoadings),
		rangeDomain(MaintenanceLoadings),
		rangeDomain(ExperienceDiscounts),
		rangeDomain(ClaimFrequencyLoadings),
		rangeDomain(ContractValueCategories),

		option(ProjectTypes, "name", "project_types"),
		option(SubProjectTypes, "name", "sub_project_types"),
		option(ConstructionTypes, "name", "construction_types"),
		option(Countries, "country", "countries"),
		option(Regions, "region", "regions"),
		option(Zones, "zone", "zones"),
		option(RoleTypes, "name", "role_types"),
		option(ContractTypes, "name", "contract_types"),
		option(SoilTypes, "name", "soil_types"),
		option(SubcontractorTypes, "name", "subcontractor_types"),
		option(ConsultantRoles, "name", "consultant_roles"),
		option(SecurityTypes, "name", "security_types"),
		option(AreaTypes, "name", "area_types"),
		option(FeeTypes, "name", ""),
		option(BaseRates, "name", "sub_project_types"),

		{Key: ClausePricing, Shape: ShapeClause, Existence: ExistsNonEmpty, Merge: false},
	}

	m := make(map[DomainKey]Descriptor, len(ds))
	for _, d := range ds {
		switch d.Key {
		case FeeTypes:
			d.AllowDuplicateNames = true
		case BaseRates:
			d.Existence = ExistsNonZeroRate
		}
		m[d.Key] = d
	}
	return m
}()

// Lookup returns the descriptor for a domain.
func Lookup(key DomainKey) (Descriptor, error) {
	d, ok := registry[key]
	if !ok {
		return Descriptor{}, NewError(KindValidation, fmt.Sprintf("unknown configuration domain %q", key), nil)
	}
	return d, nil
}

// LookupEndpoint resolves a domain from its URL segment.
func LookupEndpoint(endpoint string) (Descriptor, error) {
	return Lookup(DomainKey(strings.ReplaceAll(endpoint, "-", "_")))
}

// MustLookup is Lookup for keys known at compile time.
func MustLookup(key DomainKey) Descriptor {
	d, err := Lookup(key)
	if err != nil {
		panic(err)
	}
	return d
}

// Domains returns every registered domain of the given shape, sorted by key.
func Domains(shape Shape) []Descriptor {
	var out []Descriptor
	for _, d := range registry {
		if d.Shape == shape {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// ConfigKey identifies one domain's configuration for one insurer product.
type ConfigKey struct {
	Domain    DomainKey
	InsurerID string
	ProductID string
}

func (k ConfigKey) String() string {
	return string(k.Domain) + "/" + k.InsurerID + "/" + k.ProductID
}

// Validate checks that the key is fully scoped.
func (k ConfigKey) Validate() error {
	if k.InsurerID == "" || k.ProductID == "" {
		return NewError(KindValidation, "insurer and product are required", nil)
	}
	_, err := Lookup(k.Domain)
	return err
}

// Scope is the (insurer, product) pair every configuration belongs to.
type Scope struct {
	InsurerID string
	ProductID string
}

// Key returns the ConfigKey for a domain in this scope.
func (s Scope) Key(domain DomainKey) ConfigKey {
	return ConfigKey{Domain: domain, InsurerID: s.InsurerID, ProductID: s.ProductID}
}
