// Package identity maps persisted draft values back to canonical option
// identifiers.
//
// Drafts were saved by several generations of forms, each encoding the same
// choice differently: a numeric master-data id, an underscore or hyphen slug,
// a raw geographic value or a lowercase label. Resolution never guesses; a
// value that matches nothing is reported as unresolved.
package identity

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/opensource-finance/ratedesk/internal/domain"
)

// Encoding is how a field's canonical value is written.
type Encoding string

const (
	// MasterDataID is the option's numeric id.
	MasterDataID Encoding = "master_data_id"
	// RoleSlug is the label lower-cased with spaces as underscores.
	RoleSlug Encoding = "role_slug"
	// ContractSlug is the label lower-cased with spaces as hyphens.
	ContractSlug Encoding = "contract_slug"
	// GeographicValue is the option's raw value field.
	GeographicValue Encoding = "geographic_value"
	// SoilLabel is the label lower-cased.
	SoilLabel Encoding = "soil_label"
)

// Normalize lower-cases s and drops everything that is not a letter or digit.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Canonical returns the identifier an option resolves to under enc.
func Canonical(o domain.MasterOption, enc Encoding) string {
	switch enc {
	case MasterDataID:
		return strconv.FormatInt(o.ID, 10)
	case RoleSlug:
		return strings.ReplaceAll(strings.ToLower(o.Label), " ", "_")
	case ContractSlug:
		return strings.ReplaceAll(strings.ToLower(o.Label), " ", "-")
	case GeographicValue:
		if o.Value == "" {
			return o.Label
		}
		return o.Value
	default:
		return strings.ToLower(o.Label)
	}
}

// Resolve maps raw to the canonical identifier of the option it names.
//
// A raw value already in canonical form is returned as is. Otherwise raw and
// each label are normalized and compared. Geographic values get a second
// attempt with hyphens read as spaces, also comparing the option's value.
func Resolve(raw string, opts []domain.MasterOption, enc Encoding) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}

	for _, o := range opts {
		if c := Canonical(o, enc); c != "" && c == raw {
			return c, true
		}
	}

	n := Normalize(raw)
	if n == "" {
		return "", false
	}
	for _, o := range opts {
		if Normalize(o.Label) == n {
			return Canonical(o, enc), true
		}
	}

	if enc == GeographicValue {
		n = Normalize(strings.ReplaceAll(raw, "-", " "))
		for _, o := range opts {
			if Normalize(o.Label) == n || (o.Value != "" && Normalize(o.Value) == n) {
				return Canonical(o, enc), true
			}
		}
	}

	return "", false
}
