package refdata

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// HazardClass is the UN transport hazard class (1-9). Subdivisions such as
// "1.4" or "2.1" collapse to their primary class.
type HazardClass int

const (
	Class1 HazardClass = iota + 1 // Explosives
	Class2                        // Gases
	Class3                        // Flammable liquids
	Class4                        // Flammable solids
	Class5                        // Oxidizers, organic peroxides
	Class6                        // Toxic and infectious substances
	Class7                        // Radioactive material
	Class8                        // Corrosives
	Class9                        // Miscellaneous
)

func (c HazardClass) String() string {
	return "Class" + string(rune('0'+int(c)))
}

// ParseHazardClass parses class tokens as they appear in external code lists:
// "3", "Class 3", "1.4S", "2.1". The parse is total: any token that does not
// start with a digit in 1-9 resolves to Class9 (Miscellaneous). Callers that
// need strict fidelity must validate upstream.
func ParseHazardClass(s string) HazardClass {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.ToLower(s), "class")
	s = strings.TrimSpace(s)
	if s == "" {
		return Class9
	}
	// Only the leading digit matters; "1.4S" is Class1, "10" is out of range.
	c := int(s[0] - '0')
	if c < 1 || c > 9 {
		return Class9
	}
	if len(s) > 1 && s[1] >= '0' && s[1] <= '9' {
		return Class9 // two-digit token such as "10"
	}
	return HazardClass(c)
}

// PackingGroup indicates the degree of danger (I = high, III = low).
type PackingGroup string

const (
	PackingGroupI   PackingGroup = "I"
	PackingGroupII  PackingGroup = "II"
	PackingGroupIII PackingGroup = "III"
)

// ParsePackingGroup parses roman or arabic group tokens. Unrecognized tokens
// resolve to PackingGroupIII rather than rejecting the row.
func ParsePackingGroup(s string) PackingGroup {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "I", "1":
		return PackingGroupI
	case "II", "2":
		return PackingGroupII
	case "III", "3":
		return PackingGroupIII
	default:
		return PackingGroupIII
	}
}

// DangerousGood is the canonical record for one UN-numbered substance.
// UNNumber is the natural key: it identifies "the same real-world entity"
// across repeated imports, independent of the opaque ID.
type DangerousGood struct {
	ID                 uuid.UUID
	UNNumber           string // normalized (trim + upper), e.g. "UN1203"
	ProperShippingName string
	TechnicalName      string
	Class              HazardClass
	PackingGroup       PackingGroup
	Labels             string
	SpecialProvisions  string
	LimitedQuantity    string
	ExceptedQuantity   string
	Notes              string
	IsActive           bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
	Identifiers        []Identifier
}

// HasScheme reports whether the record already carries an identifier under
// the given scheme. The reconciler uses this to keep identifier metadata
// first-write-wins.
func (d *DangerousGood) HasScheme(scheme IdentifierScheme) bool {
	for _, id := range d.Identifiers {
		if id.Scheme == scheme {
			return true
		}
	}
	return false
}
