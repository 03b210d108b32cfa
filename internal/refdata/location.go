package refdata

import (
	"time"

	"github.com/google/uuid"
)

// Location is the canonical record for one UN/LOCODE location. The natural
// key is the normalized (Country, LocationCode) pair; the concatenation
// (e.g. "USNYC") is the code carried by the UNLOCODE identifier.
type Location struct {
	ID               uuid.UUID
	Country          string // ISO 3166-1 alpha-2, normalized
	LocationCode     string // three-character place code, normalized
	Name             string
	NameWoDiacritics string
	Subdivision      string
	Function         string
	Status           string
	Date             string // UN/LOCODE reference period, e.g. "2401"
	Coordinates      string
	IsActive         bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
	Identifiers      []Identifier
}

// Locode returns the combined UN/LOCODE ("USNYC"). Valid only after the
// country and location code have been normalized.
func (l *Location) Locode() string {
	return l.Country + l.LocationCode
}

// HasScheme reports whether the record already carries an identifier under
// the given scheme.
func (l *Location) HasScheme(scheme IdentifierScheme) bool {
	for _, id := range l.Identifiers {
		if id.Scheme == scheme {
			return true
		}
	}
	return false
}
