package refdata

import (
	"time"

	"github.com/google/uuid"
)

// Identifier attaches one external code to a canonical record. Identifiers
// are owned by exactly one record and are deleted with it. They are written
// once when a scheme is first observed for a record and never updated by
// later imports, so ExtraJSON reflects the first import that carried it.
type Identifier struct {
	ID        uuid.UUID
	Scheme    IdentifierScheme
	Code      string // normalized (trim + upper)
	ExtraJSON string // scheme-specific metadata as raw JSON, "" when absent
	CreatedAt time.Time
}

// NewIdentifier builds an identifier with a fresh ID and normalized code.
func NewIdentifier(scheme IdentifierScheme, code, extraJSON string) Identifier {
	return Identifier{
		ID:        uuid.New(),
		Scheme:    scheme,
		Code:      NormalizeCode(code),
		ExtraJSON: extraJSON,
		CreatedAt: time.Now().UTC(),
	}
}
