// Package store persists canonical reference-data records. The Postgres
// implementation is the production path; the in-memory implementation backs
// tests and mirrors its semantics exactly, including natural-key and
// identifier uniqueness.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/freightdesk/refdata/internal/refdata"
)

var (
	// ErrNotFound reports a lookup that matched no record.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateKey reports an insert that collided on the natural key
	// (UN number, or country + location code).
	ErrDuplicateKey = errors.New("duplicate natural key")

	// ErrDuplicateIdentifier reports a (scheme, code) pair already owned by a
	// different record of the same kind.
	ErrDuplicateIdentifier = errors.New("identifier already assigned")
)

// DangerousGoodsQuery filters a dangerous-goods search. Zero values mean
// "no constraint"; all predicates combine with AND.
type DangerousGoodsQuery struct {
	Text   string                   // substring of shipping name, technical name or UN number
	Class  refdata.HazardClass      // 0 matches any class
	Scheme refdata.IdentifierScheme // restrict to records carrying this scheme
	Code   string                   // identifier code under Scheme (or any scheme when Scheme is empty)
	Take   int
	Page   int
}

// LocationQuery filters a location search.
type LocationQuery struct {
	Text    string // substring of name or folded name
	Country string // exact ISO country match
	Scheme  refdata.IdentifierScheme
	Code    string
	Take    int
	Page    int
}

// DangerousGoodsStore persists dangerous-goods records and their identifiers.
type DangerousGoodsStore interface {
	// GetByUNNumber loads one record with its identifiers by normalized UN
	// number. ErrNotFound when absent.
	GetByUNNumber(ctx context.Context, unNumber string) (*refdata.DangerousGood, error)

	// Insert writes a new record and its identifiers. ErrDuplicateKey when the
	// UN number already exists; ErrDuplicateIdentifier when one of the
	// identifiers collides with another record.
	Insert(ctx context.Context, dg *refdata.DangerousGood) error

	// Update rewrites the descriptive fields of an existing record.
	// Identifiers are not touched; use AddIdentifier. ErrNotFound when the
	// record is gone.
	Update(ctx context.Context, dg *refdata.DangerousGood) error

	// AddIdentifier attaches an identifier to a record. Returns the stored
	// identifier: the given one with created=true when inserted, or the
	// already-attached identifier with created=false when the identical
	// (scheme, code) sits on this record. ErrDuplicateIdentifier when another
	// record owns the pair.
	AddIdentifier(ctx context.Context, recordID uuid.UUID, ident refdata.Identifier) (refdata.Identifier, bool, error)

	// RemoveIdentifier detaches one identifier by its ID, scoped to the owning
	// record. ErrNotFound when the record does not carry it.
	RemoveIdentifier(ctx context.Context, recordID, identifierID uuid.UUID) error

	// Search returns the clamped page matching the query, ordered by UN
	// number then ID.
	Search(ctx context.Context, q DangerousGoodsQuery) (refdata.Page[refdata.DangerousGood], error)

	// Count returns the number of records.
	Count(ctx context.Context) (int64, error)

	// CountIdentifiers returns the number of attached identifiers.
	CountIdentifiers(ctx context.Context) (int64, error)
}

// LocationStore persists location records and their identifiers.
type LocationStore interface {
	// GetByLocode loads one record by normalized country and location code.
	// ErrNotFound when absent.
	GetByLocode(ctx context.Context, country, locationCode string) (*refdata.Location, error)

	Insert(ctx context.Context, loc *refdata.Location) error
	Update(ctx context.Context, loc *refdata.Location) error
	AddIdentifier(ctx context.Context, recordID uuid.UUID, ident refdata.Identifier) (refdata.Identifier, bool, error)
	RemoveIdentifier(ctx context.Context, recordID, identifierID uuid.UUID) error

	// Search returns the clamped page matching the query, ordered by name
	// then ID.
	Search(ctx context.Context, q LocationQuery) (refdata.Page[refdata.Location], error)

	Count(ctx context.Context) (int64, error)
	CountIdentifiers(ctx context.Context) (int64, error)
}

// Store bundles the per-kind stores and transactional execution.
type Store interface {
	DangerousGoods() DangerousGoodsStore
	Locations() LocationStore

	// WithTx runs fn against a store view whose writes commit together.
	// Returning an error rolls everything back. Nested calls join the
	// enclosing transaction.
	WithTx(ctx context.Context, fn func(Store) error) error
}
