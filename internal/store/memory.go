package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/freightdesk/refdata/internal/refdata"
)

type identKey struct {
	scheme refdata.IdentifierScheme
	code   string
}

// Memory implements Store on in-process maps, with the same uniqueness and
// ordering semantics as the Postgres store. Writes inside WithTx apply
// immediately; rollback is not simulated.
type Memory struct {
	mu sync.RWMutex

	goods      map[uuid.UUID]*refdata.DangerousGood
	goodsByUN  map[string]uuid.UUID
	goodsIdent map[identKey]uuid.UUID

	locs      map[uuid.UUID]*refdata.Location
	locsByKey map[string]uuid.UUID
	locIdent  map[identKey]uuid.UUID
}

func NewMemory() *Memory {
	return &Memory{
		goods:      make(map[uuid.UUID]*refdata.DangerousGood),
		goodsByUN:  make(map[string]uuid.UUID),
		goodsIdent: make(map[identKey]uuid.UUID),
		locs:       make(map[uuid.UUID]*refdata.Location),
		locsByKey:  make(map[string]uuid.UUID),
		locIdent:   make(map[identKey]uuid.UUID),
	}
}

func (m *Memory) DangerousGoods() DangerousGoodsStore { return &memDangerousGoods{m: m} }
func (m *Memory) Locations() LocationStore            { return &memLocations{m: m} }

func (m *Memory) WithTx(_ context.Context, fn func(Store) error) error {
	return fn(m)
}

func locKey(country, locationCode string) string {
	return country + "\x00" + locationCode
}

func copyGood(dg *refdata.DangerousGood) *refdata.DangerousGood {
	c := *dg
	c.Identifiers = append([]refdata.Identifier(nil), dg.Identifiers...)
	return &c
}

func copyLocation(loc *refdata.Location) *refdata.Location {
	c := *loc
	c.Identifiers = append([]refdata.Identifier(nil), loc.Identifiers...)
	return &c
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func matchesIdentifier(idents []refdata.Identifier, scheme refdata.IdentifierScheme, code string) bool {
	for _, id := range idents {
		if scheme != "" && id.Scheme != scheme {
			continue
		}
		if code != "" && id.Code != refdata.NormalizeCode(code) {
			continue
		}
		return true
	}
	return false
}

// ----- dangerous goods -----

type memDangerousGoods struct {
	m *Memory
}

func (s *memDangerousGoods) GetByUNNumber(_ context.Context, unNumber string) (*refdata.DangerousGood, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	id, ok := s.m.goodsByUN[refdata.NormalizeCode(unNumber)]
	if !ok {
		return nil, ErrNotFound
	}
	return copyGood(s.m.goods[id]), nil
}

func (s *memDangerousGoods) Insert(_ context.Context, dg *refdata.DangerousGood) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, exists := s.m.goodsByUN[dg.UNNumber]; exists {
		return ErrDuplicateKey
	}
	for _, ident := range dg.Identifiers {
		if _, taken := s.m.goodsIdent[identKey{ident.Scheme, ident.Code}]; taken {
			return ErrDuplicateIdentifier
		}
	}
	stored := copyGood(dg)
	s.m.goods[stored.ID] = stored
	s.m.goodsByUN[stored.UNNumber] = stored.ID
	for _, ident := range stored.Identifiers {
		s.m.goodsIdent[identKey{ident.Scheme, ident.Code}] = stored.ID
	}
	return nil
}

func (s *memDangerousGoods) Update(_ context.Context, dg *refdata.DangerousGood) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	stored, ok := s.m.goods[dg.ID]
	if !ok {
		return ErrNotFound
	}
	idents := stored.Identifiers
	*stored = *dg
	stored.Identifiers = idents
	return nil
}

func (s *memDangerousGoods) AddIdentifier(_ context.Context, recordID uuid.UUID, ident refdata.Identifier) (refdata.Identifier, bool, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if owner, taken := s.m.goodsIdent[identKey{ident.Scheme, ident.Code}]; taken {
		if owner != recordID {
			return refdata.Identifier{}, false, ErrDuplicateIdentifier
		}
		for _, existing := range s.m.goods[recordID].Identifiers {
			if existing.Scheme == ident.Scheme && existing.Code == ident.Code {
				return existing, false, nil
			}
		}
		return refdata.Identifier{}, false, ErrNotFound
	}
	stored, ok := s.m.goods[recordID]
	if !ok {
		return refdata.Identifier{}, false, ErrNotFound
	}
	stored.Identifiers = append(stored.Identifiers, ident)
	s.m.goodsIdent[identKey{ident.Scheme, ident.Code}] = recordID
	return ident, true, nil
}

func (s *memDangerousGoods) RemoveIdentifier(_ context.Context, recordID, identifierID uuid.UUID) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	stored, ok := s.m.goods[recordID]
	if !ok {
		return ErrNotFound
	}
	for i, ident := range stored.Identifiers {
		if ident.ID == identifierID {
			stored.Identifiers = append(stored.Identifiers[:i], stored.Identifiers[i+1:]...)
			delete(s.m.goodsIdent, identKey{ident.Scheme, ident.Code})
			return nil
		}
	}
	return ErrNotFound
}

func (s *memDangerousGoods) Search(_ context.Context, q DangerousGoodsQuery) (refdata.Page[refdata.DangerousGood], error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()

	var matched []*refdata.DangerousGood
	for _, dg := range s.m.goods {
		if q.Text != "" &&
			!containsFold(dg.ProperShippingName, q.Text) &&
			!containsFold(dg.TechnicalName, q.Text) &&
			!containsFold(dg.UNNumber, q.Text) {
			continue
		}
		if q.Class != 0 && dg.Class != q.Class {
			continue
		}
		if (q.Scheme != "" || q.Code != "") && !matchesIdentifier(dg.Identifiers, q.Scheme, q.Code) {
			continue
		}
		matched = append(matched, dg)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].UNNumber != matched[j].UNNumber {
			return matched[i].UNNumber < matched[j].UNNumber
		}
		return matched[i].ID.String() < matched[j].ID.String()
	})

	total := int64(len(matched))
	_, _, offset := refdata.Paginate(total, q.Take, q.Page)
	take := clampTake(q.Take)

	var items []refdata.DangerousGood
	for i := offset; i < len(matched) && i < offset+take; i++ {
		items = append(items, *copyGood(matched[i]))
	}
	return refdata.NewPage(items, total, q.Take, q.Page), nil
}

func (s *memDangerousGoods) Count(_ context.Context) (int64, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	return int64(len(s.m.goods)), nil
}

func (s *memDangerousGoods) CountIdentifiers(_ context.Context) (int64, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	return int64(len(s.m.goodsIdent)), nil
}

// ----- locations -----

type memLocations struct {
	m *Memory
}

func (s *memLocations) GetByLocode(_ context.Context, country, locationCode string) (*refdata.Location, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	id, ok := s.m.locsByKey[locKey(refdata.NormalizeCode(country), refdata.NormalizeCode(locationCode))]
	if !ok {
		return nil, ErrNotFound
	}
	return copyLocation(s.m.locs[id]), nil
}

func (s *memLocations) Insert(_ context.Context, loc *refdata.Location) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, exists := s.m.locsByKey[locKey(loc.Country, loc.LocationCode)]; exists {
		return ErrDuplicateKey
	}
	for _, ident := range loc.Identifiers {
		if _, taken := s.m.locIdent[identKey{ident.Scheme, ident.Code}]; taken {
			return ErrDuplicateIdentifier
		}
	}
	stored := copyLocation(loc)
	s.m.locs[stored.ID] = stored
	s.m.locsByKey[locKey(stored.Country, stored.LocationCode)] = stored.ID
	for _, ident := range stored.Identifiers {
		s.m.locIdent[identKey{ident.Scheme, ident.Code}] = stored.ID
	}
	return nil
}

func (s *memLocations) Update(_ context.Context, loc *refdata.Location) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	stored, ok := s.m.locs[loc.ID]
	if !ok {
		return ErrNotFound
	}
	idents := stored.Identifiers
	*stored = *loc
	stored.Identifiers = idents
	return nil
}

func (s *memLocations) AddIdentifier(_ context.Context, recordID uuid.UUID, ident refdata.Identifier) (refdata.Identifier, bool, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if owner, taken := s.m.locIdent[identKey{ident.Scheme, ident.Code}]; taken {
		if owner != recordID {
			return refdata.Identifier{}, false, ErrDuplicateIdentifier
		}
		for _, existing := range s.m.locs[recordID].Identifiers {
			if existing.Scheme == ident.Scheme && existing.Code == ident.Code {
				return existing, false, nil
			}
		}
		return refdata.Identifier{}, false, ErrNotFound
	}
	stored, ok := s.m.locs[recordID]
	if !ok {
		return refdata.Identifier{}, false, ErrNotFound
	}
	stored.Identifiers = append(stored.Identifiers, ident)
	s.m.locIdent[identKey{ident.Scheme, ident.Code}] = recordID
	return ident, true, nil
}

func (s *memLocations) RemoveIdentifier(_ context.Context, recordID, identifierID uuid.UUID) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	stored, ok := s.m.locs[recordID]
	if !ok {
		return ErrNotFound
	}
	for i, ident := range stored.Identifiers {
		if ident.ID == identifierID {
			stored.Identifiers = append(stored.Identifiers[:i], stored.Identifiers[i+1:]...)
			delete(s.m.locIdent, identKey{ident.Scheme, ident.Code})
			return nil
		}
	}
	return ErrNotFound
}

func (s *memLocations) Search(_ context.Context, q LocationQuery) (refdata.Page[refdata.Location], error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()

	country := refdata.NormalizeCode(q.Country)
	var matched []*refdata.Location
	for _, loc := range s.m.locs {
		if q.Text != "" &&
			!containsFold(loc.Name, q.Text) &&
			!containsFold(loc.NameWoDiacritics, q.Text) {
			continue
		}
		if country != "" && loc.Country != country {
			continue
		}
		if (q.Scheme != "" || q.Code != "") && !matchesIdentifier(loc.Identifiers, q.Scheme, q.Code) {
			continue
		}
		matched = append(matched, loc)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Name != matched[j].Name {
			return matched[i].Name < matched[j].Name
		}
		return matched[i].ID.String() < matched[j].ID.String()
	})

	total := int64(len(matched))
	_, _, offset := refdata.Paginate(total, q.Take, q.Page)
	take := clampTake(q.Take)

	var items []refdata.Location
	for i := offset; i < len(matched) && i < offset+take; i++ {
		items = append(items, *copyLocation(matched[i]))
	}
	return refdata.NewPage(items, total, q.Take, q.Page), nil
}

func (s *memLocations) Count(_ context.Context) (int64, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	return int64(len(s.m.locs)), nil
}

func (s *memLocations) CountIdentifiers(_ context.Context) (int64, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	return int64(len(s.m.locIdent)), nil
}
