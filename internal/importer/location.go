package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/freightdesk/refdata/internal/ingest"
	"github.com/freightdesk/refdata/internal/refdata"
	"github.com/freightdesk/refdata/internal/store"
)

// ImportLocations ingests one UN/LOCODE CSV. New records get a UNLOCODE
// identifier for the combined code, plus an IATA identifier when the row
// carries one.
func (imp *Importer) ImportLocations(ctx context.Context, r io.Reader) (refdata.Tally, error) {
	var tally refdata.Tally

	lr, err := ingest.NewLocationReader(r)
	if err != nil {
		return tally, fmt.Errorf("open location csv: %w", err)
	}

	start := time.Now()
	next := func() (rowFunc, error) {
		row, err := lr.Next()
		if err != nil {
			return nil, err
		}
		return func(tx store.Store) error {
			return imp.applyLocationRow(ctx, tx, row, &tally)
		}, nil
	}
	err = imp.run(ctx, next, &tally)

	imp.log.Info("location import finished",
		"rowsRead", tally.RowsRead,
		"inserted", tally.RecordsInserted,
		"updated", tally.RecordsUpdated,
		"identifiers", tally.IdentifiersInserted,
		"skipped", tally.Skipped,
		"duration", time.Since(start),
	)
	return tally, err
}

func (imp *Importer) applyLocationRow(ctx context.Context, tx store.Store, row ingest.LocationRow, tally *refdata.Tally) error {
	country := refdata.NormalizeCode(row.Country)
	code := refdata.NormalizeCode(row.Location)
	if country == "" || code == "" {
		tally.Skipped++
		return nil
	}

	now := time.Now().UTC()
	locs := tx.Locations()

	for attempt := 0; ; attempt++ {
		existing, err := locs.GetByLocode(ctx, country, code)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}

		if existing != nil {
			applyLocationFields(existing, row)
			existing.UpdatedAt = now
			if err := locs.Update(ctx, existing); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					if attempt == 0 {
						continue
					}
					tally.Skipped++
					return nil
				}
				return err
			}
			tally.RecordsUpdated++
			tally.IdentifiersInserted += imp.attachAbsentLocationSchemes(ctx, locs, existing, locationIdentifiers(country+code, row))
			return nil
		}

		loc := &refdata.Location{
			ID:           uuid.New(),
			Country:      country,
			LocationCode: code,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		applyLocationFields(loc, row)
		loc.Identifiers = locationIdentifiers(loc.Locode(), row)

		err = locs.Insert(ctx, loc)
		switch {
		case err == nil:
			tally.RecordsInserted++
			tally.IdentifiersInserted += len(loc.Identifiers)
			return nil
		case errors.Is(err, store.ErrDuplicateKey):
			if attempt == 0 {
				continue
			}
			tally.Skipped++
			return nil
		case errors.Is(err, store.ErrDuplicateIdentifier):
			tally.Skipped++
			return nil
		default:
			return err
		}
	}
}

func (imp *Importer) attachAbsentLocationSchemes(ctx context.Context, locs store.LocationStore, loc *refdata.Location, candidates []refdata.Identifier) int {
	var inserted int
	for _, ident := range candidates {
		if loc.HasScheme(ident.Scheme) {
			continue
		}
		_, created, err := locs.AddIdentifier(ctx, loc.ID, ident)
		if errors.Is(err, store.ErrDuplicateIdentifier) {
			imp.log.Warn("identifier owned by another record",
				"scheme", string(ident.Scheme), "code", ident.Code)
			continue
		}
		if err != nil {
			imp.log.Error("attach identifier failed",
				"scheme", string(ident.Scheme), "code", ident.Code, "error", err)
			continue
		}
		if created {
			loc.Identifiers = append(loc.Identifiers, ident)
			inserted++
		}
	}
	return inserted
}

// applyLocationFields maps every row field unconditionally (last-write-wins).
// A missing folded name is derived from the display name so text search stays
// diacritic-insensitive.
func applyLocationFields(loc *refdata.Location, row ingest.LocationRow) {
	loc.Name = row.Name
	loc.NameWoDiacritics = row.NameWoDiacritics
	if loc.NameWoDiacritics == "" && row.Name != "" {
		loc.NameWoDiacritics = refdata.FoldDiacritics(row.Name)
	}
	loc.Subdivision = row.SubDiv
	loc.Function = row.Function
	loc.Status = row.Status
	loc.Date = row.Date
	loc.Coordinates = row.Coordinates
	loc.IsActive = true
}

func locationIdentifiers(locode string, row ingest.LocationRow) []refdata.Identifier {
	idents := []refdata.Identifier{refdata.NewIdentifier(refdata.SchemeUNLOCODE, locode, "")}
	if iata := strings.TrimSpace(row.IATA); iata != "" {
		idents = append(idents, refdata.NewIdentifier(refdata.SchemeIATA, iata, ""))
	}
	return idents
}
