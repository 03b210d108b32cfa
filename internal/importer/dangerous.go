package importer

import (
	"context"
	"encoding/json"
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

// ImportDangerousGoods ingests one dangerous-goods CSV under the declared
// scheme. SchemeUN is the plain UN-number list; any other goods scheme is the
// generic code-list importer, which attaches both the universal UN identifier
// and the scheme identifier to new records.
func (imp *Importer) ImportDangerousGoods(ctx context.Context, scheme refdata.IdentifierScheme, r io.Reader) (refdata.Tally, error) {
	var tally refdata.Tally
	if !refdata.ValidGoodsScheme(scheme) {
		return tally, fmt.Errorf("scheme %q not valid for dangerous goods", scheme)
	}

	dr, err := ingest.NewDangerousGoodsReader(r)
	if err != nil {
		return tally, fmt.Errorf("open dangerous-goods csv: %w", err)
	}

	start := time.Now()
	next := func() (rowFunc, error) {
		row, err := dr.Next()
		if err != nil {
			return nil, err
		}
		return func(tx store.Store) error {
			return imp.applyDangerousGoodsRow(ctx, tx, scheme, row, &tally)
		}, nil
	}
	err = imp.run(ctx, next, &tally)

	imp.log.Info("dangerous-goods import finished",
		"scheme", string(scheme),
		"rowsRead", tally.RowsRead,
		"inserted", tally.RecordsInserted,
		"updated", tally.RecordsUpdated,
		"identifiers", tally.IdentifiersInserted,
		"skipped", tally.Skipped,
		"duration", time.Since(start),
	)
	return tally, err
}

func (imp *Importer) applyDangerousGoodsRow(ctx context.Context, tx store.Store, scheme refdata.IdentifierScheme, row ingest.DangerousGoodsRow, tally *refdata.Tally) error {
	un := refdata.NormalizeCode(row.UNNumber)
	if un == "" {
		tally.Skipped++
		return nil
	}

	now := time.Now().UTC()
	goods := tx.DangerousGoods()

	for attempt := 0; ; attempt++ {
		existing, err := goods.GetByUNNumber(ctx, un)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}

		if existing != nil {
			applyDangerousGoodsFields(existing, row)
			existing.UpdatedAt = now
			if err := goods.Update(ctx, existing); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					if attempt == 0 {
						continue // deleted underneath us, take the insert path
					}
					tally.Skipped++
					return nil
				}
				return err
			}
			tally.RecordsUpdated++
			tally.IdentifiersInserted += imp.attachAbsentSchemes(ctx, goods, existing, goodsIdentifiers(un, scheme, row))
			return nil
		}

		dg := &refdata.DangerousGood{
			ID:        uuid.New(),
			UNNumber:  un,
			CreatedAt: now,
			UpdatedAt: now,
		}
		applyDangerousGoodsFields(dg, row)
		dg.Identifiers = goodsIdentifiers(un, scheme, row)

		err = goods.Insert(ctx, dg)
		switch {
		case err == nil:
			tally.RecordsInserted++
			tally.IdentifiersInserted += len(dg.Identifiers)
			return nil
		case errors.Is(err, store.ErrDuplicateKey):
			// A concurrent run inserted the same UN number between our
			// lookup and insert; retry as an update. A conflict on the
			// retry too counts the row as skipped, never aborts the batch.
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

// attachAbsentSchemes appends only identifiers whose scheme the record does
// not carry yet; metadata of existing identifiers is never refreshed. A
// (scheme, code) pair owned by another record is left alone.
func (imp *Importer) attachAbsentSchemes(ctx context.Context, goods store.DangerousGoodsStore, dg *refdata.DangerousGood, candidates []refdata.Identifier) int {
	var inserted int
	for _, ident := range candidates {
		if dg.HasScheme(ident.Scheme) {
			continue
		}
		_, created, err := goods.AddIdentifier(ctx, dg.ID, ident)
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
			dg.Identifiers = append(dg.Identifiers, ident)
			inserted++
		}
	}
	return inserted
}

// applyDangerousGoodsFields maps every row field onto the record
// unconditionally. Re-imports with sparser data blank out optional fields;
// that is the contracted last-write-wins behavior.
func applyDangerousGoodsFields(dg *refdata.DangerousGood, row ingest.DangerousGoodsRow) {
	dg.ProperShippingName = row.ProperShippingName
	dg.TechnicalName = row.TechnicalName
	dg.Class = refdata.ParseHazardClass(row.Class)
	dg.PackingGroup = refdata.ParsePackingGroup(row.PackingGroup)
	dg.Labels = row.Labels
	dg.SpecialProvisions = row.SpecialProvisions
	dg.LimitedQuantity = row.LimitedQuantity
	dg.ExceptedQuantity = row.ExceptedQuantity
	dg.Notes = row.Notes
	dg.IsActive = true
}

// goodsIdentifiers builds the identifiers an import under the given scheme
// declares for a UN number: always the universal UN identifier, plus the
// scheme identifier for non-UN code lists. The scheme code falls back to the
// UN number when the list carries no Code column.
func goodsIdentifiers(un string, scheme refdata.IdentifierScheme, row ingest.DangerousGoodsRow) []refdata.Identifier {
	idents := []refdata.Identifier{refdata.NewIdentifier(refdata.SchemeUN, un, "")}
	if scheme == refdata.SchemeUN {
		return idents
	}
	code := strings.TrimSpace(row.Code)
	if code == "" {
		code = un
	}
	return append(idents, refdata.NewIdentifier(scheme, code, schemeExtraJSON(row)))
}

// schemeExtraJSON captures the scheme-specific columns as the identifier's
// metadata blob. Written once when the scheme is first observed.
func schemeExtraJSON(row ingest.DangerousGoodsRow) string {
	extra := make(map[string]string, 2)
	if v := strings.TrimSpace(row.AdditionalInfo); v != "" {
		extra["additionalInfo"] = v
	}
	if v := strings.TrimSpace(row.RegulationSpecific); v != "" {
		extra["regulationSpecific"] = v
	}
	if len(extra) == 0 {
		return ""
	}
	b, err := json.Marshal(extra)
	if err != nil {
		return ""
	}
	return string(b)
}
