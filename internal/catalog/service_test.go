package catalog

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freightdesk/refdata/internal/metrics"
	"github.com/freightdesk/refdata/internal/refdata"
	"github.com/freightdesk/refdata/internal/store"
)

func newTestService(st store.Store) *Service {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New(prometheus.NewRegistry())
	return New(st, m, log, Options{})
}

const goodsCSV = "UNNumber,ProperShippingName,Class,PackingGroup\n" +
	"UN1203,GASOLINE,3,II\n"

func TestServiceImportDangerousGoods(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	svc := newTestService(mem)

	tally, err := svc.ImportDangerousGoods(ctx, "un", strings.NewReader(goodsCSV))
	require.NoError(t, err)
	assert.Equal(t, 1, tally.RecordsInserted)
	assert.Equal(t, 1, tally.IdentifiersInserted)
}

func TestServiceImportUnknownScheme(t *testing.T) {
	svc := newTestService(store.NewMemory())

	_, err := svc.ImportDangerousGoods(context.Background(), "BOGUS", strings.NewReader(goodsCSV))
	assert.ErrorIs(t, err, ErrUnknownScheme)

	// A location-only scheme is equally invalid for dangerous goods.
	_, err = svc.ImportDangerousGoods(context.Background(), "UNLOCODE", strings.NewReader(goodsCSV))
	assert.ErrorIs(t, err, ErrUnknownScheme)
}

func TestServiceImportLocations(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(store.NewMemory())

	csv := "Country,Location,Name\nUS,NYC,New York\n"
	tally, err := svc.ImportLocations(ctx, strings.NewReader(csv))
	require.NoError(t, err)
	assert.Equal(t, 1, tally.RecordsInserted)
}

func TestServiceSearchDangerousGoods(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	svc := newTestService(mem)

	_, err := svc.ImportDangerousGoods(ctx, "UN", strings.NewReader(goodsCSV))
	require.NoError(t, err)

	page, err := svc.SearchDangerousGoods(ctx, store.DangerousGoodsQuery{Text: "gasoline"})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "UN1203", page.Items[0].UNNumber)

	_, err = svc.SearchDangerousGoods(ctx, store.DangerousGoodsQuery{Scheme: refdata.SchemeUNLOCODE})
	assert.ErrorIs(t, err, ErrUnknownScheme)
}

func TestServiceIdentifierMutations(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	svc := newTestService(mem)

	_, err := svc.ImportDangerousGoods(ctx, "UN", strings.NewReader(goodsCSV))
	require.NoError(t, err)
	rec, err := mem.DangerousGoods().GetByUNNumber(ctx, "UN1203")
	require.NoError(t, err)

	ident, created, err := svc.AddDangerousGoodsIdentifier(ctx, rec.ID, "iata", "iata-3", "")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, refdata.SchemeIATA, ident.Scheme)
	assert.Equal(t, "IATA-3", ident.Code)

	// Re-adding the same pair succeeds without duplication and hands back
	// the identifier already on the record, not a fresh one.
	again, created, err := svc.AddDangerousGoodsIdentifier(ctx, rec.ID, "IATA", "IATA-3", "")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, ident.ID, again.ID)
	n, err := mem.DangerousGoods().CountIdentifiers(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	_, _, err = svc.AddDangerousGoodsIdentifier(ctx, rec.ID, "IATA", "  ", "")
	assert.ErrorIs(t, err, ErrInvalidCode)

	_, _, err = svc.AddDangerousGoodsIdentifier(ctx, rec.ID, "UNLOCODE", "X", "")
	assert.ErrorIs(t, err, ErrUnknownScheme)

	require.NoError(t, svc.RemoveDangerousGoodsIdentifier(ctx, rec.ID, ident.ID))
	err = svc.RemoveDangerousGoodsIdentifier(ctx, rec.ID, ident.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestServiceStats(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(store.NewMemory())

	_, err := svc.ImportDangerousGoods(ctx, "UN", strings.NewReader(goodsCSV))
	require.NoError(t, err)
	_, err = svc.ImportLocations(ctx, strings.NewReader("Country,Location,Name,IATA\nSE,GOT,Göteborg,GOT\n"))
	require.NoError(t, err)

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.DangerousGoods)
	assert.EqualValues(t, 1, stats.DangerousGoodsIdentifiers)
	assert.EqualValues(t, 1, stats.Locations)
	assert.EqualValues(t, 2, stats.LocationIdentifiers)
	assert.Equal(t, 0, stats.Imports.Active)
}
