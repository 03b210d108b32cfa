package importer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freightdesk/refdata/internal/refdata"
	"github.com/freightdesk/refdata/internal/store"
)

func newTestImporter(st store.Store, batchSize int) *Importer {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(st, log, batchSize)
}

const goodsHeader = "UNNumber,ProperShippingName,TechnicalName,Class,PackingGroup,Labels,SpecialProvisions,LimitedQuantity,ExceptedQuantity,Notes\n"

func TestImportDangerousGoodsInsertThenMerge(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	imp := newTestImporter(mem, 0)

	csv1 := goodsHeader + "UN1234,Flammable Liquid,,3,II,,,,,\n"
	tally, err := imp.ImportDangerousGoods(ctx, refdata.SchemeUN, strings.NewReader(csv1))
	require.NoError(t, err)
	assert.Equal(t, refdata.Tally{RowsRead: 1, RecordsInserted: 1, IdentifiersInserted: 1}, tally)

	csv2 := goodsHeader + "UN1234,Flammable Liquid n.o.s.,,3,II,,,,,\n"
	tally, err = imp.ImportDangerousGoods(ctx, refdata.SchemeUN, strings.NewReader(csv2))
	require.NoError(t, err)
	assert.Equal(t, refdata.Tally{RowsRead: 1, RecordsUpdated: 1}, tally)

	got, err := mem.DangerousGoods().GetByUNNumber(ctx, "UN1234")
	require.NoError(t, err)
	assert.Equal(t, "Flammable Liquid n.o.s.", got.ProperShippingName)
	assert.Equal(t, refdata.Class3, got.Class)
	assert.Equal(t, refdata.PackingGroupII, got.PackingGroup)
	require.Len(t, got.Identifiers, 1)
	assert.Equal(t, refdata.SchemeUN, got.Identifiers[0].Scheme)
	assert.Equal(t, "UN1234", got.Identifiers[0].Code)
}

func TestImportDangerousGoodsIdempotent(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	imp := newTestImporter(mem, 0)

	csv := goodsHeader +
		"UN1090,ACETONE,,3,II,,,,,\n" +
		"UN1203,GASOLINE,,3,II,,,,,\n" +
		"UN1789,HYDROCHLORIC ACID,,8,III,,,,,\n"

	tally, err := imp.ImportDangerousGoods(ctx, refdata.SchemeUN, strings.NewReader(csv))
	require.NoError(t, err)
	assert.Equal(t, refdata.Tally{RowsRead: 3, RecordsInserted: 3, IdentifiersInserted: 3}, tally)

	tally, err = imp.ImportDangerousGoods(ctx, refdata.SchemeUN, strings.NewReader(csv))
	require.NoError(t, err)
	assert.Equal(t, refdata.Tally{RowsRead: 3, RecordsUpdated: 3}, tally)

	n, err := mem.DangerousGoods().Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	n, err = mem.DangerousGoods().CountIdentifiers(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

func TestImportDangerousGoodsMalformedRow(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	imp := newTestImporter(mem, 0)

	csv := goodsHeader +
		"UN1090,ACETONE,,3,II,,,,,\n" +
		",NO NUMBER,,3,II,,,,,\n" +
		"UN1789,HYDROCHLORIC ACID,,8,III,,,,,\n"

	tally, err := imp.ImportDangerousGoods(ctx, refdata.SchemeUN, strings.NewReader(csv))
	require.NoError(t, err)
	assert.Equal(t, 3, tally.RowsRead)
	assert.Equal(t, 2, tally.RecordsInserted)
	assert.Equal(t, 0, tally.RecordsUpdated)
	assert.Equal(t, 1, tally.Skipped)
}

func TestImportDangerousGoodsMultiScheme(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	imp := newTestImporter(mem, 0)

	csv1 := goodsHeader + "UN1234,Flammable Liquid,,3,II,,,,,\n"
	_, err := imp.ImportDangerousGoods(ctx, refdata.SchemeUN, strings.NewReader(csv1))
	require.NoError(t, err)

	csv2 := "UNNumber,ProperShippingName,Class,PackingGroup,Code,AdditionalInfo\n" +
		"UN1234,Flammable Liquid,3,II,IATA-9,cargo only\n"
	tally, err := imp.ImportDangerousGoods(ctx, refdata.SchemeIATA, strings.NewReader(csv2))
	require.NoError(t, err)
	assert.Equal(t, 1, tally.RecordsUpdated)
	assert.Equal(t, 1, tally.IdentifiersInserted)

	got, err := mem.DangerousGoods().GetByUNNumber(ctx, "UN1234")
	require.NoError(t, err)
	require.Len(t, got.Identifiers, 2)
	schemes := map[refdata.IdentifierScheme]string{}
	for _, ident := range got.Identifiers {
		schemes[ident.Scheme] = ident.Code
	}
	assert.Equal(t, "UN1234", schemes[refdata.SchemeUN])
	assert.Equal(t, "IATA-9", schemes[refdata.SchemeIATA])

	// Re-running the scheme list changes nothing: the IATA scheme is present.
	tally, err = imp.ImportDangerousGoods(ctx, refdata.SchemeIATA, strings.NewReader(csv2))
	require.NoError(t, err)
	assert.Equal(t, 0, tally.IdentifiersInserted)
	assert.Equal(t, 1, tally.RecordsUpdated)
}

func TestImportDangerousGoodsFirstWriteWinsMetadata(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	imp := newTestImporter(mem, 0)

	header := "UNNumber,ProperShippingName,Class,PackingGroup,Code,AdditionalInfo\n"
	_, err := imp.ImportDangerousGoods(ctx, refdata.SchemeIATA,
		strings.NewReader(header+"UN1234,Thing,3,II,IATA-9,first\n"))
	require.NoError(t, err)

	_, err = imp.ImportDangerousGoods(ctx, refdata.SchemeIATA,
		strings.NewReader(header+"UN1234,Thing,3,II,IATA-9,second\n"))
	require.NoError(t, err)

	got, err := mem.DangerousGoods().GetByUNNumber(ctx, "UN1234")
	require.NoError(t, err)
	for _, ident := range got.Identifiers {
		if ident.Scheme == refdata.SchemeIATA {
			assert.Contains(t, ident.ExtraJSON, "first")
		}
	}
}

func TestImportDangerousGoodsEnumFallback(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	imp := newTestImporter(mem, 0)

	csv := goodsHeader + "UN2000,MYSTERY GOODS,,Class10,IV,,,,,\n"
	tally, err := imp.ImportDangerousGoods(ctx, refdata.SchemeUN, strings.NewReader(csv))
	require.NoError(t, err)
	assert.Equal(t, 1, tally.RecordsInserted)

	got, err := mem.DangerousGoods().GetByUNNumber(ctx, "UN2000")
	require.NoError(t, err)
	assert.Equal(t, refdata.Class9, got.Class)
	assert.Equal(t, refdata.PackingGroupIII, got.PackingGroup)
}

func TestImportDangerousGoodsSparseReimportBlanksFields(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	imp := newTestImporter(mem, 0)

	_, err := imp.ImportDangerousGoods(ctx, refdata.SchemeUN,
		strings.NewReader(goodsHeader+"UN1234,Flammable Liquid,tech,3,II,lbl,sp,lq,eq,note\n"))
	require.NoError(t, err)

	// Sparser file: the optional columns go blank, by contract.
	_, err = imp.ImportDangerousGoods(ctx, refdata.SchemeUN,
		strings.NewReader("UNNumber,ProperShippingName,Class,PackingGroup\nUN1234,Flammable Liquid,3,II\n"))
	require.NoError(t, err)

	got, err := mem.DangerousGoods().GetByUNNumber(ctx, "UN1234")
	require.NoError(t, err)
	assert.Empty(t, got.TechnicalName)
	assert.Empty(t, got.Notes)
}

func TestImportDangerousGoodsRejectsLocationScheme(t *testing.T) {
	imp := newTestImporter(store.NewMemory(), 0)
	_, err := imp.ImportDangerousGoods(context.Background(), refdata.SchemeUNLOCODE, strings.NewReader(goodsHeader))
	assert.Error(t, err)
}

func TestImportDangerousGoodsBatchBoundaries(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	imp := newTestImporter(mem, 2)

	var sb strings.Builder
	sb.WriteString(goodsHeader)
	for i := 0; i < 5; i++ {
		fmt.Fprintf(&sb, "UN%04d,SUBSTANCE %d,,9,III,,,,,\n", 3000+i, i)
	}
	tally, err := imp.ImportDangerousGoods(ctx, refdata.SchemeUN, strings.NewReader(sb.String()))
	require.NoError(t, err)
	assert.Equal(t, 5, tally.RecordsInserted)

	n, err := mem.DangerousGoods().Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 5, n)
}

func TestImportDangerousGoodsCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	imp := newTestImporter(store.NewMemory(), 0)
	_, err := imp.ImportDangerousGoods(ctx, refdata.SchemeUN,
		strings.NewReader(goodsHeader+"UN1234,Thing,3,II,,,,,,\n"))
	assert.ErrorIs(t, err, context.Canceled)
}

const locHeader = "Country,Location,Name,NameWoDiacritics,SubDiv,Function,Status,Date,IATA,Coordinates\n"

func TestImportLocations(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	imp := newTestImporter(mem, 0)

	csv := locHeader +
		"SE,GOT,Göteborg,,O,12345---,AI,0701,GOT,5742N 01157E\n" +
		"US,NYC,New York,New York,NY,12345---,AI,0401,,4042N 07400W\n"

	tally, err := imp.ImportLocations(ctx, strings.NewReader(csv))
	require.NoError(t, err)
	// Göteborg also carries an IATA code, so three identifiers in total.
	assert.Equal(t, refdata.Tally{RowsRead: 2, RecordsInserted: 2, IdentifiersInserted: 3}, tally)

	got, err := mem.Locations().GetByLocode(ctx, "SE", "GOT")
	require.NoError(t, err)
	assert.Equal(t, "Göteborg", got.Name)
	assert.Equal(t, "Goteborg", got.NameWoDiacritics) // derived by folding
	require.Len(t, got.Identifiers, 2)

	schemes := map[refdata.IdentifierScheme]string{}
	for _, ident := range got.Identifiers {
		schemes[ident.Scheme] = ident.Code
	}
	assert.Equal(t, "SEGOT", schemes[refdata.SchemeUNLOCODE])
	assert.Equal(t, "GOT", schemes[refdata.SchemeIATA])

	// Second run is a pure update.
	tally, err = imp.ImportLocations(ctx, strings.NewReader(csv))
	require.NoError(t, err)
	assert.Equal(t, refdata.Tally{RowsRead: 2, RecordsUpdated: 2}, tally)
}

func TestImportLocationsMalformedRows(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	imp := newTestImporter(mem, 0)

	csv := locHeader +
		",GOT,No Country,,,,,,,\n" +
		"SE,,No Code,,,,,,,\n" +
		"NL,AMS,Amsterdam,,,,,,,\n"

	tally, err := imp.ImportLocations(ctx, strings.NewReader(csv))
	require.NoError(t, err)
	assert.Equal(t, 3, tally.RowsRead)
	assert.Equal(t, 1, tally.RecordsInserted)
	assert.Equal(t, 2, tally.Skipped)
}

// staleLookupStore delegates to an inner store but lets the first natural-key
// lookups miss, reproducing a concurrent run that inserts the same key
// between lookup and insert.
type staleLookupStore struct {
	store.Store
	goodsMisses *int
	locMisses   *int
}

func (s *staleLookupStore) DangerousGoods() store.DangerousGoodsStore {
	return &staleLookupGoods{DangerousGoodsStore: s.Store.DangerousGoods(), misses: s.goodsMisses}
}

func (s *staleLookupStore) Locations() store.LocationStore {
	return &staleLookupLocations{LocationStore: s.Store.Locations(), misses: s.locMisses}
}

func (s *staleLookupStore) WithTx(ctx context.Context, fn func(store.Store) error) error {
	return s.Store.WithTx(ctx, func(tx store.Store) error {
		return fn(&staleLookupStore{Store: tx, goodsMisses: s.goodsMisses, locMisses: s.locMisses})
	})
}

type staleLookupGoods struct {
	store.DangerousGoodsStore
	misses *int
}

func (g *staleLookupGoods) GetByUNNumber(ctx context.Context, unNumber string) (*refdata.DangerousGood, error) {
	if *g.misses > 0 {
		*g.misses--
		return nil, store.ErrNotFound
	}
	return g.DangerousGoodsStore.GetByUNNumber(ctx, unNumber)
}

type staleLookupLocations struct {
	store.LocationStore
	misses *int
}

func (l *staleLookupLocations) GetByLocode(ctx context.Context, country, locationCode string) (*refdata.Location, error) {
	if *l.misses > 0 {
		*l.misses--
		return nil, store.ErrNotFound
	}
	return l.LocationStore.GetByLocode(ctx, country, locationCode)
}

func newStaleLookupStore(inner store.Store, goodsMisses, locMisses int) *staleLookupStore {
	return &staleLookupStore{Store: inner, goodsMisses: &goodsMisses, locMisses: &locMisses}
}

func TestImportDangerousGoodsInsertConflictRetriesAsUpdate(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	_, err := newTestImporter(mem, 0).ImportDangerousGoods(ctx, refdata.SchemeUN,
		strings.NewReader(goodsHeader+"UN1234,Flammable Liquid,,3,II,,,,,\n"))
	require.NoError(t, err)

	// The lookup misses although UN1234 exists, so the insert hits the
	// duplicate key and the row must flip to the update path.
	racy := newStaleLookupStore(mem, 1, 0)
	tally, err := newTestImporter(racy, 0).ImportDangerousGoods(ctx, refdata.SchemeUN,
		strings.NewReader(goodsHeader+"UN1234,Flammable Liquid n.o.s.,,3,II,,,,,\n"))
	require.NoError(t, err)
	assert.Equal(t, refdata.Tally{RowsRead: 1, RecordsUpdated: 1}, tally)

	got, err := mem.DangerousGoods().GetByUNNumber(ctx, "UN1234")
	require.NoError(t, err)
	assert.Equal(t, "Flammable Liquid n.o.s.", got.ProperShippingName)
	assert.Len(t, got.Identifiers, 1)
}

func TestImportLocationsInsertConflictRetriesAsUpdate(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	_, err := newTestImporter(mem, 0).ImportLocations(ctx,
		strings.NewReader(locHeader+"US,NYC,New York,,,,,,,\n"))
	require.NoError(t, err)

	racy := newStaleLookupStore(mem, 0, 1)
	tally, err := newTestImporter(racy, 0).ImportLocations(ctx,
		strings.NewReader(locHeader+"US,NYC,New York City,,,,,,,\n"))
	require.NoError(t, err)
	assert.Equal(t, refdata.Tally{RowsRead: 1, RecordsUpdated: 1}, tally)

	got, err := mem.Locations().GetByLocode(ctx, "US", "NYC")
	require.NoError(t, err)
	assert.Equal(t, "New York City", got.Name)
}

// guardedTxStore refuses to start a transaction on a dead context, the way a
// database connection would.
type guardedTxStore struct {
	store.Store
}

func (s *guardedTxStore) WithTx(ctx context.Context, fn func(store.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Store.WithTx(ctx, fn)
}

// cancelingReader serves one chunk per Read and fires cancel just before the
// chunk at cancelAt, so rows already buffered sit uncommitted when the run
// notices the cancellation.
type cancelingReader struct {
	chunks   []string
	cancel   context.CancelFunc
	cancelAt int
	i        int
	rest     string
}

func (r *cancelingReader) Read(p []byte) (int, error) {
	if r.rest == "" {
		if r.i == r.cancelAt {
			r.cancel()
		}
		if r.i >= len(r.chunks) {
			return 0, io.EOF
		}
		r.rest = r.chunks[r.i]
		r.i++
	}
	n := copy(p, r.rest)
	r.rest = r.rest[n:]
	return n, nil
}

func TestImportDangerousGoodsCancelCommitsBufferedRows(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mem := store.NewMemory()
	imp := newTestImporter(&guardedTxStore{Store: mem}, 0)

	src := &cancelingReader{
		chunks: []string{
			goodsHeader,
			"UN1090,ACETONE,,3,II,,,,,\n",
			"UN1203,GASOLINE,,3,II,,,,,\n",
			"UN1789,HYDROCHLORIC ACID,,8,III,,,,,\n",
		},
		cancel:   cancel,
		cancelAt: 3,
	}
	tally, err := imp.ImportDangerousGoods(ctx, refdata.SchemeUN, src)
	assert.ErrorIs(t, err, context.Canceled)

	// Rows pulled before the cancellation are flushed and stay committed.
	assert.Equal(t, 3, tally.RecordsInserted)
	n, err := mem.DangerousGoods().Count(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}
