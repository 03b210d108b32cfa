// Package catalog is the application service over the canonical store: it
// runs imports under a concurrency limit, serves paginated searches, and
// applies identifier mutations.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/freightdesk/refdata/internal/importer"
	"github.com/freightdesk/refdata/internal/metrics"
	"github.com/freightdesk/refdata/internal/refdata"
	"github.com/freightdesk/refdata/internal/store"
)

// ErrUnknownScheme reports a scheme token that names no known coding system,
// or one that is not valid for the addressed dataset.
var ErrUnknownScheme = errors.New("unknown identifier scheme")

// ErrInvalidCode reports an empty identifier code.
var ErrInvalidCode = errors.New("identifier code must not be empty")

// Options tunes one Service instance.
type Options struct {
	BatchSize     int
	MaxConcurrent int
	MaxWaitTime   time.Duration
	ImportTimeout time.Duration
}

// Service wires the importer, limiter and store behind one API surface.
type Service struct {
	store    store.Store
	importer *importer.Importer
	limiter  *ImportLimiter
	metrics  *metrics.Metrics
	log      *slog.Logger
	timeout  time.Duration
}

func New(st store.Store, m *metrics.Metrics, log *slog.Logger, opts Options) *Service {
	timeout := opts.ImportTimeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Service{
		store:    st,
		importer: importer.New(st, log, opts.BatchSize),
		limiter:  NewImportLimiter(opts.MaxConcurrent, opts.MaxWaitTime),
		metrics:  m,
		log:      log,
		timeout:  timeout,
	}
}

// Limiter exposes the import limiter, primarily for shutdown draining.
func (s *Service) Limiter() *ImportLimiter { return s.limiter }

// ImportDangerousGoods runs one dangerous-goods import under the declared
// scheme token. The returned tally describes the run even when rows were
// skipped; an error means the run itself could not execute or complete.
func (s *Service) ImportDangerousGoods(ctx context.Context, schemeToken string, r io.Reader) (refdata.Tally, error) {
	var tally refdata.Tally
	scheme, ok := refdata.ParseScheme(schemeToken)
	if !ok || !refdata.ValidGoodsScheme(scheme) {
		return tally, fmt.Errorf("%w: %q", ErrUnknownScheme, schemeToken)
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return tally, err
	}
	defer s.limiter.Release()

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	s.metrics.ImportsInFlight.Inc()
	defer s.metrics.ImportsInFlight.Dec()

	start := time.Now()
	tally, err := s.importer.ImportDangerousGoods(runCtx, scheme, r)
	s.metrics.ObserveImport("dangerous_goods",
		int64(tally.RecordsInserted), int64(tally.RecordsUpdated),
		int64(tally.IdentifiersInserted), int64(tally.Skipped),
		time.Since(start).Seconds(), err)
	return tally, err
}

// ImportLocations runs one UN/LOCODE import.
func (s *Service) ImportLocations(ctx context.Context, r io.Reader) (refdata.Tally, error) {
	var tally refdata.Tally
	if err := s.limiter.Acquire(ctx); err != nil {
		return tally, err
	}
	defer s.limiter.Release()

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	s.metrics.ImportsInFlight.Inc()
	defer s.metrics.ImportsInFlight.Dec()

	start := time.Now()
	tally, err := s.importer.ImportLocations(runCtx, r)
	s.metrics.ObserveImport("locations",
		int64(tally.RecordsInserted), int64(tally.RecordsUpdated),
		int64(tally.IdentifiersInserted), int64(tally.Skipped),
		time.Since(start).Seconds(), err)
	return tally, err
}

// SearchDangerousGoods returns the clamped page matching the query.
func (s *Service) SearchDangerousGoods(ctx context.Context, q store.DangerousGoodsQuery) (refdata.Page[refdata.DangerousGood], error) {
	s.metrics.SearchRequests.WithLabelValues("dangerous_goods").Inc()
	if q.Scheme != "" && !refdata.ValidGoodsScheme(q.Scheme) {
		return refdata.Page[refdata.DangerousGood]{}, fmt.Errorf("%w: %q", ErrUnknownScheme, q.Scheme)
	}
	return s.store.DangerousGoods().Search(ctx, q)
}

// SearchLocations returns the clamped page matching the query.
func (s *Service) SearchLocations(ctx context.Context, q store.LocationQuery) (refdata.Page[refdata.Location], error) {
	s.metrics.SearchRequests.WithLabelValues("locations").Inc()
	if q.Scheme != "" && !refdata.ValidLocationScheme(q.Scheme) {
		return refdata.Page[refdata.Location]{}, fmt.Errorf("%w: %q", ErrUnknownScheme, q.Scheme)
	}
	return s.store.Locations().Search(ctx, q)
}

// AddDangerousGoodsIdentifier attaches a (scheme, code) pair to a record.
// Adding a pair the record already carries succeeds without duplication: the
// stored identifier is returned with created=false.
func (s *Service) AddDangerousGoodsIdentifier(ctx context.Context, recordID uuid.UUID, schemeToken, code, extraJSON string) (refdata.Identifier, bool, error) {
	scheme, ok := refdata.ParseScheme(schemeToken)
	if !ok || !refdata.ValidGoodsScheme(scheme) {
		return refdata.Identifier{}, false, fmt.Errorf("%w: %q", ErrUnknownScheme, schemeToken)
	}
	if refdata.NormalizeCode(code) == "" {
		return refdata.Identifier{}, false, ErrInvalidCode
	}
	ident := refdata.NewIdentifier(scheme, code, extraJSON)
	return s.store.DangerousGoods().AddIdentifier(ctx, recordID, ident)
}

// RemoveDangerousGoodsIdentifier detaches one identifier by ID, scoped to its
// owning record.
func (s *Service) RemoveDangerousGoodsIdentifier(ctx context.Context, recordID, identifierID uuid.UUID) error {
	return s.store.DangerousGoods().RemoveIdentifier(ctx, recordID, identifierID)
}

// AddLocationIdentifier attaches a (scheme, code) pair to a location record.
func (s *Service) AddLocationIdentifier(ctx context.Context, recordID uuid.UUID, schemeToken, code, extraJSON string) (refdata.Identifier, bool, error) {
	scheme, ok := refdata.ParseScheme(schemeToken)
	if !ok || !refdata.ValidLocationScheme(scheme) {
		return refdata.Identifier{}, false, fmt.Errorf("%w: %q", ErrUnknownScheme, schemeToken)
	}
	if refdata.NormalizeCode(code) == "" {
		return refdata.Identifier{}, false, ErrInvalidCode
	}
	ident := refdata.NewIdentifier(scheme, code, extraJSON)
	return s.store.Locations().AddIdentifier(ctx, recordID, ident)
}

// RemoveLocationIdentifier detaches one identifier by ID, scoped to its
// owning record.
func (s *Service) RemoveLocationIdentifier(ctx context.Context, recordID, identifierID uuid.UUID) error {
	return s.store.Locations().RemoveIdentifier(ctx, recordID, identifierID)
}

// Stats summarizes the datasets and the current import activity.
type Stats struct {
	DangerousGoods            int64         `json:"dangerousGoods"`
	DangerousGoodsIdentifiers int64         `json:"dangerousGoodsIdentifiers"`
	Locations                 int64         `json:"locations"`
	LocationIdentifiers       int64         `json:"locationIdentifiers"`
	Imports                   LimiterStatus `json:"imports"`
}

func (s *Service) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	var err error
	if st.DangerousGoods, err = s.store.DangerousGoods().Count(ctx); err != nil {
		return st, err
	}
	if st.DangerousGoodsIdentifiers, err = s.store.DangerousGoods().CountIdentifiers(ctx); err != nil {
		return st, err
	}
	if st.Locations, err = s.store.Locations().Count(ctx); err != nil {
		return st, err
	}
	if st.LocationIdentifiers, err = s.store.Locations().CountIdentifiers(ctx); err != nil {
		return st, err
	}
	st.Imports = s.limiter.Status()
	return st, nil
}
