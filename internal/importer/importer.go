// Package importer runs batch CSV imports against the canonical store.
//
// Each run processes its rows strictly sequentially and commits them in
// bounded transactions, so rows committed before a later fault stay
// persisted. Per-row failures never abort a run: malformed rows are counted
// as skipped and the stream moves on. Only stream-level or storage-level
// faults fail the whole run.
package importer

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/freightdesk/refdata/internal/ingest"
	"github.com/freightdesk/refdata/internal/refdata"
	"github.com/freightdesk/refdata/internal/store"
)

// DefaultBatchSize bounds one transaction to keep memory and lock footprint
// flat on large files.
const DefaultBatchSize = 1000

// Importer executes import runs. Safe for concurrent use; conflicting writes
// from parallel runs are resolved through the store's uniqueness errors, not
// through application-level locking.
type Importer struct {
	store     store.Store
	log       *slog.Logger
	batchSize int
}

func New(st store.Store, log *slog.Logger, batchSize int) *Importer {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Importer{store: st, log: log, batchSize: batchSize}
}

// rowFunc applies one parsed row inside the current batch transaction.
type rowFunc func(tx store.Store) error

// run drives the batch loop: pull a row, buffer it, flush a transaction at
// the batch boundary, final partial flush at EOF. Cancellation is checked
// between rows; batches committed before cancellation stay committed.
func (imp *Importer) run(ctx context.Context, next func() (rowFunc, error), tally *refdata.Tally) error {
	pending := make([]rowFunc, 0, imp.batchSize)

	flush := func(ctx context.Context) error {
		if len(pending) == 0 {
			return nil
		}
		err := imp.store.WithTx(ctx, func(tx store.Store) error {
			for _, fn := range pending {
				if err := imp.applyRow(fn, tx, tally); err != nil {
					return err
				}
			}
			return nil
		})
		pending = pending[:0]
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			// Flush what is buffered so cancellation loses at most the
			// current row. The flush runs on a detached context: the
			// canceled one could no longer begin a transaction.
			if ferr := flush(context.WithoutCancel(ctx)); ferr != nil {
				return ferr
			}
			return err
		}

		fn, err := next()
		if err == io.EOF {
			break
		}
		if errors.Is(err, ingest.ErrBadRow) {
			tally.RowsRead++
			tally.Skipped++
			continue
		}
		if err != nil {
			return err
		}

		tally.RowsRead++
		pending = append(pending, fn)
		if len(pending) >= imp.batchSize {
			if err := flush(ctx); err != nil {
				return err
			}
		}
	}
	return flush(ctx)
}

// applyRow shields the batch from a panicking row: the row counts as skipped
// and the transaction keeps going.
func (imp *Importer) applyRow(fn rowFunc, tx store.Store, tally *refdata.Tally) (err error) {
	defer func() {
		if r := recover(); r != nil {
			tally.Skipped++
			imp.log.Error("row processing panicked", "panic", r)
			err = nil
		}
	}()
	return fn(tx)
}
