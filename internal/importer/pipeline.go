package importer

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ignite/catalog-import/internal/domain"
	"github.com/ignite/catalog-import/internal/pkg/logger"
)

// cancelCheckRows is the record cadence for cancellation checks, in
// addition to the check at every micro-batch boundary.
const cancelCheckRows = 1000

// Pipeline sequences one import: counting, cache preload, streaming,
// batching and completion, with cooperative cancellation checks at each
// phase boundary and on a record cadence.
type Pipeline struct {
	blobs    BlobStore
	store    CatalogStore
	jobs     JobStore
	sink     ProgressSink
	notifier Notifier

	// BatchSize fixes the micro-batch window; 0 sizes it adaptively from
	// the counted total.
	BatchSize int
}

// NewPipeline wires the import stages. sink and notifier may be nil.
func NewPipeline(blobs BlobStore, store CatalogStore, jobs JobStore, sink ProgressSink, notifier Notifier) *Pipeline {
	return &Pipeline{blobs: blobs, store: store, jobs: jobs, sink: sink, notifier: notifier}
}

// Run executes a full import for the job. Batches committed before a
// cancellation or failure stay committed. Schema failures and unexpected
// errors mark the job failed; per-record and per-batch errors never do.
func (p *Pipeline) Run(ctx context.Context, job domain.ImportJob) (err error) {
	t := NewTracker(p.jobs, p.sink, job)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("import pipeline panic: %v", r)
			t.Fail(ctx, err)
		}
	}()

	logger.Info("import started", "job_id", job.ID.String(), "file", job.FileName, "blob_key", job.BlobKey)

	// A cancel that arrived before the worker claimed the job must not be
	// clobbered by the first status write.
	if t.Cancelled(ctx) {
		return t.AckCancel(ctx)
	}
	if err := t.Begin(ctx); err != nil {
		return err
	}

	cache, err := LoadKeyCache(ctx, p.store)
	if err != nil {
		return p.fail(ctx, t, err)
	}
	logger.Info("key cache loaded", "job_id", job.ID.String(), "keys", cache.Len())
	if t.Cancelled(ctx) {
		return t.AckCancel(ctx)
	}

	// Cheap count pass on an independent stream so the total is known,
	// and persisted exactly once, before the main pass begins.
	rc, err := p.blobs.Open(ctx, job.BlobKey)
	if err != nil {
		return p.fail(ctx, t, &TransportError{Op: "open import file", Err: err})
	}
	total, err := CountRows(rc)
	if err != nil {
		return p.fail(ctx, t, err)
	}
	if err := t.SetTotal(ctx, total); err != nil {
		return err
	}
	if t.Cancelled(ctx) {
		return t.AckCancel(ctx)
	}

	rc, err = p.blobs.Open(ctx, job.BlobKey)
	if err != nil {
		return p.fail(ctx, t, &TransportError{Op: "open import file", Err: err})
	}
	reader, err := NewReader(rc)
	if err != nil {
		return p.fail(ctx, t, err)
	}
	defer reader.Close()

	if err := t.BeginProcessing(ctx); err != nil {
		return err
	}

	engine := NewEngine(p.store, cache, p.notifier)
	window := p.BatchSize
	if window <= 0 {
		window = batchWindow(total)
	}

	batch := make([]Record, 0, window)
	var rowErrs []domain.ImportError
	seen := 0

	flush := func() error {
		if len(batch) == 0 && len(rowErrs) == 0 {
			return nil
		}
		res := engine.Process(ctx, batch)
		if len(rowErrs) > 0 {
			res.Errors = append(rowErrs, res.Errors...)
			rowErrs = rowErrs[:0]
		}
		batch = batch[:0]
		return t.RecordBatch(ctx, res)
	}

	for {
		rec, err := reader.Next()
		if err == io.EOF {
			break
		}
		var rowErr *RowError
		if errors.As(err, &rowErr) {
			rowErrs = append(rowErrs, domain.ImportError{
				Row:     rowErr.Row,
				Message: fmt.Sprintf("row parse error: %v", rowErr.Err),
			})
		} else if err != nil {
			// The stream itself broke mid-file; commit what we have and
			// mark the job failed.
			if ferr := flush(); ferr != nil {
				return ferr
			}
			return p.fail(ctx, t, err)
		} else {
			batch = append(batch, rec)
		}

		seen++
		if len(batch) >= window {
			if err := flush(); err != nil {
				return err
			}
			if t.Cancelled(ctx) {
				return t.AckCancel(ctx)
			}
		} else if seen%cancelCheckRows == 0 && t.Cancelled(ctx) {
			// Stop consuming; the partial batch is dropped, committed
			// batches stay intact.
			return t.AckCancel(ctx)
		}
	}

	if err := flush(); err != nil {
		return err
	}
	if t.Cancelled(ctx) {
		return t.AckCancel(ctx)
	}

	if err := t.Complete(ctx); err != nil {
		return err
	}
	final := t.Job()
	logger.Info("import completed",
		"job_id", final.ID.String(),
		"total", final.TotalRecords,
		"processed", final.ProcessedRecords,
		"errors", len(final.Errors))
	return nil
}

// fail is the single orchestrator-boundary error handler: the cause becomes
// one error-log entry and the job goes terminal failed. Jobs are never
// retried automatically; restarting means submitting a new job.
func (p *Pipeline) fail(ctx context.Context, t *Tracker, cause error) error {
	logger.Error("import failed", "job_id", t.Job().ID.String(), "error", cause.Error())
	if err := t.Fail(ctx, cause); err != nil {
		logger.Error("failed to persist terminal failure", "job_id", t.Job().ID.String(), "error", err.Error())
	}
	return cause
}
