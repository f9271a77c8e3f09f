package importer

import (
	"context"
	"time"

	"github.com/ignite/catalog-import/internal/domain"
	"github.com/ignite/catalog-import/internal/pkg/logger"
)

// maxErrorLog caps the persisted error log to the most recent entries so a
// file full of bad rows cannot grow the job record without bound. Counters
// stay exact even when the log is truncated.
const maxErrorLog = 100

// Phase progress windows. Within processing, progress scales with
// processed/total and is held at 99 until the terminal completed write.
const (
	progressUploadingEnd = 10
	progressParsingEnd   = 20
	progressCap          = 99
)

// Tracker owns one job's status, phase, counters and bounded error log. It
// persists throttled snapshots at micro-batch boundaries, enforces monotonic
// progress and terminal-state stickiness, and polls the store's status field
// as the cooperative cancellation channel.
type Tracker struct {
	store JobStore
	sink  ProgressSink

	job          domain.ImportJob
	cancelled    bool
	lastProgress int
}

// NewTracker wraps an existing job record. sink may be nil.
func NewTracker(store JobStore, sink ProgressSink, job domain.ImportJob) *Tracker {
	return &Tracker{store: store, sink: sink, job: job, lastProgress: job.Progress}
}

// Job returns the tracker's current view of the job.
func (t *Tracker) Job() domain.ImportJob { return t.job }

// Begin moves the job into processing/parsing and persists.
func (t *Tracker) Begin(ctx context.Context) error {
	t.job.Status = domain.StatusProcessing
	t.job.Phase = domain.PhaseParsing
	t.job.Progress = t.clampProgress(progressUploadingEnd)
	return t.persist(ctx, domain.JobPatch{
		Status:   &t.job.Status,
		Phase:    &t.job.Phase,
		Progress: &t.job.Progress,
	}, false)
}

// SetTotal persists the total record count. The total is written exactly
// once for the lifetime of a job; later calls are ignored.
func (t *Tracker) SetTotal(ctx context.Context, total int) error {
	if t.job.TotalRecords != 0 {
		return nil
	}
	t.job.TotalRecords = total
	t.job.Progress = t.clampProgress(progressParsingEnd)
	return t.persist(ctx, domain.JobPatch{
		TotalRecords: &t.job.TotalRecords,
		Progress:     &t.job.Progress,
	}, false)
}

// BeginProcessing advances the phase to record-level processing.
func (t *Tracker) BeginProcessing(ctx context.Context) error {
	t.job.Phase = domain.PhaseProcessing
	return t.persist(ctx, domain.JobPatch{Phase: &t.job.Phase}, false)
}

// RecordBatch folds one micro-batch's deltas into the job and persists a
// throttled snapshot. This is the only write cadence while records flow.
func (t *Tracker) RecordBatch(ctx context.Context, res BatchResult) error {
	t.job.ProcessedRecords += res.Processed
	t.appendErrors(res.Errors)
	t.job.Progress = t.clampProgress(t.processingProgress())
	return t.persist(ctx, domain.JobPatch{
		Progress:         &t.job.Progress,
		ProcessedRecords: &t.job.ProcessedRecords,
		Errors:           t.job.Errors,
	}, false)
}

// Cancelled polls the cancellation channel. The flag is sticky: once a
// cancellation is observed the tracker suppresses all further writes except
// the terminal acknowledgment.
func (t *Tracker) Cancelled(ctx context.Context) bool {
	if t.cancelled {
		return true
	}
	if ctx.Err() != nil {
		t.cancelled = true
		return true
	}
	if t.sink != nil {
		if requested, err := t.sink.CancelRequested(ctx, t.job.ID.String()); err == nil && requested {
			t.cancelled = true
			return true
		}
	}
	job, err := t.store.Get(ctx, t.job.ID)
	if err != nil {
		// The control channel is unreadable; keep going and retry at the
		// next checkpoint.
		logger.Warn("cancellation check failed", "job_id", t.job.ID.String(), "error", err.Error())
		return false
	}
	if job.Status == domain.StatusCancelled {
		t.cancelled = true
	}
	return t.cancelled
}

// AckCancel writes the terminal cancelled status with final counts. Already
// committed batches stay committed; this acknowledges the request without
// rolling anything back.
func (t *Tracker) AckCancel(ctx context.Context) error {
	t.cancelled = true
	t.job.Status = domain.StatusCancelled
	now := time.Now().UTC()
	t.job.CompletedAt = &now
	return t.persist(context.WithoutCancel(ctx), domain.JobPatch{
		Status:           &t.job.Status,
		Progress:         &t.job.Progress,
		ProcessedRecords: &t.job.ProcessedRecords,
		Errors:           t.job.Errors,
		CompletedAt:      &now,
	}, true)
}

// Complete writes the terminal completed state: progress reaches exactly
// 100 here and nowhere else.
func (t *Tracker) Complete(ctx context.Context) error {
	if t.cancelled {
		return t.AckCancel(ctx)
	}
	t.job.Status = domain.StatusCompleted
	t.job.Phase = domain.PhaseCompleted
	t.job.Progress = 100
	now := time.Now().UTC()
	t.job.CompletedAt = &now
	return t.persist(ctx, domain.JobPatch{
		Status:           &t.job.Status,
		Phase:            &t.job.Phase,
		Progress:         &t.job.Progress,
		ProcessedRecords: &t.job.ProcessedRecords,
		Errors:           t.job.Errors,
		CompletedAt:      &now,
	}, true)
}

// Fail records the failure as a single error-log entry and writes the
// terminal failed state.
func (t *Tracker) Fail(ctx context.Context, cause error) error {
	if t.cancelled {
		return t.AckCancel(ctx)
	}
	t.appendErrors([]domain.ImportError{{Message: "import failed: " + cause.Error()}})
	t.job.Status = domain.StatusFailed
	now := time.Now().UTC()
	t.job.CompletedAt = &now
	return t.persist(context.WithoutCancel(ctx), domain.JobPatch{
		Status:           &t.job.Status,
		Progress:         &t.job.Progress,
		ProcessedRecords: &t.job.ProcessedRecords,
		Errors:           t.job.Errors,
		CompletedAt:      &now,
	}, true)
}

func (t *Tracker) appendErrors(errs []domain.ImportError) {
	if len(errs) == 0 {
		return
	}
	t.job.Errors = append(t.job.Errors, errs...)
	if len(t.job.Errors) > maxErrorLog {
		t.job.Errors = t.job.Errors[len(t.job.Errors)-maxErrorLog:]
	}
}

// processingProgress maps processed/total into the 20-100 window, capped
// below 100 until completion.
func (t *Tracker) processingProgress() int {
	if t.job.TotalRecords <= 0 {
		return progressParsingEnd
	}
	p := progressParsingEnd + (100-progressParsingEnd)*t.job.ProcessedRecords/t.job.TotalRecords
	if p > progressCap {
		p = progressCap
	}
	return p
}

// clampProgress keeps progress monotonically non-decreasing.
func (t *Tracker) clampProgress(p int) int {
	if p < t.lastProgress {
		return t.lastProgress
	}
	t.lastProgress = p
	return p
}

// persist writes the patch to the job store and mirrors a snapshot to the
// progress sink. Once a cancellation has been observed only the terminal
// acknowledgment may write.
func (t *Tracker) persist(ctx context.Context, patch domain.JobPatch, terminal bool) error {
	if t.cancelled && !terminal {
		return nil
	}
	if err := t.store.Update(ctx, t.job.ID, patch); err != nil {
		return &TransportError{Op: "persist job state", Err: err}
	}
	t.job.LastUpdatedAt = time.Now().UTC()
	if t.sink != nil {
		snap := domain.ProgressSnapshot{
			JobID:            t.job.ID.String(),
			Status:           t.job.Status,
			Phase:            t.job.Phase,
			Progress:         t.job.Progress,
			ProcessedRecords: t.job.ProcessedRecords,
			TotalRecords:     t.job.TotalRecords,
			Errors:           t.job.Errors,
			UpdatedAt:        t.job.LastUpdatedAt,
		}
		if err := t.sink.Publish(ctx, snap); err != nil {
			logger.Warn("progress publish failed", "job_id", snap.JobID, "error", err.Error())
		}
	}
	return nil
}
