package importer

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/ignite/catalog-import/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJob() domain.ImportJob {
	return domain.ImportJob{
		ID:       uuid.New(),
		FileName: "products.csv",
		Status:   domain.StatusPending,
		Phase:    domain.PhaseUploading,
	}
}

func TestTrackerPhaseProgression(t *testing.T) {
	jobs := newFakeJobs(newTestJob())
	sink := &fakeSink{}
	tr := NewTracker(jobs, sink, jobs.current())
	ctx := context.Background()

	require.NoError(t, tr.Begin(ctx))
	j := jobs.current()
	assert.Equal(t, domain.StatusProcessing, j.Status)
	assert.Equal(t, domain.PhaseParsing, j.Phase)
	assert.Equal(t, 10, j.Progress)

	require.NoError(t, tr.SetTotal(ctx, 100))
	j = jobs.current()
	assert.Equal(t, 100, j.TotalRecords)
	assert.Equal(t, 20, j.Progress)

	require.NoError(t, tr.BeginProcessing(ctx))
	assert.Equal(t, domain.PhaseProcessing, jobs.current().Phase)

	require.NoError(t, tr.RecordBatch(ctx, BatchResult{Processed: 50}))
	j = jobs.current()
	assert.Equal(t, 50, j.ProcessedRecords)
	assert.Equal(t, 60, j.Progress) // 20 + 80*50/100

	require.NoError(t, tr.Complete(ctx))
	j = jobs.current()
	assert.Equal(t, domain.StatusCompleted, j.Status)
	assert.Equal(t, domain.PhaseCompleted, j.Phase)
	assert.Equal(t, 100, j.Progress)
	require.NotNil(t, j.CompletedAt)

	// Every persisted update published a snapshot.
	snaps := sink.snapshots()
	require.NotEmpty(t, snaps)
	assert.Equal(t, 100, snaps[len(snaps)-1].Progress)
}

func TestTrackerSetTotalWritesOnce(t *testing.T) {
	jobs := newFakeJobs(newTestJob())
	tr := NewTracker(jobs, nil, jobs.current())
	ctx := context.Background()

	require.NoError(t, tr.SetTotal(ctx, 10))
	require.NoError(t, tr.SetTotal(ctx, 999))
	assert.Equal(t, 10, jobs.current().TotalRecords)
}

func TestTrackerProgressCappedAt99(t *testing.T) {
	jobs := newFakeJobs(newTestJob())
	tr := NewTracker(jobs, nil, jobs.current())
	ctx := context.Background()

	require.NoError(t, tr.Begin(ctx))
	require.NoError(t, tr.SetTotal(ctx, 10))
	require.NoError(t, tr.RecordBatch(ctx, BatchResult{Processed: 10}))

	// All records processed, but the job is not terminal yet.
	assert.Equal(t, 99, jobs.current().Progress)

	require.NoError(t, tr.Complete(ctx))
	assert.Equal(t, 100, jobs.current().Progress)
}

func TestTrackerProgressMonotonic(t *testing.T) {
	job := newTestJob()
	job.Progress = 60
	jobs := newFakeJobs(job)
	tr := NewTracker(jobs, nil, job)
	ctx := context.Background()

	// Begin would map to 10, but progress never regresses.
	require.NoError(t, tr.Begin(ctx))
	assert.Equal(t, 60, jobs.current().Progress)
}

func TestTrackerErrorLogCap(t *testing.T) {
	jobs := newFakeJobs(newTestJob())
	tr := NewTracker(jobs, nil, jobs.current())
	ctx := context.Background()

	var errs []domain.ImportError
	for i := 0; i < 150; i++ {
		errs = append(errs, domain.ImportError{Row: i + 2, Message: fmt.Sprintf("bad row %d", i)})
	}
	require.NoError(t, tr.RecordBatch(ctx, BatchResult{Processed: 0, Errors: errs}))

	got := jobs.current().Errors
	require.Len(t, got, 100)
	// Oldest entries dropped, newest kept.
	assert.Equal(t, 52, got[0].Row)
	assert.Equal(t, 151, got[99].Row)
}

func TestTrackerCancelledViaStore(t *testing.T) {
	jobs := newFakeJobs(newTestJob())
	tr := NewTracker(jobs, nil, jobs.current())
	ctx := context.Background()

	assert.False(t, tr.Cancelled(ctx))

	jobs.setCancelled()
	assert.True(t, tr.Cancelled(ctx))

	// Sticky even after the store becomes unreadable.
	jobs.getErr = errors.New("down")
	assert.True(t, tr.Cancelled(ctx))
}

func TestTrackerCancelledViaSinkFastPath(t *testing.T) {
	jobs := newFakeJobs(newTestJob())
	sink := &fakeSink{}
	tr := NewTracker(jobs, sink, jobs.current())
	ctx := context.Background()

	assert.False(t, tr.Cancelled(ctx))
	sink.requestCancel()
	assert.True(t, tr.Cancelled(ctx))
}

func TestTrackerCancelledViaContext(t *testing.T) {
	jobs := newFakeJobs(newTestJob())
	tr := NewTracker(jobs, nil, jobs.current())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.True(t, tr.Cancelled(ctx))
}

func TestTrackerUnreadableChannelKeepsGoing(t *testing.T) {
	jobs := newFakeJobs(newTestJob())
	jobs.getErr = errors.New("timeout")
	tr := NewTracker(jobs, nil, jobs.current())

	assert.False(t, tr.Cancelled(context.Background()))
}

func TestTrackerCancellationSuppressesWrites(t *testing.T) {
	jobs := newFakeJobs(newTestJob())
	tr := NewTracker(jobs, nil, jobs.current())
	ctx := context.Background()

	require.NoError(t, tr.Begin(ctx))
	jobs.setCancelled()
	require.True(t, tr.Cancelled(ctx))

	before := len(jobs.patches)
	require.NoError(t, tr.RecordBatch(ctx, BatchResult{Processed: 5}))
	assert.Equal(t, before, len(jobs.patches))

	// The terminal acknowledgment still writes, with a completion time.
	require.NoError(t, tr.AckCancel(ctx))
	j := jobs.current()
	assert.Equal(t, domain.StatusCancelled, j.Status)
	require.NotNil(t, j.CompletedAt)
}

func TestTrackerAckCancelSurvivesRevokedContext(t *testing.T) {
	jobs := newFakeJobs(newTestJob())
	tr := NewTracker(jobs, nil, jobs.current())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.True(t, tr.Cancelled(ctx))
	require.NoError(t, tr.AckCancel(ctx))
	assert.Equal(t, domain.StatusCancelled, jobs.current().Status)
}

func TestTrackerCompleteAfterCancelActsAsAck(t *testing.T) {
	jobs := newFakeJobs(newTestJob())
	tr := NewTracker(jobs, nil, jobs.current())
	ctx := context.Background()

	jobs.setCancelled()
	require.True(t, tr.Cancelled(ctx))
	require.NoError(t, tr.Complete(ctx))

	j := jobs.current()
	assert.Equal(t, domain.StatusCancelled, j.Status)
	assert.NotEqual(t, 100, j.Progress)
}

func TestTrackerFail(t *testing.T) {
	jobs := newFakeJobs(newTestJob())
	tr := NewTracker(jobs, nil, jobs.current())
	ctx := context.Background()

	require.NoError(t, tr.Fail(ctx, errors.New("invalid CSV schema: missing required columns: Key")))
	j := jobs.current()
	assert.Equal(t, domain.StatusFailed, j.Status)
	require.Len(t, j.Errors, 1)
	assert.Equal(t, "import failed: invalid CSV schema: missing required columns: Key", j.Errors[0].Message)
	require.NotNil(t, j.CompletedAt)
}
