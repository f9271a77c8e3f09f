// Package worker runs import jobs claimed from the job store.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/catalog-import/internal/domain"
	"github.com/ignite/catalog-import/internal/importer"
	"github.com/ignite/catalog-import/internal/pkg/logger"
)

// JobQueue claims pending jobs and persists task handles.
type JobQueue interface {
	ClaimPending(ctx context.Context) (*domain.ImportJob, error)
	Update(ctx context.Context, id uuid.UUID, patch domain.JobPatch) error
}

// Runner drives a pool of import workers. Each worker claims one pending
// job at a time and runs the pipeline to a terminal state; there is no
// intra-job parallelism. Revoke layers a best-effort termination signal on
// top of the pipeline's cooperative cancellation checks.
type Runner struct {
	queue        JobQueue
	pipeline     *importer.Pipeline
	workers      int
	pollInterval time.Duration

	mu      sync.Mutex
	running map[uuid.UUID]context.CancelFunc
	once    sync.Once
}

// NewRunner creates a runner with the given pool size and idle poll
// interval.
func NewRunner(queue JobQueue, pipeline *importer.Pipeline, workers int, pollInterval time.Duration) *Runner {
	if workers <= 0 {
		workers = 1
	}
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Runner{
		queue:        queue,
		pipeline:     pipeline,
		workers:      workers,
		pollInterval: pollInterval,
		running:      make(map[uuid.UUID]context.CancelFunc),
	}
}

// Start launches the worker pool. It returns immediately; workers stop
// when ctx is cancelled.
func (r *Runner) Start(ctx context.Context) {
	r.once.Do(func() {
		for i := 0; i < r.workers; i++ {
			go r.workerLoop(ctx)
		}
		logger.Info("import worker pool started", "workers", r.workers)
	})
}

func (r *Runner) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := r.queue.ClaimPending(ctx)
		if err != nil {
			logger.Warn("claim pending import job failed", "error", err.Error())
			if !sleepWithContext(ctx, r.pollInterval) {
				return
			}
			continue
		}
		if job == nil {
			if !sleepWithContext(ctx, r.pollInterval) {
				return
			}
			continue
		}

		r.runJob(ctx, *job)
	}
}

func (r *Runner) runJob(ctx context.Context, job domain.ImportJob) {
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.mu.Lock()
	r.running[job.ID] = cancel
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.running, job.ID)
		r.mu.Unlock()
	}()

	// Persist the task handle so an external cancel can find this run.
	taskID := uuid.New().String()
	if err := r.queue.Update(ctx, job.ID, domain.JobPatch{TaskID: &taskID}); err != nil {
		logger.Warn("persist task handle failed", "job_id", job.ID.String(), "error", err.Error())
	}
	job.TaskID = taskID

	if err := r.pipeline.Run(jobCtx, job); err != nil {
		logger.Warn("import job finished with error", "job_id", job.ID.String(), "error", err.Error())
	}
}

// Revoke cancels a running job's context, best-effort. Correctness does
// not depend on it: the pipeline also polls the job's status field.
func (r *Runner) Revoke(jobID uuid.UUID) bool {
	r.mu.Lock()
	cancel, ok := r.running[jobID]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
