package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/catalog-import/internal/domain"
)

// ErrJobNotFound is returned when an import job id does not exist.
var ErrJobNotFound = errors.New("import job not found")

const jobColumns = `id, file_name, COALESCE(s3_key, ''), file_size, status, phase, progress,
	total_records, processed_records, errors, COALESCE(task_id, ''), last_updated_at, created_at, completed_at`

// ImportJobRepo implements importer.JobStore against PostgreSQL. Every
// update refreshes last_updated_at so an external monitor can detect a
// stalled worker.
type ImportJobRepo struct{ db *sql.DB }

// NewImportJobRepo creates a Postgres-backed import job repository.
func NewImportJobRepo(db *sql.DB) *ImportJobRepo { return &ImportJobRepo{db: db} }

// Create inserts a new job record in its initial pending/uploading state.
func (r *ImportJobRepo) Create(ctx context.Context, job *domain.ImportJob) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = domain.StatusPending
	}
	if job.Phase == "" {
		job.Phase = domain.PhaseUploading
	}
	errorsJSON, err := json.Marshal(errorLog(job.Errors))
	if err != nil {
		return fmt.Errorf("marshal job errors: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO import_jobs (
			id, file_name, s3_key, file_size, status, phase, progress,
			total_records, processed_records, errors, task_id,
			last_updated_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
	`, job.ID, job.FileName, job.BlobKey, job.FileSize, job.Status, job.Phase,
		job.Progress, job.TotalRecords, job.ProcessedRecords, errorsJSON, job.TaskID)
	if err != nil {
		return fmt.Errorf("create import job: %w", err)
	}
	return nil
}

// Get reads one job by id.
func (r *ImportJobRepo) Get(ctx context.Context, id uuid.UUID) (*domain.ImportJob, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM import_jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get import job: %w", err)
	}
	return job, nil
}

// Update applies a partial update by named field subset. Writes are visible
// to readers immediately.
func (r *ImportJobRepo) Update(ctx context.Context, id uuid.UUID, patch domain.JobPatch) error {
	sets := []string{"last_updated_at = NOW()"}
	args := []interface{}{}
	idx := 1
	add := func(column string, value interface{}) {
		sets = append(sets, fmt.Sprintf("%s = $%d", column, idx))
		args = append(args, value)
		idx++
	}

	if patch.Status != nil {
		add("status", *patch.Status)
	}
	if patch.Phase != nil {
		add("phase", *patch.Phase)
	}
	if patch.Progress != nil {
		add("progress", *patch.Progress)
	}
	if patch.TotalRecords != nil {
		add("total_records", *patch.TotalRecords)
	}
	if patch.ProcessedRecords != nil {
		add("processed_records", *patch.ProcessedRecords)
	}
	if patch.Errors != nil {
		errorsJSON, err := json.Marshal(errorLog(patch.Errors))
		if err != nil {
			return fmt.Errorf("marshal job errors: %w", err)
		}
		add("errors", errorsJSON)
	}
	if patch.TaskID != nil {
		add("task_id", *patch.TaskID)
	}
	if patch.CompletedAt != nil {
		add("completed_at", *patch.CompletedAt)
	}

	query := fmt.Sprintf("UPDATE import_jobs SET %s WHERE id = $%d", strings.Join(sets, ", "), idx)
	args = append(args, id)

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update import job: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrJobNotFound
	}
	return nil
}

// ClaimPending atomically claims the oldest pending job for a worker,
// skipping rows other workers hold. Returns nil when the queue is empty.
func (r *ImportJobRepo) ClaimPending(ctx context.Context) (*domain.ImportJob, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE import_jobs SET status = 'processing', last_updated_at = NOW()
		WHERE id = (
			SELECT id FROM import_jobs
			WHERE status = 'pending'
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim pending import job: %w", err)
	}
	return job, nil
}

// StaleJobs returns processing jobs whose last update is older than the
// cutoff, for an external staleness monitor.
func (r *ImportJobRepo) StaleJobs(ctx context.Context, cutoff time.Time) ([]domain.ImportJob, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM import_jobs
		WHERE status = 'processing' AND last_updated_at < $1
		ORDER BY last_updated_at
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stale import jobs: %w", err)
	}
	defer rows.Close()

	var out []domain.ImportJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan import job row: %w", err)
		}
		out = append(out, *job)
	}
	return out, rows.Err()
}

// List returns recent jobs, newest first.
func (r *ImportJobRepo) List(ctx context.Context, limit, offset int) ([]domain.ImportJob, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM import_jobs
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list import jobs: %w", err)
	}
	defer rows.Close()

	var out []domain.ImportJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan import job row: %w", err)
		}
		out = append(out, *job)
	}
	return out, rows.Err()
}

func scanJob(row interface{ Scan(...interface{}) error }) (*domain.ImportJob, error) {
	var (
		job         domain.ImportJob
		errorsRaw   []byte
		completedAt sql.NullTime
	)
	err := row.Scan(
		&job.ID, &job.FileName, &job.BlobKey, &job.FileSize, &job.Status, &job.Phase,
		&job.Progress, &job.TotalRecords, &job.ProcessedRecords, &errorsRaw,
		&job.TaskID, &job.LastUpdatedAt, &job.CreatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(errorsRaw) > 0 {
		if err := json.Unmarshal(errorsRaw, &job.Errors); err != nil {
			return nil, fmt.Errorf("unmarshal job errors: %w", err)
		}
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	return &job, nil
}

// errorLog keeps the persisted JSON an array, never null.
func errorLog(errs []domain.ImportError) []domain.ImportError {
	if errs == nil {
		return []domain.ImportError{}
	}
	return errs
}
