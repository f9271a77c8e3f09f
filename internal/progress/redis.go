// Package progress mirrors import job progress in Redis so pollers and
// push-style consumers read snapshots without touching the job store, and
// carries the fast-path cancellation flag.
package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ignite/catalog-import/internal/domain"
	"github.com/redis/go-redis/v9"
)

const snapshotTTL = 24 * time.Hour

// Publisher writes progress snapshots and cancellation flags to Redis.
type Publisher struct {
	rdb *redis.Client
}

// NewPublisher wraps a Redis client.
func NewPublisher(rdb *redis.Client) *Publisher { return &Publisher{rdb: rdb} }

func snapshotKey(jobID string) string { return fmt.Sprintf("import:progress:%s", jobID) }

func cancelKey(jobID string) string { return fmt.Sprintf("import:cancel:%s", jobID) }

// Publish stores the latest snapshot for a job.
func (p *Publisher) Publish(ctx context.Context, snap domain.ProgressSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal progress snapshot: %w", err)
	}
	if err := p.rdb.Set(ctx, snapshotKey(snap.JobID), data, snapshotTTL).Err(); err != nil {
		return fmt.Errorf("store progress snapshot: %w", err)
	}
	return nil
}

// Snapshot reads the latest snapshot for a job. Returns nil when none has
// been published.
func (p *Publisher) Snapshot(ctx context.Context, jobID string) (*domain.ProgressSnapshot, error) {
	data, err := p.rdb.Get(ctx, snapshotKey(jobID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read progress snapshot: %w", err)
	}
	var snap domain.ProgressSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal progress snapshot: %w", err)
	}
	return &snap, nil
}

// RequestCancel raises the fast-path cancellation flag for a job. The job
// store's status field stays the authoritative signal; this just spares the
// pipeline a store read on most checks.
func (p *Publisher) RequestCancel(ctx context.Context, jobID string) error {
	if err := p.rdb.Set(ctx, cancelKey(jobID), "1", snapshotTTL).Err(); err != nil {
		return fmt.Errorf("set cancel flag: %w", err)
	}
	return nil
}

// CancelRequested reports whether the fast-path flag is raised.
func (p *Publisher) CancelRequested(ctx context.Context, jobID string) (bool, error) {
	_, err := p.rdb.Get(ctx, cancelKey(jobID)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read cancel flag: %w", err)
	}
	return true, nil
}
