package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
)

// SyncQueue hands manually requested syncs to workers.
// Implementations use Redis streams (preferred) or Postgres (fallback).
type SyncQueue interface {
	// Enqueue adds a task. Tasks scheduled in the future wait until due.
	Enqueue(ctx context.Context, task *domain.SyncTask) error

	// Dequeue claims the next due task, waiting up to timeout.
	// A non-positive timeout polls once. Returns nil, nil when nothing is due.
	// The claimed task is marked processing and hidden from other workers.
	Dequeue(ctx context.Context, timeout time.Duration) (*domain.SyncTask, error)

	// Ack marks a claimed task completed.
	Ack(ctx context.Context, taskID string) error

	// Nack reports a failed attempt. The task is rescheduled with backoff
	// while attempts remain and marked failed afterwards.
	Nack(ctx context.Context, taskID string, reason string) error

	// Fail marks a claimed task failed without further attempts.
	Fail(ctx context.Context, taskID string, reason string) error

	// GetTask returns domain.ErrNotFound for unknown ids.
	GetTask(ctx context.Context, taskID string) (*domain.SyncTask, error)

	// Purge deletes finished tasks last updated before olderThan ago.
	Purge(ctx context.Context, olderThan time.Duration) (int, error)

	// Stats returns queue depth counters.
	Stats(ctx context.Context) (*QueueStats, error)

	Ping(ctx context.Context) error
}

// QueueStats contains queue statistics
type QueueStats struct {
	PendingCount    int64 `json:"pending_count"`
	ProcessingCount int64 `json:"processing_count"`
	FailedCount     int64 `json:"failed_count"`
}
