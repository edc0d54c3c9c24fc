package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
)

// Ensure Queue implements SyncQueue
var _ driven.SyncQueue = (*Queue)(nil)

// pollInterval is how often Dequeue re-checks an empty table while waiting
const pollInterval = time.Second

const taskColumns = `id, type, company_id, status, attempts, max_attempts, error,
	created_at, updated_at, started_at, completed_at, scheduled_for`

// Queue implements SyncQueue on the sync_tasks table using SKIP LOCKED.
// This is the fallback queue when Redis is not available.
type Queue struct {
	db  *sql.DB
	now func() time.Time
}

// NewQueue creates a new PostgreSQL-backed sync queue.
// The sync_tasks table is created by the postgres adapter's schema.
func NewQueue(db *sql.DB) *Queue {
	return &Queue{db: db, now: time.Now}
}

// Enqueue inserts a task
func (q *Queue) Enqueue(ctx context.Context, task *domain.SyncTask) error {
	query := `
		INSERT INTO sync_tasks (
			id, type, company_id, status, attempts, max_attempts, error,
			created_at, updated_at, scheduled_for
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := q.db.ExecContext(ctx, query,
		task.ID,
		task.Type,
		task.CompanyID,
		task.Status,
		task.Attempts,
		task.MaxAttempts,
		task.Error,
		task.CreatedAt,
		task.UpdatedAt,
		task.ScheduledFor,
	)
	if err != nil {
		return fmt.Errorf("insert sync task: %w", err)
	}
	return nil
}

// Dequeue claims the oldest due task, polling until timeout elapses.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*domain.SyncTask, error) {
	deadline := q.now().Add(timeout)
	for {
		task, err := q.claim(ctx)
		if err != nil || task != nil {
			return task, err
		}

		wait := deadline.Sub(q.now())
		if wait <= 0 {
			return nil, nil
		}
		if wait > pollInterval {
			wait = pollInterval
		}
		select {
		case <-ctx.Done():
			return nil, nil
		case <-time.After(wait):
		}
	}
}

// claim selects and marks one task in a single transaction.
// SKIP LOCKED ensures only one worker gets each task.
func (q *Queue) claim(ctx context.Context) (*domain.SyncTask, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := q.now()
	row := tx.QueryRowContext(ctx, `
		SELECT `+taskColumns+`
		FROM sync_tasks
		WHERE status = $1
		  AND scheduled_for <= $2
		ORDER BY scheduled_for ASC, created_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`, domain.SyncTaskPending, now)

	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select sync task: %w", err)
	}

	task.MarkProcessing(now)
	_, err = tx.ExecContext(ctx, `
		UPDATE sync_tasks
		SET status = $1, started_at = $2, updated_at = $2, attempts = $3
		WHERE id = $4
	`, task.Status, now, task.Attempts, task.ID)
	if err != nil {
		return nil, fmt.Errorf("mark sync task processing: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return task, nil
}

// Ack marks a task as completed
func (q *Queue) Ack(ctx context.Context, taskID string) error {
	now := q.now()
	return q.update(ctx, `
		UPDATE sync_tasks
		SET status = $1, completed_at = $2, updated_at = $2, error = ''
		WHERE id = $3
	`, domain.SyncTaskCompleted, now, taskID)
}

// Nack reschedules the task with backoff, or fails it once attempts run out
func (q *Queue) Nack(ctx context.Context, taskID string, reason string) error {
	task, err := q.GetTask(ctx, taskID)
	if err != nil {
		return err
	}

	now := q.now()
	if !task.CanRetry() {
		return q.Fail(ctx, taskID, reason)
	}
	task.Retry(reason, now)
	return q.update(ctx, `
		UPDATE sync_tasks
		SET status = $1, error = $2, updated_at = $3, scheduled_for = $4
		WHERE id = $5
	`, task.Status, reason, now, task.ScheduledFor, taskID)
}

// Fail marks a task failed without further attempts
func (q *Queue) Fail(ctx context.Context, taskID string, reason string) error {
	now := q.now()
	return q.update(ctx, `
		UPDATE sync_tasks
		SET status = $1, error = $2, completed_at = $3, updated_at = $3
		WHERE id = $4
	`, domain.SyncTaskFailed, reason, now, taskID)
}

func (q *Queue) update(ctx context.Context, query string, args ...any) error {
	result, err := q.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update sync task: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetTask retrieves a task by ID
func (q *Queue) GetTask(ctx context.Context, taskID string) (*domain.SyncTask, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM sync_tasks WHERE id = $1`, taskID)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query sync task: %w", err)
	}
	return task, nil
}

// Purge removes old completed/failed tasks
func (q *Queue) Purge(ctx context.Context, olderThan time.Duration) (int, error) {
	result, err := q.db.ExecContext(ctx, `
		DELETE FROM sync_tasks
		WHERE status IN ($1, $2)
		  AND updated_at < $3
	`, domain.SyncTaskCompleted, domain.SyncTaskFailed, q.now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("delete sync tasks: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return int(rows), nil
}

// Stats returns queue statistics
func (q *Queue) Stats(ctx context.Context) (*driven.QueueStats, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM sync_tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	stats := &driven.QueueStats{}
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}

		switch domain.SyncTaskStatus(status) {
		case domain.SyncTaskPending:
			stats.PendingCount = count
		case domain.SyncTaskProcessing:
			stats.ProcessingCount = count
		case domain.SyncTaskFailed:
			stats.FailedCount = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stats: %w", err)
	}
	return stats, nil
}

// Ping checks database connectivity
func (q *Queue) Ping(ctx context.Context) error {
	return q.db.PingContext(ctx)
}

func scanTask(row *sql.Row) (*domain.SyncTask, error) {
	var task domain.SyncTask
	var startedAt, completedAt sql.NullTime

	err := row.Scan(
		&task.ID,
		&task.Type,
		&task.CompanyID,
		&task.Status,
		&task.Attempts,
		&task.MaxAttempts,
		&task.Error,
		&task.CreatedAt,
		&task.UpdatedAt,
		&startedAt,
		&completedAt,
		&task.ScheduledFor,
	)
	if err != nil {
		return nil, err
	}

	if startedAt.Valid {
		task.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		task.CompletedAt = &completedAt.Time
	}
	return &task, nil
}
