package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
)

func setupQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	q, err := NewQueue(context.Background(), client, "worker-test")
	require.NoError(t, err)
	return q, mr
}

func TestNewQueue_GroupAlreadyExists(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	_, err := NewQueue(context.Background(), client, "a")
	require.NoError(t, err)
	_, err = NewQueue(context.Background(), client, "b")
	assert.NoError(t, err, "second queue must reuse the consumer group")

	_, err = NewQueue(context.Background(), nil, "c")
	assert.Error(t, err)
}

func TestQueue_EnqueueDequeueAck(t *testing.T) {
	q, _ := setupQueue(t)
	ctx := context.Background()

	task := domain.NewSyncTask(domain.SyncTaskCompany, "c1", time.Now())
	require.NoError(t, q.Enqueue(ctx, task))

	got, err := q.Dequeue(ctx, 0)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, task.ID, got.ID)
	assert.Equal(t, "c1", got.CompanyID)
	assert.Equal(t, domain.SyncTaskProcessing, got.Status)
	assert.Equal(t, 1, got.Attempts)

	// Claimed tasks are invisible to the next read
	next, err := q.Dequeue(ctx, 0)
	require.NoError(t, err)
	assert.Nil(t, next)

	require.NoError(t, q.Ack(ctx, task.ID))

	stored, err := q.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncTaskCompleted, stored.Status)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.PendingCount)
	assert.Zero(t, stats.ProcessingCount)
}

func TestQueue_DequeueEmpty(t *testing.T) {
	q, _ := setupQueue(t)

	got, err := q.Dequeue(context.Background(), 0)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestQueue_NackRetriesWithBackoff(t *testing.T) {
	q, mr := setupQueue(t)
	ctx := context.Background()
	now := time.Now()
	q.now = func() time.Time { return now }

	task := domain.NewSyncTask(domain.SyncTaskCompany, "c1", now)
	require.NoError(t, q.Enqueue(ctx, task))

	_, err := q.Dequeue(ctx, 0)
	require.NoError(t, err)
	require.NoError(t, q.Nack(ctx, task.ID, "provider unavailable"))

	stored, err := q.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncTaskPending, stored.Status)
	assert.Equal(t, "provider unavailable", stored.Error)
	assert.True(t, mr.Exists(scheduledTasks))

	// Not due yet
	got, err := q.Dequeue(ctx, 0)
	require.NoError(t, err)
	assert.Nil(t, got)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.PendingCount)

	// After the backoff the task is promoted and claimable again
	now = now.Add(time.Minute)
	got, err = q.Dequeue(ctx, 0)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2, got.Attempts)
}

func TestQueue_NackExhaustedFails(t *testing.T) {
	q, _ := setupQueue(t)
	ctx := context.Background()

	task := domain.NewSyncTask(domain.SyncTaskAll, "", time.Now())
	task.MaxAttempts = 1
	require.NoError(t, q.Enqueue(ctx, task))

	_, err := q.Dequeue(ctx, 0)
	require.NoError(t, err)
	require.NoError(t, q.Nack(ctx, task.ID, "still failing"))

	stored, err := q.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncTaskFailed, stored.Status)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.FailedCount)
}

func TestQueue_Fail(t *testing.T) {
	q, _ := setupQueue(t)
	ctx := context.Background()

	task := domain.NewSyncTask(domain.SyncTaskCompany, "c1", time.Now())
	require.NoError(t, q.Enqueue(ctx, task))
	_, err := q.Dequeue(ctx, 0)
	require.NoError(t, err)

	require.NoError(t, q.Fail(ctx, task.ID, "re-authentication required"))

	stored, err := q.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncTaskFailed, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
}

func TestQueue_GetTaskNotFound(t *testing.T) {
	q, _ := setupQueue(t)

	_, err := q.GetTask(context.Background(), "missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	assert.True(t, errors.Is(q.Ack(context.Background(), "missing"), domain.ErrNotFound))
}

func TestQueue_DelayedTask(t *testing.T) {
	q, _ := setupQueue(t)
	ctx := context.Background()
	now := time.Now()
	q.now = func() time.Time { return now }

	task := domain.NewSyncTask(domain.SyncTaskCompany, "c1", now)
	task.ScheduledFor = now.Add(time.Hour)
	require.NoError(t, q.Enqueue(ctx, task))

	got, err := q.Dequeue(ctx, 0)
	require.NoError(t, err)
	assert.Nil(t, got)

	now = now.Add(2 * time.Hour)
	got, err = q.Dequeue(ctx, 0)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, task.ID, got.ID)
}

func TestQueue_Purge(t *testing.T) {
	q, mr := setupQueue(t)
	ctx := context.Background()

	done := domain.NewSyncTask(domain.SyncTaskCompany, "c1", time.Now())
	require.NoError(t, q.Enqueue(ctx, done))
	_, err := q.Dequeue(ctx, 0)
	require.NoError(t, err)
	require.NoError(t, q.Ack(ctx, done.ID))

	waiting := domain.NewSyncTask(domain.SyncTaskCompany, "c2", time.Now())
	require.NoError(t, q.Enqueue(ctx, waiting))

	q.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	purged, err := q.Purge(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)
	assert.False(t, mr.Exists(taskKeyPrefix+done.ID))
	assert.True(t, mr.Exists(taskKeyPrefix+waiting.ID))
}

func TestQueue_Ping(t *testing.T) {
	q, mr := setupQueue(t)

	assert.NoError(t, q.Ping(context.Background()))
	mr.Close()
	assert.Error(t, q.Ping(context.Background()))
}
