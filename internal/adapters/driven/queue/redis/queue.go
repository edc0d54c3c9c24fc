package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
)

const (
	// Stream names
	taskStream     = "ledgersync:sync_tasks"
	taskGroup      = "ledgersync:workers"
	scheduledTasks = "ledgersync:sync_tasks:scheduled"

	// Key prefixes
	taskKeyPrefix = "ledgersync:sync_task:"
	msgKeySuffix  = ":msg"

	consumerPrefix = "worker-"

	// How long a claimed message may stay unacked before another worker takes it.
	// A full company sync can take minutes, so this is generous.
	claimTimeout = 30 * time.Minute

	taskTTL = 24 * time.Hour
)

// Verify interface compliance
var _ driven.SyncQueue = (*Queue)(nil)

// Queue implements SyncQueue using Redis Streams with a consumer group.
// Task bodies live in plain keys; the stream only carries ids. Retries wait
// in a sorted set scored by due time until a Dequeue promotes them.
type Queue struct {
	client       redis.UniversalClient
	consumerName string
	now          func() time.Time
}

// NewQueue creates a new Redis-backed sync queue.
// The consumerName should be unique per worker instance (e.g., hostname + PID).
func NewQueue(ctx context.Context, client redis.UniversalClient, consumerName string) (*Queue, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if consumerName == "" {
		consumerName = fmt.Sprintf("%s%d", consumerPrefix, time.Now().UnixNano())
	}

	q := &Queue{
		client:       client,
		consumerName: consumerName,
		now:          time.Now,
	}

	// Create consumer group if it doesn't exist
	err := q.client.XGroupCreateMkStream(ctx, taskStream, taskGroup, "0").Err()
	if err != nil && !isGroupExistsError(err) {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}

	return q, nil
}

// Enqueue stores the task and either streams it or parks it until due.
func (q *Queue) Enqueue(ctx context.Context, task *domain.SyncTask) error {
	if task == nil {
		return errors.New("task is required")
	}

	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, taskKeyPrefix+task.ID, data, taskTTL)
	if task.ScheduledFor.After(q.now()) {
		pipe.ZAdd(ctx, scheduledTasks, redis.Z{
			Score:  float64(task.ScheduledFor.Unix()),
			Member: task.ID,
		})
	} else {
		pipe.XAdd(ctx, streamArgs(task))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue task: %w", err)
	}
	return nil
}

// Dequeue claims the next task, preferring abandoned ones.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*domain.SyncTask, error) {
	// Best effort; a failure here only delays retries
	_ = q.promoteScheduled(ctx)

	if task, err := q.claimAbandoned(ctx); err == nil && task != nil {
		return task, nil
	}

	// go-redis omits BLOCK for negative durations
	block := time.Duration(-1)
	if timeout > 0 {
		block = timeout
	}

	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    taskGroup,
		Consumer: q.consumerName,
		Streams:  []string{taskStream, ">"},
		Count:    1,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, fmt.Errorf("read stream: %w", err)
	}
	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return nil, nil
	}

	return q.claimMessage(ctx, streams[0].Messages[0])
}

// claimMessage loads the task for msg and marks it processing.
// Messages without a task body are dropped.
func (q *Queue) claimMessage(ctx context.Context, msg redis.XMessage) (*domain.SyncTask, error) {
	taskID, ok := msg.Values["task_id"].(string)
	if !ok {
		q.dropMessage(ctx, msg.ID)
		return nil, nil
	}

	task, err := q.GetTask(ctx, taskID)
	if errors.Is(err, domain.ErrNotFound) {
		q.dropMessage(ctx, msg.ID)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	task.MarkProcessing(q.now())
	data, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("marshal task: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, taskKeyPrefix+task.ID, data, taskTTL)
	pipe.Set(ctx, taskKeyPrefix+task.ID+msgKeySuffix, msg.ID, taskTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("mark task processing: %w", err)
	}
	return task, nil
}

// Ack marks the task completed and removes its stream entry.
func (q *Queue) Ack(ctx context.Context, taskID string) error {
	return q.finish(ctx, taskID, func(t *domain.SyncTask) (bool, error) {
		t.MarkCompleted(q.now())
		return false, nil
	})
}

// Nack schedules a retry while attempts remain, then fails the task.
func (q *Queue) Nack(ctx context.Context, taskID string, reason string) error {
	return q.finish(ctx, taskID, func(t *domain.SyncTask) (bool, error) {
		if t.CanRetry() {
			t.Retry(reason, q.now())
			return true, nil
		}
		t.MarkFailed(reason, q.now())
		return false, nil
	})
}

// Fail marks the task failed regardless of remaining attempts.
func (q *Queue) Fail(ctx context.Context, taskID string, reason string) error {
	return q.finish(ctx, taskID, func(t *domain.SyncTask) (bool, error) {
		t.MarkFailed(reason, q.now())
		return false, nil
	})
}

// finish acknowledges the current stream entry and stores the task as
// updated by apply. When apply asks for a retry the task is parked in the
// scheduled set.
func (q *Queue) finish(ctx context.Context, taskID string, apply func(*domain.SyncTask) (bool, error)) error {
	task, err := q.GetTask(ctx, taskID)
	if err != nil {
		return err
	}

	msgID, err := q.client.Get(ctx, taskKeyPrefix+taskID+msgKeySuffix).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("get message id: %w", err)
	}

	retry, err := apply(task)
	if err != nil {
		return err
	}
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}

	pipe := q.client.TxPipeline()
	if msgID != "" {
		pipe.XAck(ctx, taskStream, taskGroup, msgID)
		pipe.XDel(ctx, taskStream, msgID)
	}
	pipe.Set(ctx, taskKeyPrefix+taskID, data, taskTTL)
	if retry {
		pipe.ZAdd(ctx, scheduledTasks, redis.Z{
			Score:  float64(task.ScheduledFor.Unix()),
			Member: task.ID,
		})
	}
	pipe.Del(ctx, taskKeyPrefix+taskID+msgKeySuffix)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("update task %s: %w", taskID, err)
	}
	return nil
}

// GetTask retrieves a task by ID.
func (q *Queue) GetTask(ctx context.Context, taskID string) (*domain.SyncTask, error) {
	data, err := q.client.Get(ctx, taskKeyPrefix+taskID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}

	var task domain.SyncTask
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("unmarshal task: %w", err)
	}
	return &task, nil
}

// Purge removes finished tasks older than olderThan.
// Every task key also carries a TTL, so this only trims early.
func (q *Queue) Purge(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := q.now().Add(-olderThan)
	purged := 0

	err := q.scanTasks(ctx, func(key string, task *domain.SyncTask) error {
		if task.IsFinished() && task.UpdatedAt.Before(cutoff) {
			if err := q.client.Del(ctx, key).Err(); err != nil {
				return err
			}
			purged++
		}
		return nil
	})
	if err != nil {
		return purged, fmt.Errorf("purge tasks: %w", err)
	}
	return purged, nil
}

// Stats returns queue depth counters.
func (q *Queue) Stats(ctx context.Context) (*driven.QueueStats, error) {
	stats := &driven.QueueStats{}

	streamLen, err := q.client.XLen(ctx, taskStream).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("stream length: %w", err)
	}
	scheduled, err := q.client.ZCard(ctx, scheduledTasks).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("scheduled count: %w", err)
	}
	pending, err := q.client.XPending(ctx, taskStream, taskGroup).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("pending summary: %w", err)
	}
	if pending != nil {
		stats.ProcessingCount = pending.Count
	}

	// Claimed entries stay in the stream until acked
	stats.PendingCount = streamLen - stats.ProcessingCount + scheduled

	err = q.scanTasks(ctx, func(_ string, task *domain.SyncTask) error {
		if task.Status == domain.SyncTaskFailed {
			stats.FailedCount++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("count failed tasks: %w", err)
	}
	return stats, nil
}

// Ping checks if the queue backend is healthy.
func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// promoteScheduled moves due tasks from the scheduled set to the stream.
func (q *Queue) promoteScheduled(ctx context.Context) error {
	due, err := q.client.ZRangeByScore(ctx, scheduledTasks, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(q.now().Unix(), 10),
	}).Result()
	if err != nil || len(due) == 0 {
		return err
	}

	for _, taskID := range due {
		// ZRem decides which caller promotes when workers race
		removed, err := q.client.ZRem(ctx, scheduledTasks, taskID).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue
		}

		task, err := q.GetTask(ctx, taskID)
		if err != nil {
			continue
		}
		if err := q.client.XAdd(ctx, streamArgs(task)).Err(); err != nil {
			return err
		}
	}
	return nil
}

// claimAbandoned takes over a message another worker left unacked for too long.
func (q *Queue) claimAbandoned(ctx context.Context) (*domain.SyncTask, error) {
	pending, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: taskStream,
		Group:  taskGroup,
		Start:  "-",
		End:    "+",
		Count:  10,
		Idle:   claimTimeout,
	}).Result()
	if err != nil {
		return nil, err
	}

	for _, p := range pending {
		claimed, err := q.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   taskStream,
			Group:    taskGroup,
			Consumer: q.consumerName,
			MinIdle:  claimTimeout,
			Messages: []string{p.ID},
		}).Result()
		if err != nil || len(claimed) == 0 {
			continue
		}

		task, err := q.claimMessage(ctx, claimed[0])
		if err != nil || task == nil {
			continue
		}
		return task, nil
	}
	return nil, nil
}

func (q *Queue) dropMessage(ctx context.Context, msgID string) {
	pipe := q.client.TxPipeline()
	pipe.XAck(ctx, taskStream, taskGroup, msgID)
	pipe.XDel(ctx, taskStream, msgID)
	_, _ = pipe.Exec(ctx)
}

// scanTasks visits every stored task body.
func (q *Queue) scanTasks(ctx context.Context, fn func(key string, task *domain.SyncTask) error) error {
	iter := q.client.Scan(ctx, 0, taskKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if strings.HasSuffix(key, msgKeySuffix) {
			continue
		}
		data, err := q.client.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}
		var task domain.SyncTask
		if json.Unmarshal(data, &task) != nil {
			continue
		}
		if err := fn(key, &task); err != nil {
			return err
		}
	}
	return iter.Err()
}

func streamArgs(task *domain.SyncTask) *redis.XAddArgs {
	return &redis.XAddArgs{
		Stream: taskStream,
		Values: map[string]interface{}{
			"task_id":    task.ID,
			"type":       string(task.Type),
			"company_id": task.CompanyID,
		},
	}
}

func isGroupExistsError(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}
