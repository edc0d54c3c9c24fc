package mocks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
)

var _ driven.SyncQueue = (*MockSyncQueue)(nil)

// MockSyncQueue is an in-memory SyncQueue for testing.
// Hooks override the default behavior when set.
type MockSyncQueue struct {
	mu    sync.Mutex
	tasks map[string]*domain.SyncTask
	acks  []string
	nacks []string
	fails []string

	DequeueFn func() (*domain.SyncTask, error)
	PingFn    func() error
}

// NewMockSyncQueue creates a new MockSyncQueue
func NewMockSyncQueue() *MockSyncQueue {
	return &MockSyncQueue{tasks: make(map[string]*domain.SyncTask)}
}

func (m *MockSyncQueue) Enqueue(ctx context.Context, task *domain.SyncTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *task
	m.tasks[task.ID] = &cp
	return nil
}

func (m *MockSyncQueue) Dequeue(ctx context.Context, timeout time.Duration) (*domain.SyncTask, error) {
	if m.DequeueFn != nil {
		return m.DequeueFn()
	}

	m.mu.Lock()
	now := time.Now()
	var ready []*domain.SyncTask
	for _, t := range m.tasks {
		if t.IsReady(now) {
			ready = append(ready, t)
		}
	}
	if len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return ready[i].CreatedAt.Before(ready[j].CreatedAt) })
		t := ready[0]
		t.MarkProcessing(now)
		cp := *t
		m.mu.Unlock()
		return &cp, nil
	}
	m.mu.Unlock()

	if timeout > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(timeout):
		}
	}
	return nil, nil
}

func (m *MockSyncQueue) Ack(ctx context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return domain.ErrNotFound
	}
	t.MarkCompleted(time.Now())
	m.acks = append(m.acks, taskID)
	return nil
}

func (m *MockSyncQueue) Nack(ctx context.Context, taskID string, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return domain.ErrNotFound
	}
	if t.CanRetry() {
		t.Retry(reason, time.Now())
	} else {
		t.MarkFailed(reason, time.Now())
	}
	m.nacks = append(m.nacks, taskID)
	return nil
}

func (m *MockSyncQueue) Fail(ctx context.Context, taskID string, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return domain.ErrNotFound
	}
	t.MarkFailed(reason, time.Now())
	m.fails = append(m.fails, taskID)
	return nil
}

func (m *MockSyncQueue) GetTask(ctx context.Context, taskID string) (*domain.SyncTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MockSyncQueue) Purge(ctx context.Context, olderThan time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	purged := 0
	for id, t := range m.tasks {
		if t.IsFinished() && t.UpdatedAt.Before(cutoff) {
			delete(m.tasks, id)
			purged++
		}
	}
	return purged, nil
}

func (m *MockSyncQueue) Stats(ctx context.Context) (*driven.QueueStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &driven.QueueStats{}
	for _, t := range m.tasks {
		switch t.Status {
		case domain.SyncTaskPending:
			stats.PendingCount++
		case domain.SyncTaskProcessing:
			stats.ProcessingCount++
		case domain.SyncTaskFailed:
			stats.FailedCount++
		}
	}
	return stats, nil
}

func (m *MockSyncQueue) Ping(ctx context.Context) error {
	if m.PingFn != nil {
		return m.PingFn()
	}
	return nil
}

// Outcomes returns the ids passed to Ack, Nack and Fail.
func (m *MockSyncQueue) Outcomes() (acks, nacks, fails []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.acks...), append([]string(nil), m.nacks...), append([]string(nil), m.fails...)
}
