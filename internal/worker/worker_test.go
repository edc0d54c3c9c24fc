package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven/mocks"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driving"
)

// mockScheduler implements driving.SyncScheduler for testing
type mockScheduler struct {
	mu      sync.Mutex
	starts  int
	stops   int
	forced  int
	startFn func() error
}

var _ driving.SyncScheduler = (*mockScheduler)(nil)

func (m *mockScheduler) RunAllDue(ctx context.Context) (map[string]*domain.SyncResult, error) {
	return map[string]*domain.SyncResult{}, nil
}

func (m *mockScheduler) RunAll(ctx context.Context) (map[string]*domain.SyncResult, error) {
	m.mu.Lock()
	m.forced++
	m.mu.Unlock()
	return map[string]*domain.SyncResult{
		"co-1": {CompanyID: "co-1", Success: true},
		"co-2": {CompanyID: "co-2", Error: "provider unavailable"},
	}, nil
}

func (m *mockScheduler) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.starts++
	if m.startFn != nil {
		return m.startFn()
	}
	return nil
}

func (m *mockScheduler) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
}

func (m *mockScheduler) counts() (starts, stops int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts, m.stops
}

// mockReconciler implements driving.Reconciler for testing
type mockReconciler struct {
	mu     sync.Mutex
	synced []string
	err    error
}

var _ driving.Reconciler = (*mockReconciler)(nil)

func (m *mockReconciler) SyncCompany(ctx context.Context, companyID string) (*domain.SyncResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.synced = append(m.synced, companyID)
	return &domain.SyncResult{CompanyID: companyID, Success: m.err == nil}, m.err
}

func (m *mockReconciler) CancelSync(companyID string) error {
	return domain.ErrNotFound
}

func (m *mockReconciler) calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.synced...)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewWorker_Defaults(t *testing.T) {
	w := NewWorker(WorkerConfig{})

	if w.logger == nil {
		t.Error("expected default logger")
	}
	if w.cleanupInterval != 5*time.Minute {
		t.Errorf("expected cleanupInterval 5m, got %v", w.cleanupInterval)
	}
}

func TestWorker_StartStop(t *testing.T) {
	sched := &mockScheduler{}
	w := NewWorker(WorkerConfig{
		Scheduler: sched,
		States:    mocks.NewMockOAuthStateStore(),
		Logger:    quietLogger(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := w.Start(ctx); err != nil {
		t.Fatalf("failed to start worker: %v", err)
	}
	if !w.Health(ctx).Running {
		t.Error("expected worker to be running")
	}

	// Start again should be no-op
	if err := w.Start(ctx); err != nil {
		t.Errorf("second start should not error: %v", err)
	}

	w.Stop()
	if w.Health(ctx).Running {
		t.Error("expected worker to be stopped")
	}

	// Stop again should be no-op
	w.Stop()

	starts, stops := sched.counts()
	if starts != 1 || stops != 1 {
		t.Errorf("scheduler starts=%d stops=%d, want 1/1", starts, stops)
	}
}

func TestWorker_SchedulerStartErrorIsNotFatal(t *testing.T) {
	sched := &mockScheduler{startFn: func() error { return errors.New("boom") }}
	w := NewWorker(WorkerConfig{Scheduler: sched, Logger: quietLogger()})

	ctx := context.Background()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Stop()

	if !w.Health(ctx).Running {
		t.Error("worker should keep running without its scheduler")
	}
}

func TestWorker_PurgesExpiredStates(t *testing.T) {
	states := mocks.NewMockOAuthStateStore()
	ctx := context.Background()

	_ = states.Save(ctx, &driven.OAuthState{Nonce: "old", ExpiresAt: time.Now().Add(-time.Minute)})
	_ = states.Save(ctx, &driven.OAuthState{Nonce: "fresh", ExpiresAt: time.Now().Add(time.Hour)})

	w := NewWorker(WorkerConfig{
		States:          states,
		Logger:          quietLogger(),
		CleanupInterval: 10 * time.Millisecond,
	})
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for states.Count() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("expired state not purged, %d states left", states.Count())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWorker_ContextCancellation(t *testing.T) {
	w := NewWorker(WorkerConfig{
		States:          mocks.NewMockOAuthStateStore(),
		Logger:          quietLogger(),
		CleanupInterval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()

	done := make(chan struct{})
	go func() {
		w.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after context cancellation")
	}
	w.Stop()
}

func TestWorker_Health(t *testing.T) {
	lock := mocks.NewMockDistributedLock()
	w := NewWorker(WorkerConfig{Lock: lock, Logger: quietLogger()})
	ctx := context.Background()

	health := w.Health(ctx)
	if health.Running {
		t.Error("worker should not be running before Start")
	}
	if !health.LockHealth || health.Error != "" {
		t.Errorf("unexpected health %+v", health)
	}

	lock.PingFn = func() error { return errors.New("redis down") }
	health = w.Health(ctx)
	if health.LockHealth {
		t.Error("expected lock health false")
	}
	if health.Error != "redis down" {
		t.Errorf("expected error 'redis down', got %q", health.Error)
	}
}

func TestWorker_Health_NoLock(t *testing.T) {
	w := NewWorker(WorkerConfig{Logger: quietLogger()})
	if !w.Health(context.Background()).LockHealth {
		t.Error("no lock backend should report healthy")
	}
}

// runQueued starts a worker over queue, waits until cond holds and stops it.
func runQueued(t *testing.T, cfg WorkerConfig, cond func() bool) {
	t.Helper()
	cfg.Logger = quietLogger()
	cfg.DequeueTimeout = 10 * time.Millisecond
	w := NewWorker(cfg)
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func enqueue(t *testing.T, q *mocks.MockSyncQueue, taskType domain.SyncTaskType, companyID string) *domain.SyncTask {
	t.Helper()
	task := domain.NewSyncTask(taskType, companyID, time.Now().Add(-time.Second))
	if err := q.Enqueue(context.Background(), task); err != nil {
		t.Fatal(err)
	}
	return task
}

func status(q *mocks.MockSyncQueue, id string) domain.SyncTaskStatus {
	task, err := q.GetTask(context.Background(), id)
	if err != nil {
		return ""
	}
	return task.Status
}

func TestWorker_ProcessesCompanyTask(t *testing.T) {
	queue := mocks.NewMockSyncQueue()
	rec := &mockReconciler{}
	task := enqueue(t, queue, domain.SyncTaskCompany, "co-1")

	runQueued(t, WorkerConfig{Queue: queue, Reconciler: rec}, func() bool {
		return status(queue, task.ID) == domain.SyncTaskCompleted
	})

	if calls := rec.calls(); len(calls) != 1 || calls[0] != "co-1" {
		t.Errorf("reconciler calls = %v, want [co-1]", calls)
	}
	acks, nacks, fails := queue.Outcomes()
	if len(acks) != 1 || len(nacks) != 0 || len(fails) != 0 {
		t.Errorf("outcomes acks=%v nacks=%v fails=%v", acks, nacks, fails)
	}
}

func TestWorker_ProcessesSyncAllTask(t *testing.T) {
	queue := mocks.NewMockSyncQueue()
	sched := &mockScheduler{}
	task := enqueue(t, queue, domain.SyncTaskAll, "")

	// one failed company does not fail the request
	runQueued(t, WorkerConfig{Queue: queue, Scheduler: sched}, func() bool {
		return status(queue, task.ID) == domain.SyncTaskCompleted
	})

	sched.mu.Lock()
	defer sched.mu.Unlock()
	if sched.forced != 1 {
		t.Errorf("RunAll calls = %d, want 1", sched.forced)
	}
}

func TestWorker_TransientErrorIsNacked(t *testing.T) {
	queue := mocks.NewMockSyncQueue()
	rec := &mockReconciler{err: &domain.TransientError{Provider: domain.ProviderXero, Err: errors.New("503")}}
	task := enqueue(t, queue, domain.SyncTaskCompany, "co-1")

	runQueued(t, WorkerConfig{Queue: queue, Reconciler: rec}, func() bool {
		_, nacks, _ := queue.Outcomes()
		return len(nacks) > 0
	})

	got, err := queue.GetTask(context.Background(), task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.SyncTaskPending || got.Error == "" {
		t.Errorf("expected task rescheduled with error, got %+v", got)
	}
}

func TestWorker_PermanentErrorsFail(t *testing.T) {
	tests := []struct {
		name     string
		taskType domain.SyncTaskType
		company  string
		err      error
	}{
		{"reauth", domain.SyncTaskCompany, "co-1", &domain.ReAuthRequiredError{Provider: domain.ProviderQuickBooks, CompanyID: "co-1", Err: domain.ErrGrantRevoked}},
		{"not connected", domain.SyncTaskCompany, "co-1", fmt.Errorf("sync: %w", domain.ErrNotConnected)},
		{"missing company id", domain.SyncTaskCompany, "", nil},
		{"unknown type", domain.SyncTaskType("rebuild"), "co-1", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			queue := mocks.NewMockSyncQueue()
			rec := &mockReconciler{err: tt.err}
			task := enqueue(t, queue, tt.taskType, tt.company)

			runQueued(t, WorkerConfig{Queue: queue, Reconciler: rec}, func() bool {
				return status(queue, task.ID) == domain.SyncTaskFailed
			})

			_, nacks, fails := queue.Outcomes()
			if len(fails) != 1 || len(nacks) != 0 {
				t.Errorf("expected a single Fail, got nacks=%v fails=%v", nacks, fails)
			}
		})
	}
}

func TestWorker_PurgesFinishedTasks(t *testing.T) {
	queue := mocks.NewMockSyncQueue()
	task := enqueue(t, queue, domain.SyncTaskCompany, "co-1")
	if err := queue.Fail(context.Background(), task.ID, "reauth"); err != nil {
		t.Fatal(err)
	}

	w := NewWorker(WorkerConfig{
		Queue:           queue,
		Logger:          quietLogger(),
		DequeueTimeout:  10 * time.Millisecond,
		CleanupInterval: 10 * time.Millisecond,
		TaskRetention:   time.Nanosecond,
	})
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for status(queue, task.ID) != "" {
		if time.Now().After(deadline) {
			t.Fatal("finished task not purged")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWorker_Health_Queue(t *testing.T) {
	queue := mocks.NewMockSyncQueue()
	enqueue(t, queue, domain.SyncTaskAll, "")
	w := NewWorker(WorkerConfig{Queue: queue, Logger: quietLogger()})
	ctx := context.Background()

	health := w.Health(ctx)
	if !health.QueueHealth || health.Queue == nil || health.Queue.PendingCount != 1 {
		t.Errorf("unexpected health %+v", health)
	}

	queue.PingFn = func() error { return errors.New("queue down") }
	health = w.Health(ctx)
	if health.QueueHealth || health.Error != "queue down" {
		t.Errorf("expected queue failure, got %+v", health)
	}
}

func TestWorker_DisablePeriodicKeepsSyncAll(t *testing.T) {
	queue := mocks.NewMockSyncQueue()
	sched := &mockScheduler{}
	task := enqueue(t, queue, domain.SyncTaskAll, "")

	runQueued(t, WorkerConfig{Queue: queue, Scheduler: sched, DisablePeriodic: true}, func() bool {
		return status(queue, task.ID) == domain.SyncTaskCompleted
	})

	if starts, stops := sched.counts(); starts != 0 || stops != 0 {
		t.Errorf("periodic loop must not run, starts=%d stops=%d", starts, stops)
	}
}
