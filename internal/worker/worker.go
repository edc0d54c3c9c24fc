package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driving"
)

// Worker hosts the background side of the service.
// It runs the sync scheduler, drains manually requested syncs from the
// queue and purges expired OAuth states and finished tasks.
type Worker struct {
	scheduler  driving.SyncScheduler
	periodic   bool
	reconciler driving.Reconciler
	queue      driven.SyncQueue
	states     driven.OAuthStateStore
	lock       driven.DistributedLock
	logger     *slog.Logger

	// Configuration
	concurrency     int
	dequeueTimeout  time.Duration
	cleanupInterval time.Duration
	taskRetention   time.Duration

	// Internal state
	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// WorkerConfig holds configuration for the worker.
type WorkerConfig struct {
	Scheduler       driving.SyncScheduler  // Optional: runs periodic syncs and sync_all tasks
	DisablePeriodic bool                   // Keep the scheduler for sync_all tasks but never Start it
	Reconciler      driving.Reconciler     // Required when Queue is set
	Queue           driven.SyncQueue       // Optional: nil disables manual sync requests
	States          driven.OAuthStateStore // Optional: nil disables state cleanup
	Lock            driven.DistributedLock // Optional: reported by Health
	Logger          *slog.Logger
	Concurrency     int           // Number of concurrent task processors (default: 1)
	DequeueTimeout  time.Duration // How long to wait for a task before checking again (default: 5s)
	CleanupInterval time.Duration // How often expired states are purged (default: 5m)
	TaskRetention   time.Duration // How long finished tasks are kept (default: 24h)
}

// NewWorker creates a new worker.
func NewWorker(cfg WorkerConfig) *Worker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	dequeueTimeout := cfg.DequeueTimeout
	if dequeueTimeout <= 0 {
		dequeueTimeout = 5 * time.Second
	}

	interval := cfg.CleanupInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	retention := cfg.TaskRetention
	if retention <= 0 {
		retention = 24 * time.Hour
	}

	return &Worker{
		scheduler:       cfg.Scheduler,
		periodic:        cfg.Scheduler != nil && !cfg.DisablePeriodic,
		reconciler:      cfg.Reconciler,
		queue:           cfg.Queue,
		states:          cfg.States,
		lock:            cfg.Lock,
		logger:          logger,
		concurrency:     concurrency,
		dequeueTimeout:  dequeueTimeout,
		cleanupInterval: interval,
		taskRetention:   retention,
	}
}

// Start begins the worker loops.
// It runs until Stop is called or context is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	w.logger.Info("worker starting",
		"periodic_sync", w.periodic,
		"queue", w.queue != nil,
		"concurrency", w.concurrency,
		"cleanup_interval", w.cleanupInterval,
	)

	if w.periodic {
		if err := w.scheduler.Start(ctx); err != nil {
			w.logger.Error("failed to start scheduler", "error", err)
		}
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.cleanupLoop(ctx)
	}()

	if w.queue != nil {
		for i := 0; i < w.concurrency; i++ {
			wg.Add(1)
			go func(workerID int) {
				defer wg.Done()
				w.processLoop(ctx, workerID)
			}(i)
		}
	}

	go func() {
		wg.Wait()
		close(w.doneCh)
	}()

	return nil
}

// Stop gracefully stops the worker and its scheduler.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	close(w.stopCh)
	w.mu.Unlock()

	if w.periodic {
		w.scheduler.Stop()
	}

	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("worker stopped")
}

// Wait blocks until the worker stops.
func (w *Worker) Wait() {
	w.mu.RLock()
	done := w.doneCh
	w.mu.RUnlock()
	if done != nil {
		<-done
	}
}

// processLoop drains the sync queue until stopped.
func (w *Worker) processLoop(ctx context.Context, workerID int) {
	logger := w.logger.With("worker_id", workerID)
	logger.Debug("queue processor started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		default:
		}

		task, err := w.queue.Dequeue(ctx, w.dequeueTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			logger.Error("failed to dequeue sync task", "error", err)
			select {
			case <-ctx.Done():
			case <-w.stopCh:
			case <-time.After(time.Second):
			}
			continue
		}
		if task == nil {
			continue
		}

		w.processTask(ctx, task, logger)
	}
}

// processTask runs one task and settles it on the queue.
// Failures a retry cannot fix are failed outright; everything else is nacked.
func (w *Worker) processTask(ctx context.Context, task *domain.SyncTask, logger *slog.Logger) {
	logger = logger.With("task_id", task.ID, "task_type", task.Type, "company_id", task.CompanyID, "attempt", task.Attempts)
	logger.Info("processing sync task")

	start := time.Now()
	err := w.runTask(ctx, task)
	duration := time.Since(start)

	switch {
	case err == nil:
		logger.Info("sync task completed", "duration", duration)
		if ackErr := w.queue.Ack(ctx, task.ID); ackErr != nil {
			logger.Error("failed to ack sync task", "ack_error", ackErr)
		}
	case permanent(err):
		logger.Warn("sync task failed permanently", "duration", duration, "error", err)
		if failErr := w.queue.Fail(ctx, task.ID, err.Error()); failErr != nil {
			logger.Error("failed to fail sync task", "fail_error", failErr)
		}
	default:
		logger.Error("sync task failed", "duration", duration, "error", err)
		if nackErr := w.queue.Nack(ctx, task.ID, err.Error()); nackErr != nil {
			logger.Error("failed to nack sync task", "nack_error", nackErr)
		}
	}
}

func (w *Worker) runTask(ctx context.Context, task *domain.SyncTask) error {
	switch task.Type {
	case domain.SyncTaskCompany:
		return w.handleSyncCompany(ctx, task)
	case domain.SyncTaskAll:
		return w.handleSyncAll(ctx)
	default:
		return &domain.ValidationError{Problems: []string{fmt.Sprintf("unknown sync task type %q", task.Type)}}
	}
}

func (w *Worker) handleSyncCompany(ctx context.Context, task *domain.SyncTask) error {
	if task.CompanyID == "" {
		return &domain.ValidationError{Problems: []string{"sync task has no company id"}}
	}
	if w.reconciler == nil {
		return errors.New("no reconciler configured")
	}
	_, err := w.reconciler.SyncCompany(ctx, task.CompanyID)
	return err
}

// handleSyncAll forces a cycle over every company. Per-company failures are
// already recorded on the companies, so only a cycle-level error fails the task.
func (w *Worker) handleSyncAll(ctx context.Context) error {
	if w.scheduler == nil {
		return errors.New("no scheduler configured")
	}
	results, err := w.scheduler.RunAll(ctx)
	if err != nil {
		return err
	}

	failed := 0
	for _, r := range results {
		if !r.Success && !r.Skipped {
			failed++
		}
	}
	if failed > 0 {
		w.logger.Warn("some company syncs failed", "total", len(results), "failed", failed)
	}
	return nil
}

func permanent(err error) bool {
	var verr *domain.ValidationError
	return domain.IsReAuthRequired(err) ||
		errors.As(err, &verr) ||
		errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrNotConnected)
}

// cleanupLoop purges expired OAuth states and old tasks until stopped.
func (w *Worker) cleanupLoop(ctx context.Context) {
	if w.states == nil && w.queue == nil {
		select {
		case <-ctx.Done():
		case <-w.stopCh:
		}
		return
	}

	ticker := time.NewTicker(w.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.cleanup(ctx)
		}
	}
}

func (w *Worker) cleanup(ctx context.Context) {
	if w.states != nil {
		if err := w.states.Cleanup(ctx); err != nil {
			w.logger.Warn("failed to purge expired oauth states", "error", err)
		} else {
			w.logger.Debug("expired oauth states purged")
		}
	}

	if w.queue != nil {
		purged, err := w.queue.Purge(ctx, w.taskRetention)
		if err != nil {
			w.logger.Warn("failed to purge finished sync tasks", "error", err)
		} else if purged > 0 {
			w.logger.Info("finished sync tasks purged", "count", purged)
		}
	}
}

// Health reports the worker's liveness.
type Health struct {
	Running     bool               `json:"running"`
	LockHealth  bool               `json:"lock_health"`
	QueueHealth bool               `json:"queue_health"`
	Queue       *driven.QueueStats `json:"queue,omitempty"`
	Error       string             `json:"error,omitempty"`
}

// Health returns the health status of the worker.
// Missing backends report healthy.
func (w *Worker) Health(ctx context.Context) Health {
	w.mu.RLock()
	running := w.running
	w.mu.RUnlock()

	health := Health{
		Running:     running,
		LockHealth:  true,
		QueueHealth: true,
	}

	var errs []error
	if w.lock != nil {
		if err := w.lock.Ping(ctx); err != nil {
			health.LockHealth = false
			errs = append(errs, err)
		}
	}

	if w.queue != nil {
		if err := w.queue.Ping(ctx); err != nil {
			health.QueueHealth = false
			errs = append(errs, err)
		} else if stats, err := w.queue.Stats(ctx); err == nil {
			health.Queue = stats
		}
	}

	if len(errs) > 0 {
		health.Error = errors.Join(errs...).Error()
	}
	return health
}
