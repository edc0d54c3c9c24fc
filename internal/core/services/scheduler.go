package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driving"
)

// Ensure Scheduler implements the driving port
var _ driving.SyncScheduler = (*Scheduler)(nil)

const schedulerLockName = "sync-scheduler"

// Scheduler runs periodic syncs for every connected company.
// A failing company never stops the others; each gets its own SyncResult.
//
// For multi-worker deployments, configure a DistributedLock so only one
// instance runs a cycle at a time.
type Scheduler struct {
	companies   driven.CompanyStore
	reconciler  driving.Reconciler
	lock        driven.DistributedLock
	logger      *slog.Logger
	now         func() time.Time
	concurrency int

	// Internal state
	mu       sync.RWMutex
	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	interval time.Duration

	// Lock configuration
	lockTTL       time.Duration
	lockHeartbeat time.Duration
	lockRequired  bool
}

// SchedulerConfig holds configuration for the scheduler.
type SchedulerConfig struct {
	Companies     driven.CompanyStore
	Reconciler    driving.Reconciler
	Lock          driven.DistributedLock // Optional: distributed lock for multi-instance coordination
	Logger        *slog.Logger
	Now           func() time.Time
	PollInterval  time.Duration // How often to check for due companies (default: 5m)
	Concurrency   int           // Companies synced in parallel (default: 1)
	LockTTL       time.Duration // TTL for the distributed lock (default: 30m)
	LockHeartbeat time.Duration // How often a running cycle extends the lock (default: LockTTL/3)
	LockRequired  bool          // Skip the cycle when the lock backend errors
}

// NewScheduler creates a new scheduler.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	interval := cfg.PollInterval
	if interval == 0 {
		interval = 5 * time.Minute
	}

	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	// A cycle may take a while; the lock must outlive it.
	lockTTL := cfg.LockTTL
	if lockTTL == 0 {
		lockTTL = 30 * time.Minute
	}
	heartbeat := cfg.LockHeartbeat
	if heartbeat <= 0 || heartbeat >= lockTTL {
		heartbeat = lockTTL / 3
	}

	return &Scheduler{
		companies:     cfg.Companies,
		reconciler:    cfg.Reconciler,
		lock:          cfg.Lock,
		logger:        logger,
		now:           now,
		concurrency:   concurrency,
		interval:      interval,
		lockTTL:       lockTTL,
		lockHeartbeat: heartbeat,
		lockRequired:  cfg.Lock != nil || cfg.LockRequired,
	}
}

// RunAllDue syncs every enabled company whose interval has elapsed.
// Disabled companies get a skipped result; companies not yet due are omitted.
func (s *Scheduler) RunAllDue(ctx context.Context) (map[string]*domain.SyncResult, error) {
	return s.runCycle(ctx, false)
}

// RunAll syncs every enabled company regardless of when it last ran.
func (s *Scheduler) RunAll(ctx context.Context) (map[string]*domain.SyncResult, error) {
	return s.runCycle(ctx, true)
}

func (s *Scheduler) runCycle(ctx context.Context, force bool) (map[string]*domain.SyncResult, error) {
	companies, err := s.companies.ListConnected(ctx)
	if err != nil {
		return nil, fmt.Errorf("list connected companies: %w", err)
	}

	now := s.now()
	results := make(map[string]*domain.SyncResult, len(companies))
	var mu sync.Mutex
	record := func(r *domain.SyncResult) {
		mu.Lock()
		results[r.CompanyID] = r
		mu.Unlock()
	}

	var g errgroup.Group
	g.SetLimit(s.concurrency)

	for _, company := range companies {
		if !company.SyncEnabled {
			record(&domain.SyncResult{
				CompanyID: company.ID,
				Provider:  company.Provider,
				Success:   true,
				Skipped:   true,
				StartedAt: now,
			})
			continue
		}
		if !force && !company.IsSyncDue(now) {
			continue
		}

		company := company
		g.Go(func() error {
			record(s.syncOne(ctx, company))
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info("sync cycle finished",
		"forced", force,
		"companies", len(companies),
		"attempted", len(results),
	)
	return results, nil
}

// syncOne runs a single company and always returns a result.
func (s *Scheduler) syncOne(ctx context.Context, company *domain.Company) (result *domain.SyncResult) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("sync panicked", "company_id", company.ID, "panic", p)
			result = &domain.SyncResult{
				CompanyID: company.ID,
				Provider:  company.Provider,
				StartedAt: s.now(),
				Error:     fmt.Sprintf("panic: %v", p),
			}
		}
	}()

	result, err := s.reconciler.SyncCompany(ctx, company.ID)
	if result == nil {
		result = &domain.SyncResult{
			CompanyID: company.ID,
			Provider:  company.Provider,
			StartedAt: s.now(),
		}
	}
	if err != nil {
		result.Success = false
		if result.Error == "" {
			result.Error = err.Error()
		}
		result.ReAuthRequired = result.ReAuthRequired || domain.IsReAuthRequired(err)
	}
	return result
}

// Start begins the scheduler loop.
// It runs until Stop is called or context is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	s.logger.Info("scheduler starting",
		"poll_interval", s.interval,
		"concurrency", s.concurrency,
	)

	go s.run(ctx)

	return nil
}

// Stop gracefully stops the scheduler.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	s.mu.Unlock()

	// Wait for the loop to finish
	<-s.doneCh

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.logger.Info("scheduler stopped")
}

// IsRunning reports whether the ticker loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// run is the main scheduler loop.
func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run immediately on start
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs one due-cycle under the distributed lock, if configured.
func (s *Scheduler) tick(ctx context.Context) {
	if s.lock != nil {
		acquired, err := s.lock.Acquire(ctx, schedulerLockName, s.lockTTL)
		if err != nil {
			s.logger.Warn("failed to acquire scheduler lock", "error", err)
			if s.lockRequired {
				return
			}
		} else if !acquired {
			s.logger.Debug("scheduler lock held by another instance, skipping cycle")
			return
		} else {
			stop := s.keepLock(ctx)
			defer func() {
				stop()
				if err := s.lock.Release(context.WithoutCancel(ctx), schedulerLockName); err != nil {
					s.logger.Warn("failed to release scheduler lock", "error", err)
				}
			}()
		}
	}

	results, err := s.RunAllDue(ctx)
	if err != nil {
		s.logger.Error("sync cycle failed", "error", err)
		return
	}

	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}
	if failed > 0 {
		s.logger.Warn("sync cycle had failures", "failed", failed, "total", len(results))
	}
}

// keepLock extends the scheduler lock until the returned func is called.
// A cycle can page through many records per company and outlast the TTL.
func (s *Scheduler) keepLock(ctx context.Context) (stop func()) {
	done := make(chan struct{})
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)
		ticker := time.NewTicker(s.lockHeartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.lock.Extend(ctx, schedulerLockName, s.lockTTL); err != nil {
					s.logger.Warn("failed to extend scheduler lock", "error", err)
				}
			}
		}
	}()

	return func() {
		close(done)
		<-stopped
	}
}
