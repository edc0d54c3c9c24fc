package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven/mocks"
)

// stubReconciler lets scheduler tests script per-company outcomes.
type stubReconciler struct {
	mu     sync.Mutex
	calls  []string
	syncFn func(companyID string) (*domain.SyncResult, error)
}

func (s *stubReconciler) SyncCompany(ctx context.Context, companyID string) (*domain.SyncResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, companyID)
	s.mu.Unlock()
	if s.syncFn != nil {
		return s.syncFn(companyID)
	}
	return &domain.SyncResult{CompanyID: companyID, Success: true}, nil
}

func (s *stubReconciler) CancelSync(companyID string) error { return nil }

func (s *stubReconciler) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func TestNewScheduler_Defaults(t *testing.T) {
	s := NewScheduler(SchedulerConfig{
		Companies:  mocks.NewMockCompanyStore(),
		Reconciler: &stubReconciler{},
	})

	if s.interval != 5*time.Minute {
		t.Errorf("expected default interval 5m, got %v", s.interval)
	}
	if s.concurrency != 1 {
		t.Errorf("expected sequential default, got %d", s.concurrency)
	}
	if s.logger == nil {
		t.Error("expected default logger")
	}
	if s.lockRequired {
		t.Error("lock should not be required without a lock")
	}
}

func TestRunAllDue_RevokedCompanyIsolated(t *testing.T) {
	h := newHarness(t)
	for _, id := range []string{"c1", "c2", "c3"} {
		h.connect(t, id, domain.ProviderQuickBooks)
	}
	h.qbo.Items = remoteItems(5)

	// c2's grant was revoked at the provider
	tok, _ := h.tokens.Get(context.Background(), "c2")
	tok.Expiry = time.Now().Add(-time.Minute)
	_ = h.tokens.Save(context.Background(), tok)
	h.qbo.RefreshFn = func(tok *domain.TokenRecord) (*domain.TokenRecord, error) {
		return nil, revokedGrant(domain.ProviderQuickBooks)
	}

	s := NewScheduler(SchedulerConfig{Companies: h.companies, Reconciler: h.reconciler})

	results, err := s.RunAllDue(context.Background())
	if err != nil {
		t.Fatalf("RunAllDue() error = %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}
	for _, id := range []string{"c1", "c3"} {
		if !results[id].Success {
			t.Errorf("%s: Success = false, error = %s", id, results[id].Error)
		}
	}
	r2 := results["c2"]
	if r2.Success || !r2.ReAuthRequired {
		t.Errorf("c2 = %+v, want failed with re-auth", r2)
	}
	if !strings.Contains(r2.Error, "re-authentication required") {
		t.Errorf("c2 error = %q", r2.Error)
	}
}

func TestRunAllDue_SkipsDisabledAndNotDue(t *testing.T) {
	companies := mocks.NewMockCompanyStore()
	recent := time.Now().Add(-10 * time.Minute)
	stale := time.Now().Add(-2 * time.Hour)
	for _, c := range []*domain.Company{
		{ID: "disabled", Provider: domain.ProviderXero, SyncEnabled: false},
		{ID: "fresh", Provider: domain.ProviderXero, SyncEnabled: true, LastSyncAt: &recent},
		{ID: "stale", Provider: domain.ProviderQuickBooks, SyncEnabled: true, LastSyncAt: &stale},
		{ID: "never", Provider: domain.ProviderQuickBooks, SyncEnabled: true},
		{ID: "unbound", SyncEnabled: true},
	} {
		_ = companies.Save(context.Background(), c)
	}

	rec := &stubReconciler{}
	s := NewScheduler(SchedulerConfig{Companies: companies, Reconciler: rec})

	results, err := s.RunAllDue(context.Background())
	if err != nil {
		t.Fatalf("RunAllDue() error = %v", err)
	}

	if r := results["disabled"]; r == nil || !r.Success || !r.Skipped {
		t.Errorf("disabled = %+v, want skipped success", r)
	}
	if _, ok := results["fresh"]; ok {
		t.Error("not-due company should be omitted")
	}
	if _, ok := results["unbound"]; ok {
		t.Error("unconnected company should be omitted")
	}
	calls := rec.Calls()
	if len(calls) != 2 || calls[0] != "never" || calls[1] != "stale" {
		t.Errorf("synced = %v, want [never stale]", calls)
	}
}

func TestRunAll_IgnoresDueTime(t *testing.T) {
	companies := mocks.NewMockCompanyStore()
	recent := time.Now()
	_ = companies.Save(context.Background(), &domain.Company{ID: "fresh", Provider: domain.ProviderXero, SyncEnabled: true, LastSyncAt: &recent})

	rec := &stubReconciler{}
	s := NewScheduler(SchedulerConfig{Companies: companies, Reconciler: rec})

	results, err := s.RunAll(context.Background())
	if err != nil {
		t.Fatalf("RunAll() error = %v", err)
	}
	if len(results) != 1 || len(rec.Calls()) != 1 {
		t.Errorf("results = %v, calls = %v", results, rec.Calls())
	}
}

func TestRunAllDue_PanicBecomesFailure(t *testing.T) {
	companies := mocks.NewMockCompanyStore()
	_ = companies.Save(context.Background(), &domain.Company{ID: "a", Provider: domain.ProviderXero, SyncEnabled: true})
	_ = companies.Save(context.Background(), &domain.Company{ID: "b", Provider: domain.ProviderXero, SyncEnabled: true})

	rec := &stubReconciler{syncFn: func(id string) (*domain.SyncResult, error) {
		if id == "a" {
			panic("boom")
		}
		return &domain.SyncResult{CompanyID: id, Success: true}, nil
	}}
	s := NewScheduler(SchedulerConfig{Companies: companies, Reconciler: rec})

	results, err := s.RunAllDue(context.Background())
	if err != nil {
		t.Fatalf("RunAllDue() error = %v", err)
	}
	if results["a"].Success || !strings.Contains(results["a"].Error, "boom") {
		t.Errorf("a = %+v", results["a"])
	}
	if !results["b"].Success {
		t.Errorf("b = %+v", results["b"])
	}
}

func TestRunAllDue_ErrorWithoutResult(t *testing.T) {
	companies := mocks.NewMockCompanyStore()
	_ = companies.Save(context.Background(), &domain.Company{ID: "a", Provider: domain.ProviderQuickBooks, SyncEnabled: true})

	rec := &stubReconciler{syncFn: func(string) (*domain.SyncResult, error) {
		return nil, errors.New("store unavailable")
	}}
	s := NewScheduler(SchedulerConfig{Companies: companies, Reconciler: rec})

	results, _ := s.RunAllDue(context.Background())
	if r := results["a"]; r == nil || r.Success || r.Error != "store unavailable" {
		t.Errorf("a = %+v", r)
	}
}

func TestRunAllDue_BoundedConcurrency(t *testing.T) {
	companies := mocks.NewMockCompanyStore()
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		_ = companies.Save(context.Background(), &domain.Company{ID: id, Provider: domain.ProviderXero, SyncEnabled: true})
	}

	var inFlight, peak int32
	rec := &stubReconciler{syncFn: func(id string) (*domain.SyncResult, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return &domain.SyncResult{CompanyID: id, Success: true}, nil
	}}
	s := NewScheduler(SchedulerConfig{Companies: companies, Reconciler: rec, Concurrency: 2})

	results, err := s.RunAllDue(context.Background())
	if err != nil {
		t.Fatalf("RunAllDue() error = %v", err)
	}
	if len(results) != 6 {
		t.Errorf("results = %d, want 6", len(results))
	}
	if got := atomic.LoadInt32(&peak); got > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", got)
	}
}

func TestRunAllDue_ListError(t *testing.T) {
	companies := mocks.NewMockCompanyStore()
	companies.ListConnectedFn = func() ([]*domain.Company, error) {
		return nil, errors.New("db down")
	}
	s := NewScheduler(SchedulerConfig{Companies: companies, Reconciler: &stubReconciler{}})

	if _, err := s.RunAllDue(context.Background()); err == nil {
		t.Error("expected error")
	}
}

func TestScheduler_StartStop(t *testing.T) {
	companies := mocks.NewMockCompanyStore()
	_ = companies.Save(context.Background(), &domain.Company{ID: "a", Provider: domain.ProviderXero, SyncEnabled: true})
	rec := &stubReconciler{}
	lock := mocks.NewMockDistributedLock()

	s := NewScheduler(SchedulerConfig{
		Companies:    companies,
		Reconciler:   rec,
		Lock:         lock,
		PollInterval: 100 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("failed to start scheduler: %v", err)
	}
	if !s.IsRunning() {
		t.Error("expected scheduler to be running")
	}

	// Start again should be no-op
	if err := s.Start(ctx); err != nil {
		t.Errorf("second start should not error: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for len(rec.Calls()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	s.Stop()
	if s.IsRunning() {
		t.Error("expected scheduler to be stopped")
	}
	if len(rec.Calls()) == 0 {
		t.Error("expected an immediate cycle on start")
	}
	if lock.IsHeld(schedulerLockName) {
		t.Error("lock should be released after the cycle")
	}

	// Stop again should be no-op
	s.Stop()
}

func TestScheduler_LongCycleKeepsLock(t *testing.T) {
	companies := mocks.NewMockCompanyStore()
	_ = companies.Save(context.Background(), &domain.Company{ID: "a", Provider: domain.ProviderXero, SyncEnabled: true})
	lock := mocks.NewMockDistributedLock()

	var heldAtEnd atomic.Bool
	rec := &stubReconciler{syncFn: func(id string) (*domain.SyncResult, error) {
		// Outlive the TTL several times over
		time.Sleep(200 * time.Millisecond)
		heldAtEnd.Store(lock.IsHeld(schedulerLockName))
		return &domain.SyncResult{CompanyID: id, Success: true}, nil
	}}

	s := NewScheduler(SchedulerConfig{
		Companies:     companies,
		Reconciler:    rec,
		Lock:          lock,
		LockTTL:       60 * time.Millisecond,
		LockHeartbeat: 15 * time.Millisecond,
	})
	s.tick(context.Background())

	if !heldAtEnd.Load() {
		t.Error("lock expired while the cycle was still running")
	}
	if n := lock.Extends(); n < 2 {
		t.Errorf("Extend calls = %d, want at least 2", n)
	}
	if lock.IsHeld(schedulerLockName) {
		t.Error("lock should be released after the cycle")
	}

	// No heartbeat outlives the cycle
	after := lock.Extends()
	time.Sleep(50 * time.Millisecond)
	if lock.Extends() != after {
		t.Error("lock extended after the cycle finished")
	}
}

func TestNewScheduler_HeartbeatDefaultsToThirdOfTTL(t *testing.T) {
	s := NewScheduler(SchedulerConfig{LockTTL: 9 * time.Minute, LockHeartbeat: 10 * time.Minute})
	if s.lockHeartbeat != 3*time.Minute {
		t.Errorf("lockHeartbeat = %v, want 3m", s.lockHeartbeat)
	}
}

func TestScheduler_SkipsCycleWhenLockHeld(t *testing.T) {
	companies := mocks.NewMockCompanyStore()
	_ = companies.Save(context.Background(), &domain.Company{ID: "a", Provider: domain.ProviderXero, SyncEnabled: true})
	rec := &stubReconciler{}
	lock := mocks.NewMockDistributedLock()
	lock.SetLockHeld(schedulerLockName, time.Minute)

	s := NewScheduler(SchedulerConfig{Companies: companies, Reconciler: rec, Lock: lock})
	s.tick(context.Background())

	if len(rec.Calls()) != 0 {
		t.Errorf("calls = %v, want none while another instance holds the lock", rec.Calls())
	}
}

func TestScheduler_LockErrorSkipsCycle(t *testing.T) {
	companies := mocks.NewMockCompanyStore()
	_ = companies.Save(context.Background(), &domain.Company{ID: "a", Provider: domain.ProviderXero, SyncEnabled: true})
	rec := &stubReconciler{}
	lock := mocks.NewMockDistributedLock()
	lock.AcquireFn = func(string, time.Duration) (bool, error) {
		return false, errors.New("redis unavailable")
	}

	s := NewScheduler(SchedulerConfig{Companies: companies, Reconciler: rec, Lock: lock})
	s.tick(context.Background())

	if len(rec.Calls()) != 0 {
		t.Errorf("calls = %v, want none", rec.Calls())
	}
}

func TestScheduler_ContextCancellation(t *testing.T) {
	s := NewScheduler(SchedulerConfig{
		Companies:    mocks.NewMockCompanyStore(),
		Reconciler:   &stubReconciler{},
		PollInterval: 100 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("failed to start: %v", err)
	}

	cancel()
	time.Sleep(50 * time.Millisecond)

	// Stop cleans up after the loop exited on its own
	s.Stop()
	if s.IsRunning() {
		t.Error("expected scheduler to be stopped after context cancellation")
	}
}
