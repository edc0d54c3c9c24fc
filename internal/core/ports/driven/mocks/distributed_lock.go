package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
)

var _ driven.DistributedLock = (*MockDistributedLock)(nil)

// MockDistributedLock keeps lock expiries in memory.
// Hooks override the default behavior when set.
type MockDistributedLock struct {
	mu       sync.Mutex
	expiries map[string]time.Time
	acquires int
	releases int
	extends  int

	AcquireFn func(name string, ttl time.Duration) (bool, error)
	ExtendFn  func(name string, ttl time.Duration) error
	PingFn    func() error
}

// NewMockDistributedLock creates a new mock distributed lock.
func NewMockDistributedLock() *MockDistributedLock {
	return &MockDistributedLock{
		expiries: make(map[string]time.Time),
	}
}

func (m *MockDistributedLock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	m.acquires++
	m.mu.Unlock()

	if m.AcquireFn != nil {
		return m.AcquireFn(name, ttl)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if exp, ok := m.expiries[name]; ok && time.Now().Before(exp) {
		return false, nil
	}
	m.expiries[name] = time.Now().Add(ttl)
	return true, nil
}

func (m *MockDistributedLock) Release(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releases++
	delete(m.expiries, name)
	return nil
}

func (m *MockDistributedLock) Extend(ctx context.Context, name string, ttl time.Duration) error {
	m.mu.Lock()
	m.extends++
	m.mu.Unlock()

	if m.ExtendFn != nil {
		return m.ExtendFn(name, ttl)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	exp, ok := m.expiries[name]
	if !ok || time.Now().After(exp) {
		return fmt.Errorf("lock %s not held", name)
	}
	m.expiries[name] = time.Now().Add(ttl)
	return nil
}

func (m *MockDistributedLock) Ping(ctx context.Context) error {
	if m.PingFn != nil {
		return m.PingFn()
	}
	return nil
}

// SetLockHeld makes the lock look held by another instance.
func (m *MockDistributedLock) SetLockHeld(name string, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expiries[name] = time.Now().Add(ttl)
}

// IsHeld reports whether the lock is currently held.
func (m *MockDistributedLock) IsHeld(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp, ok := m.expiries[name]
	return ok && time.Now().Before(exp)
}

// Counts returns how many Acquire and Release calls were made.
func (m *MockDistributedLock) Counts() (acquires, releases int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acquires, m.releases
}

// Extends returns how many Extend calls were made.
func (m *MockDistributedLock) Extends() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.extends
}
