package mocks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
)

// MockCompanyStore is an in-memory CompanyStore for testing
type MockCompanyStore struct {
	mu        sync.RWMutex
	companies map[string]*domain.Company

	ListConnectedFn func() ([]*domain.Company, error)
}

// NewMockCompanyStore creates a new MockCompanyStore
func NewMockCompanyStore() *MockCompanyStore {
	return &MockCompanyStore{
		companies: make(map[string]*domain.Company),
	}
}

func (m *MockCompanyStore) Get(ctx context.Context, id string) (*domain.Company, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.companies[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MockCompanyStore) Save(ctx context.Context, company *domain.Company) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *company
	m.companies[company.ID] = &cp
	return nil
}

func (m *MockCompanyStore) ListConnected(ctx context.Context) ([]*domain.Company, error) {
	if m.ListConnectedFn != nil {
		return m.ListConnectedFn()
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.Company
	for _, c := range m.companies {
		if c.HasProvider() {
			cp := *c
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *MockCompanyStore) SetConnection(ctx context.Context, id string, provider domain.ProviderType, tenantID string) error {
	return m.update(id, func(c *domain.Company) {
		c.Provider = provider
		c.TenantID = tenantID
		c.ConnectionStatus = domain.ConnectionStatusConnected
	})
}

func (m *MockCompanyStore) ClearConnection(ctx context.Context, id string) error {
	return m.update(id, func(c *domain.Company) {
		c.Provider = ""
		c.TenantID = ""
		c.ConnectionStatus = domain.ConnectionStatusDisconnected
		c.LastSyncAt = nil
	})
}

func (m *MockCompanyStore) SetConnectionStatus(ctx context.Context, id string, status domain.ConnectionStatus) error {
	return m.update(id, func(c *domain.Company) {
		c.ConnectionStatus = status
	})
}

func (m *MockCompanyStore) RecordSyncAttempt(ctx context.Context, id string, at time.Time, succeeded bool, syncErr string) error {
	return m.update(id, func(c *domain.Company) {
		c.LastSyncAttemptAt = &at
		c.LastSyncError = syncErr
		if succeeded {
			c.LastSyncAt = &at
		}
	})
}

func (m *MockCompanyStore) update(id string, fn func(*domain.Company)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.companies[id]
	if !ok {
		return domain.ErrNotFound
	}
	fn(c)
	c.UpdatedAt = time.Now()
	return nil
}
