package mocks

import (
	"context"
	"sync"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
)

// MockTokenStore is an in-memory TokenStore for testing
type MockTokenStore struct {
	mu     sync.RWMutex
	tokens map[string]*domain.TokenRecord
	saves  int

	GetFn    func(companyID string) (*domain.TokenRecord, error)
	SaveFn   func(token *domain.TokenRecord) error
	DeleteFn func(companyID string) error
}

// NewMockTokenStore creates a new MockTokenStore
func NewMockTokenStore() *MockTokenStore {
	return &MockTokenStore{
		tokens: make(map[string]*domain.TokenRecord),
	}
}

func (m *MockTokenStore) Get(ctx context.Context, companyID string) (*domain.TokenRecord, error) {
	if m.GetFn != nil {
		return m.GetFn(companyID)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	tok, ok := m.tokens[companyID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *tok
	return &cp, nil
}

func (m *MockTokenStore) Save(ctx context.Context, token *domain.TokenRecord) error {
	if m.SaveFn != nil {
		return m.SaveFn(token)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *token
	m.tokens[token.CompanyID] = &cp
	m.saves++
	return nil
}

func (m *MockTokenStore) Delete(ctx context.Context, companyID string) error {
	if m.DeleteFn != nil {
		return m.DeleteFn(companyID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, companyID)
	return nil
}

// Helper methods for testing

func (m *MockTokenStore) Has(companyID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.tokens[companyID]
	return ok
}

func (m *MockTokenStore) SaveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}
