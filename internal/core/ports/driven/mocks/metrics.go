package mocks

import (
	"sync"
	"time"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
)

// MockMetrics records observations for assertions
type MockMetrics struct {
	mu          sync.Mutex
	Syncs       []*domain.SyncResult
	Refreshes   map[string]int
	Conversions map[domain.ConversionStatus]int
}

// NewMockMetrics creates a new MockMetrics
func NewMockMetrics() *MockMetrics {
	return &MockMetrics{
		Refreshes:   make(map[string]int),
		Conversions: make(map[domain.ConversionStatus]int),
	}
}

func (m *MockMetrics) ObserveSync(result *domain.SyncResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Syncs = append(m.Syncs, result)
}

func (m *MockMetrics) ObserveTokenRefresh(provider domain.ProviderType, outcome string, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Refreshes[outcome]++
}

func (m *MockMetrics) ObserveConversion(provider domain.ProviderType, status domain.ConversionStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Conversions[status]++
}

func (m *MockMetrics) RefreshCount(outcome string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Refreshes[outcome]
}
