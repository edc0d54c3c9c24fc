package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
)

// MockProviderAdapter is a scriptable ProviderAdapter. Without hooks it pages
// over Items and Customers with offset semantics and issues fresh tokens.
type MockProviderAdapter struct {
	mu sync.Mutex

	ProviderType domain.ProviderType
	Window       time.Duration

	Items     []domain.RemoteItem
	Customers []domain.RemoteCustomer

	ExchangeFn       func(code, tenantHint string) (*domain.TokenRecord, error)
	RefreshFn        func(token *domain.TokenRecord) (*domain.TokenRecord, error)
	RevokeFn         func(token *domain.TokenRecord) error
	CompanyInfoFn    func(token *domain.TokenRecord) (*domain.CompanyInfo, error)
	ItemsPageFn      func(cursor domain.Cursor) (*domain.ItemPage, error)
	CustomersPageFn  func(cursor domain.Cursor) (*domain.CustomerPage, error)
	CreateEstimateFn func(payload *domain.EstimatePayload) (*domain.RemoteDocumentRef, error)

	// Call counters
	RefreshCalls        int
	RevokeCalls         int
	ItemPageCalls       int
	CustomerPageCalls   int
	CreateEstimateCalls int
	LastToken           *domain.TokenRecord
	Estimates           []*domain.EstimatePayload
}

var _ driven.ProviderAdapter = (*MockProviderAdapter)(nil)

// NewMockProviderAdapter creates an adapter for the given provider
func NewMockProviderAdapter(provider domain.ProviderType) *MockProviderAdapter {
	return &MockProviderAdapter{
		ProviderType: provider,
		Window:       5 * time.Minute,
	}
}

func (m *MockProviderAdapter) Type() domain.ProviderType { return m.ProviderType }

func (m *MockProviderAdapter) RefreshWindow() time.Duration { return m.Window }

func (m *MockProviderAdapter) BuildAuthURL(state string) string {
	return fmt.Sprintf("https://auth.example.test/%s/authorize?state=%s", m.ProviderType, state)
}

func (m *MockProviderAdapter) ExchangeCode(ctx context.Context, code, tenantHint string) (*domain.TokenRecord, error) {
	if m.ExchangeFn != nil {
		return m.ExchangeFn(code, tenantHint)
	}
	tenant := tenantHint
	if tenant == "" {
		tenant = "tenant-" + code
	}
	return &domain.TokenRecord{
		Provider:     m.ProviderType,
		TenantID:     tenant,
		AccessToken:  "access-" + code,
		RefreshToken: "refresh-" + code,
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(time.Hour),
	}, nil
}

func (m *MockProviderAdapter) Refresh(ctx context.Context, token *domain.TokenRecord) (*domain.TokenRecord, error) {
	m.mu.Lock()
	m.RefreshCalls++
	n := m.RefreshCalls
	m.mu.Unlock()

	if m.RefreshFn != nil {
		return m.RefreshFn(token)
	}
	next := *token
	next.AccessToken = fmt.Sprintf("access-refreshed-%d", n)
	next.RefreshToken = fmt.Sprintf("refresh-refreshed-%d", n)
	next.Expiry = time.Now().Add(time.Hour)
	return &next, nil
}

func (m *MockProviderAdapter) Revoke(ctx context.Context, token *domain.TokenRecord) error {
	m.mu.Lock()
	m.RevokeCalls++
	m.mu.Unlock()
	if m.RevokeFn != nil {
		return m.RevokeFn(token)
	}
	return nil
}

func (m *MockProviderAdapter) FetchUserInfo(ctx context.Context, token *domain.TokenRecord) (*domain.UserInfo, error) {
	return &domain.UserInfo{ID: "user-1", Email: "owner@example.test", Name: "Owner"}, nil
}

func (m *MockProviderAdapter) FetchCompanyInfo(ctx context.Context, token *domain.TokenRecord) (*domain.CompanyInfo, error) {
	if m.CompanyInfoFn != nil {
		return m.CompanyInfoFn(token)
	}
	return &domain.CompanyInfo{TenantID: token.TenantID, Name: "Remote Co"}, nil
}

func (m *MockProviderAdapter) FetchItemsPage(ctx context.Context, token *domain.TokenRecord, cursor domain.Cursor) (*domain.ItemPage, error) {
	m.mu.Lock()
	m.ItemPageCalls++
	m.LastToken = token
	m.mu.Unlock()

	if m.ItemsPageFn != nil {
		return m.ItemsPageFn(cursor)
	}
	start, end := window(cursor, len(m.Items))
	items := append([]domain.RemoteItem(nil), m.Items[start:end]...)
	return &domain.ItemPage{Items: items, Next: cursor.NextOffset(len(items))}, nil
}

func (m *MockProviderAdapter) FetchCustomersPage(ctx context.Context, token *domain.TokenRecord, cursor domain.Cursor) (*domain.CustomerPage, error) {
	m.mu.Lock()
	m.CustomerPageCalls++
	m.LastToken = token
	m.mu.Unlock()

	if m.CustomersPageFn != nil {
		return m.CustomersPageFn(cursor)
	}
	start, end := window(cursor, len(m.Customers))
	customers := append([]domain.RemoteCustomer(nil), m.Customers[start:end]...)
	return &domain.CustomerPage{Customers: customers, Next: cursor.NextOffset(len(customers))}, nil
}

func (m *MockProviderAdapter) CreateEstimate(ctx context.Context, token *domain.TokenRecord, payload *domain.EstimatePayload) (*domain.RemoteDocumentRef, error) {
	m.mu.Lock()
	m.CreateEstimateCalls++
	m.Estimates = append(m.Estimates, payload)
	n := m.CreateEstimateCalls
	m.mu.Unlock()

	if m.CreateEstimateFn != nil {
		return m.CreateEstimateFn(payload)
	}
	id := fmt.Sprintf("est-%d", n)
	return &domain.RemoteDocumentRef{
		ID:     id,
		Number: payload.DocNumber,
		URL:    "https://app.example.test/estimates/" + id,
	}, nil
}

// window converts a 1-based offset cursor into slice bounds.
func window(c domain.Cursor, total int) (int, int) {
	start := c.Position - 1
	if start > total {
		start = total
	}
	end := start + c.PageSize
	if end > total {
		end = total
	}
	return start, end
}

// MockAdapterRegistry is a map-backed AdapterRegistry
type MockAdapterRegistry struct {
	adapters map[domain.ProviderType]driven.ProviderAdapter
}

// NewMockAdapterRegistry registers the given adapters by their Type
func NewMockAdapterRegistry(adapters ...driven.ProviderAdapter) *MockAdapterRegistry {
	r := &MockAdapterRegistry{adapters: make(map[domain.ProviderType]driven.ProviderAdapter)}
	for _, a := range adapters {
		r.adapters[a.Type()] = a
	}
	return r
}

func (r *MockAdapterRegistry) Get(provider domain.ProviderType) (driven.ProviderAdapter, error) {
	a, ok := r.adapters[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownProvider, provider)
	}
	return a, nil
}

func (r *MockAdapterRegistry) Providers() []domain.ProviderType {
	var out []domain.ProviderType
	for p := range r.adapters {
		out = append(out, p)
	}
	return out
}
