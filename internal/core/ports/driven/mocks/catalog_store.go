package mocks

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
)

// MockProductStore is an in-memory ProductStore for testing
type MockProductStore struct {
	mu       sync.RWMutex
	products map[string]*domain.Product

	// SaveFn runs before the default save; a non-nil error aborts the save.
	SaveFn func(product *domain.Product) error
}

// NewMockProductStore creates a new MockProductStore
func NewMockProductStore() *MockProductStore {
	return &MockProductStore{
		products: make(map[string]*domain.Product),
	}
}

func (m *MockProductStore) GetByExternalID(ctx context.Context, companyID, externalID string) (*domain.Product, error) {
	return m.find(func(p *domain.Product) bool {
		return p.CompanyID == companyID && p.ExternalID != nil && *p.ExternalID == externalID
	})
}

func (m *MockProductStore) GetBySKU(ctx context.Context, companyID, sku string) (*domain.Product, error) {
	return m.find(func(p *domain.Product) bool {
		return p.CompanyID == companyID && p.SKU == sku
	})
}

func (m *MockProductStore) GetByBarcode(ctx context.Context, companyID, barcode string) (*domain.Product, error) {
	return m.find(func(p *domain.Product) bool {
		return p.CompanyID == companyID && p.Barcode == barcode
	})
}

func (m *MockProductStore) Save(ctx context.Context, product *domain.Product) error {
	if m.SaveFn != nil {
		if err := m.SaveFn(product); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *product
	m.products[product.ID] = &cp
	return nil
}

func (m *MockProductStore) ClearExternalIDs(ctx context.Context, companyID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.products {
		if p.CompanyID == companyID && p.ExternalID != nil {
			p.ExternalID = nil
			n++
		}
	}
	return n, nil
}

// find prefers non-archived matches, then lowest ID for determinism.
func (m *MockProductStore) find(match func(*domain.Product) bool) (*domain.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var found []*domain.Product
	for _, p := range m.products {
		if match(p) {
			found = append(found, p)
		}
	}
	if len(found) == 0 {
		return nil, domain.ErrNotFound
	}
	sort.Slice(found, func(i, j int) bool {
		if found[i].Archived != found[j].Archived {
			return !found[i].Archived
		}
		return found[i].ID < found[j].ID
	})
	cp := *found[0]
	return &cp, nil
}

// Helper methods for testing

func (m *MockProductStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.products)
}

func (m *MockProductStore) All() []*domain.Product {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*domain.Product, 0, len(m.products))
	for _, p := range m.products {
		cp := *p
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// MockCustomerStore is an in-memory CustomerStore for testing
type MockCustomerStore struct {
	mu        sync.RWMutex
	customers map[string]*domain.Customer

	SaveFn func(customer *domain.Customer) error
}

// NewMockCustomerStore creates a new MockCustomerStore
func NewMockCustomerStore() *MockCustomerStore {
	return &MockCustomerStore{
		customers: make(map[string]*domain.Customer),
	}
}

func (m *MockCustomerStore) GetByExternalID(ctx context.Context, companyID, externalID string) (*domain.Customer, error) {
	return m.find(func(c *domain.Customer) bool {
		return c.CompanyID == companyID && c.ExternalID != nil && *c.ExternalID == externalID
	})
}

func (m *MockCustomerStore) GetByName(ctx context.Context, companyID, displayName string) (*domain.Customer, error) {
	return m.find(func(c *domain.Customer) bool {
		return c.CompanyID == companyID && strings.EqualFold(c.DisplayName, displayName)
	})
}

func (m *MockCustomerStore) Save(ctx context.Context, customer *domain.Customer) error {
	if m.SaveFn != nil {
		if err := m.SaveFn(customer); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *customer
	m.customers[customer.ID] = &cp
	return nil
}

func (m *MockCustomerStore) ClearExternalIDs(ctx context.Context, companyID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.customers {
		if c.CompanyID == companyID && c.ExternalID != nil {
			c.ExternalID = nil
			n++
		}
	}
	return n, nil
}

func (m *MockCustomerStore) find(match func(*domain.Customer) bool) (*domain.Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best *domain.Customer
	for _, c := range m.customers {
		if !match(c) {
			continue
		}
		if best == nil || (best.Archived && !c.Archived) || (best.Archived == c.Archived && c.ID < best.ID) {
			best = c
		}
	}
	if best == nil {
		return nil, domain.ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (m *MockCustomerStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.customers)
}

// MockConversionStore is an in-memory ConversionStore for testing
type MockConversionStore struct {
	mu      sync.RWMutex
	records map[string]*domain.ConversionRecord

	UpsertFn func(record *domain.ConversionRecord) error
}

// NewMockConversionStore creates a new MockConversionStore
func NewMockConversionStore() *MockConversionStore {
	return &MockConversionStore{
		records: make(map[string]*domain.ConversionRecord),
	}
}

func conversionKey(companyID, orderNumber string) string {
	return companyID + "/" + orderNumber
}

func (m *MockConversionStore) Upsert(ctx context.Context, record *domain.ConversionRecord) error {
	if m.UpsertFn != nil {
		return m.UpsertFn(record)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := conversionKey(record.CompanyID, record.OrderNumber)
	cp := *record
	if prev, ok := m.records[key]; ok {
		cp.Attempts = prev.Attempts + 1
		cp.CreatedAt = prev.CreatedAt
	} else {
		cp.Attempts = 1
	}
	m.records[key] = &cp
	record.Attempts = cp.Attempts
	return nil
}

func (m *MockConversionStore) Get(ctx context.Context, companyID, orderNumber string) (*domain.ConversionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[conversionKey(companyID, orderNumber)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MockConversionStore) ListByCompany(ctx context.Context, companyID string, limit int) ([]*domain.ConversionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.ConversionRecord
	for _, r := range m.records {
		if r.CompanyID == companyID {
			cp := *r
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UpdatedAt.After(result[j].UpdatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MockConversionStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
