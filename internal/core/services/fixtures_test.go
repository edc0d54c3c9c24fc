package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven/mocks"
)

// harness wires the core services over in-memory mocks.
type harness struct {
	companies   *mocks.MockCompanyStore
	tokens      *mocks.MockTokenStore
	products    *mocks.MockProductStore
	customers   *mocks.MockCustomerStore
	conversions *mocks.MockConversionStore
	metrics     *mocks.MockMetrics
	qbo         *mocks.MockProviderAdapter
	xero        *mocks.MockProviderAdapter

	manager    *TokenManager
	reconciler *Reconciler
	finalizer  *Finalizer
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		companies:   mocks.NewMockCompanyStore(),
		tokens:      mocks.NewMockTokenStore(),
		products:    mocks.NewMockProductStore(),
		customers:   mocks.NewMockCustomerStore(),
		conversions: mocks.NewMockConversionStore(),
		metrics:     mocks.NewMockMetrics(),
		qbo:         mocks.NewMockProviderAdapter(domain.ProviderQuickBooks),
		xero:        mocks.NewMockProviderAdapter(domain.ProviderXero),
	}

	h.manager = NewTokenManager(TokenManagerConfig{
		Companies: h.companies,
		Tokens:    h.tokens,
		Adapters:  mocks.NewMockAdapterRegistry(h.qbo, h.xero),
		Products:  h.products,
		Customers: h.customers,
		Metrics:   h.metrics,
	})
	h.reconciler = NewReconciler(ReconcilerConfig{
		Companies: h.companies,
		Products:  h.products,
		Customers: h.customers,
		Clients:   h.manager,
		Metrics:   h.metrics,
		PageSize:  500,
	})
	h.finalizer = NewFinalizer(FinalizerConfig{
		Companies:   h.companies,
		Clients:     h.manager,
		Conversions: h.conversions,
		Metrics:     h.metrics,
	})
	return h
}

// connect seeds a company bound to provider with a token valid for an hour.
func (h *harness) connect(t *testing.T, id string, provider domain.ProviderType) *domain.Company {
	t.Helper()
	ctx := context.Background()

	company := &domain.Company{
		ID:               id,
		Name:             "Company " + id,
		Provider:         provider,
		TenantID:         "tenant-" + id,
		ConnectionStatus: domain.ConnectionStatusConnected,
		SyncEnabled:      true,
		CreatedAt:        time.Now(),
	}
	if err := h.companies.Save(ctx, company); err != nil {
		t.Fatalf("seed company: %v", err)
	}
	if err := h.tokens.Save(ctx, &domain.TokenRecord{
		CompanyID:    id,
		Provider:     provider,
		TenantID:     company.TenantID,
		AccessToken:  "access-" + id,
		RefreshToken: "refresh-" + id,
		Expiry:       time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatalf("seed token: %v", err)
	}
	return company
}

func (h *harness) company(t *testing.T, id string) *domain.Company {
	t.Helper()
	c, err := h.companies.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get company %s: %v", id, err)
	}
	return c
}

func remoteItems(n int) []domain.RemoteItem {
	items := make([]domain.RemoteItem, n)
	for i := range items {
		items[i] = domain.RemoteItem{
			ExternalID: fmt.Sprintf("%d", i+1),
			SKU:        fmt.Sprintf("SKU-%04d", i+1),
			Name:       fmt.Sprintf("Item %d", i+1),
			Price:      float64(i+1) * 1.25,
		}
	}
	return items
}

func remoteCustomers(n int) []domain.RemoteCustomer {
	customers := make([]domain.RemoteCustomer, n)
	for i := range customers {
		customers[i] = domain.RemoteCustomer{
			ExternalID:  fmt.Sprintf("C%d", i+1),
			DisplayName: fmt.Sprintf("Customer %d", i+1),
		}
	}
	return customers
}

func revokedGrant(provider domain.ProviderType) error {
	return &domain.ProviderError{
		Provider:   provider,
		Op:         "refresh",
		StatusCode: 400,
		Code:       "invalid_grant",
		Message:    "Token invalid",
		Revoked:    true,
	}
}
