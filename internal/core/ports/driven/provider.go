package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
)

// ProviderAdapter is the capability interface implemented once per accounting
// platform. Adapters are stateless with respect to companies: every call takes
// the token it should use.
//
// Failures are returned as *domain.ProviderError. An adapter sets Revoked when
// it recognizes the provider's revocation signature and never decides handling.
// Document-level rejections from CreateEstimate are *domain.RemoteDocumentFault.
type ProviderAdapter interface {
	// Type returns the provider this adapter talks to.
	Type() domain.ProviderType

	// RefreshWindow is how long before expiry an access token is refreshed.
	RefreshWindow() time.Duration

	// BuildAuthURL returns the authorization URL the user is redirected to.
	BuildAuthURL(state string) string

	// ExchangeCode trades an authorization code for a token.
	// tenantHint is the realm id returned on the callback (QuickBooks); adapters
	// that resolve the tenant themselves ignore it.
	ExchangeCode(ctx context.Context, code, tenantHint string) (*domain.TokenRecord, error)

	// Refresh returns a new token for the given one.
	Refresh(ctx context.Context, token *domain.TokenRecord) (*domain.TokenRecord, error)

	// Revoke invalidates the grant on the provider side.
	Revoke(ctx context.Context, token *domain.TokenRecord) error

	FetchUserInfo(ctx context.Context, token *domain.TokenRecord) (*domain.UserInfo, error)
	FetchCompanyInfo(ctx context.Context, token *domain.TokenRecord) (*domain.CompanyInfo, error)

	// FetchItemsPage returns one page of items starting at cursor.
	FetchItemsPage(ctx context.Context, token *domain.TokenRecord, cursor domain.Cursor) (*domain.ItemPage, error)

	// FetchCustomersPage returns one page of customers starting at cursor.
	FetchCustomersPage(ctx context.Context, token *domain.TokenRecord, cursor domain.Cursor) (*domain.CustomerPage, error)

	// CreateEstimate creates an estimate (QuickBooks) or quote (Xero).
	CreateEstimate(ctx context.Context, token *domain.TokenRecord, payload *domain.EstimatePayload) (*domain.RemoteDocumentRef, error)
}

// AdapterRegistry resolves the adapter for a provider.
type AdapterRegistry interface {
	// Get returns domain.ErrUnknownProvider if no adapter is registered.
	Get(provider domain.ProviderType) (ProviderAdapter, error)

	// Providers lists the registered providers.
	Providers() []domain.ProviderType
}

// ProviderClient is a provider adapter bound to one company's valid token.
// Its errors are already classified into the domain taxonomy.
type ProviderClient interface {
	Provider() domain.ProviderType
	CompanyID() string
	TenantID() string

	FetchUserInfo(ctx context.Context) (*domain.UserInfo, error)
	FetchCompanyInfo(ctx context.Context) (*domain.CompanyInfo, error)
	FetchItemsPage(ctx context.Context, cursor domain.Cursor) (*domain.ItemPage, error)
	FetchCustomersPage(ctx context.Context, cursor domain.Cursor) (*domain.CustomerPage, error)
	CreateEstimate(ctx context.Context, payload *domain.EstimatePayload) (*domain.RemoteDocumentRef, error)
}
