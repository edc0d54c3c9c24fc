package driving

import (
	"context"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
)

// TokenManager owns the OAuth token lifecycle for companies.
type TokenManager interface {
	// GetUsableClient returns a client bound to a valid access token,
	// refreshing first when needed. Refresh failures are classified into
	// *domain.ReAuthRequiredError or *domain.TransientError.
	GetUsableClient(ctx context.Context, companyID string) (driven.ProviderClient, error)

	// Connect exchanges an authorization code, stores the token and binds the company.
	Connect(ctx context.Context, companyID string, provider domain.ProviderType, code, tenantHint string) (*domain.Company, error)

	// Disconnect revokes the grant (best effort) and always deletes local credentials.
	// A revoke failure is returned wrapping domain.ErrRevokeFailed after cleanup.
	Disconnect(ctx context.Context, companyID string) error
}
