package driven

import (
	"context"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
)

// TokenStore persists OAuth credentials encrypted at rest.
// There is at most one record per company; writes overwrite the whole record.
type TokenStore interface {
	// Get returns the decrypted token for a company.
	// Returns domain.ErrNotFound if the company has no stored token.
	Get(ctx context.Context, companyID string) (*domain.TokenRecord, error)

	// Save creates or overwrites the token for token.CompanyID.
	Save(ctx context.Context, token *domain.TokenRecord) error

	// Delete removes the company's token. Deleting a missing token is not an error.
	Delete(ctx context.Context, companyID string) error
}
