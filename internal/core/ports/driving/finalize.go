package driving

import (
	"context"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
)

// FinalizationService turns local orders into remote estimates
type FinalizationService interface {
	// FinalizeOrder validates the order, creates the remote estimate and
	// records the outcome. ValidationError and RemoteDocumentFault are
	// returned unmodified.
	FinalizeOrder(ctx context.Context, companyID string, order *domain.Order) (*domain.ConversionOutcome, error)

	// GetConversion returns the last recorded outcome for an order number.
	GetConversion(ctx context.Context, companyID, orderNumber string) (*domain.ConversionRecord, error)

	// ListConversions returns recent outcomes for a company.
	ListConversions(ctx context.Context, companyID string, limit int) ([]*domain.ConversionRecord, error)
}

// CatalogService matches imported or picked rows against local products
type CatalogService interface {
	// MatchProduct tries external id, then SKU, then barcode.
	// Returns domain.ErrNotFound with MatchNone when nothing matches.
	MatchProduct(ctx context.Context, companyID string, key domain.ProductKey) (*domain.Product, domain.MatchKind, error)

	// ResolveOrderLines fills ExternalItemID on each line from local products and
	// returns the indexes of lines that stayed unresolved.
	ResolveOrderLines(ctx context.Context, companyID string, order *domain.Order) ([]int, error)
}
