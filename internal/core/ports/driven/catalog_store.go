package driven

import (
	"context"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
)

// ProductStore handles persistence for products.
// Lookups prefer non-archived rows over archived ones.
type ProductStore interface {
	// GetByExternalID returns domain.ErrNotFound if no product carries the id.
	GetByExternalID(ctx context.Context, companyID, externalID string) (*domain.Product, error)

	// GetBySKU returns domain.ErrNotFound if no product carries the SKU.
	GetBySKU(ctx context.Context, companyID, sku string) (*domain.Product, error)

	// GetByBarcode returns domain.ErrNotFound if no product carries the barcode.
	GetByBarcode(ctx context.Context, companyID, barcode string) (*domain.Product, error)

	// Save inserts or updates a product by ID.
	Save(ctx context.Context, product *domain.Product) error

	// ClearExternalIDs drops every external id for the company.
	// Used when the company switches provider.
	ClearExternalIDs(ctx context.Context, companyID string) (int, error)
}

// CustomerStore handles persistence for customers.
type CustomerStore interface {
	GetByExternalID(ctx context.Context, companyID, externalID string) (*domain.Customer, error)

	// GetByName matches the display name case-insensitively.
	GetByName(ctx context.Context, companyID, displayName string) (*domain.Customer, error)

	Save(ctx context.Context, customer *domain.Customer) error
	ClearExternalIDs(ctx context.Context, companyID string) (int, error)
}

// ConversionStore persists finalization outcomes keyed by (company, order number).
type ConversionStore interface {
	// Upsert writes the record, overwriting any earlier outcome for the
	// same order number and incrementing Attempts.
	Upsert(ctx context.Context, record *domain.ConversionRecord) error

	// Get returns domain.ErrNotFound if the order was never finalized.
	Get(ctx context.Context, companyID, orderNumber string) (*domain.ConversionRecord, error)

	// ListByCompany returns records newest first. limit <= 0 means no limit.
	ListByCompany(ctx context.Context, companyID string, limit int) ([]*domain.ConversionRecord, error)
}
