package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
)

// CompanyStore handles persistence for companies and their connection state.
type CompanyStore interface {
	// Get returns domain.ErrNotFound if the company doesn't exist.
	Get(ctx context.Context, id string) (*domain.Company, error)

	// Save creates or updates a company.
	Save(ctx context.Context, company *domain.Company) error

	// ListConnected returns every company with an active provider binding,
	// whatever its sync flag.
	ListConnected(ctx context.Context) ([]*domain.Company, error)

	// SetConnection binds the company to a provider tenant and marks it connected.
	SetConnection(ctx context.Context, id string, provider domain.ProviderType, tenantID string) error

	// ClearConnection removes the provider binding and resets LastSyncAt.
	ClearConnection(ctx context.Context, id string) error

	// SetConnectionStatus updates the status without touching the binding.
	SetConnectionStatus(ctx context.Context, id string, status domain.ConnectionStatus) error

	// RecordSyncAttempt stores the attempt time and error.
	// LastSyncAt is advanced only when succeeded is true.
	RecordSyncAttempt(ctx context.Context, id string, at time.Time, succeeded bool, syncErr string) error
}
