package driving

import (
	"context"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
)

// Reconciler pulls remote products and customers into local storage
type Reconciler interface {
	// SyncCompany runs one full reconciliation for a company.
	// A recorded SyncResult is returned even when err is non-nil.
	SyncCompany(ctx context.Context, companyID string) (*domain.SyncResult, error)

	// CancelSync cancels an in-flight sync for a company.
	// Returns domain.ErrNotFound if none is running.
	CancelSync(companyID string) error
}

// SyncScheduler runs reconciliation across companies
type SyncScheduler interface {
	// RunAllDue syncs every connected, enabled company whose interval elapsed.
	// Disabled companies get a skipped result; companies not yet due are omitted.
	RunAllDue(ctx context.Context) (map[string]*domain.SyncResult, error)

	// RunAll syncs every connected, enabled company regardless of due time.
	RunAll(ctx context.Context) (map[string]*domain.SyncResult, error)

	// Start begins the periodic loop.
	Start(ctx context.Context) error

	// Stop stops the loop and waits for the current tick to finish.
	Stop()
}

// SyncRequestService queues manual "sync now" requests for the worker
type SyncRequestService interface {
	// RequestSync queues a sync of one company.
	// Returns domain.ErrNotFound for unknown companies and
	// domain.ErrNotConnected when the company has no usable connection.
	RequestSync(ctx context.Context, companyID string) (*domain.SyncTask, error)

	// RequestSyncAll queues a forced sync of every enabled company.
	RequestSyncAll(ctx context.Context) (*domain.SyncTask, error)

	// GetRequest returns the current state of a queued request.
	GetRequest(ctx context.Context, taskID string) (*domain.SyncTask, error)
}
