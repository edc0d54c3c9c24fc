package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driving"
)

// Ensure SyncRequests implements the driving port
var _ driving.SyncRequestService = (*SyncRequests)(nil)

// SyncRequests hands manual sync requests to the worker through the queue.
type SyncRequests struct {
	companies driven.CompanyStore
	queue     driven.SyncQueue
	logger    *slog.Logger
	now       func() time.Time
}

// SyncRequestsConfig holds dependencies for SyncRequests.
type SyncRequestsConfig struct {
	Companies driven.CompanyStore
	Queue     driven.SyncQueue
	Logger    *slog.Logger
	Now       func() time.Time
}

// NewSyncRequests creates the sync request service.
func NewSyncRequests(cfg SyncRequestsConfig) *SyncRequests {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &SyncRequests{
		companies: cfg.Companies,
		queue:     cfg.Queue,
		logger:    logger,
		now:       now,
	}
}

// RequestSync queues a sync of one connected company.
func (s *SyncRequests) RequestSync(ctx context.Context, companyID string) (*domain.SyncTask, error) {
	company, err := s.companies.Get(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("get company: %w", err)
	}
	if !company.IsConnected() {
		return nil, domain.ErrNotConnected
	}
	return s.enqueue(ctx, domain.NewSyncTask(domain.SyncTaskCompany, companyID, s.now()))
}

// RequestSyncAll queues a forced sync of every enabled company.
func (s *SyncRequests) RequestSyncAll(ctx context.Context) (*domain.SyncTask, error) {
	return s.enqueue(ctx, domain.NewSyncTask(domain.SyncTaskAll, "", s.now()))
}

// GetRequest returns a queued request by id.
func (s *SyncRequests) GetRequest(ctx context.Context, taskID string) (*domain.SyncTask, error) {
	return s.queue.GetTask(ctx, taskID)
}

func (s *SyncRequests) enqueue(ctx context.Context, task *domain.SyncTask) (*domain.SyncTask, error) {
	if err := s.queue.Enqueue(ctx, task); err != nil {
		return nil, fmt.Errorf("enqueue sync task: %w", err)
	}
	s.logger.Info("sync requested", "task_id", task.ID, "type", task.Type, "company_id", task.CompanyID)
	return task, nil
}
