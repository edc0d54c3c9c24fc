package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driving"
)

// Ensure Reconciler implements the driving port
var _ driving.Reconciler = (*Reconciler)(nil)

// ClientSource hands out provider clients bound to a valid token.
type ClientSource interface {
	GetUsableClient(ctx context.Context, companyID string) (driven.ProviderClient, error)
}

// Reconciler merges a provider's customers and products into local storage.
// It runs the sync flow:
//  1. Acquire a usable client (failure aborts the company)
//  2. Page through customers, persisting each page before the next fetch
//  3. Page through products the same way
//  4. Record the attempt on the company and return the SyncResult
type Reconciler struct {
	companies driven.CompanyStore
	products  driven.ProductStore
	customers driven.CustomerStore
	clients   ClientSource
	metrics   driven.Metrics
	logger    *slog.Logger
	pageSize  int
	now       func() time.Time

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// ReconcilerConfig holds dependencies for Reconciler.
type ReconcilerConfig struct {
	Companies driven.CompanyStore
	Products  driven.ProductStore
	Customers driven.CustomerStore
	Clients   ClientSource
	Metrics   driven.Metrics
	Logger    *slog.Logger
	PageSize  int // records per provider call (default: 500)
	Now       func() time.Time
}

// NewReconciler creates a new reconciler.
func NewReconciler(cfg ReconcilerConfig) *Reconciler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = driven.NopMetrics{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Reconciler{
		companies: cfg.Companies,
		products:  cfg.Products,
		customers: cfg.Customers,
		clients:   cfg.Clients,
		metrics:   metrics,
		logger:    logger,
		pageSize:  domain.FirstCursor(cfg.PageSize).PageSize,
		now:       now,
		running:   make(map[string]context.CancelFunc),
	}
}

// SyncCompany synchronizes a single company.
func (r *Reconciler) SyncCompany(ctx context.Context, companyID string) (*domain.SyncResult, error) {
	result := &domain.SyncResult{
		CompanyID: companyID,
		StartedAt: r.now(),
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if !r.register(companyID, cancel) {
		result.Error = domain.ErrSyncInProgress.Error()
		return result, domain.ErrSyncInProgress
	}
	defer r.unregister(companyID)

	r.logger.Info("starting sync", "company_id", companyID)

	company, err := r.companies.Get(ctx, companyID)
	if err != nil {
		err = fmt.Errorf("get company: %w", err)
		result.Error = err.Error()
		result.Duration = r.now().Sub(result.StartedAt)
		r.logger.Error("sync failed", "company_id", companyID, "error", err)
		return result, err
	}
	result.Provider = company.Provider

	client, err := r.clients.GetUsableClient(ctx, companyID)
	if err != nil {
		return r.finish(ctx, result, fmt.Errorf("acquire client: %w", err))
	}

	// Customer pagination failures are recorded but do not block products.
	customerErr := r.syncCustomers(ctx, client, result)
	if customerErr != nil && (domain.IsReAuthRequired(customerErr) || ctx.Err() != nil) {
		return r.finish(ctx, result, customerErr)
	}
	if customerErr != nil {
		r.logger.Warn("customer sync aborted, continuing with products",
			"company_id", companyID,
			"error", customerErr,
		)
	}

	productErr := r.syncProducts(ctx, client, result)

	return r.finish(ctx, result, errors.Join(customerErr, productErr))
}

// CancelSync cancels a running sync. Pages already persisted are kept.
func (r *Reconciler) CancelSync(companyID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cancel, ok := r.running[companyID]
	if !ok {
		return fmt.Errorf("%w: no sync running for %s", domain.ErrNotFound, companyID)
	}
	cancel()
	return nil
}

// IsRunning reports whether a sync is in flight for the company.
func (r *Reconciler) IsRunning(companyID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.running[companyID]
	return ok
}

func (r *Reconciler) register(companyID string, cancel context.CancelFunc) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.running[companyID]; busy {
		return false
	}
	r.running[companyID] = cancel
	return true
}

func (r *Reconciler) unregister(companyID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.running, companyID)
}

func (r *Reconciler) syncCustomers(ctx context.Context, client driven.ProviderClient, result *domain.SyncResult) error {
	cursor := domain.FirstCursor(r.pageSize)
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("customer sync cancelled: %w", err)
		}

		page, err := client.FetchCustomersPage(ctx, cursor)
		if err != nil {
			return fmt.Errorf("fetch customers page %s: %w", cursor, err)
		}

		for i := range page.Customers {
			r.reconcileCustomer(ctx, client.CompanyID(), &page.Customers[i], result)
		}

		if page.Next == nil {
			return nil
		}
		cursor = *page.Next
	}
}

func (r *Reconciler) syncProducts(ctx context.Context, client driven.ProviderClient, result *domain.SyncResult) error {
	cursor := domain.FirstCursor(r.pageSize)
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("product sync cancelled: %w", err)
		}

		page, err := client.FetchItemsPage(ctx, cursor)
		if err != nil {
			return fmt.Errorf("fetch items page %s: %w", cursor, err)
		}

		for i := range page.Items {
			r.reconcileItem(ctx, client.CompanyID(), &page.Items[i], result)
		}

		if page.Next == nil {
			return nil
		}
		cursor = *page.Next
	}
}

// reconcileItem upserts one remote item. Failures are recorded on the result.
func (r *Reconciler) reconcileItem(ctx context.Context, companyID string, item *domain.RemoteItem, result *domain.SyncResult) {
	result.Products.Total++

	key := item.ExternalID
	if key == "" {
		key = item.SKU
	}
	// Items match by external id or SKU only. A row keyed by neither could
	// never be found again and would be inserted anew on every run.
	if item.ExternalID == "" && item.SKU == "" {
		result.Products.Errored++
		result.AddError("item", fmt.Sprintf("%q", item.Name), errors.New("no external id or SKU"))
		return
	}

	existing, err := r.matchProduct(ctx, companyID, item)
	if err != nil {
		result.Products.Errored++
		result.AddError("item", key, err)
		return
	}

	now := r.now()
	if existing == nil {
		product := &domain.Product{
			ID:        domain.NewID(),
			CompanyID: companyID,
			CreatedAt: now,
		}
		applyItem(product, item)
		product.UpdatedAt = now
		if err := r.products.Save(ctx, product); err != nil {
			result.Products.Errored++
			result.AddError("item", key, err)
			return
		}
		result.Products.Created++
		return
	}

	if !applyItem(existing, item) {
		return
	}
	existing.UpdatedAt = now
	if err := r.products.Save(ctx, existing); err != nil {
		result.Products.Errored++
		result.AddError("item", key, err)
		return
	}
	result.Products.Updated++
}

// matchProduct finds the local row by external id, then by SKU.
// A SKU match already mapped to a different external id is not reused.
func (r *Reconciler) matchProduct(ctx context.Context, companyID string, item *domain.RemoteItem) (*domain.Product, error) {
	if item.ExternalID != "" {
		p, err := r.products.GetByExternalID(ctx, companyID, item.ExternalID)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("lookup by external id: %w", err)
		}
	}

	if item.SKU == "" {
		return nil, nil
	}
	p, err := r.products.GetBySKU(ctx, companyID, item.SKU)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup by sku: %w", err)
	}
	if p.ExternalID != nil && *p.ExternalID != item.ExternalID {
		return nil, nil
	}
	return p, nil
}

// applyItem copies remote fields onto p and reports whether anything changed.
// Barcode is local-only and never overwritten.
func applyItem(p *domain.Product, item *domain.RemoteItem) bool {
	changed := false
	if item.ExternalID != "" && domain.Deref(p.ExternalID) != item.ExternalID {
		p.ExternalID = domain.StringPtr(item.ExternalID)
		changed = true
	}
	if item.SKU != "" && p.SKU != item.SKU {
		p.SKU = item.SKU
		changed = true
	}
	if item.Name != "" && p.Name != item.Name {
		p.Name = item.Name
		changed = true
	}
	if p.Description != item.Description {
		p.Description = item.Description
		changed = true
	}
	if p.Price != item.Price {
		p.Price = item.Price
		changed = true
	}
	if p.QuantityOnHand != item.QuantityOnHand {
		p.QuantityOnHand = item.QuantityOnHand
		changed = true
	}
	if p.Archived != item.Archived {
		p.Archived = item.Archived
		changed = true
	}
	return changed
}

func (r *Reconciler) reconcileCustomer(ctx context.Context, companyID string, rc *domain.RemoteCustomer, result *domain.SyncResult) {
	result.Customers.Total++

	key := rc.ExternalID
	if key == "" {
		key = rc.DisplayName
	}
	if rc.ExternalID == "" && strings.TrimSpace(rc.DisplayName) == "" {
		result.Customers.Errored++
		result.AddError("customer", "(unnamed)", errors.New("no external id or display name"))
		return
	}

	existing, err := r.matchCustomer(ctx, companyID, rc)
	if err != nil {
		result.Customers.Errored++
		result.AddError("customer", key, err)
		return
	}

	now := r.now()
	if existing == nil {
		customer := &domain.Customer{
			ID:        domain.NewID(),
			CompanyID: companyID,
			CreatedAt: now,
		}
		applyCustomer(customer, rc)
		customer.UpdatedAt = now
		if err := r.customers.Save(ctx, customer); err != nil {
			result.Customers.Errored++
			result.AddError("customer", key, err)
			return
		}
		result.Customers.Created++
		return
	}

	if !applyCustomer(existing, rc) {
		return
	}
	existing.UpdatedAt = now
	if err := r.customers.Save(ctx, existing); err != nil {
		result.Customers.Errored++
		result.AddError("customer", key, err)
		return
	}
	result.Customers.Updated++
}

func (r *Reconciler) matchCustomer(ctx context.Context, companyID string, rc *domain.RemoteCustomer) (*domain.Customer, error) {
	if rc.ExternalID != "" {
		c, err := r.customers.GetByExternalID(ctx, companyID, rc.ExternalID)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("lookup by external id: %w", err)
		}
	}

	if rc.DisplayName == "" {
		return nil, nil
	}
	c, err := r.customers.GetByName(ctx, companyID, rc.DisplayName)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup by name: %w", err)
	}
	if c.ExternalID != nil && *c.ExternalID != rc.ExternalID {
		return nil, nil
	}
	return c, nil
}

func applyCustomer(c *domain.Customer, rc *domain.RemoteCustomer) bool {
	changed := false
	if rc.ExternalID != "" && domain.Deref(c.ExternalID) != rc.ExternalID {
		c.ExternalID = domain.StringPtr(rc.ExternalID)
		changed = true
	}
	if rc.DisplayName != "" && c.DisplayName != rc.DisplayName {
		c.DisplayName = rc.DisplayName
		changed = true
	}
	if c.Email != rc.Email {
		c.Email = rc.Email
		changed = true
	}
	if c.Archived != rc.Archived {
		c.Archived = rc.Archived
		changed = true
	}
	return changed
}

// finish records the attempt and emits the run summary.
// LastSyncAt only moves on a run without errors at the page level.
func (r *Reconciler) finish(ctx context.Context, result *domain.SyncResult, runErr error) (*domain.SyncResult, error) {
	result.Duration = r.now().Sub(result.StartedAt)
	result.Success = runErr == nil
	if runErr != nil {
		result.Error = runErr.Error()
		result.ReAuthRequired = domain.IsReAuthRequired(runErr)
	}

	recordCtx := context.WithoutCancel(ctx)
	if err := r.companies.RecordSyncAttempt(recordCtx, result.CompanyID, result.StartedAt, result.Success, result.Error); err != nil {
		r.logger.Warn("failed to record sync attempt", "company_id", result.CompanyID, "error", err)
	}

	r.metrics.ObserveSync(result)

	if runErr != nil {
		r.logger.Error("sync failed",
			"company_id", result.CompanyID,
			"provider", result.Provider,
			"duration", result.Duration,
			"reauth_required", result.ReAuthRequired,
			"error", runErr,
		)
		return result, runErr
	}

	r.logger.Info("sync completed",
		"company_id", result.CompanyID,
		"provider", result.Provider,
		"duration", result.Duration,
		"customers_created", result.Customers.Created,
		"customers_updated", result.Customers.Updated,
		"products_created", result.Products.Created,
		"products_updated", result.Products.Updated,
		"errors", len(result.Errors),
	)
	return result, nil
}
