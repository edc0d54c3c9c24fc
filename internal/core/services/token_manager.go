package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driving"
)

// Ensure TokenManager implements the driving port
var _ driving.TokenManager = (*TokenManager)(nil)

// TokenManager obtains usable provider clients for companies.
//
// Tokens are refreshed before use when they expire within the adapter's
// refresh window. Concurrent callers may refresh the same company twice;
// the store overwrite makes that safe and no lock is taken.
type TokenManager struct {
	companies driven.CompanyStore
	tokens    driven.TokenStore
	adapters  driven.AdapterRegistry
	products  driven.ProductStore
	customers driven.CustomerStore
	metrics   driven.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// TokenManagerConfig holds dependencies for TokenManager.
type TokenManagerConfig struct {
	Companies driven.CompanyStore
	Tokens    driven.TokenStore
	Adapters  driven.AdapterRegistry
	Products  driven.ProductStore  // cleared on provider switch
	Customers driven.CustomerStore // cleared on provider switch
	Metrics   driven.Metrics
	Logger    *slog.Logger
	Now       func() time.Time
}

// NewTokenManager creates a new token manager.
func NewTokenManager(cfg TokenManagerConfig) *TokenManager {
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

	return &TokenManager{
		companies: cfg.Companies,
		tokens:    cfg.Tokens,
		adapters:  cfg.Adapters,
		products:  cfg.Products,
		customers: cfg.Customers,
		metrics:   metrics,
		logger:    logger,
		now:       now,
	}
}

// GetUsableClient returns a client bound to a non-expired token for the
// company's active provider.
func (m *TokenManager) GetUsableClient(ctx context.Context, companyID string) (driven.ProviderClient, error) {
	company, err := m.companies.Get(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("get company: %w", err)
	}
	if !company.HasProvider() {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotConnected, companyID)
	}
	if company.ConnectionStatus == domain.ConnectionStatusReAuthRequired {
		return nil, &domain.ReAuthRequiredError{Provider: company.Provider, CompanyID: companyID}
	}

	adapter, err := m.adapters.Get(company.Provider)
	if err != nil {
		return nil, err
	}

	token, err := m.tokens.Get(ctx, companyID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, m.requireReAuth(ctx, company, errors.New("no stored token"))
	}
	if err != nil {
		return nil, fmt.Errorf("get token: %w", err)
	}
	if token.Provider != company.Provider {
		return nil, m.requireReAuth(ctx, company,
			fmt.Errorf("stored token belongs to %s", token.Provider))
	}

	client := &boundClient{
		manager: m,
		company: company,
		adapter: adapter,
		token:   token,
	}
	if err := client.ensureFresh(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

// Connect exchanges an authorization code and binds the company to the provider.
// Switching providers clears every product and customer external id.
func (m *TokenManager) Connect(ctx context.Context, companyID string, provider domain.ProviderType, code, tenantHint string) (*domain.Company, error) {
	company, err := m.companies.Get(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("get company: %w", err)
	}

	adapter, err := m.adapters.Get(provider)
	if err != nil {
		return nil, err
	}

	token, err := adapter.ExchangeCode(ctx, code, tenantHint)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	now := m.now()
	token.CompanyID = companyID
	token.Provider = provider
	token.CreatedAt = now
	token.UpdatedAt = now

	switching := company.HasProvider() && company.Provider != provider
	if switching {
		m.revokePrevious(ctx, company)
		if err := m.clearExternalIDs(ctx, companyID); err != nil {
			return nil, err
		}
		if err := m.companies.ClearConnection(ctx, companyID); err != nil {
			return nil, fmt.Errorf("clear previous connection: %w", err)
		}
	}

	if err := m.tokens.Save(ctx, token); err != nil {
		return nil, fmt.Errorf("save token: %w", err)
	}
	if err := m.companies.SetConnection(ctx, companyID, provider, token.TenantID); err != nil {
		return nil, fmt.Errorf("set connection: %w", err)
	}

	m.logger.Info("company connected",
		"company_id", companyID,
		"provider", provider,
		"tenant_id", token.TenantID,
		"switched_from", company.Provider,
	)

	return m.companies.Get(ctx, companyID)
}

// Disconnect revokes the grant and removes local credentials.
// Local cleanup always happens; a revoke failure is reported afterwards.
func (m *TokenManager) Disconnect(ctx context.Context, companyID string) error {
	company, err := m.companies.Get(ctx, companyID)
	if err != nil {
		return fmt.Errorf("get company: %w", err)
	}

	var revokeErr error
	token, err := m.tokens.Get(ctx, companyID)
	switch {
	case err == nil:
		revokeErr = m.revoke(ctx, token)
	case errors.Is(err, domain.ErrNotFound):
		// nothing to revoke
	default:
		m.logger.Warn("failed to load token for revoke", "company_id", companyID, "error", err)
	}

	if err := m.tokens.Delete(ctx, companyID); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	if err := m.companies.ClearConnection(ctx, companyID); err != nil {
		return fmt.Errorf("clear connection: %w", err)
	}

	m.logger.Info("company disconnected", "company_id", companyID, "provider", company.Provider)

	if revokeErr != nil {
		return fmt.Errorf("%w: %v", domain.ErrRevokeFailed, revokeErr)
	}
	return nil
}

func (m *TokenManager) revoke(ctx context.Context, token *domain.TokenRecord) error {
	adapter, err := m.adapters.Get(token.Provider)
	if err != nil {
		return err
	}
	if err := adapter.Revoke(ctx, token); err != nil {
		m.logger.Warn("provider revoke failed",
			"company_id", token.CompanyID,
			"provider", token.Provider,
			"error", err,
		)
		return err
	}
	return nil
}

// revokePrevious best-effort revokes the token of the provider being replaced.
func (m *TokenManager) revokePrevious(ctx context.Context, company *domain.Company) {
	token, err := m.tokens.Get(ctx, company.ID)
	if err != nil {
		return
	}
	_ = m.revoke(ctx, token)
}

func (m *TokenManager) clearExternalIDs(ctx context.Context, companyID string) error {
	if m.products != nil {
		n, err := m.products.ClearExternalIDs(ctx, companyID)
		if err != nil {
			return fmt.Errorf("clear product external ids: %w", err)
		}
		m.logger.Info("cleared product external ids", "company_id", companyID, "count", n)
	}
	if m.customers != nil {
		n, err := m.customers.ClearExternalIDs(ctx, companyID)
		if err != nil {
			return fmt.Errorf("clear customer external ids: %w", err)
		}
		m.logger.Info("cleared customer external ids", "company_id", companyID, "count", n)
	}
	return nil
}

// refresh exchanges the refresh token and persists the result as a whole-record overwrite.
func (m *TokenManager) refresh(ctx context.Context, company *domain.Company, adapter driven.ProviderAdapter, token *domain.TokenRecord) (*domain.TokenRecord, error) {
	start := m.now()

	if token.RefreshExpired(start) {
		m.metrics.ObserveTokenRefresh(company.Provider, driven.RefreshOutcomeRevoked, 0)
		return nil, m.requireReAuth(ctx, company, errors.New("refresh token expired"))
	}

	refreshed, err := adapter.Refresh(ctx, token)
	elapsed := m.now().Sub(start)
	if err != nil {
		classified := m.classify(ctx, company, err)
		outcome := driven.RefreshOutcomeTransient
		if domain.IsReAuthRequired(classified) {
			outcome = driven.RefreshOutcomeRevoked
		}
		m.metrics.ObserveTokenRefresh(company.Provider, outcome, elapsed)
		m.logger.Warn("token refresh failed",
			"company_id", company.ID,
			"provider", company.Provider,
			"outcome", outcome,
			"error", err,
		)
		return nil, classified
	}

	refreshed.CompanyID = company.ID
	refreshed.Provider = company.Provider
	if refreshed.TenantID == "" {
		refreshed.TenantID = token.TenantID
	}
	refreshed.CreatedAt = token.CreatedAt
	refreshed.UpdatedAt = m.now()

	if err := m.tokens.Save(ctx, refreshed); err != nil {
		m.logger.Error("failed to persist refreshed token", "company_id", company.ID, "error", err)
		return nil, fmt.Errorf("save refreshed token: %w", err)
	}

	m.metrics.ObserveTokenRefresh(company.Provider, driven.RefreshOutcomeSuccess, elapsed)
	m.logger.Debug("token refreshed",
		"company_id", company.ID,
		"provider", company.Provider,
		"expiry", refreshed.Expiry,
	)
	return refreshed, nil
}

// classify maps an adapter failure onto the domain taxonomy.
// Revoked causes stop further provider calls for the company.
func (m *TokenManager) classify(ctx context.Context, company *domain.Company, err error) error {
	var (
		reauth     *domain.ReAuthRequiredError
		validation *domain.ValidationError
		fault      *domain.RemoteDocumentFault
		transient  *domain.TransientError
	)
	switch {
	case errors.As(err, &reauth), errors.As(err, &validation), errors.As(err, &fault), errors.As(err, &transient):
		return err
	case errors.Is(err, domain.ErrGrantRevoked):
		return m.requireReAuth(ctx, company, err)
	default:
		return &domain.TransientError{Provider: company.Provider, CompanyID: company.ID, Err: err}
	}
}

// requireReAuth drops the unusable credentials and flags the company.
func (m *TokenManager) requireReAuth(ctx context.Context, company *domain.Company, cause error) error {
	// The caller's context may already be cancelled; cleanup must still land.
	cleanupCtx := context.WithoutCancel(ctx)

	if err := m.tokens.Delete(cleanupCtx, company.ID); err != nil {
		m.logger.Error("failed to delete revoked token", "company_id", company.ID, "error", err)
	}
	if err := m.companies.SetConnectionStatus(cleanupCtx, company.ID, domain.ConnectionStatusReAuthRequired); err != nil {
		m.logger.Error("failed to flag company for re-auth", "company_id", company.ID, "error", err)
	}

	m.logger.Warn("re-authentication required",
		"company_id", company.ID,
		"provider", company.Provider,
		"cause", cause,
	)

	return &domain.ReAuthRequiredError{Provider: company.Provider, CompanyID: company.ID, Err: cause}
}

// boundClient is a ProviderClient for one company. Long syncs can outlive an
// access token, so every call re-checks expiry first.
type boundClient struct {
	manager *TokenManager
	company *domain.Company
	adapter driven.ProviderAdapter

	mu    sync.Mutex
	token *domain.TokenRecord
}

var _ driven.ProviderClient = (*boundClient)(nil)

func (c *boundClient) Provider() domain.ProviderType { return c.company.Provider }
func (c *boundClient) CompanyID() string             { return c.company.ID }

func (c *boundClient) TenantID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token.TenantID
}

func (c *boundClient) ensureFresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.token.NeedsRefresh(c.manager.now(), c.adapter.RefreshWindow()) {
		return nil
	}
	refreshed, err := c.manager.refresh(ctx, c.company, c.adapter, c.token)
	if err != nil {
		return err
	}
	c.token = refreshed
	return nil
}

func (c *boundClient) current(ctx context.Context) (*domain.TokenRecord, error) {
	if err := c.ensureFresh(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token, nil
}

// forceRefresh replaces a token the provider rejected. If another call
// already swapped it out, the newer token is reused.
func (c *boundClient) forceRefresh(ctx context.Context, rejected *domain.TokenRecord) (*domain.TokenRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != rejected {
		return c.token, nil
	}
	refreshed, err := c.manager.refresh(ctx, c.company, c.adapter, c.token)
	if err != nil {
		return nil, err
	}
	c.token = refreshed
	return refreshed, nil
}

// call runs fn with a usable token. A 401 triggers one forced refresh and a
// single retry; only the refresh itself can require re-authorization.
func call[T any](ctx context.Context, c *boundClient, fn func(*domain.TokenRecord) (T, error)) (T, error) {
	var zero T
	tok, err := c.current(ctx)
	if err != nil {
		return zero, err
	}
	out, err := fn(tok)
	if errors.Is(err, domain.ErrUnauthorized) {
		c.manager.logger.Info("access token rejected, refreshing",
			"company_id", c.company.ID,
			"provider", c.company.Provider,
		)
		if tok, err = c.forceRefresh(ctx, tok); err != nil {
			return zero, err
		}
		out, err = fn(tok)
	}
	if err != nil {
		return zero, c.manager.classify(ctx, c.company, err)
	}
	return out, nil
}

func (c *boundClient) FetchUserInfo(ctx context.Context) (*domain.UserInfo, error) {
	return call(ctx, c, func(tok *domain.TokenRecord) (*domain.UserInfo, error) {
		return c.adapter.FetchUserInfo(ctx, tok)
	})
}

func (c *boundClient) FetchCompanyInfo(ctx context.Context) (*domain.CompanyInfo, error) {
	return call(ctx, c, func(tok *domain.TokenRecord) (*domain.CompanyInfo, error) {
		return c.adapter.FetchCompanyInfo(ctx, tok)
	})
}

func (c *boundClient) FetchItemsPage(ctx context.Context, cursor domain.Cursor) (*domain.ItemPage, error) {
	return call(ctx, c, func(tok *domain.TokenRecord) (*domain.ItemPage, error) {
		return c.adapter.FetchItemsPage(ctx, tok, cursor)
	})
}

func (c *boundClient) FetchCustomersPage(ctx context.Context, cursor domain.Cursor) (*domain.CustomerPage, error) {
	return call(ctx, c, func(tok *domain.TokenRecord) (*domain.CustomerPage, error) {
		return c.adapter.FetchCustomersPage(ctx, tok, cursor)
	})
}

// CreateEstimate may be retried after a 401 since a rejected request creates nothing.
func (c *boundClient) CreateEstimate(ctx context.Context, payload *domain.EstimatePayload) (*domain.RemoteDocumentRef, error) {
	return call(ctx, c, func(tok *domain.TokenRecord) (*domain.RemoteDocumentRef, error) {
		return c.adapter.CreateEstimate(ctx, tok, payload)
	})
}
